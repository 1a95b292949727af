// Package gate composes the request path of the governance layer: tenant
// validation, quota enforcement, usage metering and model routing, each as a
// middleware wrapping the next step. The route layer installs the chain in
// front of its business logic and maps Decision codes to status codes.
package gate

import (
	"context"
	"errors"

	"github.com/shopfabric/govern/core/modelrouter"
	"github.com/shopfabric/govern/core/plan"
	"github.com/shopfabric/govern/core/tenant"
	"github.com/shopfabric/govern/core/usage"
)

// Code classifies a decision for the caller's status mapping.
type Code string

const (
	CodeOK             Code = "ok"
	CodeTenantUnknown  Code = "tenant_unknown"
	CodeTenantInactive Code = "tenant_inactive"
	CodeQuotaExceeded  Code = "quota_exceeded"
	CodeModelUnknown   Code = "model_unknown"
)

// Request is one governed unit of work flowing through the chain.
type Request struct {
	TenantID   string
	RoutingKey string
	// Resource is what this request consumes when metered.
	Resource usage.Resource
	Amount   int64
	// Model is set when the request invokes a served model.
	Model string

	// Tier is populated by the validation middleware for downstream steps.
	Tier plan.Tier
}

// Decision is the chain's typed outcome. Denials are business results, not
// errors; err is reserved for infrastructure failures.
type Decision struct {
	Allowed      bool
	Code         Code
	Reason       string
	ArtifactPath string
}

// Step handles a request and produces a decision.
type Step func(ctx context.Context, req *Request) (*Decision, error)

// Middleware wraps a step with one cross-cutting concern.
type Middleware func(next Step) Step

// Allow is the terminal step: everything upstream passed.
func Allow(context.Context, *Request) (*Decision, error) {
	return &Decision{Allowed: true, Code: CodeOK}, nil
}

// Chain composes middleware left to right: the first listed runs first.
func Chain(mw ...Middleware) Middleware {
	return func(next Step) Step {
		for i := len(mw) - 1; i >= 0; i-- {
			next = mw[i](next)
		}
		return next
	}
}

// WithValidation resolves and validates the tenant, rejecting unknown or
// inactive accounts and stamping the plan tier on the request.
func WithValidation(reg *tenant.Registry) Middleware {
	return func(next Step) Step {
		return func(ctx context.Context, req *Request) (*Decision, error) {
			rec, err := reg.Resolve(ctx, req.TenantID)
			if errors.Is(err, tenant.ErrNotFound) {
				return &Decision{Code: CodeTenantUnknown, Reason: "tenant not found"}, nil
			}
			if err != nil {
				return nil, err
			}
			if rec.Status != tenant.StatusActive {
				return &Decision{Code: CodeTenantInactive, Reason: "tenant status is " + string(rec.Status)}, nil
			}
			req.Tier = plan.ParseTier(string(rec.Tier))
			return next(ctx, req)
		}
	}
}

// WithQuota rejects requests whose tenant has hit a plan ceiling.
func WithQuota(tr *usage.Tracker) Middleware {
	return func(next Step) Step {
		return func(ctx context.Context, req *Request) (*Decision, error) {
			err := tr.CheckWithinLimits(ctx, req.TenantID)
			var quotaErr *usage.QuotaExceededError
			if errors.As(err, &quotaErr) {
				return &Decision{Code: CodeQuotaExceeded, Reason: quotaErr.Error()}, nil
			}
			if err != nil {
				return nil, err
			}
			return next(ctx, req)
		}
	}
}

// WithUsageRecording meters the request's resource once the downstream step
// allowed it, so denied requests are not billed.
func WithUsageRecording(tr *usage.Tracker) Middleware {
	return func(next Step) Step {
		return func(ctx context.Context, req *Request) (*Decision, error) {
			decision, err := next(ctx, req)
			if err != nil || !decision.Allowed {
				return decision, err
			}
			amount := req.Amount
			if amount <= 0 {
				amount = 1
			}
			if req.Resource != "" {
				if recErr := tr.Record(ctx, req.TenantID, req.Resource, amount); recErr != nil {
					return nil, recErr
				}
			}
			return decision, nil
		}
	}
}

// WithRouting resolves the serving artifact when the request names a model.
func WithRouting(router *modelrouter.Router) Middleware {
	return func(next Step) Step {
		return func(ctx context.Context, req *Request) (*Decision, error) {
			if req.Model == "" {
				return next(ctx, req)
			}
			path, err := router.Route(ctx, req.Model, req.RoutingKey)
			if errors.Is(err, modelrouter.ErrModelNotFound) || errors.Is(err, modelrouter.ErrVersionNotFound) {
				return &Decision{Code: CodeModelUnknown, Reason: err.Error()}, nil
			}
			if err != nil {
				return nil, err
			}
			decision, err := next(ctx, req)
			if err != nil || !decision.Allowed {
				return decision, err
			}
			decision.ArtifactPath = path
			return decision, nil
		}
	}
}

// Standard builds the reference chain: validate, enforce quota, route, and
// meter allowed requests.
func Standard(reg *tenant.Registry, tr *usage.Tracker, router *modelrouter.Router) Step {
	return Chain(
		WithValidation(reg),
		WithQuota(tr),
		WithRouting(router),
		WithUsageRecording(tr),
	)(Allow)
}
