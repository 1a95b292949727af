package usage

import (
	"context"
	"fmt"

	"github.com/shopfabric/govern/core/plan"
)

// Resource identifies a metered resource kind.
type Resource string

const (
	ResourceAPICalls   Resource = "api_calls"
	ResourceInferences Resource = "ml_inferences"
	ResourceStorage    Resource = "storage_bytes"
)

// LimitName returns the plan-limit field a resource is checked against,
// suitable for user-facing quota messages.
func (r Resource) LimitName() string {
	switch r {
	case ResourceAPICalls:
		return "api_calls_per_day"
	case ResourceInferences:
		return "ml_inferences_per_day"
	case ResourceStorage:
		return "storage_bytes"
	default:
		return string(r)
	}
}

// QuotaExceededError reports which ceiling was hit so the caller can render
// an upgrade prompt. A business outcome, not an infrastructure failure.
type QuotaExceededError struct {
	TenantID string
	Resource Resource
	Limit    int64
	Used     int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for tenant %s: %s limit %d reached (used %d)",
		e.TenantID, e.Resource.LimitName(), e.Limit, e.Used)
}

// CounterStore holds per-tenant usage counters: one lifetime counter per
// resource plus calendar-day buckets. Incr must be atomic; concurrent
// increments may not lose updates.
type CounterStore interface {
	Incr(ctx context.Context, tenantID string, res Resource, day string, n int64) error
	DayTotal(ctx context.Context, tenantID string, res Resource, day string) (int64, error)
	LifetimeTotal(ctx context.Context, tenantID string, res Resource) (int64, error)
	Reset(ctx context.Context, tenantID string) error
}

// PlanSource resolves a tenant's current plan tier. *tenant.Registry
// satisfies it.
type PlanSource interface {
	Plan(ctx context.Context, id string) (plan.Tier, error)
}

// OverageLine is the per-resource piece of an overage report.
type OverageLine struct {
	Resource    Resource `json:"resource"`
	Included    int64    `json:"included"`
	Used        int64    `json:"used"`
	Overage     int64    `json:"overage"`
	ChargeCents int64    `json:"charge_cents"`
}

// OverageReport is the billable usage beyond a plan's included quota.
// Computed from already-recorded counters; building one mutates nothing.
type OverageReport struct {
	TenantID   string        `json:"tenant_id"`
	Tier       plan.Tier     `json:"tier"`
	Lines      []OverageLine `json:"lines"`
	TotalCents int64         `json:"total_cents"`
}
