package gate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopfabric/govern/core/modelrouter"
	"github.com/shopfabric/govern/core/plan"
	"github.com/shopfabric/govern/core/tenant"
	"github.com/shopfabric/govern/core/usage"
)

type mapStore map[string]*tenant.Record

func (m mapStore) Load(_ context.Context, id string) (*tenant.Record, error) {
	rec, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("load %s: %w", id, tenant.ErrNotFound)
	}
	return rec.Clone(), nil
}

func gatePlans() plan.Table {
	return plan.Table{
		plan.TierFree: {
			APICallsPerDay:   2,
			InferencesPerDay: 2,
			StorageBytes:     plan.Unlimited,
			MaxProducts:      5,
			PoolSize:         1,
		},
		plan.TierGrowth: {
			APICallsPerDay:   1_000,
			InferencesPerDay: 1_000,
			StorageBytes:     plan.Unlimited,
			MaxProducts:      plan.Unlimited,
			PoolSize:         10,
		},
	}
}

func newTestGate(t *testing.T) (Step, *usage.Tracker, *modelrouter.Router) {
	t.Helper()
	store := mapStore{
		"acme": {
			ID:        "acme",
			Name:      "Acme Widgets",
			Tier:      plan.TierGrowth,
			Status:    tenant.StatusActive,
			CreatedAt: time.Now().UTC(),
		},
		"tiny": {
			ID:     "tiny",
			Tier:   plan.TierFree,
			Status: tenant.StatusActive,
		},
		"frozen": {
			ID:     "frozen",
			Tier:   plan.TierGrowth,
			Status: tenant.StatusSuspended,
		},
	}
	reg := tenant.NewRegistry(store)
	tracker := usage.NewTracker(gatePlans(), reg, usage.NewMemoryCounterStore())
	router := modelrouter.NewRouter(modelrouter.NewMemoryStore())
	return Standard(reg, tracker, router), tracker, router
}

func TestGateAllowsAndMetersActiveTenant(t *testing.T) {
	step, tracker, router := newTestGate(t)
	ctx := context.Background()

	if _, err := router.Register(ctx, "recommender", "v1", "s3://models/recommender/v1", nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := router.Activate(ctx, "recommender", "v1", 100); err != nil {
		t.Fatalf("activate: %v", err)
	}

	decision, err := step(ctx, &Request{
		TenantID:   "acme",
		RoutingKey: "user-1",
		Resource:   usage.ResourceInferences,
		Model:      "recommender",
	})
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if !decision.Allowed || decision.Code != CodeOK {
		t.Fatalf("expected allow, got %+v", decision)
	}
	if decision.ArtifactPath != "s3://models/recommender/v1" {
		t.Fatalf("expected artifact path, got %q", decision.ArtifactPath)
	}

	pct, err := tracker.Percentages(ctx, "acme")
	if err != nil {
		t.Fatalf("percentages: %v", err)
	}
	if pct[usage.ResourceInferences] == 0 {
		t.Fatal("allowed request should have been metered")
	}
}

func TestGateRejectsUnknownTenant(t *testing.T) {
	step, _, _ := newTestGate(t)
	decision, err := step(context.Background(), &Request{TenantID: "ghost", Resource: usage.ResourceAPICalls})
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if decision.Allowed || decision.Code != CodeTenantUnknown {
		t.Fatalf("expected tenant_unknown, got %+v", decision)
	}
}

func TestGateRejectsInactiveTenantDistinctly(t *testing.T) {
	step, _, _ := newTestGate(t)
	decision, err := step(context.Background(), &Request{TenantID: "frozen", Resource: usage.ResourceAPICalls})
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if decision.Allowed || decision.Code != CodeTenantInactive {
		t.Fatalf("expected tenant_inactive, got %+v", decision)
	}
	if decision.Reason != "tenant status is suspended" {
		t.Fatalf("unexpected reason: %q", decision.Reason)
	}
}

func TestGateEnforcesQuotaAndSkipsBillingDenials(t *testing.T) {
	step, tracker, _ := newTestGate(t)
	ctx := context.Background()
	req := func() *Request {
		return &Request{TenantID: "tiny", Resource: usage.ResourceAPICalls}
	}

	// free tier allows 2 api calls per day
	for i := 0; i < 2; i++ {
		decision, err := step(ctx, req())
		if err != nil {
			t.Fatalf("gate: %v", err)
		}
		if !decision.Allowed {
			t.Fatalf("request %d should pass: %+v", i, decision)
		}
	}
	decision, err := step(ctx, req())
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if decision.Allowed || decision.Code != CodeQuotaExceeded {
		t.Fatalf("expected quota_exceeded, got %+v", decision)
	}

	// the denied request was not metered
	pct, err := tracker.Percentages(ctx, "tiny")
	if err != nil {
		t.Fatalf("percentages: %v", err)
	}
	if pct[usage.ResourceAPICalls] != 100 {
		t.Fatalf("expected exactly 2 of 2 metered, got %v%%", pct[usage.ResourceAPICalls])
	}
}

func TestGateUnknownModel(t *testing.T) {
	step, _, _ := newTestGate(t)
	decision, err := step(context.Background(), &Request{
		TenantID: "acme",
		Resource: usage.ResourceInferences,
		Model:    "nosuchmodel",
	})
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if decision.Allowed || decision.Code != CodeModelUnknown {
		t.Fatalf("expected model_unknown, got %+v", decision)
	}
}

func TestGateWithoutModelSkipsRouting(t *testing.T) {
	step, _, _ := newTestGate(t)
	decision, err := step(context.Background(), &Request{TenantID: "acme", Resource: usage.ResourceAPICalls})
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if !decision.Allowed || decision.ArtifactPath != "" {
		t.Fatalf("plain request should pass without artifact: %+v", decision)
	}
}

func TestChainOrdering(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next Step) Step {
			return func(ctx context.Context, req *Request) (*Decision, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	step := Chain(mark("first"), mark("second"), mark("third"))(Allow)
	if _, err := step(context.Background(), &Request{}); err != nil {
		t.Fatalf("chain: %v", err)
	}
	if len(order) != 3 || order[0] != "first" || order[2] != "third" {
		t.Fatalf("unexpected order: %v", order)
	}
}
