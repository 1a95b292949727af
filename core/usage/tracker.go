package usage

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/shopfabric/govern/core/infra/metrics"
	"github.com/shopfabric/govern/core/plan"
)

const dayFormat = "2006-01-02"

// Tracker meters consumption and gates requests against plan ceilings.
//
// Enforcement is soft: checks read the same store increments hit, so a
// check issued after a Record on the same request path sees that increment,
// but concurrent requests may each pass a check before either increment
// lands. Overshoot is therefore bounded by the number of in-flight requests
// for the tenant, never unbounded.
type Tracker struct {
	plans   plan.Table
	source  PlanSource
	store   CounterStore
	clock   clock.Clock
	metrics metrics.Metrics
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock injects a clock for day-bucket tests.
func WithClock(c clock.Clock) TrackerOption {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithMetrics wires quota metrics emission.
func WithMetrics(m metrics.Metrics) TrackerOption {
	return func(t *Tracker) {
		if m != nil {
			t.metrics = m
		}
	}
}

// NewTracker constructs a usage tracker over a counter store.
func NewTracker(plans plan.Table, source PlanSource, store CounterStore, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		plans:   plans,
		source:  source,
		store:   store,
		clock:   clock.New(),
		metrics: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) today() string {
	return t.clock.Now().UTC().Format(dayFormat)
}

// Record increments the lifetime and today's bucketed counter. Side-effect
// only; recording never rejects.
func (t *Tracker) Record(ctx context.Context, tenantID string, res Resource, n int64) error {
	if n <= 0 {
		return fmt.Errorf("usage amount must be positive, got %d", n)
	}
	return t.store.Incr(ctx, tenantID, res, t.today(), n)
}

// CheckWithinLimits evaluates today's API-call and inference counts and the
// lifetime stored bytes against the tenant's plan. The first violated ceiling
// is returned as a *QuotaExceededError; nil means within limits.
func (t *Tracker) CheckWithinLimits(ctx context.Context, tenantID string) error {
	limits, err := t.limitsFor(ctx, tenantID)
	if err != nil {
		return err
	}
	day := t.today()

	checks := []struct {
		res   Resource
		limit int64
		read  func() (int64, error)
	}{
		{ResourceAPICalls, limits.APICallsPerDay, func() (int64, error) {
			return t.store.DayTotal(ctx, tenantID, ResourceAPICalls, day)
		}},
		{ResourceInferences, limits.InferencesPerDay, func() (int64, error) {
			return t.store.DayTotal(ctx, tenantID, ResourceInferences, day)
		}},
		{ResourceStorage, limits.StorageBytes, func() (int64, error) {
			return t.store.LifetimeTotal(ctx, tenantID, ResourceStorage)
		}},
	}
	for _, check := range checks {
		if check.limit < 0 {
			continue
		}
		used, err := check.read()
		if err != nil {
			return fmt.Errorf("read %s counter: %w", check.res, err)
		}
		if used >= check.limit {
			t.metrics.IncQuotaChecked(tenantID, "denied")
			t.metrics.IncQuotaDenied(string(check.res))
			return &QuotaExceededError{
				TenantID: tenantID,
				Resource: check.res,
				Limit:    check.limit,
				Used:     used,
			}
		}
	}
	t.metrics.IncQuotaChecked(tenantID, "ok")
	return nil
}

// CheckProductLimit gates catalog growth against the plan's product ceiling.
// A limit of -1 means unlimited.
func (t *Tracker) CheckProductLimit(ctx context.Context, tenantID string, currentCount int64) error {
	limits, err := t.limitsFor(ctx, tenantID)
	if err != nil {
		return err
	}
	if limits.MaxProducts < 0 {
		return nil
	}
	if currentCount >= limits.MaxProducts {
		return &QuotaExceededError{
			TenantID: tenantID,
			Resource: Resource("products"),
			Limit:    limits.MaxProducts,
			Used:     currentCount,
		}
	}
	return nil
}

// Percentages reports today's consumption as a share of each ceiling, for
// dashboards. Unlimited resources report 0.
func (t *Tracker) Percentages(ctx context.Context, tenantID string) (map[Resource]float64, error) {
	limits, err := t.limitsFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	day := t.today()

	apiUsed, err := t.store.DayTotal(ctx, tenantID, ResourceAPICalls, day)
	if err != nil {
		return nil, err
	}
	infUsed, err := t.store.DayTotal(ctx, tenantID, ResourceInferences, day)
	if err != nil {
		return nil, err
	}
	storageUsed, err := t.store.LifetimeTotal(ctx, tenantID, ResourceStorage)
	if err != nil {
		return nil, err
	}
	return map[Resource]float64{
		ResourceAPICalls:   percentage(apiUsed, limits.APICallsPerDay),
		ResourceInferences: percentage(infUsed, limits.InferencesPerDay),
		ResourceStorage:    percentage(storageUsed, limits.StorageBytes),
	}, nil
}

func percentage(used, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) / float64(limit) * 100
}

// Overage computes billable usage beyond the included quota. Pure arithmetic
// over already-recorded counters; safe to call repeatedly for previews.
func (t *Tracker) Overage(ctx context.Context, tenantID string) (*OverageReport, error) {
	tier, err := t.source.Plan(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	limits := t.plans.For(tier)
	day := t.today()

	apiUsed, err := t.store.DayTotal(ctx, tenantID, ResourceAPICalls, day)
	if err != nil {
		return nil, err
	}
	infUsed, err := t.store.DayTotal(ctx, tenantID, ResourceInferences, day)
	if err != nil {
		return nil, err
	}
	storageUsed, err := t.store.LifetimeTotal(ctx, tenantID, ResourceStorage)
	if err != nil {
		return nil, err
	}

	report := &OverageReport{TenantID: tenantID, Tier: tier}
	report.Lines = []OverageLine{
		overageLine(ResourceAPICalls, apiUsed, limits.APICallsPerDay, limits.Overage.APICallsPer1000Cents, 1000),
		overageLine(ResourceInferences, infUsed, limits.InferencesPerDay, limits.Overage.InferencesPer1000Cents, 1000),
		overageLine(ResourceStorage, storageUsed, limits.StorageBytes, limits.Overage.StoragePerGBCents, 1<<30),
	}
	for _, line := range report.Lines {
		report.TotalCents += line.ChargeCents
	}
	return report, nil
}

func overageLine(res Resource, used, included, rateCents, billingUnit int64) OverageLine {
	line := OverageLine{Resource: res, Included: included, Used: used}
	if included < 0 || used <= included {
		return line
	}
	line.Overage = used - included
	line.ChargeCents = line.Overage * rateCents / billingUnit
	return line
}

// ResetUsage zeroes all counters for a tenant. Administrative action, used
// after invoicing a billing period.
func (t *Tracker) ResetUsage(ctx context.Context, tenantID string) error {
	return t.store.Reset(ctx, tenantID)
}

func (t *Tracker) limitsFor(ctx context.Context, tenantID string) (plan.Limits, error) {
	tier, err := t.source.Plan(ctx, tenantID)
	if err != nil {
		return plan.Limits{}, err
	}
	return t.plans.For(tier), nil
}
