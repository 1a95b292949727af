package modelrouter

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/shopfabric/govern/core/infra/logging"
	"github.com/shopfabric/govern/core/infra/metrics"
)

const metricHistoryLimit = 256

// MetricPoint is one performance observation for a version.
type MetricPoint struct {
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}

// Router decides which artifact of a served model handles a request, and
// applies atomic transitions between versions. Activation, split setup and
// rollback take a per-model write lock that Route also respects, so a reader
// never observes a torn state.
type Router struct {
	store   Store
	metrics metrics.Metrics

	locksMu sync.Mutex
	locks   map[string]*sync.RWMutex

	historyMu sync.Mutex
	history   map[string][]MetricPoint // model/label -> recent observations
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithMetrics wires routing-decision metrics.
func WithMetrics(m metrics.Metrics) RouterOption {
	return func(r *Router) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewRouter constructs a router over a version store.
func NewRouter(store Store, opts ...RouterOption) *Router {
	r := &Router{
		store:   store,
		metrics: metrics.Noop{},
		locks:   make(map[string]*sync.RWMutex),
		history: make(map[string][]MetricPoint),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) lock(model string) *sync.RWMutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[model]
	if !ok {
		l = &sync.RWMutex{}
		r.locks[model] = l
	}
	return l
}

// Register adds an inactive version record. No traffic implication until an
// activation or split references it.
func (r *Router) Register(ctx context.Context, model, label, artifactPath string, metadata map[string]string) (string, error) {
	if model == "" || label == "" || artifactPath == "" {
		return "", fmt.Errorf("model, label and artifact path are required")
	}
	l := r.lock(model)
	l.Lock()
	defer l.Unlock()

	v := &Version{
		ID:           uuid.NewString(),
		Model:        model,
		Label:        label,
		ArtifactPath: artifactPath,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.store.Save(ctx, v); err != nil {
		return "", err
	}
	logging.Info("modelrouter", "version registered", "model", model, "version", label, "artifact", artifactPath)
	return v.ID, nil
}

// Activate atomically deactivates all other versions of the model and
// activates the target at the given percentage. Rollout and rollback are the
// same operation.
func (r *Router) Activate(ctx context.Context, model, label string, pct int) error {
	if pct < 1 || pct > 100 {
		return &InvalidSplitError{Model: model, Detail: fmt.Sprintf("percentage %d out of range 1-100", pct)}
	}
	l := r.lock(model)
	l.Lock()
	defer l.Unlock()
	return r.applyActivation(ctx, model, map[string]int{label: pct})
}

// SetupSplit atomically routes splitA percent of traffic to labelA and the
// remainder to labelB.
func (r *Router) SetupSplit(ctx context.Context, model, labelA, labelB string, splitA int) error {
	if splitA < 1 || splitA > 99 {
		return &InvalidSplitError{Model: model, Detail: fmt.Sprintf("split %d out of range 1-99", splitA)}
	}
	if labelA == labelB {
		return &InvalidSplitError{Model: model, Detail: "split requires two distinct versions"}
	}
	l := r.lock(model)
	l.Lock()
	defer l.Unlock()
	return r.applyActivation(ctx, model, map[string]int{labelA: splitA, labelB: 100 - splitA})
}

// applyActivation rewrites the active set under the model's write lock. The
// target percentages must sum to at most 100 and every target label must be
// registered; otherwise nothing is changed.
func (r *Router) applyActivation(ctx context.Context, model string, targets map[string]int) error {
	versions, err := r.store.List(ctx, model)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		return fmt.Errorf("activate %s: %w", model, ErrModelNotFound)
	}
	byLabel := make(map[string]*Version, len(versions))
	for _, v := range versions {
		byLabel[v.Label] = v
	}
	total := 0
	for label, pct := range targets {
		if _, ok := byLabel[label]; !ok {
			return fmt.Errorf("activate %s/%s: %w", model, label, ErrVersionNotFound)
		}
		total += pct
	}
	if total > 100 {
		return &InvalidSplitError{Model: model, Detail: fmt.Sprintf("percentages sum to %d", total)}
	}

	now := time.Now().UTC()
	for _, v := range versions {
		pct, isTarget := targets[v.Label]
		if isTarget {
			v.Active = true
			v.TrafficPct = pct
			v.DeployedAt = &now
		} else {
			if !v.Active {
				continue
			}
			v.Active = false
			v.TrafficPct = 0
		}
		if err := r.store.Update(ctx, v); err != nil {
			return err
		}
	}
	logging.Info("modelrouter", "activation applied", "model", model, "targets", fmt.Sprintf("%v", targets))
	return nil
}

// RollbackTo re-activates a previously deployed version at 100%.
func (r *Router) RollbackTo(ctx context.Context, model, label string) error {
	return r.Activate(ctx, model, label, 100)
}

// Route selects the artifact path serving this request. With a routing key
// the choice is deterministic: the same key maps to the same version for as
// long as the split configuration is unchanged. Without a key the bucket is
// randomized per call.
func (r *Router) Route(ctx context.Context, model, routingKey string) (string, error) {
	l := r.lock(model)
	l.RLock()
	defer l.RUnlock()

	versions, err := r.store.List(ctx, model)
	if err != nil {
		return "", err
	}
	active := versions[:0:0]
	for _, v := range versions {
		if v.Active {
			active = append(active, v)
		}
	}
	if len(active) == 0 {
		return "", fmt.Errorf("route %s: %w", model, ErrModelNotFound)
	}
	if len(active) == 1 {
		r.metrics.IncRouteDecision(model, active[0].Label)
		return active[0].ArtifactPath, nil
	}

	// highest percentage first; label order is the deterministic tiebreak
	sort.Slice(active, func(i, j int) bool {
		if active[i].TrafficPct != active[j].TrafficPct {
			return active[i].TrafficPct > active[j].TrafficPct
		}
		return active[i].Label < active[j].Label
	})

	bucket := bucketFor(routingKey, model)
	cumulative := 0
	for _, v := range active {
		cumulative += v.TrafficPct
		if bucket < cumulative {
			r.metrics.IncRouteDecision(model, v.Label)
			return v.ArtifactPath, nil
		}
	}
	// percentages summed below 100 and the bucket landed in the unserved
	// remainder
	return "", fmt.Errorf("route %s: bucket %d unserved: %w", model, bucket, ErrVersionNotFound)
}

// bucketFor reduces a routing key to a stable 0-99 bucket. xxhash is fixed
// across processes and restarts, which keeps routing deterministic in a
// horizontally scaled deployment.
func bucketFor(routingKey, model string) int {
	if routingKey == "" {
		return rand.Intn(100)
	}
	return int(xxhash.Sum64String(routingKey+":"+model) % 100)
}

// TrackPerformance appends a metric observation and updates the version's
// performance score with the latest value.
func (r *Router) TrackPerformance(ctx context.Context, model, label, metric string, value float64) error {
	l := r.lock(model)
	l.Lock()
	defer l.Unlock()

	v, err := r.store.Get(ctx, model, label)
	if err != nil {
		return err
	}
	score := value
	v.PerfScore = &score
	if err := r.store.Update(ctx, v); err != nil {
		return err
	}

	key := model + "/" + label
	r.historyMu.Lock()
	points := append(r.history[key], MetricPoint{Metric: metric, Value: value, ObservedAt: time.Now().UTC()})
	if len(points) > metricHistoryLimit {
		points = points[len(points)-metricHistoryLimit:]
	}
	r.history[key] = points
	r.historyMu.Unlock()
	return nil
}

// PerformanceHistory returns recent metric observations for a version.
func (r *Router) PerformanceHistory(model, label string) []MetricPoint {
	key := model + "/" + label
	r.historyMu.Lock()
	defer r.historyMu.Unlock()
	out := make([]MetricPoint, len(r.history[key]))
	copy(out, r.history[key])
	return out
}

// ListVersions returns all versions of a model, active and inactive.
func (r *Router) ListVersions(ctx context.Context, model string) ([]*Version, error) {
	l := r.lock(model)
	l.RLock()
	defer l.RUnlock()
	versions, err := r.store.List(ctx, model)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("list %s: %w", model, ErrModelNotFound)
	}
	return versions, nil
}
