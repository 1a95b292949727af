package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shopfabric/govern/core/infra/logging"
	"github.com/shopfabric/govern/core/infra/metrics"
	"github.com/shopfabric/govern/core/plan"
)

// ErrExhausted indicates all connections and overflow slots for a tenant are
// checked out. Transient; callers may retry with backoff.
var ErrExhausted = errors.New("pool_exhausted")

const (
	defaultAcquireTimeout = 5 * time.Second
	defaultConnMaxIdle    = 5 * time.Minute
	// fraction of the overflow allowance in use before an operational
	// alert fires (nominally 35 of a 40-connection allowance)
	overflowHighWater = 0.875
)

// Opener produces a database handle scoped to one tenant. The manager
// applies plan-based sizing to whatever it returns.
type Opener interface {
	Open(tenantID string) (*sqlx.DB, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(tenantID string) (*sqlx.DB, error)

func (f OpenerFunc) Open(tenantID string) (*sqlx.DB, error) { return f(tenantID) }

// Pool is one tenant's isolated set of database connections.
type Pool struct {
	tenantID    string
	tier        plan.Tier
	db          *sqlx.DB
	size        int
	maxOverflow int
	checkouts   atomic.Int64
	inUse       atomic.Int64
	inAlert     atomic.Bool
}

// DB exposes the underlying handle for query execution.
func (p *Pool) DB() *sqlx.DB { return p.db }

// Stats is a read-only utilization snapshot for one tenant pool.
type Stats struct {
	Tier        plan.Tier `json:"tier"`
	Size        int       `json:"size"`
	MaxOverflow int       `json:"max_overflow"`
	OpenConns   int       `json:"open_conns"`
	InUse       int       `json:"in_use"`
	Checkouts   int64     `json:"checkouts"`
}

// Manager lazily creates and caches one pool per tenant, sized from the plan
// table. One abusive tenant can exhaust only its own pool, never global
// database capacity granted to others.
type Manager struct {
	mu             sync.Mutex
	pools          map[string]*Pool
	opener         Opener
	plans          plan.Table
	metrics        metrics.Metrics
	acquireTimeout time.Duration
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMetrics wires pool utilization metrics.
func WithMetrics(m metrics.Metrics) ManagerOption {
	return func(mgr *Manager) {
		if m != nil {
			mgr.metrics = m
		}
	}
}

// WithAcquireTimeout bounds how long a session waits for a free connection.
func WithAcquireTimeout(d time.Duration) ManagerOption {
	return func(mgr *Manager) {
		if d > 0 {
			mgr.acquireTimeout = d
		}
	}
}

// NewManager constructs a pool manager.
func NewManager(opener Opener, plans plan.Table, opts ...ManagerOption) *Manager {
	m := &Manager{
		pools:          make(map[string]*Pool),
		opener:         opener,
		plans:          plans,
		metrics:        metrics.Noop{},
		acquireTimeout: defaultAcquireTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the tenant's pool, creating it on first access. Creation is
// guarded so at most one pool per tenant ever exists.
func (m *Manager) Get(tenantID string, tier plan.Tier) (*Pool, error) {
	if tenantID == "" {
		return nil, errors.New("tenant id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[tenantID]; ok {
		return p, nil
	}

	limits := m.plans.For(tier)
	db, err := m.opener.Open(tenantID)
	if err != nil {
		return nil, fmt.Errorf("open pool for %s: %w", tenantID, err)
	}
	db.SetMaxOpenConns(limits.PoolSize + limits.PoolMaxOverflow)
	db.SetMaxIdleConns(limits.PoolSize)
	db.SetConnMaxIdleTime(defaultConnMaxIdle)

	p := &Pool{
		tenantID:    tenantID,
		tier:        tier,
		db:          db,
		size:        limits.PoolSize,
		maxOverflow: limits.PoolMaxOverflow,
	}
	m.pools[tenantID] = p
	logging.Info("pool", "created tenant pool",
		"tenant", tenantID, "tier", string(tier),
		"size", limits.PoolSize, "max_overflow", limits.PoolMaxOverflow)
	return p, nil
}

// Session checks out one connection from the tenant's pool. The returned
// session must be closed on every exit path; Close is idempotent.
func (m *Manager) Session(ctx context.Context, tenantID string, tier plan.Tier) (*Session, error) {
	p, err := m.Get(tenantID, tier)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, m.acquireTimeout)
	defer cancel()
	conn, err := p.db.Connx(cctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("acquire connection for %s: %w", tenantID, ErrExhausted)
		}
		return nil, fmt.Errorf("acquire connection for %s: %w", tenantID, err)
	}

	p.checkouts.Add(1)
	inUse := p.inUse.Add(1)
	m.metrics.ObservePoolInUse(tenantID, int(inUse))
	m.observeOverflow(p, inUse)
	return &Session{pool: p, conn: conn, manager: m}, nil
}

func (m *Manager) observeOverflow(p *Pool, inUse int64) {
	if p.maxOverflow <= 0 {
		return
	}
	overflowInUse := inUse - int64(p.size)
	threshold := int64(float64(p.maxOverflow)*overflowHighWater + 0.5)
	if overflowInUse >= threshold {
		if p.inAlert.CompareAndSwap(false, true) {
			m.metrics.IncPoolOverflowAlert(p.tenantID)
			logging.Error("pool", "overflow high-water mark crossed",
				"tenant", p.tenantID, "overflow_in_use", overflowInUse, "max_overflow", p.maxOverflow)
		}
	} else if overflowInUse < threshold/2 {
		p.inAlert.Store(false)
	}
}

// Stats returns a snapshot for one tenant; ok is false if no pool exists.
func (m *Manager) Stats(tenantID string) (Stats, bool) {
	m.mu.Lock()
	p, ok := m.pools[tenantID]
	m.mu.Unlock()
	if !ok {
		return Stats{}, false
	}
	return p.snapshot(), true
}

// AllStats returns snapshots for every live pool, keyed by tenant.
func (m *Manager) AllStats() map[string]Stats {
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	out := make(map[string]Stats, len(pools))
	for _, p := range pools {
		out[p.tenantID] = p.snapshot()
	}
	return out
}

func (p *Pool) snapshot() Stats {
	dbStats := p.db.Stats()
	return Stats{
		Tier:        p.tier,
		Size:        p.size,
		MaxOverflow: p.maxOverflow,
		OpenConns:   dbStats.OpenConnections,
		InUse:       dbStats.InUse,
		Checkouts:   p.checkouts.Load(),
	}
}

// Close drains and disposes a tenant's pool and removes bookkeeping. Safe to
// call concurrently with in-flight sessions: database/sql marks the pool
// closed and releases busy connections as they are returned.
func (m *Manager) Close(tenantID string) error {
	m.mu.Lock()
	p, ok := m.pools[tenantID]
	delete(m.pools, tenantID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	logging.Info("pool", "closing tenant pool", "tenant", tenantID)
	return p.db.Close()
}

// CloseAll disposes every pool; used at process shutdown.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*Pool)
	m.mu.Unlock()

	var firstErr error
	for _, p := range pools {
		if err := p.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Session is a scoped checkout of one connection.
type Session struct {
	pool    *Pool
	conn    *sqlx.Conn
	manager *Manager
	once    sync.Once
}

// Conn exposes the checked-out connection for query execution.
func (s *Session) Conn() *sqlx.Conn { return s.conn }

// Close returns the connection to the pool. Idempotent; guaranteed release
// is the caller's contract (defer it immediately after acquisition).
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		err = s.conn.Close()
		inUse := s.pool.inUse.Add(-1)
		s.manager.metrics.ObservePoolInUse(s.pool.tenantID, int(inUse))
	})
	return err
}
