package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics defines counters and gauges for the tenant governance layer.
type Metrics interface {
	IncQuotaChecked(tenant, outcome string)
	IncQuotaDenied(resource string)
	ObservePoolInUse(tenant string, inUse int)
	IncPoolOverflowAlert(tenant string)
	IncRouteDecision(model, version string)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncQuotaChecked(string, string)  {}
func (Noop) IncQuotaDenied(string)           {}
func (Noop) ObservePoolInUse(string, int)    {}
func (Noop) IncPoolOverflowAlert(string)     {}
func (Noop) IncRouteDecision(string, string) {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	quotaChecked   *prometheus.CounterVec
	quotaDenied    *prometheus.CounterVec
	poolInUse      *prometheus.GaugeVec
	overflowAlerts *prometheus.CounterVec
	routeDecisions *prometheus.CounterVec
	once           sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		quotaChecked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_checks_total",
			Help:      "Quota checks by tenant and outcome",
		}, []string{"tenant", "outcome"}),
		quotaDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_denied_total",
			Help:      "Quota denials by resource kind",
		}, []string{"resource"}),
		poolInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_connections_in_use",
			Help:      "Checked-out connections per tenant pool",
		}, []string{"tenant"}),
		overflowAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_overflow_alerts_total",
			Help:      "Overflow high-water alerts per tenant pool",
		}, []string{"tenant"}),
		routeDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_route_decisions_total",
			Help:      "Version routing decisions by model and version",
		}, []string{"model", "version"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.quotaChecked, p.quotaDenied, p.poolInUse, p.overflowAlerts, p.routeDecisions)
	})
}

func (p *Prom) IncQuotaChecked(tenant, outcome string) {
	p.quotaChecked.WithLabelValues(tenant, outcome).Inc()
}

func (p *Prom) IncQuotaDenied(resource string) {
	p.quotaDenied.WithLabelValues(resource).Inc()
}

func (p *Prom) ObservePoolInUse(tenant string, inUse int) {
	p.poolInUse.WithLabelValues(tenant).Set(float64(inUse))
}

func (p *Prom) IncPoolOverflowAlert(tenant string) {
	p.overflowAlerts.WithLabelValues(tenant).Inc()
}

func (p *Prom) IncRouteDecision(model, version string) {
	p.routeDecisions.WithLabelValues(model, version).Inc()
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
