package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNoopImplementsMetrics(t *testing.T) {
	var m Metrics = Noop{}
	m.IncQuotaChecked("acme", "ok")
	m.IncQuotaDenied("api_calls")
	m.ObservePoolInUse("acme", 3)
	m.IncPoolOverflowAlert("acme")
	m.IncRouteDecision("recommender", "v2")
}

func TestPromEmitsSeries(t *testing.T) {
	p := NewProm("govern_test")
	p.IncQuotaChecked("acme", "denied")
	p.IncQuotaDenied("api_calls")
	p.ObservePoolInUse("acme", 7)
	p.IncPoolOverflowAlert("acme")
	p.IncRouteDecision("recommender", "v2")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"govern_test_quota_checks_total",
		"govern_test_quota_denied_total",
		"govern_test_pool_connections_in_use",
		"govern_test_pool_overflow_alerts_total",
		"govern_test_model_route_decisions_total",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}
