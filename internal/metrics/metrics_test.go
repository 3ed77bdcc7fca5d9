package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollectorRecordsAndExposesMetrics(t *testing.T) {
	c := New("lambda_microservice_test", time.Now())

	c.RecordDispatch("nodejs-calc", "success", 42, false)
	c.RecordCacheHit("l1")
	c.RecordCacheMiss("python-calc")
	c.RecordRetry("python-calc")
	c.SetCircuitBreakerState("python:9001", 1)
	c.RecordCircuitBreakerTrip("python:9001", "open")
	c.IncActiveRequests()
	c.DecActiveRequests()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"lambda_microservice_test_dispatch_total",
		"lambda_microservice_test_artifact_cache_hits_total",
		"lambda_microservice_test_circuit_breaker_state",
		"lambda_microservice_test_uptime_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q", want)
		}
	}
}
