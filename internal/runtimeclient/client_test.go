package runtimeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/domain"
)

type fakeMetrics struct {
	retries int32
}

func (f *fakeMetrics) RecordRetry(string)                       { atomic.AddInt32(&f.retries, 1) }
func (f *fakeMetrics) SetCircuitBreakerState(string, int)        {}
func (f *fakeMetrics) RecordCircuitBreakerTrip(string, string)   {}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.AttemptTimeout = time.Second
	cfg.OuterTimeout = 2 * time.Second
	return cfg
}

func TestExecuteSucceedsOnFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": "ok", "execution_time_ms": 5})
	}))
	defer srv.Close()

	endpoint := &domain.RuntimeEndpoint{Language: "nodejs", BaseURL: srv.URL, Transport: domain.TransportHTTP}
	m := &fakeMetrics{}
	c := New(testConfig(), NewHTTPTransport(), nil, m)

	res, err := c.Execute(context.Background(), endpoint, "req-1", json.RawMessage(`{}`), json.RawMessage(`{}`), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Result != "ok" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if atomic.LoadInt32(&m.retries) != 0 {
		t.Fatalf("expected no retries, got %d", m.retries)
	}
}

func TestExecuteRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"result": "ok", "execution_time_ms": 5})
	}))
	defer srv.Close()

	endpoint := &domain.RuntimeEndpoint{Language: "nodejs", BaseURL: srv.URL, Transport: domain.TransportHTTP}
	m := &fakeMetrics{}
	c := New(testConfig(), NewHTTPTransport(), nil, m)

	res, err := c.Execute(context.Background(), endpoint, "req-1", json.RawMessage(`{}`), json.RawMessage(`{}`), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Result != "ok" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestExecuteDoesNotRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	endpoint := &domain.RuntimeEndpoint{Language: "nodejs", BaseURL: srv.URL, Transport: domain.TransportHTTP}
	c := New(testConfig(), NewHTTPTransport(), nil, &fakeMetrics{})

	_, err := c.Execute(context.Background(), endpoint, "req-1", json.RawMessage(`{}`), json.RawMessage(`{}`), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 call for a non-retryable 4xx, got %d", got)
	}
}

func TestExecuteTripsBreakerAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	endpoint := &domain.RuntimeEndpoint{Language: "nodejs", BaseURL: srv.URL, Transport: domain.TransportHTTP}
	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.BreakerConfig.ConsecutiveFailed = 2
	cfg.BreakerConfig.MinRequests = 1000 // isolate the consecutive-failure trip
	c := New(cfg, NewHTTPTransport(), nil, &fakeMetrics{})

	for i := 0; i < 2; i++ {
		if _, err := c.Execute(context.Background(), endpoint, "req-1", json.RawMessage(`{}`), json.RawMessage(`{}`), nil); err == nil {
			t.Fatal("expected error from failing endpoint")
		}
	}

	_, err := c.Execute(context.Background(), endpoint, "req-1", json.RawMessage(`{}`), json.RawMessage(`{}`), nil)
	if err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen after breaker trips, got %v", err)
	}
}

func TestExecuteCancelledContextStopsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	endpoint := &domain.RuntimeEndpoint{Language: "nodejs", BaseURL: srv.URL, Transport: domain.TransportHTTP}
	cfg := testConfig()
	cfg.OuterTimeout = 30 * time.Millisecond
	c := New(cfg, NewHTTPTransport(), nil, &fakeMetrics{})

	_, err := c.Execute(context.Background(), endpoint, "req-1", json.RawMessage(`{}`), json.RawMessage(`{}`), nil)
	if err == nil {
		t.Fatal("expected error once outer deadline is exceeded")
	}
	if atomic.LoadInt32(&calls) == 0 {
		t.Fatal("expected at least one attempt before the outer deadline")
	}
}
