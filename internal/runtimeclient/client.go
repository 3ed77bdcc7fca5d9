// Package runtimeclient implements the Runtime Client (C4): the protocol
// adapter between the Dispatch Engine and a language runtime worker,
// carrying retry with backoff+jitter, per-attempt/outer timeouts, and a
// per-endpoint circuit breaker.
package runtimeclient

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/circuitbreaker"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/domain"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/observability"
)

// ErrCircuitOpen is returned when the endpoint's breaker is tripped and
// rejects the request without attempting a call (§7 CIRCUIT_OPEN).
var ErrCircuitOpen = errors.New("runtimeclient: circuit open")

// Transport is the per-endpoint protocol adapter. HTTPTransport and
// GRPCTransport both implement it; the client only deals with the
// interface and never branches on protocol itself.
type Transport interface {
	Initialize(ctx context.Context, endpoint *domain.RuntimeEndpoint, sessionView json.RawMessage) error
	Execute(ctx context.Context, endpoint *domain.RuntimeEndpoint, requestID string, params, context, script json.RawMessage) (*domain.InvokeResult, error)
	Health(ctx context.Context, endpoint *domain.RuntimeEndpoint) (string, error)
}

// Config holds retry/timeout defaults (§4.4).
type Config struct {
	MaxRetries       int           // default 3
	AttemptTimeout   time.Duration // default 30s
	OuterTimeout     time.Duration // default 60s
	BaseBackoff      time.Duration // default 20ms
	MaxBackoff       time.Duration // default 2s
	BreakerConfig    circuitbreaker.Config
}

// DefaultConfig returns the §4.4/§5 defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		AttemptTimeout: 30 * time.Second,
		OuterTimeout:   60 * time.Second,
		BaseBackoff:    20 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BreakerConfig: circuitbreaker.Config{
			ErrorPct:          50,
			WindowDuration:    time.Minute,
			OpenDuration:      30 * time.Second,
			HalfOpenProbes:    1,
			MinRequests:       5,
			ConsecutiveFailed: 5,
		},
	}
}

// Metrics is the subset of internal/metrics.Collector the client reports
// to; kept as an interface here so this package never imports metrics
// directly (avoids a dependency cycle risk and keeps the client testable
// with a fake).
type Metrics interface {
	RecordRetry(languageTitle string)
	SetCircuitBreakerState(endpoint string, state int)
	RecordCircuitBreakerTrip(endpoint, toState string)
}

// Client dispatches initialize/execute calls to runtime workers, applying
// retry, timeouts, and circuit breaking uniformly across transports.
type Client struct {
	cfg      Config
	breakers *circuitbreaker.Registry
	http     Transport
	grpc     Transport
	metrics  Metrics
}

// New creates a Client. grpcTransport may be nil if no endpoint in the
// registry advertises TransportGRPC.
func New(cfg Config, httpTransport, grpcTransport Transport, metrics Metrics) *Client {
	return &Client{
		cfg:      cfg,
		breakers: circuitbreaker.NewRegistry(cfg.BreakerConfig),
		http:     httpTransport,
		grpc:     grpcTransport,
		metrics:  metrics,
	}
}

func (c *Client) transportFor(endpoint *domain.RuntimeEndpoint) Transport {
	if endpoint.Transport == domain.TransportGRPC && c.grpc != nil {
		return c.grpc
	}
	return c.http
}

// Initialize performs the pre-invocation step for runtimes that need one
// (§4.4 `initialize`). Not retried beyond the shared retry policy; a
// failure here is the Dispatch Engine's to classify as terminal or not.
func (c *Client) Initialize(ctx context.Context, endpoint *domain.RuntimeEndpoint, sessionView json.RawMessage) error {
	breaker := c.breakers.Get(endpoint.BaseURL)
	_, err := c.call(ctx, endpoint, breaker, "initialize", func(attemptCtx context.Context) (*domain.InvokeResult, error) {
		return nil, c.transportFor(endpoint).Initialize(attemptCtx, endpoint, sessionView)
	})
	return err
}

// Execute runs one invocation against the endpoint, applying retry,
// per-attempt/outer timeouts, and the circuit breaker (§4.4 `execute`).
func (c *Client) Execute(ctx context.Context, endpoint *domain.RuntimeEndpoint, requestID string, params, sessionContext, script json.RawMessage) (*domain.InvokeResult, error) {
	breaker := c.breakers.Get(endpoint.BaseURL)
	return c.call(ctx, endpoint, breaker, "execute", func(attemptCtx context.Context) (*domain.InvokeResult, error) {
		return c.transportFor(endpoint).Execute(attemptCtx, endpoint, requestID, params, sessionContext, script)
	})
}

// Health queries the endpoint's health directly, without going through
// the breaker/retry path.
func (c *Client) Health(ctx context.Context, endpoint *domain.RuntimeEndpoint) (string, error) {
	return c.transportFor(endpoint).Health(ctx, endpoint)
}

type attemptFunc func(ctx context.Context) (*domain.InvokeResult, error)

// call implements the shared retry/backoff/breaker/timeout envelope
// around a single transport operation (§4.4).
func (c *Client) call(ctx context.Context, endpoint *domain.RuntimeEndpoint, breaker *circuitbreaker.Breaker, spanName string, fn attemptFunc) (*domain.InvokeResult, error) {
	ctx, span := observability.StartClientSpan(ctx, "runtimeclient."+spanName,
		observability.AttrRuntime.String(endpoint.Language),
	)
	defer span.End()

	if !breaker.Allow() {
		c.reportBreakerState(endpoint, breaker)
		observability.SetSpanError(span, ErrCircuitOpen)
		return nil, ErrCircuitOpen
	}

	outerCtx, cancel := context.WithTimeout(ctx, c.cfg.OuterTimeout)
	defer cancel()

	var lastErr error
	var lastRetryAfter time.Duration
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if c.metrics != nil {
				c.metrics.RecordRetry(endpoint.Language)
			}
			wait := lastRetryAfter
			if wait <= 0 {
				wait = fullJitterBackoff(attempt, c.cfg.BaseBackoff, c.cfg.MaxBackoff)
			}
			select {
			case <-time.After(wait):
			case <-outerCtx.Done():
				return nil, outerCtx.Err()
			}
		}

		attemptCtx, attemptCancel := context.WithTimeout(outerCtx, c.cfg.AttemptTimeout)
		result, err := fn(attemptCtx)
		attemptCancel()

		if err == nil {
			breaker.RecordSuccess()
			c.reportBreakerState(endpoint, breaker)
			observability.SetSpanOK(span)
			return result, nil
		}

		lastErr = err
		if outerCtx.Err() != nil {
			// Caller's context/outer deadline is gone; no further retries.
			breaker.RecordFailure()
			c.reportBreakerState(endpoint, breaker)
			observability.SetSpanError(span, lastErr)
			return nil, lastErr
		}

		retryable, retryAfter := classifyRetry(err)
		if !retryable {
			breaker.RecordFailure()
			c.reportBreakerState(endpoint, breaker)
			observability.SetSpanError(span, lastErr)
			return nil, lastErr
		}
		lastRetryAfter = retryAfter
	}

	breaker.RecordFailure()
	c.reportBreakerState(endpoint, breaker)
	observability.SetSpanError(span, lastErr)
	return nil, lastErr
}

func (c *Client) reportBreakerState(endpoint *domain.RuntimeEndpoint, breaker *circuitbreaker.Breaker) {
	if c.metrics == nil {
		return
	}
	c.metrics.SetCircuitBreakerState(endpoint.BaseURL, int(breaker.State()))
}

// fullJitterBackoff implements exponential backoff with full jitter:
// sleep ~ Uniform(0, min(max, base * 2^attempt)).
func fullJitterBackoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = 20 * time.Millisecond
	}
	if max <= 0 {
		max = 2 * time.Second
	}
	capped := float64(base) * math.Pow(2, float64(attempt))
	if capped > float64(max) {
		capped = float64(max)
	}
	return time.Duration(rand.Int63n(int64(capped) + 1))
}

// HTTPStatusError carries the upstream status code so classifyRetry and
// the Dispatch Engine's error-taxonomy mapping can branch on it.
type HTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return "runtime worker returned status " + strconv.Itoa(e.StatusCode) + ": " + e.Body
}

// classifyRetry reports whether err warrants another attempt, and the
// Retry-After hint to honor if present (§4.4 retry policy: 5xx and
// transport failures retry; 4xx except 429 do not).
func classifyRetry(err error) (retryable bool, retryAfter time.Duration) {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return true, statusErr.RetryAfter
		case statusErr.StatusCode >= 500:
			return true, 0
		default:
			return false, 0
		}
	}
	// Anything else reaching here is a transport-level failure (dial
	// error, timeout, connection reset): retryable.
	return true, 0
}
