package runtimeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/domain"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/observability"
)

// HTTPTransport is the baseline wire protocol (§4.4 "HTTP/JSON is the
// baseline"). Initialize and execute each have their own request body
// shape and their own path (/initialize, /execute).
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport builds an HTTPTransport. Per-attempt timeouts are
// enforced by the caller's context, so the underlying client carries no
// fixed Timeout of its own.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{client: &http.Client{}}
}

type initializeRequest struct {
	SessionView json.RawMessage `json:"session_view"`
}

type executeRequest struct {
	RequestID string          `json:"request_id"`
	Params    json.RawMessage `json:"params"`
	Context   json.RawMessage `json:"context"`
	Script    json.RawMessage `json:"script,omitempty"`
}

type executeResponse struct {
	Result           any            `json:"result"`
	ExecutionTimeMs  int64          `json:"execution_time_ms"`
	MemoryUsageBytes int64          `json:"memory_usage_bytes,omitempty"`
	RuntimeMetrics   map[string]any `json:"runtime_metrics,omitempty"`
	Error            string         `json:"error,omitempty"`
}

// Initialize POSTs the session view to /initialize.
func (t *HTTPTransport) Initialize(ctx context.Context, endpoint *domain.RuntimeEndpoint, sessionView json.RawMessage) error {
	body, err := json.Marshal(&initializeRequest{SessionView: sessionView})
	if err != nil {
		return err
	}
	_, err = t.post(ctx, endpoint.BaseURL+"/initialize", body)
	return err
}

// Execute POSTs the invocation request to /execute and decodes the result.
func (t *HTTPTransport) Execute(ctx context.Context, endpoint *domain.RuntimeEndpoint, requestID string, params, sessionContext, script json.RawMessage) (*domain.InvokeResult, error) {
	body, err := json.Marshal(&executeRequest{
		RequestID: requestID,
		Params:    params,
		Context:   sessionContext,
		Script:    script,
	})
	if err != nil {
		return nil, err
	}

	respBody, err := t.post(ctx, endpoint.BaseURL+"/execute", body)
	if err != nil {
		return nil, err
	}

	var resp executeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode execute response: %w", err)
	}
	return &domain.InvokeResult{
		Result:           resp.Result,
		ExecutionTimeMs:  resp.ExecutionTimeMs,
		MemoryUsageBytes: resp.MemoryUsageBytes,
		RuntimeMetrics:   resp.RuntimeMetrics,
		Error:            resp.Error,
	}, nil
}

// Health GETs /health and maps the response to the ok/degraded/down vocabulary.
func (t *HTTPTransport) Health(ctx context.Context, endpoint *domain.RuntimeEndpoint) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.BaseURL+"/health", nil)
	if err != nil {
		return "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "down", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return "ok", nil
	case resp.StatusCode >= 500:
		return "down", nil
	default:
		return "degraded", nil
	}
}

func (t *HTTPTransport) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	tc := observability.ExtractTraceContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if tc.TraceParent != "" {
		req.Header.Set("traceparent", tc.TraceParent)
	}
	if tc.TraceState != "" {
		req.Header.Set("tracestate", tc.TraceState)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
		if resp.StatusCode == http.StatusTooManyRequests {
			statusErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return nil, statusErr
	}
	return respBody, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(v); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
