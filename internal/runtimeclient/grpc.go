package runtimeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/domain"
)

const (
	methodInitialize = "/controller.runtime.v1.RuntimeService/Initialize"
	methodExecute    = "/controller.runtime.v1.RuntimeService/Execute"
	methodHealth     = "/controller.runtime.v1.RuntimeService/Health"
)

// GRPCTransport is the optional gRPC wire protocol for runtime workers
// that advertise domain.TransportGRPC (§4.4 "an optional gRPC path
// exists for endpoints advertising it"). It reuses the HTTP transport's
// JSON request/response shapes verbatim via jsonCodec, so the two
// transports stay semantically identical.
type GRPCTransport struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewGRPCTransport creates a GRPCTransport. Connections are dialed
// lazily per endpoint and cached for reuse.
func NewGRPCTransport() *GRPCTransport {
	return &GRPCTransport{conns: make(map[string]*grpc.ClientConn)}
}

func (t *GRPCTransport) connFor(endpoint *domain.RuntimeEndpoint) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conn, ok := t.conns[endpoint.BaseURL]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(endpoint.BaseURL,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("dial runtime worker %s: %w", endpoint.BaseURL, err)
	}
	t.conns[endpoint.BaseURL] = conn
	return conn, nil
}

// Initialize invokes the runtime worker's Initialize RPC.
func (t *GRPCTransport) Initialize(ctx context.Context, endpoint *domain.RuntimeEndpoint, sessionView json.RawMessage) error {
	conn, err := t.connFor(endpoint)
	if err != nil {
		return err
	}
	req := &initializeRequest{SessionView: sessionView}
	var resp struct{}
	return conn.Invoke(ctx, methodInitialize, req, &resp)
}

// Execute invokes the runtime worker's Execute RPC and maps the response.
func (t *GRPCTransport) Execute(ctx context.Context, endpoint *domain.RuntimeEndpoint, requestID string, params, sessionContext, script json.RawMessage) (*domain.InvokeResult, error) {
	conn, err := t.connFor(endpoint)
	if err != nil {
		return nil, err
	}
	req := &executeRequest{
		RequestID: requestID,
		Params:    params,
		Context:   sessionContext,
		Script:    script,
	}
	var resp executeResponse
	if err := conn.Invoke(ctx, methodExecute, req, &resp); err != nil {
		return nil, err
	}
	return &domain.InvokeResult{
		Result:           resp.Result,
		ExecutionTimeMs:  resp.ExecutionTimeMs,
		MemoryUsageBytes: resp.MemoryUsageBytes,
		RuntimeMetrics:   resp.RuntimeMetrics,
		Error:            resp.Error,
	}, nil
}

// Health invokes the runtime worker's Health RPC.
func (t *GRPCTransport) Health(ctx context.Context, endpoint *domain.RuntimeEndpoint) (string, error) {
	conn, err := t.connFor(endpoint)
	if err != nil {
		return "down", err
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := conn.Invoke(ctx, methodHealth, &struct{}{}, &resp); err != nil {
		return "down", err
	}
	if resp.Status == "" {
		return "degraded", nil
	}
	return resp.Status, nil
}

// Close closes every cached connection.
func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, conn := range t.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}
