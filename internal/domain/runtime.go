package domain

import "time"

// RuntimeEndpoint describes a network location capable of executing
// scripts of one language family (§3 "Runtime endpoint"). Not persisted;
// the registry holds these in memory only.
type RuntimeEndpoint struct {
	Language    string    `json:"language"`
	BaseURL     string    `json:"base_url"`
	Transport   Transport `json:"transport"`
	Health      string    `json:"health"` // "ok" | "degraded" | "down"
	LastFailure time.Time `json:"last_failure,omitempty"`
	OpenUntil   time.Time `json:"open_until,omitempty"`
}

// Transport selects the wire protocol used to reach a RuntimeEndpoint.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportGRPC Transport = "grpc"
)

// InvokeResult is what a runtime worker returns for one execution.
type InvokeResult struct {
	Result            any            `json:"result,omitempty"`
	ExecutionTimeMs    int64          `json:"execution_time_ms"`
	MemoryUsageBytes   int64          `json:"memory_usage_bytes,omitempty"`
	RuntimeMetrics     map[string]any `json:"runtime_metrics,omitempty"`
	Error              string         `json:"error,omitempty"`
}
