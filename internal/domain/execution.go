package domain

import (
	"encoding/json"
	"time"
)

// ExecutionRecord is an append-only record of one dispatch attempt (§3).
// There is no mutation path: every field is written once at creation.
type ExecutionRecord struct {
	ID              string          `json:"id"`
	RequestID       string          `json:"request_id"`
	LanguageTitle   string          `json:"language_title"`
	ParamsPayload   json.RawMessage `json:"params_payload"`
	ResponsePayload json.RawMessage `json:"response_payload,omitempty"`
	StatusCode      int             `json:"status_code"`
	DurationMs      int64           `json:"duration_ms"`
	RuntimeMetrics  json.RawMessage `json:"runtime_metrics,omitempty"`
	ErrorDetails    string          `json:"error_details,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ErrorRecord is created for every non-2xx terminal outcome (§3).
type ErrorRecord struct {
	ID           string    `json:"id"`
	RequestLogID string    `json:"request_log_id"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
	StackTrace   string    `json:"stack_trace,omitempty"`
	Context      string    `json:"context,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
