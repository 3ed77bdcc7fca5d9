// Package domain holds the data model shared by every controller
// component: sessions, functions, runtime endpoints, and the append-only
// execution/error records.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// SessionStatus is the mutable lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionExpired SessionStatus = "expired"
)

// CompileStatus tracks artifact build progress for runtimes that require
// a pre-invocation compile step (e.g. WebAssembly).
type CompileStatus string

const (
	CompilePending CompileStatus = "pending"
	CompileReady   CompileStatus = "ready"
	CompileFailed  CompileStatus = "failed"
)

// Session is the unit of a user's declared work: a script body bound to
// a durable request_id, executed later against arbitrary params.
//
// Immutable fields are set once at Create and never rewritten; mutable
// fields are updated in place by the Session Manager under the
// invariants in §3 of the specification (I1-I5).
type Session struct {
	// Immutable
	RequestID       string            `json:"request_id"`
	LanguageTitle   string            `json:"language_title"`
	UserID          string            `json:"user_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	ScriptContent   string            `json:"script_content"`
	ScriptHash      string            `json:"script_hash"`
	CompileOptions  map[string]any    `json:"compile_options,omitempty"`
	Context         map[string]any    `json:"context"`

	// Mutable
	ExpiresAt       time.Time     `json:"expires_at"`
	LastExecutedAt  *time.Time    `json:"last_executed_at,omitempty"`
	ExecutionCount  int64         `json:"execution_count"`
	Status          SessionStatus `json:"status"`
	CompileStatus   CompileStatus `json:"compile_status"`
	CompileError    string        `json:"compile_error,omitempty"`
	CompiledArtifact []byte       `json:"compiled_artifact,omitempty"`
}

// RequiresCompilation reports whether a language_title's runtime family
// needs a pre-invocation build step (§4.5 "e.g., WebAssembly") before it
// can be executed. Resolved the same way the registry's PrefixMatching
// strategy does: the family name is the language_title up to its first
// '-'.
func RequiresCompilation(languageTitle string) bool {
	family := languageTitle
	if idx := strings.IndexByte(languageTitle, '-'); idx >= 0 {
		family = languageTitle[:idx]
	}
	switch family {
	case "wasm", "webassembly":
		return true
	default:
		return false
	}
}

// HashScript computes the content hash used for script_hash (I4) and as
// half of the artifact cache key (§4.2).
func HashScript(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// IsExpired reports whether the session must never be returned by a
// lookup (I2/P4): status marked expired, or the TTL has elapsed.
func (s *Session) IsExpired(now time.Time) bool {
	if s.Status == SessionExpired {
		return true
	}
	return !now.Before(s.ExpiresAt)
}

// StateView is the read-only projection returned by the state-query
// operation (§4.7 "State-query").
type StateView struct {
	RequestID      string        `json:"request_id"`
	LanguageTitle  string        `json:"language_title"`
	Status         SessionStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	ExecutionCount int64         `json:"execution_count"`
	LastExecutedAt *time.Time    `json:"last_executed_at,omitempty"`
}

// View projects a Session into its read-only state view.
func (s *Session) View() *StateView {
	return &StateView{
		RequestID:      s.RequestID,
		LanguageTitle:  s.LanguageTitle,
		Status:         s.Status,
		CreatedAt:      s.CreatedAt,
		ExpiresAt:      s.ExpiresAt,
		ExecutionCount: s.ExecutionCount,
		LastExecutedAt: s.LastExecutedAt,
	}
}
