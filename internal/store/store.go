// Package store implements the Session Store (C1): the transactional
// record-of-truth for sessions, the function catalog, and append-only
// execution/error records.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/domain"
)

// ErrNotFound is returned by Get/RecordExecution/Touch for a request_id
// that does not exist or has expired (I2: an expired session is never
// returned by a lookup), and by the in-memory UpdateCompileStatus for a
// request_id that does not exist.
var ErrNotFound = errors.New("store: not found")

// SessionStore is the persistence contract for the Session Manager (C5).
// Implementations must guarantee I1-I5 from the session lifecycle.
type SessionStore interface {
	// Insert writes a newly created session (immutable fields plus its
	// initial mutable state).
	Insert(ctx context.Context, s *domain.Session) error

	// Get returns the session for request_id, or ErrNotFound if missing,
	// marked expired, or past its expires_at (I2 strict read).
	Get(ctx context.Context, requestID string) (*domain.Session, error)

	// RecordExecution bumps execution_count and last_executed_at in a
	// single atomic update (§4.7: "single-row UPDATE with arithmetic;
	// no advisory locking is required").
	RecordExecution(ctx context.Context, requestID string, now time.Time) error

	// Touch extends expires_at for an active session (§3: "expires_at
	// (monotonically extendable)"; §4.1 contract). Returns ErrNotFound
	// if the session is missing or already expired, and never moves
	// expires_at backward.
	Touch(ctx context.Context, requestID string, now, newExpiry time.Time) error

	// UpdateCompileStatus transitions the session's compile_status and,
	// on success, stores the compiled artifact. Called asynchronously by
	// the artifact-build path (§4.5): "build outcome is persisted
	// asynchronously but is visible in the returned value" refers to the
	// in-memory Session the create() caller already has; this call makes
	// the outcome durable for subsequent Get calls.
	UpdateCompileStatus(ctx context.Context, requestID string, status domain.CompileStatus, compileError string, artifact []byte) error

	// SweepExpired marks sessions whose expires_at has elapsed as
	// expired and returns the count affected (§5 background job).
	SweepExpired(ctx context.Context, now time.Time) (int64, error)

	Close() error
}

// FunctionStore is the read-side persistence contract for the Function
// Catalog (C6).
type FunctionStore interface {
	// List returns a page of catalog entries plus the total count.
	List(ctx context.Context, page, perPage int) (total int, functions []*domain.Function, err error)

	// Get returns the catalog entry for language_title, or ErrNotFound.
	Get(ctx context.Context, languageTitle string) (*domain.Function, error)

	// GetScript returns the catalog's stored script body for
	// language_title, consulted by the Dispatch Engine (through the
	// Function Catalog) when an Initialize request omits script_content (§4.7 step 1: "a catalog
	// fallback"). Returns ErrNotFound if no script is on file.
	GetScript(ctx context.Context, languageTitle string) (*domain.ScriptRecord, error)
}

// ExecutionLogStore is the append-only persistence contract used by the
// Execution Logger (C8).
type ExecutionLogStore interface {
	AppendExecution(ctx context.Context, rec *domain.ExecutionRecord) error
	AppendError(ctx context.Context, rec *domain.ErrorRecord) error
}
