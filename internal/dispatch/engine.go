// Package dispatch implements the Dispatch Engine (C7): the central
// state machine of the request lifecycle, composing the Runtime
// Registry, Session Manager, Artifact Cache, Runtime Client, and
// Execution Logger into the Initialize/Execute/state-query operations
// (§4.7). The teacher has no single equivalent of this orchestration —
// its logic is spread across `dataplane/handlers_invoke.go` and
// `executor.Executor.Invoke` — so this package is new, grounded on both:
// the handler's decode-then-invoke-then-classify-error shape, and the
// executor's errors.Is taxonomy mapping to HTTP status.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/artifactcache"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/domain"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/executionlog"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/logging"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/registry"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/runtimeclient"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/session"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/store"
)

// Metrics is the subset of internal/metrics.Collector the engine reports
// dispatch outcomes to, kept as an interface to avoid an import cycle.
type Metrics interface {
	RecordDispatch(languageTitle, status string, durationMs int64, fromCache bool)
}

// ScriptResolver supplies the catalog fallback script body for an
// Initialize request that omits script_content (§4.7 step 1).
type ScriptResolver interface {
	Script(ctx context.Context, languageTitle string) (*domain.ScriptRecord, error)
}

// Engine is the Dispatch Engine (C7).
type Engine struct {
	registry *registry.Registry
	sessions *session.Manager
	cache    *artifactcache.Coordinator
	build    session.Builder
	client   *runtimeclient.Client
	execLog  *executionlog.Logger
	catalog  ScriptResolver
	metrics  Metrics
}

// New creates an Engine wired to its component dependencies. build is
// the same Artifact Cache builder given to the Session Manager, reused
// here so an Execute call that lands before the Create-time build
// finishes joins the existing single-flight build instead of starting a
// second one (§4.7 step 3); it may be nil if no configured language
// requires compilation. catalog and metrics may be nil.
func New(reg *registry.Registry, sessions *session.Manager, cache *artifactcache.Coordinator, build session.Builder, client *runtimeclient.Client, execLog *executionlog.Logger, catalog ScriptResolver, metrics Metrics) *Engine {
	return &Engine{
		registry: reg,
		sessions: sessions,
		cache:    cache,
		build:    build,
		client:   client,
		execLog:  execLog,
		catalog:  catalog,
		metrics:  metrics,
	}
}

// InitializeRequest is the input to Initialize (§6 POST /initialize).
type InitializeRequest struct {
	LanguageTitle  string
	UserID         string
	Context        map[string]any
	ScriptContent  string
	CompileOptions map[string]any
}

// InitializeResult is the response body for a successful Initialize
// (§6: `{request_id, status:"initialized", expires_at}`).
type InitializeResult struct {
	RequestID string    `json:"request_id"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Initialize creates a session, resolving the runtime endpoint first and
// running the optional pre-invocation step for runtimes that need it
// (§4.7 "Initialize").
func (e *Engine) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	if req.LanguageTitle == "" {
		return nil, newError(CodeInvalidRequest, "Language-Title header is required")
	}

	scriptContent := req.ScriptContent
	if scriptContent == "" && e.catalog != nil {
		rec, err := e.catalog.Script(ctx, req.LanguageTitle)
		if err == nil {
			scriptContent = rec.Content
		}
	}
	if scriptContent == "" {
		return nil, newError(CodeInvalidRequest, "script_content is required and no catalog fallback is on file")
	}

	endpoint, err := e.registry.Resolve(req.LanguageTitle)
	if err != nil {
		return nil, newError(CodeUnknownRuntime, "no runtime endpoint for language_title", req.LanguageTitle)
	}

	sess, err := e.sessions.Create(ctx, session.CreateRequest{
		LanguageTitle:  req.LanguageTitle,
		UserID:         req.UserID,
		Context:        req.Context,
		ScriptContent:  scriptContent,
		CompileOptions: req.CompileOptions,
	})
	if err != nil {
		if errors.Is(err, session.ErrScriptTooLarge) {
			return nil, newError(CodeInvalidRequest, err.Error())
		}
		return nil, newError(CodeUpstreamUnavailable, "failed to create session", err.Error())
	}

	if domain.RequiresCompilation(req.LanguageTitle) {
		// Lazy-initialize on first execute is the fallback (§4.7 step
		// 4); a failure here is recorded but non-fatal to the session
		// unless the build itself already failed.
		if sess.CompileStatus == domain.CompileFailed {
			return nil, newError(CodeCompileFailed, "artifact build failed", sess.CompileError)
		}
	} else {
		sessionView, _ := json.Marshal(sess)
		if err := e.client.Initialize(ctx, endpoint, sessionView); err != nil {
			logging.Op().Warn("runtime initialize failed, session remains usable via lazy-initialize",
				"request_id", sess.RequestID, "language_title", req.LanguageTitle, "error", err)
		}
	}

	return &InitializeResult{
		RequestID: sess.RequestID,
		Status:    "initialized",
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// ExecuteRequest is the input to Execute (§6 POST /execute/{request_id}).
type ExecuteRequest struct {
	RequestID string
	Params    json.RawMessage
}

// ExecuteResult is the response body for a successful Execute (§6).
type ExecuteResult struct {
	RequestID     string `json:"request_id"`
	LanguageTitle string `json:"language_title"`
	ExecutionMs   int64  `json:"execution_time_ms"`
	Cached        bool   `json:"cached"`
	Result        any    `json:"result"`
}

// Execute invokes a previously created session against the resolved
// runtime endpoint, recording the outcome regardless of success or
// failure (§4.7 "Execute").
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	start := time.Now()

	sess, err := e.sessions.Get(ctx, req.RequestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(CodeSessionNotFound, "session not found or expired", req.RequestID)
		}
		return nil, newError(CodeUpstreamUnavailable, "failed to read session", err.Error())
	}

	endpoint, err := e.registry.Resolve(sess.LanguageTitle)
	if err != nil {
		return nil, newError(CodeUnknownRuntime, "no runtime endpoint for language_title", sess.LanguageTitle)
	}

	script := []byte(sess.ScriptContent)
	if domain.RequiresCompilation(sess.LanguageTitle) && sess.CompileStatus != domain.CompileReady && e.build != nil {
		key := artifactcache.Key(sess.LanguageTitle, sess.ScriptHash, artifactcache.HashCompileOptions(sess.CompileOptions))
		artifact, buildErr := e.cache.GetOrBuild(ctx, key, func(ctx context.Context) ([]byte, error) {
			return e.build(ctx, sess.LanguageTitle, sess.ScriptContent, sess.CompileOptions)
		})
		if buildErr != nil {
			dispatchErr := newError(CodeCompileFailed, "artifact build failed", buildErr.Error())
			if errors.Is(buildErr, artifactcache.ErrBuildCancelled) {
				dispatchErr = newError(CodeTimeout, "compile wait cancelled")
			}
			e.recordTerminal(ctx, sess, start, 0, dispatchErr)
			return nil, dispatchErr
		}
		script = artifact
	}

	contextPayload, _ := json.Marshal(sess.Context)
	result, err := e.client.Execute(ctx, endpoint, req.RequestID, req.Params, contextPayload, script)
	duration := time.Since(start)
	if err != nil {
		dispatchErr := classifyExecuteError(err)
		e.recordTerminal(ctx, sess, start, duration.Milliseconds(), dispatchErr)
		return nil, dispatchErr
	}

	if err := e.sessions.RecordExecution(ctx, req.RequestID); err != nil {
		logging.Op().Warn("failed to record execution count", "request_id", req.RequestID, "error", err)
	}

	if e.execLog != nil {
		e.execLog.RecordSuccess(&domain.ExecutionRecord{
			ID:            uuid.New().String(),
			RequestID:     req.RequestID,
			LanguageTitle: sess.LanguageTitle,
			ParamsPayload: req.Params,
			StatusCode:    200,
			DurationMs:    duration.Milliseconds(),
			CreatedAt:     time.Now(),
		})
	}
	if e.metrics != nil {
		e.metrics.RecordDispatch(sess.LanguageTitle, "success", duration.Milliseconds(), false)
	}

	return &ExecuteResult{
		RequestID:     req.RequestID,
		LanguageTitle: sess.LanguageTitle,
		ExecutionMs:   result.ExecutionTimeMs,
		Cached:        false,
		Result:        result.Result,
	}, nil
}

// classifyExecuteError maps a Runtime Client error into the taxonomy
// (§7). Retries and timeouts are already exhausted by the time an error
// reaches here (§7: "Retries occur only inside Runtime Client").
func classifyExecuteError(err error) *Error {
	switch {
	case errors.Is(err, runtimeclient.ErrCircuitOpen):
		return newError(CodeCircuitOpen, "runtime endpoint circuit is open")
	case errors.Is(err, context.DeadlineExceeded):
		return newError(CodeTimeout, "runtime call exceeded its deadline")
	default:
		var statusErr *runtimeclient.HTTPStatusError
		if errors.As(err, &statusErr) {
			return newError(CodeRuntimeError, "runtime returned a terminal error", err.Error())
		}
		return newError(CodeUpstreamUnavailable, "runtime worker unreachable", err.Error())
	}
}

// recordTerminal writes the execution+error record pair for a failed
// Execute (§4.7 step 6). Logging is best-effort and never blocks the
// caller beyond the logger's own non-blocking enqueue.
func (e *Engine) recordTerminal(ctx context.Context, sess *domain.Session, start time.Time, durationMs int64, dispatchErr *Error) {
	if e.execLog == nil {
		return
	}
	if durationMs == 0 {
		durationMs = time.Since(start).Milliseconds()
	}
	rec := &domain.ExecutionRecord{
		ID:            uuid.New().String(),
		RequestID:     sess.RequestID,
		LanguageTitle: sess.LanguageTitle,
		StatusCode:    dispatchErr.HTTPStatus(),
		DurationMs:    durationMs,
		ErrorDetails:  dispatchErr.Error(),
		CreatedAt:     time.Now(),
	}
	errRec := &domain.ErrorRecord{
		ID:           uuid.New().String(),
		RequestLogID: rec.ID,
		ErrorCode:    string(dispatchErr.Code),
		ErrorMessage: dispatchErr.Message,
		Context:      dispatchErr.Details,
		CreatedAt:    time.Now(),
	}
	e.execLog.RecordFailure(rec, errRec)
	if e.metrics != nil {
		e.metrics.RecordDispatch(sess.LanguageTitle, "failure", durationMs, false)
	}
}

// StateQuery returns the read-only view of a session without extending
// its expiry (§4.7 "State-query").
func (e *Engine) StateQuery(ctx context.Context, requestID string) (*domain.StateView, error) {
	sess, err := e.sessions.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(CodeSessionNotFound, "session not found or expired", requestID)
		}
		return nil, newError(CodeUpstreamUnavailable, "failed to read session", err.Error())
	}
	return sess.View(), nil
}
