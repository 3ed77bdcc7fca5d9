// Package session implements the Session Manager (C5): the component
// that turns a declared script into a durable, later-invocable Session
// and enforces the session lifecycle invariants (I1-I5 of the data
// model).
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/artifactcache"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/domain"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/logging"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/store"
)

// ErrScriptTooLarge is returned by Create when script_content exceeds
// the configured max_script_size (§4.5).
var ErrScriptTooLarge = errors.New("session: script_content exceeds max_script_size")

// Builder compiles a script into a runtime-loadable artifact for
// language families that require a pre-invocation build step
// (domain.RequiresCompilation). The Dispatch Engine wiring supplies the
// concrete implementation; languages that never require compilation
// never call it.
type Builder func(ctx context.Context, languageTitle, scriptContent string, compileOptions map[string]any) ([]byte, error)

// Config holds the tunables named in §4.5 and §6.
type Config struct {
	DefaultTTL    time.Duration // SESSION_EXPIRY_SECONDS, default 3600s
	MaxScriptSize int64         // MAX_SCRIPT_SIZE, default 1 MiB
}

// DefaultConfig returns the defaults named in §6.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:    time.Hour,
		MaxScriptSize: 1 << 20,
	}
}

// Manager is the Session Manager (C5). It owns no network connections
// itself; it composes the Session Store (C1) and Artifact Cache (C2).
type Manager struct {
	store store.SessionStore
	cache *artifactcache.Coordinator
	build Builder
	cfg   Config
}

// New creates a Manager. build may be nil if no configured language
// family requires compilation.
func New(s store.SessionStore, cache *artifactcache.Coordinator, build Builder, cfg Config) *Manager {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	if cfg.MaxScriptSize <= 0 {
		cfg.MaxScriptSize = 1 << 20
	}
	return &Manager{store: s, cache: cache, build: build, cfg: cfg}
}

// CreateRequest is the input to Create, mirroring the Initialize
// request body (§6).
type CreateRequest struct {
	LanguageTitle  string
	UserID         string
	Context        map[string]any
	ScriptContent  string
	CompileOptions map[string]any
}

// Create assigns a request_id, computes script_hash, writes the session
// to the store (I1), and for languages requiring pre-compilation kicks
// off an artifact build — synchronously reusing a Ready artifact if one
// is already cached, otherwise asynchronously in the background while
// returning compile_status=pending (§4.5).
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*domain.Session, error) {
	if int64(len(req.ScriptContent)) > m.cfg.MaxScriptSize {
		return nil, ErrScriptTooLarge
	}

	now := time.Now()
	sess := &domain.Session{
		RequestID:      uuid.New().String(),
		LanguageTitle:  req.LanguageTitle,
		UserID:         req.UserID,
		CreatedAt:      now,
		ScriptContent:  req.ScriptContent,
		ScriptHash:     domain.HashScript(req.ScriptContent),
		CompileOptions: req.CompileOptions,
		Context:        req.Context,
		ExpiresAt:      now.Add(m.cfg.DefaultTTL),
		Status:         domain.SessionActive,
		CompileStatus:  domain.CompileReady,
	}

	requiresCompile := domain.RequiresCompilation(req.LanguageTitle) && m.build != nil
	var cacheKey string
	if requiresCompile {
		cacheKey = artifactcache.Key(req.LanguageTitle, sess.ScriptHash, artifactcache.HashCompileOptions(req.CompileOptions))
		if m.cache.Peek(ctx, cacheKey) {
			sess.CompileStatus = domain.CompileReady
		} else {
			sess.CompileStatus = domain.CompilePending
		}
	}

	if err := m.store.Insert(ctx, sess); err != nil {
		return nil, err
	}

	if requiresCompile && sess.CompileStatus == domain.CompilePending {
		m.buildAsync(sess.RequestID, req.LanguageTitle, req.ScriptContent, req.CompileOptions, cacheKey)
	}

	return sess, nil
}

// buildAsync runs the artifact build off the request goroutine and
// persists the outcome (§4.5: "build outcome is persisted
// asynchronously"). It uses a background context detached from the
// inbound request, since the build must survive the HTTP handler that
// triggered it returning.
func (m *Manager) buildAsync(requestID, languageTitle, scriptContent string, compileOptions map[string]any, cacheKey string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		artifact, err := m.cache.GetOrBuild(ctx, cacheKey, func(ctx context.Context) ([]byte, error) {
			return m.build(ctx, languageTitle, scriptContent, compileOptions)
		})

		updateCtx, updateCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer updateCancel()
		if err != nil {
			logging.Op().Error("artifact build failed", "request_id", requestID, "language_title", languageTitle, "error", err)
			if uErr := m.store.UpdateCompileStatus(updateCtx, requestID, domain.CompileFailed, err.Error(), nil); uErr != nil {
				logging.Op().Error("failed to persist compile failure", "request_id", requestID, "error", uErr)
			}
			return
		}
		if uErr := m.store.UpdateCompileStatus(updateCtx, requestID, domain.CompileReady, "", artifact); uErr != nil {
			logging.Op().Error("failed to persist compile success", "request_id", requestID, "error", uErr)
		}
	}()
}

// Get returns the session for request_id, applying the strict I2 read
// (not found or expired both surface as store.ErrNotFound).
func (m *Manager) Get(ctx context.Context, requestID string) (*domain.Session, error) {
	return m.store.Get(ctx, requestID)
}

// RecordExecution bumps execution_count and last_executed_at atomically.
func (m *Manager) RecordExecution(ctx context.Context, requestID string) error {
	return m.store.RecordExecution(ctx, requestID, time.Now())
}

// Touch extends a session's expiry to now+ttl, never moving it backward
// (§3: "expires_at (monotonically extendable)"). Callers use this to
// implement sliding-window session lifetimes on top of the fixed-TTL
// default Create assigns.
func (m *Manager) Touch(ctx context.Context, requestID string, ttl time.Duration) error {
	now := time.Now()
	return m.store.Touch(ctx, requestID, now, now.Add(ttl))
}

// ExpireSweep runs the periodic background expiry job (§5: every 60s).
func (m *Manager) ExpireSweep(ctx context.Context) (int64, error) {
	return m.store.SweepExpired(ctx, time.Now())
}
