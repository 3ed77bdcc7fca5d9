package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/domain"
)

// InMemorySessionStore is a SessionStore for tests and local development
// without a Postgres instance, mirroring the cache package's RWMutex map
// convention.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewInMemorySessionStore creates an empty in-memory session store.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[string]*domain.Session)}
}

func (s *InMemorySessionStore) Insert(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.RequestID] = &cp
	return nil
}

func (s *InMemorySessionStore) Get(ctx context.Context, requestID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[requestID]
	if !ok || sess.IsExpired(time.Now()) {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *InMemorySessionStore) RecordExecution(ctx context.Context, requestID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[requestID]
	if !ok || sess.IsExpired(now) {
		return ErrNotFound
	}
	sess.ExecutionCount++
	sess.LastExecutedAt = &now
	return nil
}

// Touch extends expires_at for an active session, never moving it
// backward (§3, §4.1).
func (s *InMemorySessionStore) Touch(ctx context.Context, requestID string, now, newExpiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[requestID]
	if !ok || sess.IsExpired(now) {
		return ErrNotFound
	}
	if newExpiry.After(sess.ExpiresAt) {
		sess.ExpiresAt = newExpiry
	}
	return nil
}

func (s *InMemorySessionStore) UpdateCompileStatus(ctx context.Context, requestID string, status domain.CompileStatus, compileError string, artifact []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[requestID]
	if !ok {
		return ErrNotFound
	}
	sess.CompileStatus = status
	sess.CompileError = compileError
	if artifact != nil {
		sess.CompiledArtifact = artifact
	}
	return nil
}

func (s *InMemorySessionStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, sess := range s.sessions {
		if sess.Status != domain.SessionExpired && !now.Before(sess.ExpiresAt) {
			sess.Status = domain.SessionExpired
			count++
		}
	}
	return count, nil
}

func (s *InMemorySessionStore) Close() error { return nil }

// InMemoryFunctionStore is a FunctionStore backed by maps seeded at
// construction; List sorts active entries by language_title for
// deterministic pagination.
type InMemoryFunctionStore struct {
	mu        sync.RWMutex
	functions map[string]*domain.Function
	scripts   map[string]*domain.ScriptRecord
}

// NewInMemoryFunctionStore seeds the store with the given catalog entries.
func NewInMemoryFunctionStore(seed []*domain.Function) *InMemoryFunctionStore {
	fs := &InMemoryFunctionStore{
		functions: make(map[string]*domain.Function),
		scripts:   make(map[string]*domain.ScriptRecord),
	}
	for _, fn := range seed {
		cp := *fn
		fs.functions[fn.LanguageTitle] = &cp
	}
	return fs
}

// SetScript seeds the catalog fallback script for language_title (test
// and local-dev helper; Postgres populates this out of band).
func (s *InMemoryFunctionStore) SetScript(languageTitle string, rec *domain.ScriptRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[languageTitle] = rec
}

func (s *InMemoryFunctionStore) GetScript(ctx context.Context, languageTitle string) (*domain.ScriptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.scripts[languageTitle]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *InMemoryFunctionStore) List(ctx context.Context, page, perPage int) (int, []*domain.Function, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	all := make([]*domain.Function, 0, len(s.functions))
	for _, fn := range s.functions {
		if fn.IsActive {
			all = append(all, fn)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LanguageTitle < all[j].LanguageTitle })

	total := len(all)
	start := (page - 1) * perPage
	if start >= total {
		return total, nil, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	out := make([]*domain.Function, end-start)
	for i, fn := range all[start:end] {
		cp := *fn
		out[i] = &cp
	}
	return total, out, nil
}

func (s *InMemoryFunctionStore) Get(ctx context.Context, languageTitle string) (*domain.Function, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.functions[languageTitle]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *fn
	return &cp, nil
}
