package session

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/artifactcache"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/cache"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/domain"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/store"
)

func newManager(t *testing.T, build Builder) (*Manager, *store.InMemorySessionStore) {
	t.Helper()
	s := store.NewInMemorySessionStore()
	c := artifactcache.New(cache.NewInMemoryCache(), time.Minute)
	return New(s, c, build, Config{DefaultTTL: time.Hour, MaxScriptSize: 1024}), s
}

func TestCreateNonCompiledRuntimeIsImmediatelyReady(t *testing.T) {
	m, _ := newManager(t, nil)

	sess, err := m.Create(context.Background(), CreateRequest{
		LanguageTitle: "nodejs-calc",
		ScriptContent: "console.log(1)",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.CompileStatus != domain.CompileReady {
		t.Fatalf("expected compile_status ready, got %s", sess.CompileStatus)
	}
	if sess.RequestID == "" {
		t.Fatal("expected a request_id to be assigned")
	}

	got, err := m.Get(context.Background(), sess.RequestID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ScriptHash != domain.HashScript("console.log(1)") {
		t.Fatalf("script_hash mismatch")
	}
}

func TestCreateRejectsOversizedScript(t *testing.T) {
	m, _ := newManager(t, nil)

	_, err := m.Create(context.Background(), CreateRequest{
		LanguageTitle: "nodejs-calc",
		ScriptContent: strings.Repeat("x", 2048),
	})
	if !errors.Is(err, ErrScriptTooLarge) {
		t.Fatalf("expected ErrScriptTooLarge, got %v", err)
	}
}

func TestCreateCompiledRuntimeBuildsAsynchronouslyThenReady(t *testing.T) {
	var calls int32
	build := func(ctx context.Context, languageTitle, script string, opts map[string]any) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("compiled"), nil
	}
	m, s := newManager(t, build)

	sess, err := m.Create(context.Background(), CreateRequest{
		LanguageTitle: "wasm-sum",
		ScriptContent: "(module)",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.CompileStatus != domain.CompilePending {
		t.Fatalf("expected compile_status pending while build is in flight, got %s", sess.CompileStatus)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		got, err := s.Get(context.Background(), sess.RequestID)
		if err == nil && got.CompileStatus == domain.CompileReady {
			if atomic.LoadInt32(&calls) != 1 {
				t.Fatalf("expected builder invoked once, got %d", calls)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("compile_status never transitioned to ready")
}

func TestCreateCompiledRuntimeBuildFailureIsPersisted(t *testing.T) {
	boom := errors.New("boom")
	build := func(ctx context.Context, languageTitle, script string, opts map[string]any) ([]byte, error) {
		return nil, boom
	}
	m, s := newManager(t, build)

	sess, err := m.Create(context.Background(), CreateRequest{
		LanguageTitle: "wasm-sum",
		ScriptContent: "(module)",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		got, err := s.Get(context.Background(), sess.RequestID)
		if err == nil && got.CompileStatus == domain.CompileFailed {
			if got.CompileError != boom.Error() {
				t.Fatalf("expected compile_error %q, got %q", boom.Error(), got.CompileError)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("compile_status never transitioned to failed")
}

func TestRecordExecutionIncrementsCounter(t *testing.T) {
	m, _ := newManager(t, nil)
	sess, err := m.Create(context.Background(), CreateRequest{LanguageTitle: "python-calc", ScriptContent: "print(1)"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := m.RecordExecution(context.Background(), sess.RequestID); err != nil {
			t.Fatalf("record execution: %v", err)
		}
	}

	got, _ := m.Get(context.Background(), sess.RequestID)
	if got.ExecutionCount != 3 {
		t.Fatalf("expected execution_count 3, got %d", got.ExecutionCount)
	}
}

func TestExpireSweepMarksExpiredSessions(t *testing.T) {
	m, s := newManager(t, nil)
	past := time.Now().Add(-time.Hour)
	_ = s.Insert(context.Background(), &domain.Session{
		RequestID: "old",
		CreatedAt: past,
		ExpiresAt: past.Add(time.Minute),
		Status:    domain.SessionActive,
	})

	count, err := m.ExpireSweep(context.Background())
	if err != nil {
		t.Fatalf("expire sweep: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 session swept, got %d", count)
	}
	if _, err := m.Get(context.Background(), "old"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected expired session to be hidden, got %v", err)
	}
}
