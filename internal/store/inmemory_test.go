package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/domain"
)

func TestInMemorySessionStoreInsertGet(t *testing.T) {
	s := NewInMemorySessionStore()
	now := time.Now()
	sess := &domain.Session{
		RequestID:     "req-1",
		LanguageTitle: "nodejs-calc",
		ScriptHash:    domain.HashScript("console.log(1)"),
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Hour),
		Status:        domain.SessionActive,
		CompileStatus: domain.CompileReady,
	}
	if err := s.Insert(context.Background(), sess); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.Get(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LanguageTitle != "nodejs-calc" {
		t.Fatalf("unexpected session: %+v", got)
	}

	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemorySessionStoreExpiredNotReturned(t *testing.T) {
	s := NewInMemorySessionStore()
	now := time.Now()
	sess := &domain.Session{
		RequestID: "req-1",
		CreatedAt: now,
		ExpiresAt: now.Add(-time.Minute),
		Status:    domain.SessionActive,
	}
	_ = s.Insert(context.Background(), sess)

	if _, err := s.Get(context.Background(), "req-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired session to be hidden by Get, got %v", err)
	}

	count, err := s.SweepExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 session swept, got %d", count)
	}
}

func TestInMemorySessionStoreRecordExecutionIsAtomicPerCall(t *testing.T) {
	s := NewInMemorySessionStore()
	now := time.Now()
	_ = s.Insert(context.Background(), &domain.Session{
		RequestID: "req-1",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
		Status:    domain.SessionActive,
	})

	for i := 0; i < 5; i++ {
		if err := s.RecordExecution(context.Background(), "req-1", now); err != nil {
			t.Fatalf("record execution: %v", err)
		}
	}

	got, _ := s.Get(context.Background(), "req-1")
	if got.ExecutionCount != 5 {
		t.Fatalf("expected execution_count 5, got %d", got.ExecutionCount)
	}
}

func TestInMemorySessionStoreTouchExtendsExpiry(t *testing.T) {
	s := NewInMemorySessionStore()
	now := time.Now()
	_ = s.Insert(context.Background(), &domain.Session{
		RequestID: "req-1",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
		Status:    domain.SessionActive,
	})

	later := now.Add(time.Hour)
	if err := s.Touch(context.Background(), "req-1", now, later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, err := s.Get(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.ExpiresAt.Equal(later) {
		t.Fatalf("expected expires_at extended to %v, got %v", later, got.ExpiresAt)
	}

	// A shorter new_expiry never moves expires_at backward.
	if err := s.Touch(context.Background(), "req-1", now, now.Add(time.Second)); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _ = s.Get(context.Background(), "req-1")
	if !got.ExpiresAt.Equal(later) {
		t.Fatalf("expected expires_at unchanged at %v, got %v", later, got.ExpiresAt)
	}
}

func TestInMemorySessionStoreTouchNotFoundForExpired(t *testing.T) {
	s := NewInMemorySessionStore()
	now := time.Now()
	_ = s.Insert(context.Background(), &domain.Session{
		RequestID: "req-1",
		CreatedAt: now,
		ExpiresAt: now.Add(-time.Minute),
		Status:    domain.SessionActive,
	})

	if err := s.Touch(context.Background(), "req-1", now, now.Add(time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an already-expired session, got %v", err)
	}
}

func TestInMemoryFunctionStoreListPagination(t *testing.T) {
	s := NewInMemoryFunctionStore([]*domain.Function{
		{LanguageTitle: "nodejs-calc", IsActive: true},
		{LanguageTitle: "python-calc", IsActive: true},
		{LanguageTitle: "rust-calc", IsActive: true},
		{LanguageTitle: "disabled-calc", IsActive: false},
	})

	total, page1, err := s.List(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected total=3 (inactive excluded), got %d", total)
	}
	if len(page1) != 2 || page1[0].LanguageTitle != "nodejs-calc" {
		t.Fatalf("unexpected page1: %+v", page1)
	}

	_, page2, err := s.List(context.Background(), 2, 2)
	if err != nil {
		t.Fatalf("list page2: %v", err)
	}
	if len(page2) != 1 || page2[0].LanguageTitle != "rust-calc" {
		t.Fatalf("unexpected page2: %+v", page2)
	}

	if _, err := s.Get(context.Background(), "disabled-calc"); err != nil {
		t.Fatalf("Get should still find inactive entries directly: %v", err)
	}
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
