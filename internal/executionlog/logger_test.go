package executionlog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/domain"
)

type fakeStore struct {
	mu         sync.Mutex
	executions []*domain.ExecutionRecord
	errors     []*domain.ErrorRecord
	failNext   int
}

func (f *fakeStore) AppendExecution(ctx context.Context, rec *domain.ExecutionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return context.DeadlineExceeded
	}
	f.executions = append(f.executions, rec)
	return nil
}

func (f *fakeStore) AppendError(ctx context.Context, rec *domain.ErrorRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, rec)
	return nil
}

func (f *fakeStore) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executions), len(f.errors)
}

func TestRecordSuccessIsFlushedEventually(t *testing.T) {
	fs := &fakeStore{}
	l := New(fs, Config{FlushInterval: 10 * time.Millisecond, Timeout: time.Second, MaxRetries: 1, RetryInterval: time.Millisecond})
	defer l.Shutdown(time.Second)

	l.RecordSuccess(&domain.ExecutionRecord{RequestID: "r1"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if execs, _ := fs.counts(); execs == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("execution record was never persisted")
}

func TestRecordFailureWritesBothRecords(t *testing.T) {
	fs := &fakeStore{}
	l := New(fs, Config{FlushInterval: 10 * time.Millisecond, Timeout: time.Second, MaxRetries: 1, RetryInterval: time.Millisecond})
	defer l.Shutdown(time.Second)

	l.RecordFailure(&domain.ExecutionRecord{RequestID: "r1", StatusCode: 424}, &domain.ErrorRecord{ErrorCode: "RUNTIME_ERROR"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		execs, errs := fs.counts()
		if execs == 1 && errs == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("execution/error records were never persisted")
}

func TestRecordRetriesOnTransientFailure(t *testing.T) {
	fs := &fakeStore{failNext: 1}
	l := New(fs, Config{FlushInterval: 10 * time.Millisecond, Timeout: time.Second, MaxRetries: 3, RetryInterval: time.Millisecond})
	defer l.Shutdown(time.Second)

	l.RecordSuccess(&domain.ExecutionRecord{RequestID: "r1"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if execs, _ := fs.counts(); execs == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("execution record was never persisted despite retry budget")
}

func TestFullQueueDropsAndIncrementsCounter(t *testing.T) {
	fs := &fakeStore{}
	l := New(fs, Config{BufferSize: 1, FlushInterval: time.Hour, Timeout: time.Second, MaxRetries: 1, RetryInterval: time.Millisecond})
	defer l.Shutdown(time.Second)

	for i := 0; i < 10; i++ {
		l.RecordSuccess(&domain.ExecutionRecord{RequestID: "r"})
	}

	if l.Dropped() == 0 {
		t.Fatal("expected at least one dropped record when the queue is saturated")
	}
}
