// Package executionlog implements the Execution Logger (C8): a
// write-only, best-effort recorder of every terminal dispatch outcome
// (§4.8). A write failure is logged but never fails the caller; failed
// writes are retried on a bounded background queue, and records are
// dropped with a counter increment if that queue is full.
package executionlog

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/domain"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/logging"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/store"
)

const (
	defaultBatchSize     = 100
	defaultBufferSize    = 1000
	defaultFlushInterval = 500 * time.Millisecond
	defaultTimeout       = 5 * time.Second
	defaultMaxRetries    = 3
	defaultRetryInterval = 100 * time.Millisecond
)

// Config tunes the background batching/retry behavior.
type Config struct {
	BatchSize     int
	BufferSize    int
	FlushInterval time.Duration
	Timeout       time.Duration
	MaxRetries    int
	RetryInterval time.Duration
}

// DefaultConfig mirrors the teacher's invocation log batcher defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     defaultBatchSize,
		BufferSize:    defaultBufferSize,
		FlushInterval: defaultFlushInterval,
		Timeout:       defaultTimeout,
		MaxRetries:    defaultMaxRetries,
		RetryInterval: defaultRetryInterval,
	}
}

// entry pairs an execution record with its optional error record; every
// terminal outcome yields the former, failures yield both (§4.8).
type entry struct {
	execution *domain.ExecutionRecord
	errorRec  *domain.ErrorRecord
}

// Logger is the Execution Logger (C8).
type Logger struct {
	store   store.ExecutionLogStore
	logger  *slog.Logger
	entries chan entry
	cfg     Config
	done    chan struct{}
	dropped atomic.Int64
}

// New creates a Logger and starts its background flush loop.
func New(s store.ExecutionLogStore, cfg Config) *Logger {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}

	l := &Logger{
		store:   s,
		logger:  logging.Op(),
		entries: make(chan entry, cfg.BufferSize),
		cfg:     cfg,
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

// RecordSuccess enqueues the execution record for a successful dispatch.
// It never blocks: a full queue drops the record and increments Dropped.
func (l *Logger) RecordSuccess(rec *domain.ExecutionRecord) {
	select {
	case l.entries <- entry{execution: rec}:
	default:
		l.dropped.Add(1)
		l.logger.Warn("dropping execution record, queue full", "request_id", rec.RequestID)
	}
}

// RecordFailure enqueues the execution record plus the typed error
// record for a terminal failure (§4.8: "on failure, one Error record").
func (l *Logger) RecordFailure(rec *domain.ExecutionRecord, errRec *domain.ErrorRecord) {
	select {
	case l.entries <- entry{execution: rec, errorRec: errRec}:
	default:
		l.dropped.Add(1)
		l.logger.Warn("dropping execution+error record, queue full", "request_id", rec.RequestID)
	}
}

// Dropped returns the count of records dropped due to a full queue.
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

// Shutdown drains the queue and stops the background loop, waiting up
// to timeout for the final flush.
func (l *Logger) Shutdown(timeout time.Duration) {
	close(l.entries)
	select {
	case <-l.done:
	case <-time.After(timeout):
		l.logger.Warn("timeout waiting for execution logger shutdown", "timeout", timeout)
	}
}

func (l *Logger) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]entry, 0, l.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			l.persistWithRetry(e)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-l.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= l.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (l *Logger) persistWithRetry(e entry) {
	var lastErr error
	for attempt := 0; attempt < l.cfg.MaxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.Timeout)
		lastErr = l.store.AppendExecution(ctx, e.execution)
		if lastErr == nil && e.errorRec != nil {
			lastErr = l.store.AppendError(ctx, e.errorRec)
		}
		cancel()
		if lastErr == nil {
			return
		}
		l.logger.Warn("failed to persist execution record, retrying",
			"error", lastErr, "request_id", e.execution.RequestID, "attempt", attempt+1)
		time.Sleep(time.Duration(1<<uint(attempt)) * l.cfg.RetryInterval)
	}
	l.logger.Error("permanently failed to persist execution record",
		"error", lastErr, "request_id", e.execution.RequestID)
}
