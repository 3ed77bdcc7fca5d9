package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// RequestLog represents a single dispatch attempt log entry, the
// human/JSON-facing counterpart to the Execution Logger's persisted
// domain.ExecutionRecord (internal/executionlog).
type RequestLog struct {
	Timestamp     time.Time `json:"timestamp"`
	RequestID     string    `json:"request_id"`
	TraceID       string    `json:"trace_id,omitempty"`
	SpanID        string    `json:"span_id,omitempty"`
	LanguageTitle string    `json:"language_title"`
	DurationMs    int64     `json:"duration_ms"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	InputSize     int       `json:"input_size"`
	OutputSize    int       `json:"output_size,omitempty"`
	Retries       int       `json:"retries,omitempty"`
	FromCache     bool      `json:"from_cache,omitempty"`
}

// Logger handles request logging
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the log output file
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes a request log entry
func (l *Logger) Log(entry *RequestLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	if l.console {
		status := "✓"
		if !entry.Success {
			status = "✗"
		}
		cache := ""
		if entry.FromCache {
			cache = " [cached]"
		}
		retry := ""
		if entry.Retries > 0 {
			retry = fmt.Sprintf(" [retry:%d]", entry.Retries)
		}
		fmt.Printf("[request] %s %s %s %dms%s%s\n",
			status, entry.RequestID, entry.LanguageTitle, entry.DurationMs, cache, retry)
		if entry.Error != "" {
			fmt.Printf("[request]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
