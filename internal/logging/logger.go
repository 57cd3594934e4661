package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// TaskLog represents a single task's terminal audit line: not the
// append-only Postgres record (internal/auditsink), but the
// human/machine-readable line written as the task completes, mirroring
// the teacher's per-invocation RequestLog.
type TaskLog struct {
	Timestamp      time.Time `json:"timestamp"`
	TaskID         uint32    `json:"task_id"`
	Tenant         string    `json:"tenant,omitempty"`
	TraceID        string    `json:"trace_id,omitempty"`
	SpanID         string    `json:"span_id,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
	Outcome        string    `json:"outcome"` // "ready" or "trap"
	Error          string    `json:"error,omitempty"`
	InterruptCalls int       `json:"interrupt_calls,omitempty"`
	OutputSize     int       `json:"output_size,omitempty"`
}

// Logger handles per-task audit logging, separate from the operational
// logger (Op()) used for daemon/infrastructure messages.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default task logger.
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the log output file.
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

// SetConsole enables/disables console output.
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes a task audit entry.
func (l *Logger) Log(entry *TaskLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	if l.console {
		status := "✓"
		if entry.Outcome == "trap" {
			status = "✗"
		}
		fmt.Printf("[task] %s task=%d %dms\n", status, entry.TaskID, entry.DurationMs)
		if entry.Error != "" {
			fmt.Printf("[task]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
