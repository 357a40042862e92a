package core

import (
	"sync"
	"time"
)

// MaxLogMessageSize bounds a single captured console message.
const MaxLogMessageSize = 4096

// RunResult wraps the outcome of a script run with execution metadata.
type RunResult struct {
	Logs     []LogEntry
	Error    error
	Duration time.Duration
	Data     string // JSON-serialized completion value of the script, if any
}

// LogEntry is a single console.log/warn/error captured from a script.
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// LogBuffer collects console output for one run. Safe for concurrent use.
type LogBuffer struct {
	mu      sync.Mutex
	max     int
	entries []LogEntry
}

// NewLogBuffer creates a buffer holding at most max entries (0 = 1000).
func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = 1000
	}
	return &LogBuffer{max: max}
}

// Add appends an entry, truncating oversized messages and dropping entries
// beyond the limit.
func (b *LogBuffer) Add(level, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) >= b.max {
		return
	}
	if len(message) > MaxLogMessageSize {
		message = message[:MaxLogMessageSize] + "...(truncated)"
	}
	b.entries = append(b.entries, LogEntry{
		Level:   level,
		Message: message,
		Time:    time.Now(),
	})
}

// Entries returns a copy of the captured entries.
func (b *LogBuffer) Entries() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}
