// Package statuslog models the panel's activity log: an append-only, bounded list
// of timestamped status lines fed by the download controller and the status stream.
package statuslog

import (
	"sync"
	"time"
)

// Level classifies one status line for presentation.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelLog     Level = "log"
)

// Entry is one status line.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
}

// Log is a bounded append-only status buffer. When full, the oldest entries are
// discarded.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	max     int
}

func New(maxEntries int) *Log {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &Log{max: maxEntries}
}

// Append adds one status line with the current timestamp.
func (l *Log) Append(level Level, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Time: time.Now().UTC(), Level: level, Message: message})
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

// Clear resets the log to the empty "no activity yet" state.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// Snapshot returns a copy of the current entries, oldest first.
func (l *Log) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of buffered entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
