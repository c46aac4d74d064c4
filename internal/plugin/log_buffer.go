package plugin

import (
	"sync"
	"time"
)

// LogEntry is one line written by a payload through its console capability,
// or an error surfaced by the sandbox when display of errors is enabled.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	RunID     string    `json:"run_id,omitempty"`
	Level     string    `json:"level"` // debug, info, warn, error
	Message   string    `json:"message"`
}

var levelOrder = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// LogBuffer is a ring buffer of sandbox output, newest entries win.
type LogBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	maxSize int
	head    int
	count   int
	stream  *LogStream
}

// NewLogBuffer creates a new log buffer with the given max size.
func NewLogBuffer(maxSize int) *LogBuffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &LogBuffer{
		entries: make([]LogEntry, maxSize),
		maxSize: maxSize,
		stream:  NewLogStream(),
	}
}

// Add adds a log entry to the buffer and publishes it to stream clients.
func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.maxSize
	if b.count < b.maxSize {
		b.count++
	}
	b.mu.Unlock()

	b.stream.Publish(entry)
}

// Stream returns the live feed of entries added from now on.
func (b *LogBuffer) Stream() *LogStream {
	return b.stream
}

// Log adds an entry stamped with the current time.
func (b *LogBuffer) Log(source, runID, level, message string) {
	b.Add(LogEntry{
		Timestamp: time.Now(),
		Source:    source,
		RunID:     runID,
		Level:     level,
		Message:   message,
	})
}

// Query returns entries newest first. An empty source matches every source,
// an empty minLevel matches every level and a limit of zero means no limit.
func (b *LogBuffer) Query(source, minLevel string, limit int) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	minLevelNum := levelOrder[minLevel]
	result := make([]LogEntry, 0, b.count)
	for i := 0; i < b.count; i++ {
		idx := (b.head - 1 - i + b.maxSize) % b.maxSize
		entry := b.entries[idx]
		if source != "" && entry.Source != source {
			continue
		}
		if levelOrder[entry.Level] < minLevelNum {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result
}

// GetAll returns all log entries, newest first.
func (b *LogBuffer) GetAll() []LogEntry {
	return b.Query("", "", 0)
}

// Clear removes all entries from the buffer.
func (b *LogBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.head = 0
	b.count = 0
}

// Count returns the number of entries in the buffer.
func (b *LogBuffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
