package plugin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// LogStream fans new log entries out to server-sent event clients.
type LogStream struct {
	mu      sync.RWMutex
	clients map[chan LogEntry]string // channel -> source filter ("" = all)
}

// NewLogStream creates a stream with no clients.
func NewLogStream() *LogStream {
	return &LogStream{
		clients: make(map[chan LogEntry]string),
	}
}

// Subscribe adds a client and returns its channel. sourceFilter limits
// entries to one source ("" receives all).
func (s *LogStream) Subscribe(sourceFilter string) chan LogEntry {
	ch := make(chan LogEntry, 16)
	s.mu.Lock()
	s.clients[ch] = sourceFilter
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel.
func (s *LogStream) Unsubscribe(ch chan LogEntry) {
	s.mu.Lock()
	delete(s.clients, ch)
	s.mu.Unlock()
	close(ch)
}

// Publish sends entry to all matching clients. Slow clients miss entries
// rather than blocking the sandbox.
func (s *LogStream) Publish(entry LogEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch, filter := range s.clients {
		if filter != "" && filter != entry.Source {
			continue
		}
		select {
		case ch <- entry:
		default:
		}
	}
}

// ServeHTTP streams entries as server-sent events. Query params:
//   - source: only stream entries of one source (optional)
func (s *LogStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	ch := s.Subscribe(r.URL.Query().Get("source"))
	defer s.Unsubscribe(ch)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"ok\"}\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case entry, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: log\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// ClientCount returns the number of connected clients.
func (s *LogStream) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
