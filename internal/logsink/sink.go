// Package logsink receives structured milestone events from the generation and
// export pipelines.
package logsink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Category groups log entries the way the log panel filters them.
type Category string

const (
	Info     Category = "info"
	Request  Category = "request"
	Response Category = "response"
	Error    Category = "error"
)

// Sink accepts log events. Implementations must not panic or block the caller.
type Sink interface {
	Log(category Category, summary string, details any)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Log(Category, string, any) {}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}

// Slog forwards events to a structured logger.
type Slog struct {
	logger *slog.Logger
}

// NewSlog wraps logger; a nil logger means slog.Default().
func NewSlog(logger *slog.Logger) *Slog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slog{logger: logger}
}

func (s *Slog) Log(category Category, summary string, details any) {
	level := slog.LevelInfo
	switch category {
	case Error:
		level = slog.LevelError
	case Request, Response:
		level = slog.LevelDebug
	}
	attrs := []any{"category", string(category)}
	if details != nil {
		attrs = append(attrs, "details", details)
	}
	s.logger.Log(context.Background(), level, summary, attrs...)
}

// Entry is one recorded event.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Category  Category  `json:"category"`
	Summary   string    `json:"summary"`
	Details   any       `json:"details,omitempty"`
}

// Recorder keeps events in memory, in arrival order.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

func (r *Recorder) Log(category Category, summary string, details any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	r.entries = append(r.entries, Entry{
		ID:        uuid.NewString(),
		Timestamp: now(),
		Category:  category,
		Summary:   summary,
		Details:   details,
	})
}

// Entries returns a copy of the recorded events.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Clear drops all recorded events.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Log(category Category, summary string, details any) {
	for _, s := range m {
		if s != nil {
			s.Log(category, summary, details)
		}
	}
}
