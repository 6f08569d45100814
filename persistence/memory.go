package persistence

import (
	"context"
	"sort"
	"sync"
)

// MemorySink keeps events in process memory. Used for development and tests.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
	seen   map[string]struct{}
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{seen: make(map[string]struct{})}
}

// Name implements Sink.
func (s *MemorySink) Name() string { return "memory" }

// Write implements Sink. Duplicate keys are ignored.
func (s *MemorySink) Write(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if key := ev.Key(); key != "" {
		if _, dup := s.seen[key]; dup {
			return nil
		}
		s.seen[key] = struct{}{}
	}
	s.events = append(s.events, ev)
	return nil
}

// Close implements Sink.
func (s *MemorySink) Close(context.Context) error { return nil }

// Events returns every stored event in arrival order.
func (s *MemorySink) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Len returns the number of stored events.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Turns returns the completed turns of a session ordered by turn number.
func (s *MemorySink) Turns(sessionID string) []TurnCompleted {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []TurnCompleted
	for _, ev := range s.events {
		if ev.Turn != nil && ev.Turn.SessionID == sessionID {
			out = append(out, *ev.Turn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Turn < out[j].Turn })
	return out
}

// Session returns the summary of an ended session.
func (s *MemorySink) Session(sessionID string) (SessionEnded, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ev := range s.events {
		if ev.Session != nil && ev.Session.SessionID == sessionID {
			return *ev.Session, true
		}
	}
	return SessionEnded{}, false
}
