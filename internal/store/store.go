package store

import (
	"sync"
	"time"

	"supermafia/judge/internal/types"
)

const maxEvents = 200

// Store is an in-memory per-room event journal.
type Store struct {
	mu     sync.RWMutex
	events map[string][]types.Event
}

func New() *Store {
	return &Store{events: make(map[string][]types.Event)}
}

func (s *Store) AppendEvent(roomCode, typ string, payload map[string]any) types.Event {
	evt := types.Event{Type: typ, Ts: time.Now().UTC(), Payload: payload}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[roomCode] = append(s.events[roomCode], evt)
	// Cap total events per room to avoid unbounded growth
	if l := len(s.events[roomCode]); l > maxEvents {
		// Keep space for a single truncation warning so the total stays at maxEvents
		keep := maxEvents - 1
		dropped := l - keep
		s.events[roomCode] = append([]types.Event(nil), s.events[roomCode][l-keep:]...)
		warn := types.Event{Type: "events_truncated", Ts: time.Now().UTC(), Payload: map[string]any{"room": roomCode, "dropped": dropped, "kept": keep}}
		s.events[roomCode] = append(s.events[roomCode], warn)
	}
	return evt
}

func (s *Store) ListEvents(roomCode string) []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events[roomCode]
	out := make([]types.Event, len(src))
	copy(out, src)
	return out
}

// Forget drops the journal for a room that is no longer supervised.
func (s *Store) Forget(roomCode string) {
	s.mu.Lock()
	delete(s.events, roomCode)
	s.mu.Unlock()
}
