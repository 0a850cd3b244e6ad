// Package gate controls whether room audio reaches transcription, and from whom.
package gate

import (
	"sync"
	"sync/atomic"

	"supermafia/judge/internal/room"
)

// Gate is the input gate for one room. It starts closed.
// IsOpen is lock-free so audio paths can poll it per frame.
type Gate struct {
	open atomic.Bool

	mu     sync.Mutex
	routed string
	input  room.AudioInput
}

func New(input room.AudioInput) *Gate {
	g := &Gate{input: input}
	if input != nil {
		input.SetAudioEnabled(false)
	}
	return g
}

// Open routes audio from identity and enables input.
func (g *Gate) Open(identity string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.routed = identity
	if g.input != nil {
		g.input.SetAudioParticipant(identity)
		g.input.SetAudioEnabled(true)
	}
	g.open.Store(true)
}

// Close disables input. The routed identity is kept until the next Open.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.open.Store(false)
	if g.input != nil {
		g.input.SetAudioEnabled(false)
	}
}

func (g *Gate) IsOpen() bool { return g.open.Load() }

// Participant returns the identity audio is routed from.
func (g *Gate) Participant() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.routed
}

// Accepts reports whether audio or transcripts from identity should be consumed.
func (g *Gate) Accepts(identity string) bool {
	if !g.open.Load() {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.routed == identity
}
