package supervisor

import (
	"context"
	"sync"

	"supermafia/judge/internal/room"
)

// connProxy lets the controller and gate be built before the room connection
// exists. Calls before attach are dropped.
type connProxy struct {
	mu      sync.RWMutex
	conn    room.Conn
	speaker room.Speaker
}

func (p *connProxy) attach(conn room.Conn, speaker room.Speaker) {
	p.mu.Lock()
	p.conn = conn
	p.speaker = speaker
	p.mu.Unlock()
}

func (p *connProxy) get() (room.Conn, room.Speaker) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn, p.speaker
}

func (p *connProxy) Broadcast(ctx context.Context, payload []byte) error {
	conn, _ := p.get()
	if conn == nil {
		return room.ErrClosed
	}
	return conn.Broadcast(ctx, payload)
}

func (p *connProxy) SetAudioEnabled(enabled bool) {
	if conn, _ := p.get(); conn != nil {
		conn.SetAudioEnabled(enabled)
	}
}

func (p *connProxy) SetAudioParticipant(identity string) {
	if conn, _ := p.get(); conn != nil {
		conn.SetAudioParticipant(identity)
	}
}

func (p *connProxy) Speak(ctx context.Context, text string) error {
	if _, sp := p.get(); sp != nil {
		return sp.Speak(ctx, text)
	}
	return nil
}

func (p *connProxy) Interrupt() {
	if _, sp := p.get(); sp != nil {
		sp.Interrupt()
	}
}
