package workerws

import (
    "context"
    "encoding/json"
    "sync"
    "sync/atomic"

    ws "nhooyr.io/websocket"
)

// Registry keeps at most one voice worker connection per room.
type Registry struct {
    mu    sync.Mutex
    conns map[string]*ws.Conn
    seq   atomic.Int64
}

func NewRegistry() *Registry { return &Registry{conns: make(map[string]*ws.Conn)} }

// Replace sets the connection for a room and closes the previous one if present.
func (r *Registry) Replace(roomCode string, c *ws.Conn) (prevClosed bool) {
    r.mu.Lock()
    defer r.mu.Unlock()
    if old, ok := r.conns[roomCode]; ok && old != nil {
        _ = old.Close(ws.StatusNormalClosure, "replaced")
        prevClosed = true
    }
    r.conns[roomCode] = c
    return
}

func (r *Registry) Connected(roomCode string) bool {
    r.mu.Lock(); defer r.mu.Unlock()
    return r.conns[roomCode] != nil
}

// Remove forgets c if it is still the room's connection.
func (r *Registry) Remove(roomCode string, c *ws.Conn) {
    r.mu.Lock(); defer r.mu.Unlock()
    if r.conns[roomCode] == c {
        delete(r.conns, roomCode)
    }
}

// Send writes a command to the room's worker. Rooms without a worker are a no-op.
func (r *Registry) Send(ctx context.Context, roomCode string, msg Message) error {
    r.mu.Lock()
    c := r.conns[roomCode]
    r.mu.Unlock()
    if c == nil { return nil }
    msg.Room = roomCode
    msg.Seq = r.seq.Add(1)
    return c.Write(ctx, ws.MessageText, mustJSON(msg))
}

// local helper
func mustJSON(v any) []byte {
    b, _ := json.Marshal(v)
    return b
}
