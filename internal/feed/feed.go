// Package feed streams judge messages to websocket spectators of a room.
package feed

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"supermafia/judge/internal/room"
)

const inboxSize = 64

type subscriber struct {
	inbox chan []byte
}

// Hub fans judge messages out to the spectators of each room. A spectator that
// cannot keep up is disconnected.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
	log  zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subs: make(map[string]map[*subscriber]struct{}),
		log:  log.With().Str("component", "feed").Logger(),
	}
}

// Publish delivers msg to every spectator of roomCode.
func (h *Hub) Publish(roomCode string, msg room.JudgeMessage) {
	data := msg.Encode()
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[roomCode] {
		select {
		case s.inbox <- data:
		default:
			h.drop(roomCode, s)
		}
	}
}

// CloseRoom disconnects every spectator of roomCode.
func (h *Hub) CloseRoom(roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[roomCode] {
		h.drop(roomCode, s)
	}
}

func (h *Hub) Subscribers(roomCode string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[roomCode])
}

func (h *Hub) subscribe(roomCode string) *subscriber {
	s := &subscriber{inbox: make(chan []byte, inboxSize)}
	h.mu.Lock()
	if h.subs[roomCode] == nil {
		h.subs[roomCode] = make(map[*subscriber]struct{})
	}
	h.subs[roomCode][s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) unsubscribe(roomCode string, s *subscriber) {
	h.mu.Lock()
	h.drop(roomCode, s)
	h.mu.Unlock()
}

// drop must be called with mu held.
func (h *Hub) drop(roomCode string, s *subscriber) {
	set := h.subs[roomCode]
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	close(s.inbox)
	if len(set) == 0 {
		delete(h.subs, roomCode)
	}
}

// Handler serves GET /rooms/{code}/feed. known reports whether a room is
// supervised.
func (h *Hub) Handler(known func(roomCode string) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.ToUpper(r.PathValue("code"))
		if code == "" || (known != nil && !known(code)) {
			http.Error(w, "unknown room", http.StatusNotFound)
			return
		}
		c, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			h.log.Warn().Err(err).Msg("ws accept")
			return
		}
		defer c.Close(ws.StatusNormalClosure, "bye")

		// Spectators only listen; CloseRead handles their control frames.
		ctx := c.CloseRead(r.Context())
		s := h.subscribe(code)
		defer h.unsubscribe(code, s)
		h.log.Debug().Str("room", code).Msg("spectator connected")

		writePump(ctx, c, s.inbox)
	}
}

func writePump(ctx context.Context, c *ws.Conn, inbox <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-inbox:
			if !ok {
				c.Close(ws.StatusGoingAway, "room closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Write(wctx, ws.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
