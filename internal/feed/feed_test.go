package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ws "nhooyr.io/websocket"

	"supermafia/judge/internal/room"
)

func newServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("GET /rooms/{code}/feed", h.Handler(func(code string) bool { return code == "ABC" || code == "DEF" }))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, code string) *ws.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rooms/" + code + "/feed"
	c, _, err := ws.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(ws.StatusNormalClosure, "") })
	return c
}

func waitSubscribers(t *testing.T, h *Hub, code string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Subscribers(code) == n }, 2*time.Second, 5*time.Millisecond)
}

func TestPublishReachesRoomSpectators(t *testing.T) {
	h := NewHub(zerolog.Nop())
	srv := newServer(t, h)

	abc := dial(t, srv, "abc")
	def := dial(t, srv, "DEF")
	waitSubscribers(t, h, "ABC", 1)
	waitSubscribers(t, h, "DEF", 1)

	h.Publish("ABC", room.NewJudgeMessage("m1", room.KindTurn, "Noted."))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := abc.Read(ctx)
	require.NoError(t, err)
	var got room.JudgeMessage
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "Noted.", got.Message)
	assert.Equal(t, room.MessageTypeJudgeResponse, got.Type)

	// The other room's spectator sees nothing.
	short, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	_, _, err = def.Read(short)
	assert.Error(t, err)
}

func TestUnknownRoomRejected(t *testing.T) {
	h := NewHub(zerolog.Nop())
	srv := newServer(t, h)

	resp, err := http.Get(srv.URL + "/rooms/ZZZ/feed")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCloseRoomDisconnectsSpectators(t *testing.T) {
	h := NewHub(zerolog.Nop())
	srv := newServer(t, h)

	c := dial(t, srv, "ABC")
	waitSubscribers(t, h, "ABC", 1)
	h.CloseRoom("ABC")
	assert.Equal(t, 0, h.Subscribers("ABC"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, ws.StatusGoingAway, ws.CloseStatus(err))
}

func TestSpectatorLeaving(t *testing.T) {
	h := NewHub(zerolog.Nop())
	srv := newServer(t, h)

	c := dial(t, srv, "ABC")
	waitSubscribers(t, h, "ABC", 1)
	c.Close(ws.StatusNormalClosure, "")
	waitSubscribers(t, h, "ABC", 0)
}

func TestSlowSpectatorDropped(t *testing.T) {
	h := NewHub(zerolog.Nop())
	s := h.subscribe("ABC")
	for i := 0; i < inboxSize+1; i++ {
		h.Publish("ABC", room.NewJudgeMessage("m", room.KindTurn, "x"))
	}
	assert.Equal(t, 0, h.Subscribers("ABC"))
	n := 0
	for range s.inbox {
		n++
	}
	assert.Equal(t, inboxSize, n)
}
