package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supermafia/judge/internal/floor"
	"supermafia/judge/internal/room"
	"supermafia/judge/internal/store"
)

type fakeConn struct {
	name string
	ev   room.Events

	mu           sync.Mutex
	participants []string
	handlers     map[string]room.Handler
	sent         []room.JudgeMessage
	closed       bool
	audioEnabled bool
	audioFrom    string
}

func (c *fakeConn) Name() string { return c.name }

func (c *fakeConn) Participants() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.participants...)
}

func (c *fakeConn) Broadcast(_ context.Context, payload []byte) error {
	var m room.JudgeMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return err
	}
	c.mu.Lock()
	c.sent = append(c.sent, m)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) RegisterRPC(method string, h room.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
	return nil
}

func (c *fakeConn) SetAudioEnabled(enabled bool) {
	c.mu.Lock()
	c.audioEnabled = enabled
	c.mu.Unlock()
}

func (c *fakeConn) SetAudioParticipant(identity string) {
	c.mu.Lock()
	c.audioFrom = identity
	c.mu.Unlock()
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) call(t *testing.T, method, caller string) Reply {
	t.Helper()
	c.mu.Lock()
	h := c.handlers[method]
	c.mu.Unlock()
	require.NotNil(t, h, "no handler for %s", method)
	out, err := h(context.Background(), room.RPCData{RequestID: "r", CallerIdentity: caller})
	require.NoError(t, err)
	var r Reply
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	return r
}

func (c *fakeConn) messages() []room.JudgeMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]room.JudgeMessage(nil), c.sent...)
}

func (c *fakeConn) leave(identity string) {
	c.mu.Lock()
	out := c.participants[:0]
	for _, p := range c.participants {
		if p != identity {
			out = append(out, p)
		}
	}
	c.participants = out
	c.mu.Unlock()
	c.ev.OnParticipantLeft(identity)
}

type fakeConnector struct {
	err          error
	participants []string
	delay        time.Duration
	// dropOnConnect reports a disconnect before Connect returns.
	dropOnConnect bool

	connects atomic.Int32
	mu       sync.Mutex
	conns    map[string]*fakeConn
}

func (f *fakeConnector) Connect(_ context.Context, roomName string, ev room.Events) (room.Conn, error) {
	f.connects.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{
		name:         roomName,
		ev:           ev,
		participants: append([]string(nil), f.participants...),
		handlers:     make(map[string]room.Handler),
	}
	f.mu.Lock()
	if f.conns == nil {
		f.conns = make(map[string]*fakeConn)
	}
	f.conns[roomName] = c
	drop := f.dropOnConnect
	f.mu.Unlock()
	if drop {
		ev.OnDisconnected("signal closed")
	}
	return c, nil
}

func (f *fakeConnector) conn(name string) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[name]
}

type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, speaker, utterance string) string {
	return speaker + " said: " + utterance
}

func (echoGenerator) Vote(_ context.Context, candidates []string) string {
	return "I vote for " + candidates[0]
}

func newTestSupervisor(t *testing.T, conn *fakeConnector, mutate ...func(*Options)) (*Supervisor, *store.Store) {
	t.Helper()
	journal := store.New()
	opts := Options{
		RoomPrefix:        "mafia-",
		AgentIdentity:     "ptt-agent",
		Welcome:           "The AI Judge has joined the room.",
		TranscriptTimeout: time.Second,
		FlushDuration:     30 * time.Millisecond,
		MonitorInterval:   time.Hour,
		NewGenerator:      func(func() []string) floor.Generator { return echoGenerator{} },
		Logger:            zerolog.Nop(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	s := New(conn, journal, opts)
	t.Cleanup(s.Close)
	return s, journal
}

func hasEvent(j *store.Store, code, typ string) bool {
	for _, e := range j.ListEvents(code) {
		if e.Type == typ {
			return true
		}
	}
	return false
}

func TestSpawnIsIdempotent(t *testing.T) {
	fc := &fakeConnector{participants: []string{"p1", "ptt-agent"}}
	s, journal := newTestSupervisor(t, fc)
	ctx := context.Background()

	require.NoError(t, s.Spawn(ctx, "abc123"))
	require.NoError(t, s.Spawn(ctx, "ABC123"))

	assert.Equal(t, int32(1), fc.connects.Load())
	assert.Equal(t, []string{"ABC123"}, s.List())

	conn := fc.conn("mafia-ABC123")
	require.NotNil(t, conn)
	msgs := conn.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, room.KindWelcome, msgs[0].Kind)
	assert.Equal(t, "judge_response", msgs[0].Type)

	a, ok := s.Get("abc123")
	require.True(t, ok)
	assert.Equal(t, []string{"p1"}, a.Members())
	assert.True(t, hasEvent(journal, "ABC123", "room_spawned"))
}

func TestConcurrentSpawnConnectsOnce(t *testing.T) {
	fc := &fakeConnector{delay: 20 * time.Millisecond}
	s, _ := newTestSupervisor(t, fc)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Spawn(context.Background(), "XYZ")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fc.connects.Load())
	assert.Equal(t, []string{"XYZ"}, s.List())
}

func TestSpawnFailuresLeaveNoEntry(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"transport", errors.New("dial tcp: refused"), ErrTransport},
		{"credentials", room.ErrMissingCredentials, ErrMissingCredentials},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fc := &fakeConnector{err: tc.err}
			s, _ := newTestSupervisor(t, fc)

			err := s.Spawn(context.Background(), "abc")
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, s.List())
			_, ok := s.Get("abc")
			assert.False(t, ok)

			// A later attempt is not blocked by a leftover reservation.
			fc.err = nil
			assert.NoError(t, s.Spawn(context.Background(), "abc"))
		})
	}
}

func TestSpawnRejectsEmptyCode(t *testing.T) {
	fc := &fakeConnector{}
	s, _ := newTestSupervisor(t, fc)
	assert.ErrorIs(t, s.Spawn(context.Background(), "  "), ErrNotAdmitted)
	assert.Equal(t, int32(0), fc.connects.Load())
}

func TestRemoveIsIdempotent(t *testing.T) {
	fc := &fakeConnector{}
	s, journal := newTestSupervisor(t, fc)
	require.NoError(t, s.Spawn(context.Background(), "abc"))
	conn := fc.conn("mafia-ABC")

	s.Remove("abc")
	s.Remove("abc")
	s.Remove("never-spawned")

	assert.Empty(t, s.List())
	conn.mu.Lock()
	assert.True(t, conn.closed)
	conn.mu.Unlock()
	assert.True(t, hasEvent(journal, "ABC", "room_removed"))
}

func TestOnRemovedAndFreshJournal(t *testing.T) {
	fc := &fakeConnector{}
	removed := make(chan string, 1)
	s, journal := newTestSupervisor(t, fc, func(o *Options) {
		o.OnRemoved = func(code string) { removed <- code }
	})
	require.NoError(t, s.Spawn(context.Background(), "abc"))
	s.Remove("abc")
	assert.Equal(t, "ABC", <-removed)
	assert.True(t, hasEvent(journal, "ABC", "room_removed"))

	require.NoError(t, s.Spawn(context.Background(), "abc"))
	assert.False(t, hasEvent(journal, "ABC", "room_removed"))
	assert.True(t, hasEvent(journal, "ABC", "room_spawned"))
}

func TestRoomsAreIndependent(t *testing.T) {
	fc := &fakeConnector{participants: []string{"p1"}}
	s, _ := newTestSupervisor(t, fc)
	require.NoError(t, s.Spawn(context.Background(), "one"))
	require.NoError(t, s.Spawn(context.Background(), "two"))

	one := fc.conn("mafia-ONE")
	assert.True(t, one.call(t, room.MethodStartTurn, "p1").OK)

	a, _ := s.Get("two")
	assert.Equal(t, floor.Idle, a.Controller().State().Phase)
	assert.Equal(t, []string{"ONE", "TWO"}, s.List())
}

func TestRPCTurnScenario(t *testing.T) {
	fc := &fakeConnector{participants: []string{"p1", "p2"}}
	s, _ := newTestSupervisor(t, fc)
	require.NoError(t, s.Spawn(context.Background(), "ABC123"))
	conn := fc.conn("mafia-ABC123")
	a, _ := s.Get("ABC123")

	assert.True(t, conn.call(t, room.MethodStartTurn, "p1").OK)
	conn.mu.Lock()
	assert.True(t, conn.audioEnabled)
	assert.Equal(t, "p1", conn.audioFrom)
	conn.mu.Unlock()

	r := conn.call(t, room.MethodStartTurn, "p2")
	assert.False(t, r.OK)
	assert.Equal(t, "floor_held", r.Reason)

	conn.ev.OnTranscript(room.Transcript{Identity: "p2", Text: "ignore me", Final: true})
	conn.ev.OnTranscript(room.Transcript{Identity: "p1", Text: "p2 is suspicious", Final: true})

	assert.True(t, conn.call(t, room.MethodEndTurn, "p1").OK)
	conn.mu.Lock()
	assert.False(t, conn.audioEnabled)
	conn.mu.Unlock()

	require.Eventually(t, func() bool { return len(conn.messages()) == 2 }, time.Second, 5*time.Millisecond)
	reply := conn.messages()[1]
	assert.Equal(t, room.KindTurn, reply.Kind)
	assert.Equal(t, "p1 said: p2 is suspicious", reply.Message)
	require.Eventually(t, func() bool { return a.Controller().State().Phase == floor.Idle }, time.Second, 5*time.Millisecond)
}

func TestRPCRejectionsAreReplies(t *testing.T) {
	fc := &fakeConnector{participants: []string{"p1"}}
	s, _ := newTestSupervisor(t, fc)
	require.NoError(t, s.Spawn(context.Background(), "abc"))
	conn := fc.conn("mafia-ABC")

	r := conn.call(t, room.MethodEndTurn, "p1")
	assert.False(t, r.OK)
	assert.Equal(t, "invalid_transition", r.Reason)

	r = conn.call(t, room.MethodStartTurn, "ptt-agent")
	assert.False(t, r.OK)
	assert.Equal(t, "unknown_participant", r.Reason)
}

func TestHolderLeavingCancelsTurn(t *testing.T) {
	fc := &fakeConnector{participants: []string{"p1", "p2"}}
	s, journal := newTestSupervisor(t, fc)
	require.NoError(t, s.Spawn(context.Background(), "abc"))
	conn := fc.conn("mafia-ABC")
	a, _ := s.Get("abc")

	require.True(t, conn.call(t, room.MethodStartTurn, "p1").OK)
	conn.leave("p1")

	assert.Equal(t, floor.Idle, a.Controller().State().Phase)
	assert.Equal(t, []string{"p2"}, a.Members())
	assert.True(t, hasEvent(journal, "ABC", "participant_left"))
	assert.True(t, hasEvent(journal, "ABC", "turn_cancelled"))

	time.Sleep(80 * time.Millisecond)
	assert.Len(t, conn.messages(), 1, "only the welcome message")
}

func TestParticipantJoinUpdatesRoster(t *testing.T) {
	fc := &fakeConnector{}
	s, _ := newTestSupervisor(t, fc)
	require.NoError(t, s.Spawn(context.Background(), "abc"))
	conn := fc.conn("mafia-ABC")
	a, _ := s.Get("abc")

	conn.ev.OnParticipantJoined("ptt-agent-2")
	conn.ev.OnParticipantJoined("zed")
	assert.Equal(t, []string{"zed"}, a.Members())
	assert.True(t, conn.call(t, room.MethodStartTurn, "zed").OK)
}

func TestRequestVoteWithEmptyRoster(t *testing.T) {
	fc := &fakeConnector{participants: []string{"ptt-agent"}}
	s, _ := newTestSupervisor(t, fc)
	require.NoError(t, s.Spawn(context.Background(), "abc"))
	conn := fc.conn("mafia-ABC")

	assert.True(t, conn.call(t, room.MethodRequestVote, "host").OK)
	require.Eventually(t, func() bool { return len(conn.messages()) == 2 }, time.Second, 5*time.Millisecond)
	vote := conn.messages()[1]
	assert.Equal(t, room.KindVote, vote.Kind)
	assert.Equal(t, "No players to vote for. Abstaining.", vote.Message)
}

func TestOnReplyObservesMessages(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	fc := &fakeConnector{participants: []string{"p1"}}
	s, _ := newTestSupervisor(t, fc, func(o *Options) {
		o.OnReply = func(code string, msg room.JudgeMessage) {
			mu.Lock()
			seen = append(seen, code+":"+msg.Kind)
			mu.Unlock()
		}
	})
	require.NoError(t, s.Spawn(context.Background(), "abc"))
	conn := fc.conn("mafia-ABC")
	conn.call(t, room.MethodRequestVote, "host")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"ABC:welcome", "ABC:vote"}, seen)
	mu.Unlock()
}

func TestIdleEviction(t *testing.T) {
	fc := &fakeConnector{}
	s, journal := newTestSupervisor(t, fc, func(o *Options) {
		o.MonitorInterval = 10 * time.Millisecond
		o.IdleEvictAfter = 30 * time.Millisecond
	})
	require.NoError(t, s.Spawn(context.Background(), "abc"))

	require.Eventually(t, func() bool { return len(s.List()) == 0 }, time.Second, 5*time.Millisecond)
	// Teardown journals after the entry is gone.
	require.Eventually(t, func() bool { return hasEvent(journal, "ABC", "room_removed") }, time.Second, 5*time.Millisecond)
	assert.True(t, hasEvent(journal, "ABC", "room_idle"))
}

func TestMonitorWithoutEvictionKeepsRoom(t *testing.T) {
	fc := &fakeConnector{}
	s, journal := newTestSupervisor(t, fc, func(o *Options) {
		o.MonitorInterval = 10 * time.Millisecond
	})
	require.NoError(t, s.Spawn(context.Background(), "abc"))

	require.Eventually(t, func() bool { return hasEvent(journal, "ABC", "room_idle") }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"ABC"}, s.List())
}

func TestServerDisconnectRemovesRoom(t *testing.T) {
	fc := &fakeConnector{}
	s, _ := newTestSupervisor(t, fc)
	require.NoError(t, s.Spawn(context.Background(), "abc"))

	fc.conn("mafia-ABC").ev.OnDisconnected("server shutdown")
	require.Eventually(t, func() bool { return len(s.List()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestDisconnectWhileConnectingRemovesRoom(t *testing.T) {
	fc := &fakeConnector{dropOnConnect: true}
	s, journal := newTestSupervisor(t, fc)
	require.NoError(t, s.Spawn(context.Background(), "abc"))

	require.Eventually(t, func() bool { return len(s.List()) == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return hasEvent(journal, "ABC", "room_removed") }, time.Second, 5*time.Millisecond)

	// No stale entry blocks the next spawn.
	fc.mu.Lock()
	fc.dropOnConnect = false
	fc.mu.Unlock()
	require.NoError(t, s.Spawn(context.Background(), "abc"))
	assert.Equal(t, int32(2), fc.connects.Load())
	assert.Equal(t, []string{"ABC"}, s.List())
}

func TestDispatchUnknownRoom(t *testing.T) {
	s, _ := newTestSupervisor(t, &fakeConnector{})
	_, err := s.Dispatch(context.Background(), "nope", room.MethodStartTurn, "p1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDispatchUnknownMethod(t *testing.T) {
	fc := &fakeConnector{participants: []string{"p1"}}
	s, _ := newTestSupervisor(t, fc)
	require.NoError(t, s.Spawn(context.Background(), "abc"))

	r, err := s.Dispatch(context.Background(), "abc", "dance", "p1")
	require.NoError(t, err)
	assert.False(t, r.OK)
	assert.Equal(t, "unknown_method", r.Reason)
}

func TestRoomsInfo(t *testing.T) {
	fc := &fakeConnector{participants: []string{"p1", "p2"}}
	s, _ := newTestSupervisor(t, fc)
	require.NoError(t, s.Spawn(context.Background(), "abc"))
	_, err := s.Dispatch(context.Background(), "abc", room.MethodStartTurn, "p2")
	require.NoError(t, err)

	infos := s.Rooms()
	require.Len(t, infos, 1)
	assert.Equal(t, "ABC", infos[0].Code)
	assert.Equal(t, "mafia-ABC", infos[0].RoomName)
	assert.Equal(t, "listening", infos[0].State)
	assert.Equal(t, "p2", infos[0].Holder)
	assert.Equal(t, 2, infos[0].Participants)
}
