// Package supervisor runs one independent judge agent per active game room.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"supermafia/judge/internal/floor"
	"supermafia/judge/internal/gate"
	"supermafia/judge/internal/room"
	"supermafia/judge/internal/roster"
	"supermafia/judge/internal/types"
)

var (
	ErrMissingCredentials = errors.New("missing room credentials")
	ErrTransport          = errors.New("room transport failure")
	ErrNotAdmitted        = errors.New("room name not admitted")
	ErrNotFound           = errors.New("room not supervised")
)

type Options struct {
	RoomPrefix    string
	AgentIdentity string
	Welcome       string

	TranscriptTimeout time.Duration
	FlushDuration     time.Duration
	MonitorInterval   time.Duration
	// IdleEvictAfter removes rooms that stay empty this long. Zero keeps them.
	IdleEvictAfter time.Duration

	// NewGenerator builds the reply generator for a room from its roster.
	NewGenerator func(players func() []string) floor.Generator
	// NewSpeaker is optional; rooms are text only without it.
	NewSpeaker func(conn room.Conn) room.Speaker
	// OnReply observes every judge message sent to a room.
	OnReply func(code string, msg room.JudgeMessage)
	// OnRemoved runs after a room's agent has been torn down.
	OnRemoved func(code string)

	Logger zerolog.Logger
}

type Supervisor struct {
	connector room.Connector
	journal   floor.Journal
	opts      Options
	log       zerolog.Logger

	mu sync.RWMutex
	// A nil entry reserves a code while its connection is being established.
	rooms map[string]*RoomAgent
}

func New(connector room.Connector, journal floor.Journal, opts Options) *Supervisor {
	if opts.RoomPrefix == "" {
		opts.RoomPrefix = "mafia-"
	}
	if opts.AgentIdentity == "" {
		opts.AgentIdentity = "ptt-agent"
	}
	return &Supervisor{
		connector: connector,
		journal:   journal,
		opts:      opts,
		log:       opts.Logger.With().Str("component", "supervisor").Logger(),
		rooms:     make(map[string]*RoomAgent),
	}
}

// Spawn joins the room for code unless it is already supervised. On failure
// nothing is left behind.
func (s *Supervisor) Spawn(ctx context.Context, code string) error {
	code = room.NormalizeCode(code, s.opts.RoomPrefix)
	name := room.RoomName(s.opts.RoomPrefix, code)
	if _, ok := room.Admit(name, s.opts.RoomPrefix); !ok {
		metricSpawnFailures.WithLabelValues("not_admitted").Inc()
		return fmt.Errorf("%w: %q", ErrNotAdmitted, name)
	}

	// Reserve the code so concurrent spawns do not both connect.
	s.mu.Lock()
	if _, exists := s.rooms[code]; exists {
		s.mu.Unlock()
		s.log.Debug().Str("room", code).Msg("already supervised")
		return nil
	}
	s.rooms[code] = nil
	s.mu.Unlock()

	a, err := s.start(ctx, code, name)
	if err != nil {
		s.mu.Lock()
		delete(s.rooms, code)
		s.mu.Unlock()
		return err
	}

	a.monitorDone = make(chan struct{})
	s.mu.Lock()
	s.rooms[code] = a
	metricActiveRooms.Inc()
	s.mu.Unlock()
	go a.monitor(s.opts.MonitorInterval, s.opts.IdleEvictAfter, func() { s.removeAgent(a, "idle") })

	// A disconnect that arrived while connecting found no entry to remove.
	if a.lost.Load() {
		s.removeAgent(a, "disconnected")
	}
	return nil
}

func (s *Supervisor) start(ctx context.Context, code, name string) (*RoomAgent, error) {
	log := s.log.With().Str("room", code).Logger()
	// A re-spawned room starts a fresh journal.
	if f, ok := s.journal.(interface{ Forget(string) }); ok {
		f.Forget(code)
	}
	members := roster.New(s.opts.AgentIdentity)
	proxy := &connProxy{}
	g := gate.New(proxy)

	actx, cancel := context.WithCancel(context.Background())
	a := &RoomAgent{
		Code:      code,
		RoomName:  name,
		SpawnedAt: time.Now().UTC(),
		proxy:     proxy,
		members:   members,
		gate:      g,
		journal:   s.journal,
		log:       log,
		ctx:       actx,
		cancel:    cancel,
	}

	var onReply func(room.JudgeMessage)
	if s.opts.OnReply != nil {
		onReply = func(msg room.JudgeMessage) { s.opts.OnReply(code, msg) }
	}
	a.ctrl = floor.New(floor.Options{
		RoomCode:          code,
		TranscriptTimeout: s.opts.TranscriptTimeout,
		FlushDuration:     s.opts.FlushDuration,
		Gate:              g,
		Members:           members,
		Generator:         s.opts.NewGenerator(members.Snapshot),
		Broadcaster:       proxy,
		Speaker:           proxy,
		Journal:           s.journal,
		OnReply:           onReply,
		Logger:            s.opts.Logger,
	})

	conn, err := s.connector.Connect(ctx, name, a.events(func() {
		a.lost.Store(true)
		go s.removeAgent(a, "disconnected")
	}))
	if err != nil {
		a.shutdown()
		return nil, s.spawnError(code, err)
	}
	var speaker room.Speaker = room.NopSpeaker{}
	if s.opts.NewSpeaker != nil {
		speaker = s.opts.NewSpeaker(conn)
	}
	proxy.attach(conn, speaker)

	if err := a.bindRPC(conn); err != nil {
		a.shutdown()
		return nil, s.spawnError(code, err)
	}
	members.Seed(conn.Participants())

	welcome := room.NewJudgeMessage(uuid.NewString(), room.KindWelcome, s.opts.Welcome)
	if s.opts.Welcome != "" {
		if err := conn.Broadcast(ctx, welcome.Encode()); err != nil {
			log.Warn().Err(err).Msg("welcome broadcast failed")
		} else if onReply != nil {
			onReply(welcome)
		}
	}

	a.record("room_spawned", map[string]any{"room_name": name, "participants": members.Count()})
	log.Info().Str("room_name", name).Int("participants", members.Count()).Msg("judge joined room")
	return a, nil
}

func (s *Supervisor) spawnError(code string, err error) error {
	if errors.Is(err, room.ErrMissingCredentials) {
		metricSpawnFailures.WithLabelValues("credentials").Inc()
		s.log.Error().Str("room", code).Msg("cannot join room: missing credentials")
		return fmt.Errorf("%w: %v", ErrMissingCredentials, err)
	}
	metricSpawnFailures.WithLabelValues("transport").Inc()
	s.log.Error().Err(err).Str("room", code).Msg("cannot join room")
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// Remove disconnects the judge from a room. Unknown codes are ignored.
func (s *Supervisor) Remove(code string) {
	code = room.NormalizeCode(code, s.opts.RoomPrefix)
	s.mu.Lock()
	a := s.rooms[code]
	if a == nil {
		s.mu.Unlock()
		return
	}
	delete(s.rooms, code)
	s.mu.Unlock()
	s.teardown(a, "removed")
}

// removeAgent removes a only if it is still the agent registered for its code.
func (s *Supervisor) removeAgent(a *RoomAgent, reason string) {
	s.mu.Lock()
	if s.rooms[a.Code] != a {
		s.mu.Unlock()
		return
	}
	delete(s.rooms, a.Code)
	s.mu.Unlock()
	s.teardown(a, reason)
}

func (s *Supervisor) teardown(a *RoomAgent, reason string) {
	a.shutdown()
	metricActiveRooms.Dec()
	a.record("room_removed", map[string]any{"reason": reason})
	a.log.Info().Str("reason", reason).Msg("judge left room")
	if s.opts.OnRemoved != nil {
		s.opts.OnRemoved(a.Code)
	}
}

// List returns the supervised room codes, sorted.
func (s *Supervisor) List() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.rooms))
	for code, a := range s.rooms {
		if a != nil {
			out = append(out, code)
		}
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (s *Supervisor) Get(code string) (*RoomAgent, bool) {
	code = room.NormalizeCode(code, s.opts.RoomPrefix)
	s.mu.RLock()
	defer s.mu.RUnlock()
	a := s.rooms[code]
	return a, a != nil
}

// Rooms summarizes every supervised room, sorted by code.
func (s *Supervisor) Rooms() []types.RoomInfo {
	codes := s.List()
	out := make([]types.RoomInfo, 0, len(codes))
	for _, code := range codes {
		if a, ok := s.Get(code); ok {
			out = append(out, a.Info())
		}
	}
	return out
}

// Dispatch routes a turn control call to a room's agent.
func (s *Supervisor) Dispatch(ctx context.Context, code, method, identity string) (Reply, error) {
	a, ok := s.Get(code)
	if !ok {
		return Reply{}, ErrNotFound
	}
	return a.Dispatch(ctx, method, identity), nil
}

// ParticipantLeft forwards a leave notification from outside the room
// connection, such as a server webhook.
func (s *Supervisor) ParticipantLeft(code, identity string) {
	if a, ok := s.Get(code); ok {
		a.participantLeft(identity)
	}
}

// Close removes every room.
func (s *Supervisor) Close() {
	for _, code := range s.List() {
		s.Remove(code)
	}
}
