package supervisor

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"supermafia/judge/internal/floor"
	"supermafia/judge/internal/gate"
	"supermafia/judge/internal/room"
	"supermafia/judge/internal/roster"
	"supermafia/judge/internal/types"
)

// Reply is returned to turn control callers, over RPC or HTTP. Rejections are
// reported here rather than as errors.
type Reply struct {
	OK      bool   `json:"ok"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func (r Reply) String() string {
	b, _ := json.Marshal(r)
	return string(b)
}

// RoomAgent is the judge's presence in one room.
type RoomAgent struct {
	Code      string
	RoomName  string
	SpawnedAt time.Time

	proxy   *connProxy
	members *roster.Roster
	gate    *gate.Gate
	ctrl    *floor.Controller
	journal floor.Journal
	log     zerolog.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	monitorDone chan struct{}
	// lost is set once the room connection has dropped.
	lost atomic.Bool
}

func (a *RoomAgent) Controller() *floor.Controller { return a.ctrl }

func (a *RoomAgent) Members() []string { return a.members.Snapshot() }

func (a *RoomAgent) Info() types.RoomInfo {
	st := a.ctrl.State()
	return types.RoomInfo{
		Code:         a.Code,
		RoomName:     a.RoomName,
		SpawnedAt:    a.SpawnedAt,
		State:        st.Phase.String(),
		Holder:       st.Holder,
		Participants: a.members.Count(),
	}
}

// Dispatch runs one turn control method on behalf of identity.
func (a *RoomAgent) Dispatch(ctx context.Context, method, identity string) Reply {
	var err error
	switch method {
	case room.MethodStartTurn:
		err = a.ctrl.AcquireTurn(ctx, identity)
	case room.MethodEndTurn:
		err = a.ctrl.ReleaseTurn(ctx, identity)
	case room.MethodCancelTurn:
		err = a.ctrl.CancelTurn(ctx, identity)
	case room.MethodRequestVote:
		// The vote is broadcast to the room when ready; callers are not held
		// for the reasoning round trip.
		go func() {
			if _, err := a.ctrl.RequestVote(a.ctx); err != nil {
				a.log.Warn().Err(err).Msg("vote request dropped")
			}
		}()
		metricRequests.WithLabelValues(method, "ok").Inc()
		return Reply{OK: true, Message: "vote requested"}
	default:
		metricRequests.WithLabelValues("unknown", "unknown_method").Inc()
		return Reply{OK: false, Reason: "unknown_method"}
	}
	reason := floor.Reason(err)
	metricRequests.WithLabelValues(method, reason).Inc()
	if err != nil {
		return Reply{OK: false, Reason: reason}
	}
	return Reply{OK: true}
}

func (a *RoomAgent) bindRPC(conn room.Conn) error {
	for _, method := range []string{room.MethodStartTurn, room.MethodEndTurn, room.MethodCancelTurn, room.MethodRequestVote} {
		method := method
		err := conn.RegisterRPC(method, func(ctx context.Context, data room.RPCData) (string, error) {
			a.log.Debug().Str("method", method).Str("caller", data.CallerIdentity).Str("request_id", data.RequestID).Msg("rpc")
			return a.Dispatch(ctx, method, data.CallerIdentity).String(), nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *RoomAgent) events(onDisconnected func()) room.Events {
	return room.Events{
		OnParticipantJoined: func(identity string) {
			if a.members.Join(identity) {
				a.record("participant_joined", map[string]any{"identity": identity})
			}
		},
		OnParticipantLeft: a.participantLeft,
		OnTranscript: func(t room.Transcript) {
			a.ctrl.Transcript(t.Identity, t.Text, t.Final)
		},
		OnDisconnected: func(reason string) {
			a.log.Warn().Str("reason", reason).Msg("lost room connection")
			onDisconnected()
		},
	}
}

func (a *RoomAgent) participantLeft(identity string) {
	if a.members.Leave(identity) {
		a.record("participant_left", map[string]any{"identity": identity})
	}
	a.ctrl.HolderDisconnected(identity)
}

// monitor polls the room's human participant count. With evictAfter > 0 a room
// that stays empty that long is handed to evict.
func (a *RoomAgent) monitor(interval, evictAfter time.Duration, evict func()) {
	defer close(a.monitorDone)
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var emptySince time.Time
	for {
		select {
		case <-a.ctx.Done():
			return
		case now := <-ticker.C:
			n := a.humans()
			metricRoomParticipants.WithLabelValues(a.Code).Set(float64(n))
			if n > 0 {
				emptySince = time.Time{}
				continue
			}
			if emptySince.IsZero() {
				emptySince = now
				a.record("room_idle", nil)
				a.log.Info().Msg("room has no players")
			}
			if evictAfter > 0 && now.Sub(emptySince) >= evictAfter {
				a.log.Info().Dur("idle", now.Sub(emptySince)).Msg("evicting idle room")
				metricIdleEvictions.Inc()
				go evict()
				return
			}
		}
	}
}

func (a *RoomAgent) humans() int {
	conn, _ := a.proxy.get()
	if conn == nil {
		return a.members.Count()
	}
	n := 0
	for _, id := range conn.Participants() {
		if !a.members.IsAgent(id) {
			n++
		}
	}
	return n
}

func (a *RoomAgent) shutdown() {
	a.cancel()
	if a.monitorDone != nil {
		<-a.monitorDone
	}
	a.ctrl.Close()
	if conn, _ := a.proxy.get(); conn != nil {
		if err := conn.Close(); err != nil {
			a.log.Warn().Err(err).Msg("room close failed")
		}
	}
	metricRoomParticipants.DeleteLabelValues(a.Code)
}

func (a *RoomAgent) record(typ string, payload map[string]any) {
	if a.journal != nil {
		a.journal.AppendEvent(a.Code, typ, payload)
	}
}
