package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/rs/zerolog"
)

var ErrMissingCredentials = errors.New("missing LiveKit credentials")

var (
	_ Connector = (*LiveKitConnector)(nil)
	_ Conn      = (*liveKitConn)(nil)
)

// LiveKitOptions describe how the agent joins rooms.
type LiveKitOptions struct {
	URL       string
	APIKey    string
	APISecret string
	Identity  string
	Name      string
	// TranscriberPrefix marks participants allowed to publish transcripts on
	// behalf of other players. Agent participants are always allowed.
	TranscriberPrefix string
}

// LiveKitConnector joins LiveKit rooms as the judge agent.
type LiveKitConnector struct {
	opts LiveKitOptions
	log  zerolog.Logger
}

func NewLiveKitConnector(opts LiveKitOptions, log zerolog.Logger) *LiveKitConnector {
	return &LiveKitConnector{opts: opts, log: log.With().Str("component", "livekit").Logger()}
}

func (k *LiveKitConnector) Connect(ctx context.Context, roomName string, ev Events) (Conn, error) {
	if k.opts.URL == "" || k.opts.APIKey == "" || k.opts.APISecret == "" {
		return nil, ErrMissingCredentials
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &liveKitConn{name: roomName, agent: k.opts.Identity, transcriberPrefix: k.opts.TranscriberPrefix, ev: ev, log: k.log.With().Str("room", roomName).Logger()}
	cb := &lksdk.RoomCallback{
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			c.log.Debug().Str("identity", rp.Identity()).Msg("participant connected")
			if ev.OnParticipantJoined != nil {
				ev.OnParticipantJoined(rp.Identity())
			}
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			c.log.Debug().Str("identity", rp.Identity()).Msg("participant disconnected")
			if ev.OnParticipantLeft != nil {
				ev.OnParticipantLeft(rp.Identity())
			}
		},
		OnDisconnected: func() {
			c.log.Warn().Msg("room disconnected")
			if ev.OnDisconnected != nil {
				ev.OnDisconnected("disconnected")
			}
		},
		OnReconnecting: func() { c.log.Info().Msg("reconnecting to room") },
		OnReconnected: func() {
			c.log.Info().Msg("reconnected to room")
			c.applyRouting()
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				c.routePublication(pub, rp.Identity())
			},
			OnDataPacket: c.handleDataPacket,
		},
	}

	metadata, _ := json.Marshal(map[string]string{"push-to-talk": "1"})
	lkRoom, err := lksdk.ConnectToRoom(k.opts.URL, lksdk.ConnectInfo{
		APIKey:              k.opts.APIKey,
		APISecret:           k.opts.APISecret,
		RoomName:            roomName,
		ParticipantIdentity: k.opts.Identity,
		ParticipantName:     k.opts.Name,
		ParticipantKind:     lksdk.ParticipantAgent,
		ParticipantMetadata: string(metadata),
	}, cb, lksdk.WithAutoSubscribe(false))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", roomName, err)
	}

	c.mu.Lock()
	c.room = lkRoom
	c.mu.Unlock()
	c.applyRouting()
	c.log.Info().Str("identity", k.opts.Identity).Msg("connected as judge")
	return c, nil
}

type liveKitConn struct {
	name  string
	agent string
	ev    Events

	transcriberPrefix string
	log   zerolog.Logger

	mu           sync.Mutex
	room         *lksdk.Room
	closed       bool
	audioEnabled bool
	audioFrom    string
}

func (c *liveKitConn) Name() string { return c.name }

func (c *liveKitConn) lkRoom() *lksdk.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.room
}

func (c *liveKitConn) Participants() []string {
	r := c.lkRoom()
	if r == nil {
		return nil
	}
	rps := r.GetRemoteParticipants()
	out := make([]string, 0, len(rps))
	for _, rp := range rps {
		out = append(out, rp.Identity())
	}
	return out
}

func (c *liveKitConn) Broadcast(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := c.lkRoom()
	if r == nil {
		return ErrClosed
	}
	return r.LocalParticipant.PublishDataPacket(
		lksdk.UserData(payload),
		lksdk.WithDataPublishReliable(true),
	)
}

func (c *liveKitConn) RegisterRPC(method string, h Handler) error {
	r := c.lkRoom()
	if r == nil {
		return ErrClosed
	}
	return r.RegisterRpcMethod(method, func(data lksdk.RpcInvocationData) (string, error) {
		ctx := context.Background()
		if data.ResponseTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, data.ResponseTimeout)
			defer cancel()
		}
		return h(ctx, RPCData{
			RequestID:      data.RequestID,
			CallerIdentity: data.CallerIdentity,
			Payload:        data.Payload,
		})
	})
}

func (c *liveKitConn) SetAudioEnabled(enabled bool) {
	c.mu.Lock()
	c.audioEnabled = enabled
	c.mu.Unlock()
	c.applyRouting()
}

func (c *liveKitConn) SetAudioParticipant(identity string) {
	c.mu.Lock()
	c.audioFrom = identity
	c.mu.Unlock()
	c.applyRouting()
}

func (c *liveKitConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	r := c.room
	c.mu.Unlock()
	if r != nil {
		r.Disconnect()
	}
	return nil
}

// applyRouting subscribes to the routed participant's microphone only, and to
// nothing while audio is disabled.
func (c *liveKitConn) applyRouting() {
	r := c.lkRoom()
	if r == nil {
		return
	}
	for _, rp := range r.GetRemoteParticipants() {
		for _, pub := range rp.TrackPublications() {
			if remotePub, ok := pub.(*lksdk.RemoteTrackPublication); ok {
				c.routePublication(remotePub, rp.Identity())
			}
		}
	}
}

func (c *liveKitConn) routePublication(pub *lksdk.RemoteTrackPublication, identity string) {
	if pub.Kind() != lksdk.TrackKindAudio || pub.Source() != livekit.TrackSource_MICROPHONE {
		return
	}
	if identity == c.agent {
		return
	}
	c.mu.Lock()
	want := c.audioEnabled && c.audioFrom == identity
	c.mu.Unlock()
	if pub.IsSubscribed() == want {
		return
	}
	if err := pub.SetSubscribed(want); err != nil {
		c.log.Warn().Err(err).Str("identity", identity).Bool("subscribe", want).Msg("audio routing failed")
	}
}

func (c *liveKitConn) handleDataPacket(data lksdk.DataPacket, params lksdk.DataReceiveParams) {
	user := data.ToProto().GetUser()
	if user == nil || user.GetTopic() != TopicTranscription || c.ev.OnTranscript == nil {
		return
	}
	var t Transcript
	if err := json.Unmarshal(user.GetPayload(), &t); err != nil {
		c.log.Debug().Err(err).Str("sender", params.SenderIdentity).Msg("invalid transcription packet")
		return
	}
	// Players may only transcribe themselves.
	if t.Identity == "" || !c.trustedTranscriber(params) {
		t.Identity = params.SenderIdentity
	}
	if t.Identity == "" {
		return
	}
	c.ev.OnTranscript(t)
}

func (c *liveKitConn) trustedTranscriber(params lksdk.DataReceiveParams) bool {
	if params.Sender != nil && params.Sender.Kind() == lksdk.ParticipantAgent {
		return true
	}
	return c.transcriberPrefix != "" && strings.HasPrefix(params.SenderIdentity, c.transcriberPrefix)
}
