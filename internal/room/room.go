// Package room is the boundary between the judge and the real-time media room.
//
// The controller and supervisor only see the Conn and Connector interfaces; the
// LiveKit adapter in livekit.go is the production implementation.
package room

import (
	"context"
	"errors"
)

// RPC method names exposed by the agent in every room.
const (
	MethodStartTurn   = "start_turn"
	MethodEndTurn     = "end_turn"
	MethodCancelTurn  = "cancel_turn"
	MethodRequestVote = "request_vote"
)

// TopicTranscription is the data topic the speech-to-text worker publishes on.
const TopicTranscription = "transcription"

var ErrClosed = errors.New("room connection closed")

// RPCData is one remote-procedure invocation. The caller identity is set by the
// room service, never by the payload.
type RPCData struct {
	RequestID      string
	CallerIdentity string
	Payload        string
}

type Handler func(ctx context.Context, data RPCData) (string, error)

// Transcript is a speech-to-text segment attributed to a participant.
type Transcript struct {
	Identity string `json:"identity"`
	Text     string `json:"text"`
	Final    bool   `json:"final"`
}

// Events are the room notifications the agent reacts to. Nil callbacks are skipped.
type Events struct {
	OnParticipantJoined func(identity string)
	OnParticipantLeft   func(identity string)
	OnTranscript        func(t Transcript)
	OnDisconnected      func(reason string)
}

// AudioInput controls which remote audio reaches the transcription pipeline.
type AudioInput interface {
	SetAudioEnabled(enabled bool)
	SetAudioParticipant(identity string)
}

// Conn is a live connection to one room.
type Conn interface {
	AudioInput
	Name() string
	// Participants returns the identities of every remote participant, agents included.
	Participants() []string
	Broadcast(ctx context.Context, payload []byte) error
	RegisterRPC(method string, h Handler) error
	Close() error
}

// Connector opens room connections.
type Connector interface {
	Connect(ctx context.Context, roomName string, ev Events) (Conn, error)
}

// Speaker plays agent speech into the room. Synthesis is an external service.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Interrupt()
}

// NopSpeaker is used when no voice service is configured; replies are text only.
type NopSpeaker struct{}

func (NopSpeaker) Speak(context.Context, string) error { return nil }
func (NopSpeaker) Interrupt()                          {}
