// Package loop routes voice worker traffic into the room agents.
package loop

import (
    "strings"
    "sync"
    "time"

    "github.com/rs/zerolog"

    "supermafia/judge/internal/workerws"
)

// Transcriber receives speech-to-text segments for a room.
type Transcriber interface {
    Transcript(identity, text string, final bool)
}

type Dispatcher struct {
    // lookup returns the turn controller for a supervised room.
    lookup  func(roomCode string) (Transcriber, bool)
    record  func(roomCode, typ string, payload map[string]any)
    log     zerolog.Logger

    ttsTimeout time.Duration

    mu    sync.Mutex
    rooms map[string]*voiceState
}

type voiceState struct {
    speaking     bool
    utteranceID  string
    ttsStartRecv time.Time
}

func New(lookup func(roomCode string) (Transcriber, bool), record func(roomCode, typ string, payload map[string]any), ttsTimeout time.Duration, log zerolog.Logger) *Dispatcher {
    if ttsTimeout <= 0 {
        ttsTimeout = 60 * time.Second
    }
    return &Dispatcher{
        lookup:     lookup,
        record:     record,
        log:        log.With().Str("component", "loop").Logger(),
        ttsTimeout: ttsTimeout,
        rooms:      make(map[string]*voiceState),
    }
}

func (d *Dispatcher) state(roomCode string) *voiceState {
    s := d.rooms[roomCode]
    if s == nil {
        s = &voiceState{}
        d.rooms[roomCode] = s
    }
    return s
}

// Speaking reports whether the room's worker is currently playing a reply.
func (d *Dispatcher) Speaking(roomCode string) bool {
    d.mu.Lock()
    defer d.mu.Unlock()
    s := d.rooms[roomCode]
    return s != nil && s.speaking
}

// Forget drops playback state for a room that is gone.
func (d *Dispatcher) Forget(roomCode string) {
    d.mu.Lock()
    delete(d.rooms, roomCode)
    d.mu.Unlock()
}

// OnMessage processes one worker message.
func (d *Dispatcher) OnMessage(roomCode string, msg workerws.Message) {
    if msg.Type == workerws.TypeTranscript {
        d.transcript(roomCode, msg)
        return
    }

    d.mu.Lock()
    defer d.mu.Unlock()
    s := d.state(roomCode)

    switch msg.Type {
    case workerws.TypeTTSStarted:
        s.speaking = true
        s.utteranceID = msg.UtteranceID
        s.ttsStartRecv = time.Now()
        d.emit(roomCode, "tts_started", map[string]any{"utterance_id": msg.UtteranceID})
    case workerws.TypeTTSFirstAudio:
        d.emit(roomCode, "tts_first_audio", map[string]any{"utterance_id": msg.UtteranceID})
    case workerws.TypeTTSStopped:
        reason := payloadString(msg.Payload, "reason")
        s.speaking = false
        s.utteranceID = ""
        s.ttsStartRecv = time.Time{}
        d.emit(roomCode, "tts_stopped", map[string]any{"utterance_id": msg.UtteranceID, "reason": reason})
    case workerws.TypeCmdAck:
        d.emit(roomCode, "cmd_ack", map[string]any{"command_id": msg.CommandID})
    case workerws.TypeHello:
        // Reset playback unless the worker immediately restates it.
        *s = voiceState{}
        d.emit(roomCode, "worker_hello", nil)
    }

    // Safety timeout check
    if !s.ttsStartRecv.IsZero() && time.Since(s.ttsStartRecv) > d.ttsTimeout {
        *s = voiceState{}
        d.emit(roomCode, "tts_timeout_reset", nil)
    }
}

func (d *Dispatcher) transcript(roomCode string, msg workerws.Message) {
    identity := payloadString(msg.Payload, "identity")
    text := payloadString(msg.Payload, "text")
    final, _ := msg.Payload["final"].(bool)
    if identity == "" || (strings.TrimSpace(text) == "" && !final) {
        return
    }
    t, ok := d.lookup(roomCode)
    if !ok {
        d.log.Debug().Str("room", roomCode).Msg("transcript for unknown room")
        return
    }
    t.Transcript(identity, text, final)
}

func (d *Dispatcher) emit(roomCode, typ string, payload map[string]any) {
    if d.record != nil {
        d.record(roomCode, typ, payload)
    }
}

func payloadString(p map[string]any, key string) string {
    if p == nil {
        return ""
    }
    v, _ := p[key].(string)
    return v
}
