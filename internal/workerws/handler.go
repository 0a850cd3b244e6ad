// Package workerws is the websocket channel between the judge and the voice
// workers that synthesize speech and stream transcripts for a room.
package workerws

import (
    "encoding/json"
    "net/http"
    "strings"
    "time"

    "github.com/rs/zerolog"

    "supermafia/judge/internal/auth"

    ws "nhooyr.io/websocket"
)

// Message types exchanged with a voice worker.
const (
    TypeSpeak   = "speak"
    TypeStopTTS = "stop_tts"

    TypeHello         = "worker_hello"
    TypeTranscript    = "transcript"
    TypeTTSStarted    = "tts_started"
    TypeTTSFirstAudio = "tts_first_audio"
    TypeTTSStopped    = "tts_stopped"
    TypeCmdAck        = "cmd_ack"
)

type Message struct {
    Type        string         `json:"type"`
    TsMs        int64          `json:"ts_ms"`
    Room        string         `json:"room"`
    Seq         int64          `json:"seq"`
    CommandID   string         `json:"command_id,omitempty"`
    UtteranceID string         `json:"utterance_id,omitempty"`
    Payload     map[string]any `json:"payload,omitempty"`
}

type Server struct {
    TokenSecret   string
    TokenSkewSecs int
    Reg           *Registry
    // Known reports whether a room is supervised.
    Known func(roomCode string) bool
    // OnMessage receives every valid worker message.
    OnMessage func(roomCode string, msg Message)
    Log       zerolog.Logger
}

func (s *Server) HandleWorkerWS(w http.ResponseWriter, r *http.Request) {
    roomCode := strings.ToUpper(r.URL.Query().Get("room"))
    if roomCode == "" {
        http.Error(w, "missing room", http.StatusBadRequest)
        return
    }
    if s.Known != nil && !s.Known(roomCode) {
        http.Error(w, "unknown room", http.StatusNotFound)
        return
    }
    // Auth header
    authz := r.Header.Get("Authorization")
    if !strings.HasPrefix(authz, "Bearer ") {
        http.Error(w, "missing bearer token", http.StatusUnauthorized)
        return
    }
    token := strings.TrimPrefix(authz, "Bearer ")
    if s.TokenSecret == "" {
        http.Error(w, "worker auth not configured", http.StatusUnauthorized)
        return
    }
    if _, _, err := auth.ValidateWorkerToken(s.TokenSecret, token, roomCode, time.Now(), s.TokenSkewSecs); err != nil {
        http.Error(w, "invalid token", http.StatusUnauthorized)
        return
    }

    c, err := ws.Accept(w, r, nil)
    if err != nil {
        s.Log.Warn().Err(err).Msg("ws accept")
        return
    }
    log := s.Log.With().Str("room", roomCode).Logger()
    if s.Reg.Replace(roomCode, c) {
        log.Info().Msg("voice worker replaced")
    }
    log.Info().Msg("voice worker connected")

    ctx := r.Context()
    for {
        typ, data, err := c.Read(ctx)
        if err != nil {
            break
        }
        if typ != ws.MessageText && typ != ws.MessageBinary {
            continue
        }
        var msg Message
        if err := json.Unmarshal(data, &msg); err != nil {
            log.Debug().Err(err).Msg("invalid worker message")
            continue
        }
        msg.Room = roomCode
        if s.OnMessage != nil {
            s.OnMessage(roomCode, msg)
        }
    }
    _ = c.Close(ws.StatusNormalClosure, "done")
    s.Reg.Remove(roomCode, c)
    log.Info().Msg("voice worker disconnected")
}
