package workerws

import (
    "context"
    "time"

    "github.com/google/uuid"
)

// Speaker plays judge replies through the room's voice worker.
type Speaker struct {
    reg  *Registry
    room string
}

func (r *Registry) Speaker(roomCode string) *Speaker {
    return &Speaker{reg: r, room: roomCode}
}

func (s *Speaker) Speak(ctx context.Context, text string) error {
    return s.reg.Send(ctx, s.room, Message{
        Type:        TypeSpeak,
        TsMs:        time.Now().UnixMilli(),
        UtteranceID: uuid.NewString(),
        Payload:     map[string]any{"text": text},
    })
}

// Interrupt asks the worker to cut current playback. Safe to call when idle.
func (s *Speaker) Interrupt() {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    _ = s.reg.Send(ctx, s.room, Message{
        Type:      TypeStopTTS,
        TsMs:      time.Now().UnixMilli(),
        CommandID: uuid.NewString(),
        Payload:   map[string]any{"mode": "current"},
    })
}
