// Package floor owns the push-to-talk turn state for a single room.
package floor

import "errors"

// Phase is the turn phase of a room.
type Phase int

const (
    Idle Phase = iota
    Listening
    Finalizing
    Responding
)

func (p Phase) String() string {
    switch p {
    case Idle:
        return "idle"
    case Listening:
        return "listening"
    case Finalizing:
        return "finalizing"
    case Responding:
        return "responding"
    }
    return "unknown"
}

// State is a snapshot of a room's turn. Holder is empty only when Idle; while
// Responding it names the participant whose turn produced the pending reply.
type State struct {
    Phase  Phase
    Holder string
    Epoch  uint64
}

var (
    ErrInvalidTransition  = errors.New("invalid turn transition")
    ErrFloorHeld          = errors.New("floor held by another participant")
    ErrNotHolder          = errors.New("caller does not hold the floor")
    ErrUnknownParticipant = errors.New("participant not in room")
    ErrBusy               = errors.New("judge is responding")
    ErrClosed             = errors.New("turn controller closed")
)

// Reason maps a rejection to a short label for logs, metrics and RPC replies.
func Reason(err error) string {
    switch {
    case err == nil:
        return "ok"
    case errors.Is(err, ErrFloorHeld):
        return "floor_held"
    case errors.Is(err, ErrNotHolder):
        return "not_holder"
    case errors.Is(err, ErrUnknownParticipant):
        return "unknown_participant"
    case errors.Is(err, ErrBusy):
        return "busy"
    case errors.Is(err, ErrClosed):
        return "closed"
    case errors.Is(err, ErrInvalidTransition):
        return "invalid_transition"
    }
    return "error"
}
