package room

import (
	"encoding/json"
	"strings"
	"time"
)

// MessageTypeJudgeResponse discriminates judge replies on the data channel.
const MessageTypeJudgeResponse = "judge_response"

// Reply kinds carried alongside the message text.
const (
	KindWelcome = "welcome"
	KindTurn    = "turn"
	KindVote    = "vote"
)

// JudgeMessage is the reliable broadcast payload sent to every room member.
type JudgeMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
	Kind    string `json:"kind,omitempty"`
	TsMs    int64  `json:"ts_ms,omitempty"`
}

func NewJudgeMessage(id, kind, text string) JudgeMessage {
	return JudgeMessage{
		Type:    MessageTypeJudgeResponse,
		Message: text,
		ID:      id,
		Kind:    kind,
		TsMs:    time.Now().UnixMilli(),
	}
}

func (m JudgeMessage) Encode() []byte {
	b, _ := json.Marshal(m)
	return b
}

// Admit applies the admission policy: a room is served only when its name is the
// reserved prefix followed by a non-empty game code. The code is returned upper-cased.
func Admit(roomName, prefix string) (string, bool) {
	if prefix == "" || !strings.HasPrefix(roomName, prefix) {
		return "", false
	}
	code := strings.TrimSpace(strings.TrimPrefix(roomName, prefix))
	if code == "" {
		return "", false
	}
	return strings.ToUpper(code), true
}

// NormalizeCode upper-cases a game code and strips the room prefix if present.
func NormalizeCode(code, prefix string) string {
	code = strings.TrimSpace(code)
	if prefix != "" && strings.HasPrefix(code, prefix) {
		code = strings.TrimPrefix(code, prefix)
	}
	return strings.ToUpper(code)
}

// RoomName builds the room name for a game code.
func RoomName(prefix, code string) string { return prefix + code }
