package types

import "time"

type Event struct {
	Type    string         `json:"type"`
	Ts      time.Time      `json:"timestamp"`
	Payload map[string]any `json:"payload,omitempty"`
}

// RoomInfo is the externally visible summary of a supervised room.
type RoomInfo struct {
	Code         string    `json:"code"`
	RoomName     string    `json:"room_name"`
	SpawnedAt    time.Time `json:"spawned_at"`
	State        string    `json:"state"`
	Holder       string    `json:"holder,omitempty"`
	Participants int       `json:"participants"`

	// Voice worker and spectator status, filled in by the server.
	VoiceWorker bool `json:"voice_worker"`
	Speaking    bool `json:"speaking"`
	Spectators  int  `json:"spectators"`
}
