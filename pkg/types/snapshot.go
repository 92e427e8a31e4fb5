package types

import "github.com/DoyleJ11/whoistalking-backend/internal/engine"

// Snapshot is the full public view of a session. The judge seat and speaker
// personas are never exposed.
type Snapshot struct {
	Type               string              `json:"type"`
	SessionID          string              `json:"session_id"`
	Status             engine.Status       `json:"status"`
	Topic              string              `json:"topic"`
	Participants       []PublicSeat        `json:"participants"`
	TurnsPerSpeaker    int                 `json:"turns_per_speaker"`
	TurnCounts         map[engine.Seat]int `json:"turn_counts"`
	CurrentSpeakerSeat *engine.Seat        `json:"current_speaker_seat"`
	MaxChars           int                 `json:"max_chars"`
}

type PublicSeat struct {
	Seat engine.Seat `json:"seat"`
}
