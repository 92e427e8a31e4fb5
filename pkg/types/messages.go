// Package types is the JSON wire protocol spoken over /ws/sessions/{id}.
package types

import "github.com/DoyleJ11/whoistalking-backend/internal/engine"

// Client -> Server
// session.join:
//   client_id: string
//
// session.resume:
//   client_id: string
//   last_seen_message_id: string | null
//
// human.message:
//   client_id: string
//   text: string
//
// session.request_state:
//   client_id: string
const (
	EvtJoin         = "session.join"
	EvtResume       = "session.resume"
	EvtHumanMessage = "human.message"
	EvtRequestState = "session.request_state"
)

// Server -> Client
// session.state:       see Snapshot
// message.typing:      seat
// message.new:         message_id, turn_index, seat, text
// turn.next:           current_speaker_seat, turn_counts
// turn.request_human:  current_speaker_seat, max_chars, timeout_secs
// session.finished:    judge { pick_seat, confidence, why }
// error:               error
const (
	EvtState        = "session.state"
	EvtTyping       = "message.typing"
	EvtMessageNew   = "message.new"
	EvtTurnNext     = "turn.next"
	EvtRequestHuman = "turn.request_human"
	EvtFinished     = "session.finished"
	EvtError        = "error"
)

type ClientMessage struct {
	Type              string  `json:"type"`
	ClientID          string  `json:"client_id"`
	Text              string  `json:"text,omitempty"`
	LastSeenMessageID *string `json:"last_seen_message_id,omitempty"`
}

type Typing struct {
	Type string      `json:"type"`
	Seat engine.Seat `json:"seat"`
}

type MessageNew struct {
	Type      string      `json:"type"`
	MessageID string      `json:"message_id"`
	TurnIndex int         `json:"turn_index"`
	Seat      engine.Seat `json:"seat"`
	Text      string      `json:"text"`
}

type TurnNext struct {
	Type               string              `json:"type"`
	CurrentSpeakerSeat engine.Seat         `json:"current_speaker_seat"`
	TurnCounts         map[engine.Seat]int `json:"turn_counts"`
}

type RequestHuman struct {
	Type               string      `json:"type"`
	CurrentSpeakerSeat engine.Seat `json:"current_speaker_seat"`
	MaxChars           int         `json:"max_chars"`
	TimeoutSecs        int         `json:"timeout_secs"`
}

type Finished struct {
	Type  string         `json:"type"`
	Judge engine.Verdict `json:"judge"`
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewError(msg string) Error { return Error{Type: EvtError, Error: msg} }
