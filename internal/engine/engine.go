package engine

import (
	"errors"
	"maps"
)

var ErrWrongTurn = errors.New("seat is not on turn")
var ErrUnknownSeat = errors.New("unknown seat")
var ErrTurnsExhausted = errors.New("seat has no turns left")
var ErrIllegalTransition = errors.New("illegal status transition")

type Status string

const (
	StatusLobby      Status = "LOBBY"
	StatusInProgress Status = "IN_PROGRESS"
	StatusJudging    Status = "JUDGING"
	StatusFinished   Status = "FINISHED"
)

// Next returns the only status a session may move to from s.
// FINISHED has no successor.
func (s Status) Next() (Status, bool) {
	switch s {
	case StatusLobby:
		return StatusInProgress, true
	case StatusInProgress:
		return StatusJudging, true
	case StatusJudging:
		return StatusFinished, true
	default:
		return "", false
	}
}

// Active reports whether a driver still has work to do for the status.
func (s Status) Active() bool {
	return s == StatusLobby || s == StatusInProgress || s == StatusJudging
}

// Transition validates a forward, skip-free status change.
func Transition(from, to Status) error {
	next, ok := from.Next()
	if !ok || next != to {
		return ErrIllegalTransition
	}
	return nil
}

type Seat string

type ParticipantType string

const (
	ParticipantHuman   ParticipantType = "human"
	ParticipantSpeaker ParticipantType = "llm_speaker"
	ParticipantJudge   ParticipantType = "judge"
)

type TurnState struct {
	CurrentSpeakerSeat *Seat        `json:"current_speaker_seat"`
	TurnCounts         map[Seat]int `json:"turn_counts"`
	TurnIndex          int          `json:"turn_index"`
}

// Clone returns a deep copy so callers can mutate freely.
func (s TurnState) Clone() TurnState {
	out := TurnState{
		TurnCounts: maps.Clone(s.TurnCounts),
		TurnIndex:  s.TurnIndex,
	}
	if out.TurnCounts == nil {
		out.TurnCounts = map[Seat]int{}
	}
	if s.CurrentSpeakerSeat != nil {
		seat := *s.CurrentSpeakerSeat
		out.CurrentSpeakerSeat = &seat
	}
	return out
}

// OnTurn reports whether seat is the current speaker.
func (s TurnState) OnTurn(seat Seat) bool {
	return s.CurrentSpeakerSeat != nil && *s.CurrentSpeakerSeat == seat
}

// Assign puts seat on turn.
func Assign(s TurnState, seat Seat, turnsPerSpeaker int) (TurnState, error) {
	count, ok := s.TurnCounts[seat]
	if !ok {
		return s, ErrUnknownSeat
	}
	if count >= turnsPerSpeaker {
		return s, ErrTurnsExhausted
	}
	next := s.Clone()
	next.CurrentSpeakerSeat = &seat
	return next, nil
}

// CompleteTurn records a finished turn for the seat on turn. The returned
// state carries the turn index that the new message must be stored under.
func CompleteTurn(s TurnState, seat Seat) (TurnState, error) {
	if !s.OnTurn(seat) {
		return s, ErrWrongTurn
	}
	if _, ok := s.TurnCounts[seat]; !ok {
		return s, ErrUnknownSeat
	}
	next := s.Clone()
	next.TurnIndex++
	next.TurnCounts[seat]++
	next.CurrentSpeakerSeat = nil
	return next, nil
}
