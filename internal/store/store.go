// Package store defines the persistence boundary for sessions, participants,
// messages and judge results.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/whoistalking-backend/internal/engine"
)

var ErrNotFound = errors.New("not found")
var ErrResultExists = errors.New("result already recorded")

type Session struct {
	ID              string
	Topic           string
	Status          engine.Status
	TurnsPerSpeaker int
	MaxChars        int
	Difficulty      string
	TurnState       engine.TurnState
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Participant struct {
	SessionID string
	Seat      engine.Seat
	Type      engine.ParticipantType
	Persona   string
}

type Message struct {
	ID        string
	SessionID string
	Seat      engine.Seat
	TurnIndex int
	Text      string
	CreatedAt time.Time
}

type Result struct {
	SessionID  string
	PickSeat   engine.Seat
	Confidence float64
	Why        string
}

// NewSession is everything needed to create a session in one write.
type NewSession struct {
	Topic           string
	TurnsPerSpeaker int
	MaxChars        int
	Difficulty      string
	TurnState       engine.TurnState
	Participants    []Participant
}

// SessionUpdate changes status and/or turn state. Nil fields are left alone.
type SessionUpdate struct {
	Status    *engine.Status
	TurnState *engine.TurnState
}

type Store interface {
	CreateSession(ctx context.Context, in NewSession) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	UpdateSession(ctx context.Context, id string, upd SessionUpdate) error
	DeleteSession(ctx context.Context, id string) error
	// ListActiveSessions returns ids of sessions that are not FINISHED.
	ListActiveSessions(ctx context.Context) ([]string, error)

	ListParticipants(ctx context.Context, sessionID string) ([]Participant, error)

	// AppendMessage stores text for seat under ts.TurnIndex and saves ts as
	// the session's turn state, atomically.
	AppendMessage(ctx context.Context, sessionID string, seat engine.Seat, text string, ts engine.TurnState) (Message, error)
	// ListMessages returns messages ordered by turn index.
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
	MessageTurnIndex(ctx context.Context, sessionID, messageID string) (int, error)

	SaveResult(ctx context.Context, r Result) error
	GetResult(ctx context.Context, sessionID string) (Result, error)

	Close() error
}

// StatusPtr and TurnStatePtr help build a SessionUpdate inline.
func StatusPtr(s engine.Status) *engine.Status { return &s }

func TurnStatePtr(ts engine.TurnState) *engine.TurnState { return &ts }
