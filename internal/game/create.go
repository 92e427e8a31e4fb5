package game

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/DoyleJ11/whoistalking-backend/internal/engine"
	"github.com/DoyleJ11/whoistalking-backend/internal/prompt"
	"github.com/DoyleJ11/whoistalking-backend/internal/store"
)

var ErrInvalidParams = errors.New("invalid session parameters")

const (
	DefaultSpeakers        = 1
	DefaultTurnsPerSpeaker = 5
	DefaultDifficulty      = "normal"
)

// CreateParams are the knobs a new session accepts. Zero numeric fields and
// an empty difficulty take their defaults.
type CreateParams struct {
	Topic           string
	NumSpeakers     int
	TurnsPerSpeaker int
	MaxChars        int
	Difficulty      string
}

func (p *CreateParams) normalize() error {
	p.Topic = strings.TrimSpace(p.Topic)
	if p.NumSpeakers == 0 {
		p.NumSpeakers = DefaultSpeakers
	}
	if p.TurnsPerSpeaker == 0 {
		p.TurnsPerSpeaker = DefaultTurnsPerSpeaker
	}
	if p.MaxChars == 0 {
		p.MaxChars = engine.DefaultMaxChars
	}
	if p.Difficulty == "" {
		p.Difficulty = DefaultDifficulty
	}

	switch {
	case p.Topic == "":
		return fmt.Errorf("%w: topic is required", ErrInvalidParams)
	case p.NumSpeakers < 1 || p.NumSpeakers > 8:
		return fmt.Errorf("%w: num_llm_speakers must be between 1 and 8", ErrInvalidParams)
	case p.TurnsPerSpeaker < 1 || p.TurnsPerSpeaker > 50:
		return fmt.Errorf("%w: turns_per_speaker must be between 1 and 50", ErrInvalidParams)
	case p.MaxChars < 20 || p.MaxChars > 400:
		return fmt.Errorf("%w: max_chars must be between 20 and 400", ErrInvalidParams)
	}
	switch p.Difficulty {
	case "easy", "normal", "hard":
	default:
		return fmt.Errorf("%w: difficulty must be easy, normal or hard", ErrInvalidParams)
	}
	return nil
}

// CreateSession stores a LOBBY session with the human at seat A, one seat
// per automated speaker with a random persona, and the judge at J. No driver
// starts until someone joins.
func (s *Service) CreateSession(ctx context.Context, p CreateParams) (store.Session, error) {
	if err := p.normalize(); err != nil {
		return store.Session{}, err
	}
	seats := engine.SeatLabels(p.NumSpeakers)
	parts := make([]store.Participant, 0, len(seats)+1)
	parts = append(parts, store.Participant{Seat: engine.HumanSeat, Type: engine.ParticipantHuman})
	for _, seat := range seats[1:] {
		parts = append(parts, store.Participant{
			Seat:    seat,
			Type:    engine.ParticipantSpeaker,
			Persona: prompt.PickPersona(s.rng),
		})
	}
	parts = append(parts, store.Participant{Seat: engine.JudgeSeat, Type: engine.ParticipantJudge})

	sess, err := s.store.CreateSession(ctx, store.NewSession{
		Topic:           p.Topic,
		TurnsPerSpeaker: p.TurnsPerSpeaker,
		MaxChars:        p.MaxChars,
		Difficulty:      p.Difficulty,
		TurnState:       engine.NewTurnState(seats),
		Participants:    parts,
	})
	if err != nil {
		return store.Session{}, fmt.Errorf("create session: %w", err)
	}
	s.log.Info("session created",
		zap.String("session_id", sess.ID),
		zap.Int("speakers", p.NumSpeakers),
		zap.Int("turns_per_speaker", p.TurnsPerSpeaker),
		zap.String("difficulty", p.Difficulty),
	)
	return sess, nil
}
