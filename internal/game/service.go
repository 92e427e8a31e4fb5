// Package game runs sessions: it owns the per-session driver, the shared
// turn-commit path, the human timeout handler and the judging step, and it
// is the only writer of session state.
package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/whoistalking-backend/internal/hub"
	"github.com/DoyleJ11/whoistalking-backend/internal/llm"
	"github.com/DoyleJ11/whoistalking-backend/internal/lobby"
	"github.com/DoyleJ11/whoistalking-backend/internal/store"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrShuttingDown    = errors.New("server is shutting down")
	ErrNotHumanTurn    = errors.New("not the human's turn")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrResultNotReady  = errors.New("result not ready")
)

// Options tunes the models and pacing. Zero values fall back to defaults.
type Options struct {
	SpeakerModel       string
	JudgeModel         string
	SpeakerTemperature float64
	JudgeTemperature   float64
	SpeakerMaxTokens   int
	JudgeMaxTokens     int

	HumanTurnTimeout time.Duration

	TypingDelayPerChar time.Duration
	TypingDelayMin     time.Duration
	TypingDelayMax     time.Duration

	// Rand overrides the source used for turn order, personas and
	// placeholder picks. Tests set it for determinism.
	Rand *rand.Rand
}

func (o Options) withDefaults() Options {
	if o.SpeakerModel == "" {
		o.SpeakerModel = "gpt-4o-mini"
	}
	if o.JudgeModel == "" {
		o.JudgeModel = "gpt-4o-mini"
	}
	if o.SpeakerMaxTokens <= 0 {
		o.SpeakerMaxTokens = 128
	}
	if o.JudgeMaxTokens <= 0 {
		o.JudgeMaxTokens = 128
	}
	if o.HumanTurnTimeout <= 0 {
		o.HumanTurnTimeout = 60 * time.Second
	}
	if o.TypingDelayMax < o.TypingDelayMin {
		o.TypingDelayMax = o.TypingDelayMin
	}
	return o
}

type Service struct {
	store store.Store
	llm   llm.Client
	hub   *hub.Hub
	opts  Options
	rng   *lockedRand
	log   *zap.Logger

	mu      sync.Mutex
	closing bool
	drivers sync.WaitGroup
}

func NewService(st store.Store, client llm.Client, h *hub.Hub, opts Options, log *zap.Logger) *Service {
	opts = opts.withDefaults()
	src := opts.Rand
	if src == nil {
		src = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	return &Service{
		store: st,
		llm:   client,
		hub:   h,
		opts:  opts,
		rng:   &lockedRand{r: src},
		log:   log.Named("game"),
	}
}

// lobbyFor returns the live lobby for a session that exists in the store.
// Unknown ids never get a lobby.
func (s *Service) lobbyFor(ctx context.Context, sessionID string) (*lobby.Lobby, error) {
	if lb := s.hub.Get(sessionID); lb != nil {
		return lb, nil
	}
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	lb := s.hub.Ensure(sessionID)
	if lb == nil {
		return nil, ErrShuttingDown
	}
	// a delete that ran between the check and Ensure must not leave a lobby
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.hub.Remove(sessionID)
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return lb, nil
}

// Exists reports whether the session is known, without creating a lobby.
func (s *Service) Exists(ctx context.Context, sessionID string) (bool, error) {
	_, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ResumeActive nudges a driver for every session left unfinished by a
// previous run. Sessions waiting on the human get a fresh timeout.
func (s *Service) ResumeActive(ctx context.Context) error {
	ids, err := s.store.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}
	for _, id := range ids {
		if err := s.EnsureDriver(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			return err
		}
	}
	if len(ids) > 0 {
		s.log.Info("resumed active sessions", zap.Int("count", len(ids)))
	}
	return nil
}

// DeleteSession removes the session and tears down its lobby. A driver in
// flight sees its context cancelled and stops.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	s.hub.Remove(sessionID)
	s.log.Info("session deleted", zap.String("session_id", sessionID))
	return nil
}

// Close stops new drivers from starting and waits for running ones. Callers
// shut the hub down first so drivers see their contexts cancelled.
func (s *Service) Close() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.drivers.Wait()
}

func (s *Service) goDriver(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.drivers.Add(1)
	go func() {
		defer s.drivers.Done()
		fn()
	}()
	return true
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}
