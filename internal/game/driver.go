package game

import (
	"context"
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/DoyleJ11/whoistalking-backend/internal/engine"
	"github.com/DoyleJ11/whoistalking-backend/internal/lobby"
	"github.com/DoyleJ11/whoistalking-backend/internal/store"
	"github.com/DoyleJ11/whoistalking-backend/pkg/types"
)

// EnsureDriver starts the session's driver unless one is already running.
func (s *Service) EnsureDriver(ctx context.Context, sessionID string) error {
	lb, err := s.lobbyFor(ctx, sessionID)
	if err != nil {
		return err
	}
	s.ensureDriver(lb)
	return nil
}

func (s *Service) ensureDriver(lb *lobby.Lobby) {
	lb.Lock()
	start := lb.TryStartDriver()
	lb.Unlock()
	if !start {
		return
	}
	if !s.goDriver(func() { s.drive(lb) }) {
		lb.Lock()
		lb.DriverStopped()
		lb.Unlock()
	}
}

type actionKind int

const (
	actStop actionKind = iota
	actSpeak
	actJudge
)

type action struct {
	kind actionKind
	seat engine.Seat
}

func (s *Service) drive(lb *lobby.Lobby) {
	log := s.log.With(zap.String("session_id", lb.ID()))
	log.Debug("driver started")
	defer log.Debug("driver stopped")

	for {
		act := s.step(lb, log)
		ok := true
		switch act.kind {
		case actStop:
			return
		case actSpeak:
			ok = s.runSpeakerTurn(lb, act.seat, log)
		case actJudge:
			ok = s.runJudging(lb, log)
		}
		if !ok {
			// a later join or message nudges a fresh driver
			lb.Lock()
			lb.DriverStopped()
			lb.Unlock()
			return
		}
	}
}

// step advances the session under the scope until it needs a network call
// or has nothing left to do. On stop it clears the driver flag before
// releasing the scope.
func (s *Service) step(lb *lobby.Lobby, log *zap.Logger) action {
	ctx := lb.Context()
	lb.Lock()
	defer lb.Unlock()

	stop := func() action {
		lb.DriverStopped()
		return action{kind: actStop}
	}

	for {
		if ctx.Err() != nil {
			return stop()
		}
		sess, err := s.store.GetSession(ctx, lb.ID())
		if errors.Is(err, store.ErrNotFound) {
			return stop()
		}
		if err != nil {
			log.Error("load session", zap.Error(err))
			return stop()
		}

		switch sess.Status {
		case engine.StatusLobby:
			if err := s.setStatus(ctx, sess, engine.StatusInProgress); err != nil {
				log.Error("start session", zap.Error(err))
				return stop()
			}
			log.Info("session started")
			continue
		case engine.StatusFinished:
			return stop()
		case engine.StatusJudging:
			return action{kind: actJudge}
		}

		ts := sess.TurnState
		if ts.CurrentSpeakerSeat == nil {
			next, ok := engine.PickNextSeat(ts.TurnCounts, sess.TurnsPerSpeaker, s.rng)
			if !ok {
				if err := s.setStatus(ctx, sess, engine.StatusJudging); err != nil {
					log.Error("start judging", zap.Error(err))
					return stop()
				}
				continue
			}
			if ts, err = engine.Assign(ts, next, sess.TurnsPerSpeaker); err != nil {
				log.Error("assign seat", zap.String("seat", string(next)), zap.Error(err))
				return stop()
			}
			if err := s.store.UpdateSession(ctx, sess.ID, store.SessionUpdate{TurnState: store.TurnStatePtr(ts)}); err != nil {
				log.Error("save turn state", zap.Error(err))
				return stop()
			}
			sess.TurnState = ts
			parts, err := s.store.ListParticipants(ctx, sess.ID)
			if err != nil {
				log.Error("list participants", zap.Error(err))
				return stop()
			}
			lb.Broadcast(buildSnapshot(sess, parts))
		}

		seat := *ts.CurrentSpeakerSeat
		ptype, err := s.seatType(ctx, sess.ID, seat)
		if err != nil {
			log.Error("seat lookup", zap.String("seat", string(seat)), zap.Error(err))
			return stop()
		}
		switch ptype {
		case engine.ParticipantHuman:
			// a join while the human is thinking must not restart their clock,
			// but a timer left from an earlier turn is replaced
			if !lb.TimeoutPendingFor(ts.TurnIndex) {
				lb.Broadcast(types.RequestHuman{
					Type:               types.EvtRequestHuman,
					CurrentSpeakerSeat: seat,
					MaxChars:           sess.MaxChars,
					TimeoutSecs:        int(math.Ceil(s.opts.HumanTurnTimeout.Seconds())),
				})
				armedAt := ts.TurnIndex
				lb.ArmTimeout(s.opts.HumanTurnTimeout, armedAt, func() { s.handleTimeout(lb, armedAt) })
			}
			return stop()
		case engine.ParticipantSpeaker:
			return action{kind: actSpeak, seat: seat}
		default:
			log.Error("judge seat on turn", zap.String("seat", string(seat)))
			return stop()
		}
	}
}

func (s *Service) setStatus(ctx context.Context, sess store.Session, to engine.Status) error {
	if err := engine.Transition(sess.Status, to); err != nil {
		return err
	}
	return s.store.UpdateSession(ctx, sess.ID, store.SessionUpdate{Status: store.StatusPtr(to)})
}

func (s *Service) seatType(ctx context.Context, sessionID string, seat engine.Seat) (engine.ParticipantType, error) {
	parts, err := s.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return "", err
	}
	for _, p := range parts {
		if p.Seat == seat {
			return p.Type, nil
		}
	}
	return "", engine.ErrUnknownSeat
}
