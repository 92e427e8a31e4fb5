package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/whoistalking-backend/internal/engine"
	"github.com/DoyleJ11/whoistalking-backend/internal/lobby"
	"github.com/DoyleJ11/whoistalking-backend/internal/store"
	"github.com/DoyleJ11/whoistalking-backend/pkg/types"
)

// Attach registers c as clientID's connection to the session. A previous
// connection under the same id is closed.
func (s *Service) Attach(ctx context.Context, sessionID, clientID string, c lobby.Conn) error {
	lb, err := s.lobbyFor(ctx, sessionID)
	if err != nil {
		return err
	}
	lb.Register(clientID, c)
	return nil
}

// Detach forgets c, unless clientID has since reconnected on another conn.
// The last viewer leaving a finished session releases its lobby.
func (s *Service) Detach(sessionID, clientID string, c lobby.Conn) {
	lb := s.hub.Get(sessionID)
	if lb == nil {
		return
	}
	lb.Unregister(clientID, c)
	if lb.NumClients() > 0 {
		return
	}
	sess, err := s.store.GetSession(context.Background(), sessionID)
	if err == nil && sess.Status == engine.StatusFinished {
		s.hub.RemoveIdle(sessionID)
	}
}

// Snapshot returns the public view of a session.
func (s *Service) Snapshot(ctx context.Context, sessionID string) (types.Snapshot, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return types.Snapshot{}, ErrSessionNotFound
	}
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("load session: %w", err)
	}
	parts, err := s.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("list participants: %w", err)
	}
	return buildSnapshot(sess, parts), nil
}

// Messages returns the transcript in turn order.
func (s *Service) Messages(ctx context.Context, sessionID string) ([]types.MessageNew, error) {
	if ok, err := s.Exists(ctx, sessionID); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrSessionNotFound
	}
	msgs, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]types.MessageNew, len(msgs))
	for i, m := range msgs {
		out[i] = toMessageNew(m)
	}
	return out, nil
}

// Result returns the judge's verdict once the session has finished.
func (s *Service) Result(ctx context.Context, sessionID string) (engine.Verdict, error) {
	if ok, err := s.Exists(ctx, sessionID); err != nil {
		return engine.Verdict{}, err
	} else if !ok {
		return engine.Verdict{}, ErrSessionNotFound
	}
	r, err := s.store.GetResult(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return engine.Verdict{}, ErrResultNotReady
	}
	if err != nil {
		return engine.Verdict{}, err
	}
	return toVerdict(r), nil
}

// Replay is what a resuming client is sent: the current snapshot, the
// messages it missed and, for a finished session, the verdict.
type Replay struct {
	Snapshot types.Snapshot
	Missed   []types.MessageNew
	Finished *types.Finished
}

// Replay collects everything after lastSeenID. A nil or unknown id replays
// the whole transcript.
func (s *Service) Replay(ctx context.Context, sessionID string, lastSeenID *string) (Replay, error) {
	snap, err := s.Snapshot(ctx, sessionID)
	if err != nil {
		return Replay{}, err
	}
	after := 0
	if lastSeenID != nil && *lastSeenID != "" {
		idx, err := s.store.MessageTurnIndex(ctx, sessionID, *lastSeenID)
		switch {
		case err == nil:
			after = idx
		case !errors.Is(err, store.ErrNotFound):
			return Replay{}, err
		}
	}
	msgs, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return Replay{}, err
	}
	out := Replay{Snapshot: snap}
	for _, m := range msgs {
		if m.TurnIndex > after {
			out.Missed = append(out.Missed, toMessageNew(m))
		}
	}
	if snap.Status == engine.StatusFinished {
		if r, err := s.store.GetResult(ctx, sessionID); err == nil {
			out.Finished = &types.Finished{Type: types.EvtFinished, Judge: toVerdict(r)}
		}
	}
	return out, nil
}

func buildSnapshot(sess store.Session, parts []store.Participant) types.Snapshot {
	seats := make([]types.PublicSeat, 0, len(parts))
	for _, p := range parts {
		if p.Type == engine.ParticipantJudge {
			continue
		}
		seats = append(seats, types.PublicSeat{Seat: p.Seat})
	}
	ts := sess.TurnState.Clone()
	return types.Snapshot{
		Type:               types.EvtState,
		SessionID:          sess.ID,
		Status:             sess.Status,
		Topic:              sess.Topic,
		Participants:       seats,
		TurnsPerSpeaker:    sess.TurnsPerSpeaker,
		TurnCounts:         ts.TurnCounts,
		CurrentSpeakerSeat: ts.CurrentSpeakerSeat,
		MaxChars:           sess.MaxChars,
	}
}
