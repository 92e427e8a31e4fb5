package game

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/whoistalking-backend/internal/engine"
	"github.com/DoyleJ11/whoistalking-backend/internal/llm"
	"github.com/DoyleJ11/whoistalking-backend/internal/lobby"
	"github.com/DoyleJ11/whoistalking-backend/internal/prompt"
	"github.com/DoyleJ11/whoistalking-backend/internal/store"
	"github.com/DoyleJ11/whoistalking-backend/pkg/types"
)

// SpeakerFallback is said by an automated seat whose model call failed.
const SpeakerFallback = "음… 잠깐 생각이 끊겼네. 너는 어떻게 생각해?"

// PassMessages is the pool a timed-out human turn draws its placeholder from.
var PassMessages = []string{
	"잠깐 자리 비웠어. 다시 이어가자.",
	"아 미안, 딴 데 보느라 놓쳤어.",
	"잠시만, 뭐 좀 하고 올게.",
	"어… 방금 뭐라고 했지? 계속 얘기해줘.",
}

// commitTurnLocked records text as seat's turn, moves the turn on to the
// next seat (or to JUDGING) and tells every viewer. The caller holds the
// scope and has checked that seat is on turn in sess.
func (s *Service) commitTurnLocked(ctx context.Context, lb *lobby.Lobby, sess store.Session, seat engine.Seat, text string) error {
	ts, err := engine.CompleteTurn(sess.TurnState, seat)
	if err != nil {
		return err
	}
	msg, err := s.store.AppendMessage(ctx, sess.ID, seat, text, ts)
	if err != nil {
		return err
	}
	lb.Broadcast(toMessageNew(msg))

	next, ok := engine.PickNextSeat(ts.TurnCounts, sess.TurnsPerSpeaker, s.rng)
	if !ok {
		return s.setStatus(ctx, sess, engine.StatusJudging)
	}
	if ts, err = engine.Assign(ts, next, sess.TurnsPerSpeaker); err != nil {
		return err
	}
	if err := s.store.UpdateSession(ctx, sess.ID, store.SessionUpdate{TurnState: store.TurnStatePtr(ts)}); err != nil {
		return err
	}
	lb.Broadcast(types.TurnNext{
		Type:               types.EvtTurnNext,
		CurrentSpeakerSeat: next,
		TurnCounts:         ts.TurnCounts,
	})
	return nil
}

// runSpeakerTurn produces one automated utterance. The scope is held only
// while reading and committing; the model call and the typing pause run
// without it. It returns false when the driver should give up.
func (s *Service) runSpeakerTurn(lb *lobby.Lobby, seat engine.Seat, log *zap.Logger) bool {
	ctx := lb.Context()
	log = log.With(zap.String("seat", string(seat)))

	lb.Lock()
	sess, ok := s.sessionOnTurn(ctx, lb.ID(), seat)
	if !ok {
		lb.Unlock()
		return true
	}
	req, err := s.speakerRequest(ctx, sess, seat)
	lb.Unlock()
	if err != nil {
		log.Error("build speaker prompt", zap.Error(err))
		return false
	}

	text, err := s.llm.Chat(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Warn("speaker call failed, using fallback", zap.Error(err))
		text = SpeakerFallback
	}
	lb.Broadcast(types.Typing{Type: types.EvtTyping, Seat: seat})

	text = engine.Clamp(text, sess.MaxChars)
	if text == "" {
		text = engine.Clamp(SpeakerFallback, sess.MaxChars)
	}
	delay := engine.TypingDelay(text, s.opts.TypingDelayPerChar, s.opts.TypingDelayMin, s.opts.TypingDelayMax)
	if !sleepCtx(ctx, delay) {
		return false
	}

	lb.Lock()
	defer lb.Unlock()
	sess, ok = s.sessionOnTurn(ctx, lb.ID(), seat)
	if !ok {
		log.Debug("turn moved on while speaking, dropping utterance")
		return true
	}
	if err := s.commitTurnLocked(ctx, lb, sess, seat, text); err != nil {
		log.Error("commit speaker turn", zap.Error(err))
		return false
	}
	return true
}

func (s *Service) speakerRequest(ctx context.Context, sess store.Session, seat engine.Seat) (llm.Request, error) {
	parts, err := s.store.ListParticipants(ctx, sess.ID)
	if err != nil {
		return llm.Request{}, err
	}
	var persona string
	for _, p := range parts {
		if p.Seat == seat {
			persona = p.Persona
		}
	}
	history, err := s.lines(ctx, sess.ID)
	if err != nil {
		return llm.Request{}, err
	}
	return llm.Request{
		Model: s.opts.SpeakerModel,
		Messages: prompt.Speaker(prompt.SpeakerInput{
			Topic:      sess.Topic,
			Seat:       seat,
			Persona:    persona,
			Difficulty: sess.Difficulty,
			MaxChars:   sess.MaxChars,
			History:    history,
		}),
		Temperature: s.opts.SpeakerTemperature,
		MaxTokens:   s.opts.SpeakerMaxTokens,
	}, nil
}

// HandleHumanMessage commits text as the human's turn. It returns
// ErrNotHumanTurn when the session is not waiting on seat A, in which case
// nothing changes.
func (s *Service) HandleHumanMessage(ctx context.Context, sessionID, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	lb, err := s.lobbyFor(ctx, sessionID)
	if err != nil {
		return err
	}

	lb.Lock()
	sess, ok := s.sessionOnTurn(ctx, sessionID, engine.HumanSeat)
	if !ok {
		lb.Unlock()
		return ErrNotHumanTurn
	}
	lb.CancelTimeout()
	err = s.commitTurnLocked(ctx, lb, sess, engine.HumanSeat, engine.Clamp(text, sess.MaxChars))
	lb.Unlock()

	// on failure the seat is still on turn and the driver re-arms the timeout
	s.ensureDriver(lb)
	return err
}

// handleTimeout runs when the human let the clock run out. It commits a
// placeholder through the same path a real message takes. turnIndex is the
// index the timeout was armed at; a timer that lost the race against a real
// message finds the index moved on and does nothing.
func (s *Service) handleTimeout(lb *lobby.Lobby, turnIndex int) {
	ctx := lb.Context()
	log := s.log.With(zap.String("session_id", lb.ID()))

	lb.Lock()
	sess, ok := s.sessionOnTurn(ctx, lb.ID(), engine.HumanSeat)
	if !ok || sess.TurnState.TurnIndex != turnIndex {
		lb.Unlock()
		return
	}
	// a nudge may have armed a second timer for this turn while we waited
	lb.CancelTimeout()
	text := engine.Clamp(PassMessages[s.rng.IntN(len(PassMessages))], sess.MaxChars)
	err := s.commitTurnLocked(ctx, lb, sess, engine.HumanSeat, text)
	lb.Unlock()
	if err != nil {
		log.Error("commit timeout placeholder", zap.Error(err))
		return
	}
	log.Info("human turn timed out")

	s.ensureDriver(lb)
}

// sessionOnTurn loads the session and reports whether it is IN_PROGRESS with
// seat on turn. The caller holds the scope.
func (s *Service) sessionOnTurn(ctx context.Context, sessionID string, seat engine.Seat) (store.Session, bool) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && ctx.Err() == nil {
			s.log.Error("load session", zap.String("session_id", sessionID), zap.Error(err))
		}
		return store.Session{}, false
	}
	if sess.Status != engine.StatusInProgress || !sess.TurnState.OnTurn(seat) {
		return sess, false
	}
	return sess, true
}

func (s *Service) lines(ctx context.Context, sessionID string) ([]prompt.Line, error) {
	msgs, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]prompt.Line, len(msgs))
	for i, m := range msgs {
		out[i] = prompt.Line{Seat: m.Seat, Text: m.Text}
	}
	return out, nil
}

func toMessageNew(m store.Message) types.MessageNew {
	return types.MessageNew{
		Type:      types.EvtMessageNew,
		MessageID: m.ID,
		TurnIndex: m.TurnIndex,
		Seat:      m.Seat,
		Text:      m.Text,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
