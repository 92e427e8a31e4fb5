package game

import (
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/whoistalking-backend/internal/engine"
	"github.com/DoyleJ11/whoistalking-backend/internal/llm"
	"github.com/DoyleJ11/whoistalking-backend/internal/lobby"
	"github.com/DoyleJ11/whoistalking-backend/internal/prompt"
	"github.com/DoyleJ11/whoistalking-backend/internal/store"
	"github.com/DoyleJ11/whoistalking-backend/pkg/types"
)

// runJudging asks the judge model who the human was, records the verdict
// and finishes the session. The scope is released around the model call;
// the status is checked again before anything is written. It returns false
// when the driver should give up.
func (s *Service) runJudging(lb *lobby.Lobby, log *zap.Logger) bool {
	ctx := lb.Context()

	lb.Lock()
	sess, err := s.store.GetSession(ctx, lb.ID())
	if err != nil {
		lb.Unlock()
		return false
	}
	if sess.Status != engine.StatusJudging {
		lb.Unlock()
		return true
	}
	parts, err := s.store.ListParticipants(ctx, sess.ID)
	if err != nil {
		lb.Unlock()
		log.Error("list participants", zap.Error(err))
		return false
	}
	history, err := s.lines(ctx, sess.ID)
	lb.Unlock()
	if err != nil {
		log.Error("load transcript", zap.Error(err))
		return false
	}

	var seats []engine.Seat
	for _, p := range parts {
		if p.Type != engine.ParticipantJudge {
			seats = append(seats, p.Seat)
		}
	}

	raw, err := s.llm.Chat(ctx, llm.Request{
		Model:       s.opts.JudgeModel,
		Messages:    prompt.Judge(sess.Topic, seats, history),
		Temperature: s.opts.JudgeTemperature,
		MaxTokens:   s.opts.JudgeMaxTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Warn("judge call failed, using fallback verdict", zap.Error(err))
		raw = engine.FallbackVerdictText(seats)
	}
	verdict := engine.ParseVerdict(raw, seats)
	verdict.Why = engine.Clamp(verdict.Why, sess.MaxChars)

	lb.Lock()
	defer lb.Unlock()
	sess, err = s.store.GetSession(ctx, lb.ID())
	if err != nil {
		return false
	}
	if sess.Status != engine.StatusJudging {
		return true
	}
	err = s.store.SaveResult(ctx, store.Result{
		SessionID:  sess.ID,
		PickSeat:   verdict.PickSeat,
		Confidence: verdict.Confidence,
		Why:        verdict.Why,
	})
	switch {
	case errors.Is(err, store.ErrResultExists):
		// keep the first verdict; finish below so the session does not stall
		if prev, gerr := s.store.GetResult(ctx, sess.ID); gerr == nil {
			verdict = toVerdict(prev)
		}
	case err != nil:
		log.Error("save result", zap.Error(err))
		return false
	}
	if err := s.setStatus(ctx, sess, engine.StatusFinished); err != nil {
		log.Error("finish session", zap.Error(err))
		return false
	}
	log.Info("session finished",
		zap.String("pick_seat", string(verdict.PickSeat)),
		zap.Float64("confidence", verdict.Confidence),
	)
	lb.Broadcast(types.Finished{Type: types.EvtFinished, Judge: verdict})
	// viewers still connected keep the lobby until they leave
	s.hub.RemoveIdle(lb.ID())
	return true
}

func toVerdict(r store.Result) engine.Verdict {
	return engine.Verdict{PickSeat: r.PickSeat, Confidence: r.Confidence, Why: r.Why}
}
