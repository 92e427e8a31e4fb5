package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/whoistalking-backend/internal/game"
	"github.com/DoyleJ11/whoistalking-backend/pkg/types"
)

type createSessionRequest struct {
	Topic           string `json:"topic"`
	NumLLMSpeakers  int    `json:"num_llm_speakers"`
	TurnsPerSpeaker int    `json:"turns_per_speaker"`
	MaxChars        int    `json:"max_chars"`
	Difficulty      string `json:"difficulty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	WSURL     string `json:"ws_url"`
}

type messagesResponse struct {
	SessionID string             `json:"session_id"`
	Messages  []types.MessageNew `json:"messages"`
}

type resultResponse struct {
	SessionID  string  `json:"session_id"`
	PickSeat   string  `json:"pick_seat"`
	Confidence float64 `json:"confidence"`
	Why        string  `json:"why"`
}

// CreateSession takes the session knobs; omitted or zero fields take their
// defaults.
func CreateSession(svc *game.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		sess, err := svc.CreateSession(r.Context(), game.CreateParams{
			Topic:           req.Topic,
			NumSpeakers:     req.NumLLMSpeakers,
			TurnsPerSpeaker: req.TurnsPerSpeaker,
			MaxChars:        req.MaxChars,
			Difficulty:      req.Difficulty,
		})
		if errors.Is(err, game.ErrInvalidParams) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			log.Error("create session", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to create session")
			return
		}
		writeJSON(w, http.StatusCreated, createSessionResponse{
			SessionID: sess.ID,
			WSURL:     "/ws/sessions/" + sess.ID,
		})
	}
}

func GetSession(svc *game.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := svc.Snapshot(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func GetMessages(svc *game.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")
		msgs, err := svc.Messages(r.Context(), id)
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		if msgs == nil {
			msgs = []types.MessageNew{}
		}
		writeJSON(w, http.StatusOK, messagesResponse{SessionID: id, Messages: msgs})
	}
}

func GetResult(svc *game.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")
		v, err := svc.Result(r.Context(), id)
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, resultResponse{
			SessionID:  id,
			PickSeat:   string(v.PickSeat),
			Confidence: v.Confidence,
			Why:        v.Why,
		})
	}
}

func DeleteSession(svc *game.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
			writeServiceError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, game.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, game.ErrResultNotReady):
		writeError(w, http.StatusNotFound, "result not ready")
	default:
		log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
