// Package ws serves the per-session websocket at /ws/sessions/{sessionID}.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/whoistalking-backend/internal/game"
	"github.com/DoyleJ11/whoistalking-backend/pkg/types"
)

type Options struct {
	// OriginPatterns is passed to websocket.Accept. Empty means same-origin
	// only.
	OriginPatterns []string
}

func Handler(svc *game.Service, opts Options, log *zap.Logger) http.HandlerFunc {
	log = log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		ok, err := svc.Exists(r.Context(), sessionID)
		if err != nil {
			log.Error("session lookup", zap.String("session_id", sessionID), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		wsc, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			return
		}
		defer wsc.CloseNow()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		c := newConn(wsc)
		go c.writeLoop(ctx, log)
		defer func() {
			_ = c.Close()
			<-c.stopped
		}()

		s := &socket{svc: svc, sessionID: sessionID, conn: c, ctx: ctx, log: log.With(zap.String("session_id", sessionID))}
		defer s.detach()

		for {
			_, data, err := wsc.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					s.log.Debug("read ended", zap.Error(err))
				}
				return
			}
			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				s.reply(types.NewError("bad json"))
				continue
			}
			if !s.handle(ctx, cm) {
				return
			}
		}
	}
}

// socket is the state of one websocket connection.
type socket struct {
	svc       *game.Service
	sessionID string
	conn      *conn
	ctx       context.Context
	clientID  string
	log       *zap.Logger
}

// handle dispatches one inbound message. It returns false when the
// connection should be dropped.
func (s *socket) handle(ctx context.Context, cm types.ClientMessage) bool {
	switch cm.Type {
	case types.EvtJoin, types.EvtResume, types.EvtHumanMessage, types.EvtRequestState:
	default:
		s.reply(types.NewError("unknown type"))
		return true
	}
	if cm.ClientID == "" {
		s.reply(types.NewError("missing client_id"))
		return true
	}

	var err error
	switch cm.Type {
	case types.EvtJoin:
		err = s.join(ctx, cm.ClientID, nil, false)
	case types.EvtResume:
		err = s.join(ctx, cm.ClientID, cm.LastSeenMessageID, true)
	case types.EvtRequestState:
		var snap types.Snapshot
		if snap, err = s.svc.Snapshot(ctx, s.sessionID); err == nil {
			s.reply(snap)
		}
	case types.EvtHumanMessage:
		err = s.svc.HandleHumanMessage(ctx, s.sessionID, cm.Text)
		switch {
		case errors.Is(err, game.ErrNotHumanTurn):
			s.log.Debug("ignoring out of turn message", zap.String("client_id", cm.ClientID))
			err = nil
		case errors.Is(err, game.ErrEmptyMessage):
			s.reply(types.NewError("empty message"))
			err = nil
		}
	}

	switch {
	case err == nil:
		return true
	case errors.Is(err, game.ErrSessionNotFound):
		s.reply(types.NewError("session not found"))
		return false
	case errors.Is(err, game.ErrShuttingDown):
		return false
	default:
		s.log.Error("handle message", zap.String("type", cm.Type), zap.Error(err))
		s.reply(types.NewError("internal error"))
		return true
	}
}

// join registers the connection under clientID, sends the snapshot (and on
// resume the missed messages) and nudges the driver.
func (s *socket) join(ctx context.Context, clientID string, lastSeen *string, resume bool) error {
	if s.clientID != "" && s.clientID != clientID {
		s.detach()
	}
	if err := s.svc.Attach(ctx, s.sessionID, clientID, s.conn); err != nil {
		return err
	}
	s.clientID = clientID

	if resume {
		replay, err := s.svc.Replay(ctx, s.sessionID, lastSeen)
		if err != nil {
			return err
		}
		s.reply(replay.Snapshot)
		for _, m := range replay.Missed {
			s.reply(m)
		}
		if replay.Finished != nil {
			s.reply(*replay.Finished)
		}
	} else {
		snap, err := s.svc.Snapshot(ctx, s.sessionID)
		if err != nil {
			return err
		}
		s.reply(snap)
	}
	return s.svc.EnsureDriver(ctx, s.sessionID)
}

func (s *socket) detach() {
	if s.clientID != "" {
		s.svc.Detach(s.sessionID, s.clientID, s.conn)
	}
}

func (s *socket) reply(payload any) {
	if err := s.conn.queue(s.ctx, payload); err != nil {
		s.log.Debug("reply dropped", zap.Error(err))
	}
}
