package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/whoistalking-backend/internal/game"
	"github.com/DoyleJ11/whoistalking-backend/internal/ws"
)

func SetupRoutes(svc *game.Service, wsOpts ws.Options, log *zap.Logger) http.Handler {
	log = log.Named("http")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", CreateSession(svc, log))
		r.Get("/{sessionID}", GetSession(svc, log))
		r.Delete("/{sessionID}", DeleteSession(svc, log))
		r.Get("/{sessionID}/messages", GetMessages(svc, log))
		r.Get("/{sessionID}/result", GetResult(svc, log))
	})
	r.Get("/ws/sessions/{sessionID}", ws.Handler(svc, wsOpts, log))
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
