package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/whoistalking-backend/internal/config"
	"github.com/DoyleJ11/whoistalking-backend/internal/game"
	"github.com/DoyleJ11/whoistalking-backend/internal/httpapi"
	"github.com/DoyleJ11/whoistalking-backend/internal/hub"
	"github.com/DoyleJ11/whoistalking-backend/internal/llm"
	"github.com/DoyleJ11/whoistalking-backend/internal/logging"
	"github.com/DoyleJ11/whoistalking-backend/internal/store"
	"github.com/DoyleJ11/whoistalking-backend/internal/store/postgres"
	"github.com/DoyleJ11/whoistalking-backend/internal/store/sqlite"
	"github.com/DoyleJ11/whoistalking-backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		// no logger yet
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	client := llm.NewOpenAI(llm.Config{
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     cfg.LLM.APIKey,
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
	}, log.Named("llm"))

	h := hub.NewHub(context.Background(), log.Named("hub"))
	svc := game.NewService(st, client, h, game.Options{
		SpeakerModel:       cfg.LLM.SpeakerModel,
		JudgeModel:         cfg.LLM.JudgeModel,
		SpeakerTemperature: cfg.LLM.SpeakerTemperature,
		JudgeTemperature:   cfg.LLM.JudgeTemperature,
		SpeakerMaxTokens:   cfg.LLM.SpeakerMaxTokens,
		JudgeMaxTokens:     cfg.LLM.JudgeMaxTokens,
		HumanTurnTimeout:   cfg.HumanTurnTimeout,
		TypingDelayPerChar: cfg.TypingDelayPerChar,
		TypingDelayMin:     cfg.TypingDelayMin,
		TypingDelayMax:     cfg.TypingDelayMax,
	}, log)

	if err := svc.ResumeActive(ctx); err != nil {
		log.Warn("resume active sessions", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(svc, ws.Options{OriginPatterns: cfg.AllowedOrigins}, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.String("db_driver", cfg.DBDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", zap.Int("sessions", len(h.List())))
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		// closes every socket and cancels drivers and timers
		h.Shutdown()
		svc.Close()
		return err
	})
	return g.Wait()
}

func openStore(cfg config.Config, log *zap.Logger) (store.Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		return postgres.Open(cfg.DatabaseURL, log.Named("gorm"))
	default:
		return sqlite.Open(cfg.DBPath)
	}
}
