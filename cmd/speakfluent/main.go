package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/okravets/speakfluent/internal/config"
	"github.com/okravets/speakfluent/internal/gateway"
	"github.com/okravets/speakfluent/internal/observability"
	"github.com/okravets/speakfluent/internal/orchestrate"
	"github.com/okravets/speakfluent/internal/store"
	"github.com/okravets/speakfluent/internal/transcribe"
	"github.com/okravets/speakfluent/internal/translate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.InitLogger("info", false)
		logger := observability.GetLogger()
		logger.Fatal().Err(err).Msg("config error")
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	log := observability.GetLogger()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()

	var usage store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("usage store init failed")
		}
		usage = pg
		log.Info().Msg("usage store: postgres")
	} else {
		usage = store.NewMemoryStore()
		log.Warn().Msg("usage store: in-memory (DATABASE_URL not set)")
	}
	defer usage.Close()

	if cfg.DeepgramAPIKey == "" {
		log.Fatal().Msg("DEEPGRAM_API_KEY is required")
	}
	provider := transcribe.NewDeepgramProvider(cfg.DeepgramAPIKey, log)

	var translator translate.Translator
	if cfg.TranslateAPIKey != "" {
		translator = translate.NewOpenAIClient(translate.OpenAIConfig{
			APIKey:     cfg.TranslateAPIKey,
			BaseURL:    cfg.TranslateBaseURL,
			FastModel:  cfg.TranslateFastModel,
			StyleModel: cfg.TranslateStyleModel,
		})
		log.Info().Str("model", cfg.TranslateFastModel).Msg("translation provider: openai")
	} else {
		translator = translate.NewMockTranslator()
		log.Warn().Msg("translation provider: mock (GPT_API_KEY not set)")
	}

	srv := gateway.New(cfg, provider, usage, metrics, log)
	orchestrator := orchestrate.New(orchestrate.Options{
		Translator:       translator,
		Sink:             srv,
		Metrics:          metrics,
		Logger:           log,
		TranslateTimeout: cfg.TranslateTimeout,
		StyleMaxAge:      cfg.StyleMaxAge,
		ClientTTL:        cfg.ClientTTL,
	})
	srv.SetOrchestrator(orchestrator)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: srv.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	orchestrator.StartJanitor(runCtx, cfg.SweepInterval)

	go func() {
		log.Info().Str("addr", cfg.BindAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	log.Info().Msg("shutdown complete")
}
