package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/speecher/stt-engine/internal/api"
	"github.com/speecher/stt-engine/internal/clock"
	"github.com/speecher/stt-engine/internal/config"
	"github.com/speecher/stt-engine/internal/job"
	"github.com/speecher/stt-engine/internal/normalize"
	"github.com/speecher/stt-engine/internal/pricing"
	"github.com/speecher/stt-engine/internal/provider"
	"github.com/speecher/stt-engine/internal/ratelimit"
	"github.com/speecher/stt-engine/internal/store"
	"github.com/speecher/stt-engine/internal/stream"
)

var version = "dev"

func main() {
	startTime := time.Now()

	envFile := flag.String("env-file", "", "path to .env file (default .env)")
	httpAddr := flag.String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	logLevel := flag.String("log-level", "", "log level (overrides LOG_LEVEL)")
	databaseURL := flag.String("database-url", "", "PostgreSQL URL (overrides DATABASE_URL)")
	flag.Parse()

	cfg, err := config.Load(config.Overrides{
		EnvFile:     *envFile,
		HTTPAddr:    *httpAddr,
		LogLevel:    *logLevel,
		DatabaseURL: *databaseURL,
	})
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("stt-engine starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := store.Connect(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}

	// Provider adapters
	adapterLog := log.With().Str("component", "provider").Logger()
	aws, err := provider.NewAWSAdapter(cfg.AWS, adapterLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure aws adapter")
	}
	gcp := provider.NewGCPAdapter(cfg.GCP, adapterLog)
	adapters := map[string]provider.Adapter{
		"aws":   aws,
		"azure": provider.NewAzureAdapter(cfg.Azure, adapterLog),
		"gcp":   gcp,
	}
	providers := make([]string, 0, len(adapters))
	for name := range adapters {
		providers = append(providers, name)
	}

	// Orchestration
	table := pricing.New(cfg.Pricing)
	orch := job.NewOrchestrator(job.Options{
		Adapters:   adapters,
		Normalizer: normalize.NewNormalizer(cfg.Job.MergeGap),
		Pricing:    table,
		Store:      db,
		Config:     cfg.Job,
		Clock:      clock.New(),
		Logger:     log,
	})
	registry := job.NewRegistry()
	limiter := ratelimit.New(cfg.RateLimit)

	// HTTP
	httpLog := log.With().Str("component", "http").Logger()
	transcriptions := api.NewTranscriptionsHandler(orch, registry, db, table, limiter, cfg, httpLog)
	streamHandler := api.NewStreamHandler(stream.RecognizerFunc(gcp.Recognize), cfg.Stream, cfg.DefaultLanguage, httpLog)
	srv := api.NewServer(cfg, api.Deps{
		Store:          db,
		Transcriptions: transcriptions,
		Stream:         streamHandler,
		Registry:       registry,
		Providers:      providers,
		Version:        version,
		StartTime:      startTime,
	}, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("stt-engine stopped")
}
