package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/speecher/stt-engine/internal/config"
	"github.com/speecher/stt-engine/internal/job"
	"github.com/speecher/stt-engine/internal/metrics"
	"github.com/speecher/stt-engine/internal/store"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// Deps carries everything the HTTP layer serves.
type Deps struct {
	Store          *store.Store // may be nil
	Transcriptions *TranscriptionsHandler
	Stream         *StreamHandler
	Registry       *job.Registry
	Providers      []string
	Version        string
	StartTime      time.Time
}

func NewServer(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	providers := append([]string(nil), deps.Providers...)
	sort.Strings(providers)

	// Unauthenticated: health and metrics scrapes.
	var checker HealthChecker
	var pool *pgxpool.Pool
	if deps.Store != nil {
		checker = deps.Store
		pool = deps.Store.Pool
	}
	health := NewHealthHandler(checker, providers, deps.Version, deps.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)

	collector := metrics.NewCollector(pool, engineStats{deps.Registry, deps.Stream})
	prometheus.MustRegister(collector)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated API
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))
		deps.Transcriptions.Routes(r)
		r.Get("/stream", deps.Stream.Serve)
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}

// engineStats feeds live gauges to the metrics collector.
type engineStats struct {
	registry *job.Registry
	stream   *StreamHandler
}

func (s engineStats) ActiveJobCount() int {
	if s.registry == nil {
		return 0
	}
	n := 0
	for _, snap := range s.registry.Snapshots() {
		if !snap.Status.Terminal() {
			n++
		}
	}
	return n
}

func (s engineStats) ActiveStreamCount() int {
	if s.stream == nil {
		return 0
	}
	return s.stream.ActiveCount()
}
