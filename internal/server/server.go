package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/flag-sentinel/internal/eval"
	"github.com/nholik/flag-sentinel/internal/healthcheck"
	"github.com/nholik/flag-sentinel/internal/metrics"
	"github.com/nholik/flag-sentinel/internal/mutate"
	"github.com/nholik/flag-sentinel/internal/remote"
	"github.com/nholik/flag-sentinel/internal/rollback"
	"github.com/nholik/flag-sentinel/internal/sync"
	"github.com/nholik/flag-sentinel/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

// Deps collects the components the API surface exposes.
type Deps struct {
	Logger       zerolog.Logger
	Engine       *eval.Engine
	Mutations    *mutate.Service
	Synchronizer *sync.Synchronizer
	Rollbacks    *rollback.Controller
	Alarms       *telemetry.Alarms
	Invoker      *remote.Invoker
	Tracker      *healthcheck.Tracker
	PollInterval time.Duration
}

// Server is the thin HTTP layer over the flag engine.
type Server struct {
	deps Deps
}

// New constructs a Server.
func New(deps Deps) *Server {
	return &Server{deps: deps}
}

// Start launches API and metrics HTTP servers as configured.
func Start(ctx context.Context, logger zerolog.Logger, api *Server, metricsCollector *metrics.Metrics, apiPort, metricsPort int) {
	if apiPort == 0 && metricsPort == 0 {
		return
	}

	if apiPort > 0 && metricsPort > 0 && apiPort == metricsPort {
		mux := http.NewServeMux()
		api.register(mux)
		registerMetricsRoute(mux, metricsCollector)
		startServer(ctx, logger, api.withMiddleware(mux), apiPort, "api/metrics")
		return
	}

	if apiPort > 0 {
		mux := http.NewServeMux()
		api.register(mux)
		startServer(ctx, logger, api.withMiddleware(mux), apiPort, "api")
	}

	if metricsPort > 0 {
		mux := http.NewServeMux()
		registerMetricsRoute(mux, metricsCollector)
		startServer(ctx, logger, mux, metricsPort, "metrics")
	}
}

// Handler returns the full API handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.register(mux)
	return s.withMiddleware(mux)
}

func (s *Server) register(mux *http.ServeMux) {
	healthcheck.Register(mux, s.deps.Tracker, s.deps.PollInterval)

	mux.HandleFunc("GET /api/flags", s.handleListFlags)
	mux.HandleFunc("GET /api/flags/cached", s.handleListCached)
	mux.HandleFunc("GET /api/flags/stats", s.handleStats)
	mux.HandleFunc("POST /api/flags/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/flags/batch-evaluate", s.handleBatchEvaluate)

	mux.HandleFunc("GET /api/flags/{name}", s.handleGetFlag)
	mux.HandleFunc("POST /api/flags/{name}", s.handleUpsertFlag)
	mux.HandleFunc("DELETE /api/flags/{name}", s.handleDeleteFlag)
	mux.HandleFunc("PUT /api/flags/{name}/rollout", s.handleSetRollout)
	mux.HandleFunc("POST /api/flags/{name}/evaluate", s.handleEvaluate)
	mux.HandleFunc("PUT /api/flags/{name}/alarm", s.handleConfigureAlarm)
	mux.HandleFunc("DELETE /api/flags/{name}/alarm", s.handleRemoveAlarm)
	mux.HandleFunc("GET /api/flags/{name}/metrics", s.handleFlagMetrics)

	mux.HandleFunc("POST /api/webhooks/alarm", s.handleAlarmWebhook)
	mux.HandleFunc("POST /api/ops/invoke", s.handleInvoke)
}

func registerMetricsRoute(mux *http.ServeMux, metricsCollector *metrics.Metrics) {
	if metricsCollector == nil {
		return
	}
	mux.Handle("/metrics", metricsCollector.Handler())
}

func startServer(ctx context.Context, logger zerolog.Logger, handler http.Handler, port int, label string) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("server", label).Int("port", port).Msg("http server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server shutdown failed")
		}
	}()
}
