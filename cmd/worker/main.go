// Package main provides the entrypoint for the extraction worker. It pulls
// extraction jobs from Pub/Sub and exposes health endpoints for Cloud Run.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cordontrips/cordontrips/internal/config"
	"github.com/cordontrips/cordontrips/internal/database"
	"github.com/cordontrips/cordontrips/internal/extract"
	"github.com/cordontrips/cordontrips/internal/pipeline"
	"github.com/cordontrips/cordontrips/internal/runs"
	"github.com/cordontrips/cordontrips/internal/source"
	"github.com/cordontrips/cordontrips/internal/telemetry"
	"github.com/cordontrips/cordontrips/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "cordontrips-worker"

	cfg, err := config.Load(os.Getenv("CORDON_CONFIG"))
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg.Telemetry.ServiceName = serviceName
	cfg.Telemetry.ServiceVersion = Version

	log := telemetry.NewLogger(os.Stdout, cfg.Telemetry, cfg.LogLevel)
	log.Info().Str("build_time", BuildTime).Msg("starting cordontrips worker")

	if !cfg.PubSub.Enabled() || cfg.PubSub.Subscription == "" {
		log.Fatal().Msg("PUBSUB_PROJECT_ID and PUBSUB_SUBSCRIPTION are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	repo, closeRepo := openRunRepository(ctx, cfg.Database, log)
	defer closeRepo()
	policy := cfg.Sources.Policy()
	runService := runs.NewService(repo, runs.WithLocationPolicy(policy))

	metrics, err := extract.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize extraction metrics")
	}
	p := pipeline.New(pipeline.Config{
		Logger:  log,
		Opener:  source.NewOpener(source.Config{Logger: log, Policy: &policy}),
		Metrics: metrics,
	})

	job := worker.NewExtractJob(worker.ExtractJobConfig{
		Config:   worker.JobConfigFrom(cfg),
		Runs:     runService,
		Executor: p,
		Logger:   log,
	})

	handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
		ProjectID:        cfg.PubSub.ProjectID,
		SubscriptionName: cfg.PubSub.Subscription,
		Dispatcher:       worker.NewDispatcher(job, log),
		Logger:           log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pubsub handler")
	}
	defer func() {
		if closeErr := handler.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close pubsub client")
		}
	}()

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.API.Port),
		Handler:      healthMux(job, p),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	// Receive blocks until the signal context is canceled.
	if err := handler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("pubsub receive failed")
	}

	log.Info().Msg("shutting down worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}

// openRunRepository returns the Postgres run store when a database is
// configured and an in-memory store otherwise.
func openRunRepository(ctx context.Context, cfg database.Config, log zerolog.Logger) (runs.Repository, func()) {
	if !cfg.Enabled() {
		log.Warn().Msg("no database configured, using in-memory run store")
		return runs.NewInMemoryRepository(), func() {}
	}

	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	repo := runs.NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		log.Fatal().Err(err).Msg("failed to ensure run schema")
	}
	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("database connected")
	return repo, pool.Close
}

// healthMux serves liveness, readiness and the job metrics snapshot.
func healthMux(job *worker.ExtractJob, p *pipeline.Pipeline) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": Version})
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := job.HealthCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		hosts := map[string]string{}
		for _, h := range p.Opener().Health() {
			hosts[h.Host] = h.State.String()
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready", "sources": hosts})
	})

	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, job.MetricsSnapshot())
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
