// Package main provides the entrypoint for the cordontrips API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/cordontrips/cordontrips/internal/api"
	"github.com/cordontrips/cordontrips/internal/api/handler"
	"github.com/cordontrips/cordontrips/internal/api/middleware"
	"github.com/cordontrips/cordontrips/internal/auth"
	"github.com/cordontrips/cordontrips/internal/config"
	"github.com/cordontrips/cordontrips/internal/database"
	"github.com/cordontrips/cordontrips/internal/extract"
	"github.com/cordontrips/cordontrips/internal/pipeline"
	"github.com/cordontrips/cordontrips/internal/runs"
	"github.com/cordontrips/cordontrips/internal/source"
	"github.com/cordontrips/cordontrips/internal/telemetry"
	"github.com/cordontrips/cordontrips/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// publisher is a job publisher that must be closed on shutdown.
type publisher interface {
	handler.JobPublisher
	Close() error
}

func main() {
	const serviceName = "cordontrips-api"

	configPath := flag.String("config", os.Getenv("CORDON_CONFIG"), "YAML configuration file")
	mintToken := flag.String("mint-token", "", "print a service token for `subject` and exit")
	mintScopes := flag.String("scopes", auth.ScopeExtractionsRead+","+auth.ScopeExtractionsWrite, "comma separated scopes for -mint-token")
	mintTTL := flag.Duration("ttl", auth.DefaultTokenExpiry, "lifetime of the minted token")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg.Telemetry.ServiceName = serviceName
	cfg.Telemetry.ServiceVersion = Version

	log := telemetry.NewLogger(os.Stdout, cfg.Telemetry, cfg.LogLevel)

	var jwtService *auth.JWTService
	if cfg.API.JWTSigningKey != "" {
		jwtService, err = auth.NewJWTService(auth.JWTConfig{SigningKey: cfg.API.JWTSigningKey})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize JWT service")
		}
	}

	if *mintToken != "" {
		if jwtService == nil {
			log.Fatal().Msg("JWT_SIGNING_KEY is required to mint tokens")
		}
		token, expiresAt, err := jwtService.GenerateToken(*mintToken, strings.Split(*mintScopes, ","), *mintTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to mint token")
		}
		fmt.Println(token)
		log.Info().Time("expires_at", expiresAt).Str("subject", *mintToken).Msg("token minted")
		return
	}

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting cordontrips API")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry
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

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	// Run store
	var (
		repo   runs.Repository = runs.NewInMemoryRepository()
		pool   *pgxpool.Pool
		checks []handler.ReadinessCheck
	)
	if cfg.Database.Enabled() {
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()

		pg := runs.NewPostgresRepository(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ensure run schema")
		}
		repo = pg
		checks = append(checks, handler.ReadinessCheck{Name: "database", Check: pool.Ping})
		log.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Database).
			Msg("database connected")
	} else {
		log.Warn().Msg("no database configured, using in-memory run store")
	}
	policy := cfg.Sources.Policy()
	runService := runs.NewService(repo, runs.WithLocationPolicy(policy))
	checks = append(checks, handler.ReadinessCheck{
		Name: "run_store",
		Check: func(ctx context.Context) error {
			_, err := runService.List(ctx, runs.ListOptions{Limit: 1})
			return err
		},
	})

	// Job queue: Pub/Sub when configured, otherwise extractions run in-process.
	var (
		pub   publisher
		hosts handler.HostHealthReporter
	)
	if cfg.PubSub.Enabled() && cfg.PubSub.Topic != "" {
		pub, err = worker.NewPublisher(ctx, cfg.PubSub.ProjectID, cfg.PubSub.Topic)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub publisher")
		}
		log.Info().Str("topic", cfg.PubSub.Topic).Msg("publishing extraction jobs to pubsub")
	} else {
		extractMetrics, err := extract.NewMetrics()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize extraction metrics")
		}
		opener := source.NewOpener(source.Config{Logger: log, Policy: &policy})
		job := worker.NewExtractJob(worker.ExtractJobConfig{
			Config: worker.JobConfigFrom(cfg),
			Runs:   runService,
			Executor: pipeline.New(pipeline.Config{
				Logger:  log,
				Opener:  opener,
				Metrics: extractMetrics,
			}),
			Logger: log,
		})
		pub = worker.NewLocalPublisher(ctx, job, log)
		hosts = opener
		log.Warn().Msg("no pubsub topic configured, running extractions in-process")
	}
	defer func() {
		if closeErr := pub.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close job publisher")
		}
	}()

	routerCfg := api.RouterConfig{
		Version:         Version,
		BuildTime:       BuildTime,
		Logger:          log,
		ServiceName:     serviceName,
		Metrics:         metrics,
		Runs:            runService,
		Publisher:       pub,
		ReadinessChecks: checks,
		Hosts:           hosts,
		ReadRateLimit:   cfg.API.RateLimit,
		RequireTLS:      os.Getenv("REQUIRE_TLS") == "true",
	}
	if jwtService != nil {
		routerCfg.Validator = jwtService
	} else {
		log.Warn().Msg("JWT_SIGNING_KEY not set, authentication disabled")
	}

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.API.Port),
		Handler:      api.NewRouter(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
