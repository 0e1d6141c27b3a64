// Package api provides the HTTP API for submitting and tracking extraction
// runs.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cordontrips/cordontrips/internal/api/handler"
	"github.com/cordontrips/cordontrips/internal/api/middleware"
	"github.com/cordontrips/cordontrips/internal/auth"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	// Validator checks bearer tokens. Nil disables authentication.
	Validator middleware.TokenValidator

	Runs      handler.RunService
	Publisher handler.JobPublisher

	ReadinessChecks []handler.ReadinessCheck
	Hosts           handler.HostHealthReporter

	// ReadRateLimit is requests per minute per subject on read endpoints.
	// Zero uses middleware.StandardRateLimit.
	ReadRateLimit int

	// RequireTLS rejects requests forwarded over plain HTTP.
	RequireTLS bool
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "cordontrips-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement
	r.Use(middleware.ContentTypeJSON)            // JSON content type

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.ReadinessChecks, cfg.Hosts)
	extractionHandler := handler.NewExtractionHandler(cfg.Runs, cfg.Publisher, cfg.Logger)

	authMiddleware := middleware.Auth(cfg.Validator)

	readLimit := middleware.StandardRateLimit
	if cfg.ReadRateLimit > 0 {
		readLimit.RequestLimit = cfg.ReadRateLimit
	}
	submitRateLimit := middleware.RateLimitBySubject(middleware.SubmitRateLimit) // 10 req/min
	readRateLimit := middleware.RateLimitBySubject(readLimit)

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		// Extraction runs (authenticated)
		r.Route("/extractions", func(r chi.Router) {
			r.Use(authMiddleware)

			r.With(
				middleware.RequireScope(auth.ScopeExtractionsWrite),
				middleware.RequireJSON,
				submitRateLimit,
			).Post("/", extractionHandler.CreateExtraction)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireScope(auth.ScopeExtractionsRead))
				r.Use(readRateLimit)
				r.Get("/", extractionHandler.ListExtractions)
				r.Get("/{runId}", extractionHandler.GetExtraction)
			})
		})
	})

	return r
}
