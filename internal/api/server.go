// Package api exposes the HTTP surface: tracking endpoints, the provider
// webhook receiver, cron-triggered pipeline runs and the management API.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hireloop/courier/internal/campaign"
	"github.com/hireloop/courier/internal/config"
	"github.com/hireloop/courier/internal/followup"
	"github.com/hireloop/courier/internal/identity"
	"github.com/hireloop/courier/internal/metrics"
	"github.com/hireloop/courier/internal/processor"
	"github.com/hireloop/courier/internal/queue"
	"github.com/hireloop/courier/internal/suppression"
	"github.com/hireloop/courier/internal/template"
	"github.com/hireloop/courier/internal/tracking"
	"github.com/hireloop/courier/internal/webhook"
)

// Deps bundles the pipeline components the server routes to
type Deps struct {
	Campaigns        *campaign.Store
	Templates        *template.Store
	Queue            *queue.DeliveryQueue
	Suppressions     *suppression.Store
	Identities       *identity.Manager
	Processor        *processor.BatchProcessor
	Scheduler        *followup.Scheduler
	WebhookHandler   *webhook.Handler
	WebhookProcessor *webhook.Processor
	Tracking         *tracking.Handler
	Metrics          http.Handler
}

// Server is the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	cfg        *config.Config
	deps       Deps
	logger     *slog.Logger
	startTime  time.Time
}

func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		cfg:       cfg,
		deps:      deps,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	// Public tracking endpoints hit by recipients' mail clients and browsers
	s.router.Mount("/t", s.deps.Tracking.Routes())

	// Provider webhook receiver, authenticated by body signature
	s.router.Method(http.MethodPost, "/api/webhooks/email", s.deps.WebhookHandler)

	// Cron-triggered pipeline runs
	s.router.Route("/api/cron", func(r chi.Router) {
		r.Use(s.cronAuthMiddleware)
		r.Post("/process-batch", s.handleProcessBatch)
		r.Post("/follow-ups", s.handleFollowUps)
		r.Post("/webhook-retries", s.handleWebhookRetries)
	})

	// Management API
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", s.handleCreateCampaign)
			r.Get("/", s.handleListCampaigns)
			r.Get("/{id}", s.handleGetCampaign)
			r.Get("/{id}/stats", s.handleCampaignStats)
			r.Post("/{id}/activate", s.handleCampaignTransition("active"))
			r.Post("/{id}/pause", s.handleCampaignTransition("paused"))
			r.Post("/{id}/complete", s.handleCampaignTransition("completed"))
			r.Post("/{id}/templates", s.handleCreateTemplate)
			r.Get("/{id}/templates", s.handleListTemplates)
			r.Post("/{id}/recipients", s.handleEnqueueRecipients)
		})

		r.Route("/suppressions", func(r chi.Router) {
			r.Get("/", s.handleListSuppressions)
			r.Post("/", s.handleAddSuppression)
			r.Delete("/{address}", s.handleRemoveSuppression)
		})

		r.Route("/domains", func(r chi.Router) {
			r.Post("/", s.handleCreateDomain)
			r.Get("/", s.handleListDomains)
			r.Get("/{domain}/records", s.handleDomainRecords)
			r.Post("/{domain}/verify", s.handleVerifyDomain)
		})

		r.Get("/queue/stats", s.handleQueueStats)
		r.Get("/queue", s.handleListQueue)
	})
}

// Handler returns the root router
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.cfg.Server.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
