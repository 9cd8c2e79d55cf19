// Package app assembles the delivery pipeline and runs the HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hireloop/courier/internal/api"
	"github.com/hireloop/courier/internal/campaign"
	"github.com/hireloop/courier/internal/config"
	"github.com/hireloop/courier/internal/db"
	"github.com/hireloop/courier/internal/followup"
	"github.com/hireloop/courier/internal/identity"
	"github.com/hireloop/courier/internal/metrics"
	"github.com/hireloop/courier/internal/processor"
	"github.com/hireloop/courier/internal/provider"
	"github.com/hireloop/courier/internal/queue"
	"github.com/hireloop/courier/internal/suppression"
	"github.com/hireloop/courier/internal/template"
	"github.com/hireloop/courier/internal/tracking"
	"github.com/hireloop/courier/internal/webhook"
)

// App wires the pipeline components together
type App struct {
	config    *config.Config
	database  *db.DB
	apiServer *api.Server
	collector *metrics.Collector
	logger    *slog.Logger
}

// New creates the application from configuration
func New(cfg *config.Config) (*App, error) {
	logger := SetupLogger(cfg.Logging)

	database, err := db.New(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	m := metrics.New()
	metrics.Init(m)

	campaigns := campaign.NewStore(database.DB)
	templates := template.NewStore(database.DB)
	suppressions := suppression.NewStore(database.DB)
	identities := identity.NewManager(database.DB, logger)
	sends := tracking.NewSendStore(database.DB)
	renderer := template.NewRenderer()
	injector := tracking.NewInjector(cfg.Tracking.BaseURL)

	deliveryQueue := queue.New(database.DB, queue.Config{
		MaxAttempts:     cfg.Delivery.MaxAttempts,
		RetryBaseDelay:  cfg.Delivery.RetryBaseDelay,
		RetryMaxDelay:   cfg.Delivery.RetryMaxDelay,
		StaleClaimAfter: cfg.Delivery.StaleClaimAfter,
	})

	sender, err := buildSender(cfg, identities, logger)
	if err != nil {
		database.Close()
		return nil, err
	}

	batchProcessor := processor.New(
		deliveryQueue, campaigns, templates, suppressions, identities, sends,
		renderer, injector, sender, logger,
	)

	scheduler := followup.New(database.DB, templates, deliveryQueue, cfg.FollowUp.MaxPerRun, logger)

	webhookStore := webhook.NewStore(database.DB, webhook.Config{
		MaxAttempts:    cfg.Webhooks.MaxAttempts,
		RetryBaseDelay: cfg.Webhooks.RetryBaseDelay,
		RetryMaxDelay:  cfg.Webhooks.RetryMaxDelay,
	})
	webhookProcessor := webhook.NewProcessor(webhookStore, sends, suppressions, logger)
	webhookHandler := webhook.NewHandler(webhookProcessor, cfg.Webhooks.Secret, logger)

	trackingHandler := tracking.NewHandler(sends, suppressions, cfg.Tracking.DefaultRedirect, logger)

	apiServer := api.NewServer(cfg, api.Deps{
		Campaigns:        campaigns,
		Templates:        templates,
		Queue:            deliveryQueue,
		Suppressions:     suppressions,
		Identities:       identities,
		Processor:        batchProcessor,
		Scheduler:        scheduler,
		WebhookHandler:   webhookHandler,
		WebhookProcessor: webhookProcessor,
		Tracking:         trackingHandler,
		Metrics:          m.Handler(),
	}, logger)

	return &App{
		config:    cfg,
		database:  database,
		apiServer: apiServer,
		collector: metrics.NewCollector(deliveryQueue, 30*time.Second, logger),
		logger:    logger,
	}, nil
}

// Run starts the server and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting courier",
		"addr", a.config.Server.ListenAddr,
		"provider", a.config.Provider.Type,
		"tracking_base", a.config.Tracking.BaseURL,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.collector.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully stops all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", "error", err)
	}

	a.collector.Stop()

	if err := a.database.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// buildSender selects the provider adapter from configuration
func buildSender(cfg *config.Config, identities *identity.Manager, logger *slog.Logger) (provider.Sender, error) {
	switch cfg.Provider.Type {
	case "http":
		return provider.NewHTTPSender(cfg.Provider.HTTP.BaseURL, cfg.Provider.HTTP.APIKey, cfg.Provider.HTTP.Timeout), nil
	case "smtp":
		return provider.NewSMTPSender(
			cfg.Provider.SMTP.Addr,
			cfg.Provider.SMTP.Username,
			cfg.Provider.SMTP.Password,
			cfg.Provider.SMTP.Timeout,
			identities.Sign,
		), nil
	case "capture":
		return provider.NewCaptureSender(cfg.Provider.Capture.ErrorRate, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Provider.Type)
	}
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
