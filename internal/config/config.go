package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Provider ProviderConfig `yaml:"provider"`
	Tracking TrackingConfig `yaml:"tracking"`
	Delivery DeliveryConfig `yaml:"delivery"`
	FollowUp FollowUpConfig `yaml:"follow_up"`
	Webhooks WebhookConfig  `yaml:"webhooks"`
	Cron     CronConfig     `yaml:"cron"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type ProviderConfig struct {
	// Type selects the send provider adapter: "http", "smtp" or "capture"
	Type    string                `yaml:"type"`
	HTTP    HTTPProviderConfig    `yaml:"http"`
	SMTP    SMTPProviderConfig    `yaml:"smtp"`
	Capture CaptureProviderConfig `yaml:"capture"`
}

type HTTPProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type SMTPProviderConfig struct {
	Addr     string        `yaml:"addr"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CaptureProviderConfig configures the non-delivering development provider
type CaptureProviderConfig struct {
	// ErrorRate is the fraction of sends that fail with a simulated
	// provider error, 0 to 1
	ErrorRate float64 `yaml:"error_rate"`
}

type TrackingConfig struct {
	// BaseURL is the public origin tracking links point at,
	// e.g. https://links.example.com
	BaseURL string `yaml:"base_url"`
	// DefaultRedirect is where the click endpoint sends visitors when the
	// original URL is absent or unparseable
	DefaultRedirect string `yaml:"default_redirect"`
}

type DeliveryConfig struct {
	BatchSize      int           `yaml:"batch_size"`
	BatchSizeMax   int           `yaml:"batch_size_max"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
	// StaleClaimAfter is how long an item may sit in "sending" before a later
	// run may reclaim it
	StaleClaimAfter time.Duration `yaml:"stale_claim_after"`
}

type FollowUpConfig struct {
	// MaxPerRun caps how many follow-ups one scheduler invocation enqueues
	MaxPerRun int `yaml:"max_per_run"`
}

type WebhookConfig struct {
	// Secret verifies inbound provider webhook signatures
	Secret         string        `yaml:"secret"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
}

type CronConfig struct {
	// Secret authenticates cron-triggered endpoints via X-Cron-Secret
	Secret string `yaml:"secret"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8085"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Provider.Type == "" {
		cfg.Provider.Type = "http"
	}
	if cfg.Provider.HTTP.Timeout == 0 {
		cfg.Provider.HTTP.Timeout = 30 * time.Second
	}
	if cfg.Provider.SMTP.Timeout == 0 {
		cfg.Provider.SMTP.Timeout = 30 * time.Second
	}
	if cfg.Delivery.BatchSize == 0 {
		cfg.Delivery.BatchSize = 25
	}
	if cfg.Delivery.BatchSizeMax == 0 {
		cfg.Delivery.BatchSizeMax = 100
	}
	if cfg.Delivery.MaxAttempts == 0 {
		cfg.Delivery.MaxAttempts = 3
	}
	if cfg.Delivery.RetryBaseDelay == 0 {
		cfg.Delivery.RetryBaseDelay = 5 * time.Minute
	}
	if cfg.Delivery.RetryMaxDelay == 0 {
		cfg.Delivery.RetryMaxDelay = time.Hour
	}
	if cfg.Delivery.StaleClaimAfter == 0 {
		cfg.Delivery.StaleClaimAfter = 10 * time.Minute
	}
	if cfg.FollowUp.MaxPerRun == 0 {
		cfg.FollowUp.MaxPerRun = 500
	}
	if cfg.Webhooks.MaxAttempts == 0 {
		cfg.Webhooks.MaxAttempts = 5
	}
	if cfg.Webhooks.RetryBaseDelay == 0 {
		cfg.Webhooks.RetryBaseDelay = time.Minute
	}
	if cfg.Webhooks.RetryMaxDelay == 0 {
		cfg.Webhooks.RetryMaxDelay = time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if cfg.Cron.Secret == "" {
		return fmt.Errorf("cron.secret is required")
	}
	if cfg.Tracking.BaseURL == "" {
		return fmt.Errorf("tracking.base_url is required")
	}
	switch cfg.Provider.Type {
	case "http":
		if cfg.Provider.HTTP.BaseURL == "" {
			return fmt.Errorf("provider.http.base_url is required when provider.type is http")
		}
		if cfg.Provider.HTTP.APIKey == "" {
			return fmt.Errorf("provider.http.api_key is required when provider.type is http")
		}
	case "smtp":
		if cfg.Provider.SMTP.Addr == "" {
			return fmt.Errorf("provider.smtp.addr is required when provider.type is smtp")
		}
	case "capture":
		if cfg.Provider.Capture.ErrorRate < 0 || cfg.Provider.Capture.ErrorRate > 1 {
			return fmt.Errorf("provider.capture.error_rate must be between 0 and 1")
		}
	default:
		return fmt.Errorf("provider.type must be http, smtp or capture, got %q", cfg.Provider.Type)
	}
	if cfg.Delivery.BatchSize > cfg.Delivery.BatchSizeMax {
		return fmt.Errorf("delivery.batch_size cannot exceed delivery.batch_size_max")
	}
	return nil
}
