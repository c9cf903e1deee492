// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/webhookd/webhookd/internal/engine"
)

// Config holds all configuration for the service. Postgres and Redis are
// optional: without DATABASE_URL the engine runs purely in memory, without
// REDIS_URL ingest rate limiting and circuit breaking are disabled.
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	RedisURL    string `envconfig:"REDIS_URL"`

	TickInterval      time.Duration `envconfig:"TICK_INTERVAL" default:"100ms"`
	MaxConcurrent     int           `envconfig:"MAX_CONCURRENT" default:"10"`
	BatchSize         int           `envconfig:"BATCH_SIZE" default:"25"`
	ProcessingTimeout time.Duration `envconfig:"PROCESSING_TIMEOUT" default:"30s"`

	DefaultMaxRetries int           `envconfig:"DEFAULT_MAX_RETRIES" default:"3"`
	DefaultRetryDelay time.Duration `envconfig:"DEFAULT_RETRY_DELAY" default:"30s"`
	MaxRetryDelay     time.Duration `envconfig:"MAX_RETRY_DELAY" default:"1h"`
	UnroutedPolicy    string        `envconfig:"UNROUTED_POLICY" default:"retry"`

	RetentionWindow time.Duration `envconfig:"RETENTION_WINDOW" default:"24h"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`

	QueueWarnThreshold      int `envconfig:"QUEUE_WARN_THRESHOLD" default:"500"`
	QueueErrorThreshold     int `envconfig:"QUEUE_ERROR_THRESHOLD" default:"2000"`
	DeadLetterWarnThreshold int `envconfig:"DEAD_LETTER_WARN_THRESHOLD" default:"50"`
	DeadLetterErrThreshold  int `envconfig:"DEAD_LETTER_ERROR_THRESHOLD" default:"200"`

	// Per-source ingest admits per second, e.g. "stripe:100,shopify:50".
	// Sources not listed are unlimited.
	IngestRateLimits map[string]int `envconfig:"INGEST_RATE_LIMITS"`

	CircuitBreakerThreshold int           `envconfig:"CIRCUIT_BREAKER_THRESHOLD" default:"5"`
	CircuitBreakerCooldown  time.Duration `envconfig:"CIRCUIT_BREAKER_COOLDOWN" default:"30s"`

	StripeWebhookSecret      string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	PayPalWebhookSecret      string `envconfig:"PAYPAL_WEBHOOK_SECRET"`
	ShopifyWebhookSecret     string `envconfig:"SHOPIFY_WEBHOOK_SECRET"`
	MarketplaceWebhookSecret string `envconfig:"MARKETPLACE_WEBHOOK_SECRET"`
	CustomWebhookSecret      string `envconfig:"CUSTOM_WEBHOOK_SECRET"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	switch engine.UnroutedPolicy(cfg.UnroutedPolicy) {
	case engine.UnroutedRetry, engine.UnroutedDeadLetter:
	default:
		return nil, fmt.Errorf("UNROUTED_POLICY must be %q or %q, got %q",
			engine.UnroutedRetry, engine.UnroutedDeadLetter, cfg.UnroutedPolicy)
	}

	return &cfg, nil
}

// EngineConfig converts the service configuration into an engine config.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		TickInterval:      c.TickInterval,
		MaxConcurrent:     c.MaxConcurrent,
		BatchSize:         c.BatchSize,
		ProcessingTimeout: c.ProcessingTimeout,
		DefaultMaxRetries: c.DefaultMaxRetries,
		DefaultRetryDelay: c.DefaultRetryDelay,
		MaxRetryDelay:     c.MaxRetryDelay,
		UnroutedPolicy:    engine.UnroutedPolicy(c.UnroutedPolicy),
		RetentionWindow:   c.RetentionWindow,
		CleanupInterval:   c.CleanupInterval,
		Health: engine.HealthThresholds{
			QueueWarn:      c.QueueWarnThreshold,
			QueueError:     c.QueueErrorThreshold,
			DeadLetterWarn: c.DeadLetterWarnThreshold,
			DeadLetterErr:  c.DeadLetterErrThreshold,
		},
	}
}
