package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/webhookd/webhookd/internal/api"
	"github.com/webhookd/webhookd/internal/config"
	"github.com/webhookd/webhookd/internal/domain"
	"github.com/webhookd/webhookd/internal/engine"
	"github.com/webhookd/webhookd/internal/registry"
	"github.com/webhookd/webhookd/internal/store"
	"github.com/webhookd/webhookd/internal/verify"
	"github.com/webhookd/webhookd/internal/ws"
)

func main() {
	// Best-effort: a missing .env is fine outside local development.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	reg := registry.New(registry.Policy{
		Retryable:  true,
		MaxRetries: cfg.DefaultMaxRetries,
		RetryDelay: cfg.DefaultRetryDelay,
	})
	registerIntegrations(reg, logger)

	var opts []engine.Option

	// Optional Postgres journal for crash-recoverable delivery.
	if cfg.DatabaseURL != "" {
		journal, err := store.NewJournal(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer journal.Close()

		if err := journal.RunMigrations(ctx, "migrations"); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to PostgreSQL, journal enabled")
		opts = append(opts, engine.WithJournal(journal))
	}

	// Optional Redis for ingest rate limiting and route circuit breaking.
	if cfg.RedisURL != "" {
		redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		logger.Info("connected to Redis")

		limits := make(map[domain.Source]int, len(cfg.IngestRateLimits))
		for src, n := range cfg.IngestRateLimits {
			limits[domain.Source(src)] = n
		}
		opts = append(opts,
			engine.WithRateLimiter(engine.NewRateLimiter(redisStore.Client(), limits, logger)),
			engine.WithCircuitBreaker(engine.NewCircuitBreaker(
				redisStore.Client(), cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown, logger)),
		)
	}

	hub := ws.NewHub(logger)
	go hub.Run()
	opts = append(opts, engine.WithNotifier(hub))

	eng := engine.New(cfg.EngineConfig(), reg, logger, opts...)
	registerVerifiers(eng, cfg)

	if err := eng.Start(ctx); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	router := api.NewRouter(eng, hub)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// Drain in-flight attempts before exiting.
	eng.Stop()

	logger.Info("server stopped")
}

// registerVerifiers installs a signature verifier for every source that has a
// shared secret configured. Sources without a secret accept unsigned
// payloads but reject any payload carrying a signature header.
func registerVerifiers(eng *engine.Engine, cfg *config.Config) {
	if cfg.StripeWebhookSecret != "" {
		eng.RegisterVerifier(domain.SourceStripe, verify.StripeVerifier{}, cfg.StripeWebhookSecret)
	}
	if cfg.PayPalWebhookSecret != "" {
		eng.RegisterVerifier(domain.SourcePayPal,
			verify.HMACVerifier{Header: "Paypal-Transmission-Sig"}, cfg.PayPalWebhookSecret)
	}
	if cfg.ShopifyWebhookSecret != "" {
		eng.RegisterVerifier(domain.SourceShopify, verify.ShopifyVerifier{}, cfg.ShopifyWebhookSecret)
	}
	if cfg.MarketplaceWebhookSecret != "" {
		eng.RegisterVerifier(domain.SourceMarketplace, verify.HMACVerifier{}, cfg.MarketplaceWebhookSecret)
	}
	if cfg.CustomWebhookSecret != "" {
		eng.RegisterVerifier(domain.SourceCustom, verify.HMACVerifier{}, cfg.CustomWebhookSecret)
	}
}

// registerIntegrations wires the handlers this deployment processes. Real
// integration modules register their own handlers here at startup; the
// defaults below log-and-accept so a fresh deployment can be exercised end
// to end.
func registerIntegrations(reg *registry.Registry, logger *slog.Logger) {
	logEvent := func(ctx context.Context, ev *domain.WebhookEvent) error {
		logger.Info("event handled",
			"event_id", ev.ID,
			"source", ev.Source,
			"type", ev.Type,
			"tenant_id", ev.TenantID,
		)
		return nil
	}

	for _, source := range []domain.Source{
		domain.SourceStripe,
		domain.SourcePayPal,
		domain.SourceShopify,
		domain.SourceMarketplace,
		domain.SourceCustom,
	} {
		if err := reg.Register(source, registry.Wildcard, logEvent); err != nil {
			logger.Warn("handler registration", "error", err)
		}
	}
}
