/**
 * @description
 * This is the main entry point for the Eldsal member service.
 * It wires configuration, the identity provider and payment processor clients,
 * the optional Redis rate limiter and RabbitMQ publisher, the HTTP router and
 * the nightly sync scheduler, then serves until SIGINT or SIGTERM.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/Eldsal/eldsal-sub000/internal/api"
	"github.com/Eldsal/eldsal-sub000/internal/app"
	"github.com/Eldsal/eldsal-sub000/internal/config"
	"github.com/Eldsal/eldsal-sub000/internal/domain"
	"github.com/Eldsal/eldsal-sub000/pkg/identityclient"
	"github.com/Eldsal/eldsal-sub000/pkg/rabbitmq"
	"github.com/Eldsal/eldsal-sub000/pkg/stripeclient"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load application configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Identity provider management API, authenticated with client credentials
	identity := identityclient.NewClient(
		cfg.Auth0BaseURL(),
		identityclient.NewHTTPClient(ctx, cfg.Auth0Domain, cfg.Auth0ClientID, cfg.Auth0ClientSecret),
	)

	// One payment processor account per fee flavour
	processors := map[domain.Flavour]app.PaymentProcessor{
		domain.FlavourMembership: stripeclient.NewClient(domain.FlavourMembership, cfg.StripeMembershipSecretKey),
		domain.FlavourHouseCard:  stripeclient.NewClient(domain.FlavourHouseCard, cfg.StripeHouseCardSecretKey),
	}

	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	if cfg.RabbitMQURL == "" {
		logger.Warn("rabbitmq url missing; payment events disabled", "env", "RABBITMQ_URL")
	} else if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
		logger.Warn("failed to connect to rabbitmq; payment events disabled", "error", err)
	} else {
		publisher = producer
		logger.Info("rabbitmq connected")
	}
	defer publisher.Close()

	service := app.NewService(identity, processors, app.Options{
		Events:                 publisher,
		EventsExchange:         cfg.MemberEventsExchange,
		Metrics:                app.NewMetrics(registry),
		Logger:                 logger,
		CheckoutSuccessURL:     cfg.CheckoutSuccessURL,
		CheckoutCancelURL:      cfg.CheckoutCancelURL,
		PasswordResetResultURL: cfg.PasswordResetResultURL,
		MemberDelay:            time.Duration(cfg.SyncMemberDelayMS) * time.Millisecond,
	})

	// Optional distributed rate limiting
	var limiter api.RateLimiter
	if cfg.RedisURL == "" {
		logger.Warn("redis url missing; rate limiting disabled", "env", "REDIS_URL")
	} else if redisOptions, err := redis.ParseURL(cfg.RedisURL); err != nil {
		logger.Warn("redis url parse failed; rate limiting disabled", "error", err)
	} else {
		redisClient := redis.NewClient(redisOptions)
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		pingErr := redisClient.Ping(pingCtx).Err()
		pingCancel()
		if pingErr != nil {
			logger.Warn("redis ping failed; rate limiting disabled", "error", pingErr)
			_ = redisClient.Close()
		} else {
			defer redisClient.Close()
			limiter = api.NewRedisRateLimiter(redisClient, cfg.RateLimitPrefix)
			logger.Info("redis connected")
		}
	}

	handler := api.NewHandler(service, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		Auth:               api.AuthMiddleware(api.NewJWKSKeySet(cfg.Auth0JWKSURL, nil), cfg.Auth0Audience, cfg.Auth0Issuer),
		AllowedOrigins:     cfg.AllowedOrigins(),
		Metrics:            api.NewHTTPMetrics(registry),
		Gatherer:           registry,
		RateLimiter:        limiter,
		RateLimitPerMinute: cfg.SyncRateLimitPerMinute,
		Logger:             logger,
	})

	var scheduler *app.Scheduler
	if cfg.SyncJobEnabled {
		jobs := app.NewJobs(service, logger, *cfg)
		scheduler = app.NewScheduler(jobs, logger, *cfg)
		if err := scheduler.Start(); err != nil {
			logger.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
		logger.Info("scheduler started")
	}

	// Configure and start the HTTP server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for an OS signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
			logger.Info("scheduler stopped gracefully")
		case <-shutdownCtx.Done():
			logger.Warn("scheduler still running at shutdown deadline")
		}
	}

	logger.Info("server stopped")
}
