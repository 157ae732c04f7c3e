// Package main is the entry point for the fitpass billing API server.
//
// It loads configuration, connects the Postgres pool, wires the payment
// gateway client and billing services, builds the HTTP server with the core
// chassis (middleware, routing, health checks), and starts listening for
// requests.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"golang.org/x/sync/errgroup"

	"fitpass/internal/api/handlers"
	"fitpass/internal/auth"
	"fitpass/internal/billing"
	"fitpass/internal/config"
	"fitpass/internal/core"
	"fitpass/internal/db"
	"fitpass/internal/external"
	"fitpass/internal/metrics"
	"fitpass/internal/queue"

	"github.com/go-chi/chi/v5"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("fitpass billing API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	txManager := db.NewTxManager(pool, logger)
	stores := txManager.Stores()

	gatewayClient := external.NewGatewayClient(cfg.Gateway, logger)
	if !cfg.Gateway.Configured() {
		logger.Warn("payment gateway credentials missing; cancel/refund operations will be rejected")
	}

	events, collector, err := newAWSDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing AWS clients: %w", err)
	}

	plans := billing.NewStaticPlanRegistry()
	lifecycle := billing.NewLifecycleService(stores, txManager, gatewayClient, plans, events, logger)
	status := billing.NewStatusService(stores.Subscriptions)
	reconciler := billing.NewReconciler(txManager, stores.Users, events, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = auth.NewJWTAuthenticator(cfg.Auth)
	srv.Metrics = collector
	srv.HealthProbes = []core.HealthProbe{db.NewProbe(pool)}

	subscriptionHandler := handlers.NewSubscriptionHandler(lifecycle, status, stores.Payments, srv.Validator, logger)
	webhookHandler := handlers.NewWebhookHandler(reconciler, cfg.Gateway, logger)

	srv.V1RouteRegistrars = []func(chi.Router){subscriptionHandler.RegisterRoutes}
	srv.WebhookRegistrars = []func(chi.Router){webhookHandler.RegisterRoutes}
	srv.MountRoutes()

	return serve(ctx, cfg, srv.Handler(), logger)
}

// newAWSDependencies builds the SQS event publisher and CloudWatch metrics
// collector. Both are optional: when the queue URL is empty events are
// dropped, and the collector is only attached outside local environments.
func newAWSDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (billing.EventPublisher, core.MetricsCollector, error) {
	if cfg.Environment == "local" && cfg.AWS.EndpointURL == "" {
		logger.Info("AWS integrations disabled in local environment")
		return nil, nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, nil, fmt.Errorf("loading AWS config: %w", err)
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	collector := metrics.NewCloudWatchCollector(cwClient, cfg.AWS.MetricsNamespace, logger)
	events := queue.NewBillingEventPublisher(sqsClient, cfg.AWS, collector, logger)
	return events, collector, nil
}

// serve runs the HTTP server until ctx is cancelled, then drains in-flight
// requests within the configured shutdown timeout.
func serve(ctx context.Context, cfg *config.Config, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, draining requests",
			"timeout", cfg.Server.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// newLogger creates a structured JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
