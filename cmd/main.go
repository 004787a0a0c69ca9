package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UnknownOlympus/beacon/internal/api"
	"github.com/UnknownOlympus/beacon/internal/config"
	"github.com/UnknownOlympus/beacon/internal/location"
	"github.com/UnknownOlympus/beacon/internal/mainloop"
	"github.com/UnknownOlympus/beacon/internal/metrics"
	"github.com/UnknownOlympus/beacon/internal/pipeline"
	"github.com/UnknownOlympus/beacon/internal/precondition"
	"github.com/UnknownOlympus/beacon/internal/repository"
	"github.com/UnknownOlympus/beacon/internal/stages"
	"github.com/UnknownOlympus/beacon/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// Constants for different environment types.
const (
	envLocal = "local"
	envDev   = "development"
	envProd  = "production"
)

const (
	mainLoopBuffer  = 64
	shutdownTimeout = 10 * time.Second
)

// main is the entry point of the application.
func main() {
	// Create a context that will be canceled when an interrupt signal is received.
	// This allows for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load application configuration.
	cfg := config.MustLoad()

	// Set up the logger based on the environment.
	logger := setupLogger(cfg.Env)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Create a separate registry for metrics.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(reg)

	// The run journal is optional; a nil journal disables it everywhere.
	var journal repository.Interface
	if cfg.JournalEnabled() {
		dtb, err := repository.NewDatabase(ctx,
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password, cfg.Database.Name,
		)
		if err != nil {
			log.Fatalf("Failed to connect to DB: %v", err)
		}
		defer dtb.Close()

		repo := repository.NewRepository(dtb, logger)
		if err = repo.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate DB: %v", err)
		}
		journal = repo
	} else {
		logger.WarnContext(ctx, "Run journal disabled, DB_HOST is not set")
	}

	client := transport.New(cfg.StageTimeout, cfg.RateLimit, logger)
	tracker := location.NewTracker(cfg.LocationMaxAge, logger)
	gate := precondition.NewGate(
		precondition.InterfaceConnectivity(),
		tracker.ServiceEnabled,
		tracker.PermissionGranted,
	)

	loop := mainloop.New(mainLoopBuffer, logger)
	signals := api.NewSignalLog(api.DefaultSignalCapacity, logger)

	orchestrator := pipeline.New(pipeline.Config{
		Stages: pipeline.Stages{
			Descriptor: stages.NewDescriptorFetcher(
				client, cfg.Endpoints.DiskURL, cfg.Secrets.OAuthToken, cfg.Secrets.SecretPath, logger,
			),
			Password: stages.NewPasswordRetriever(client, logger),
			Token:    stages.NewTokenExchanger(client, cfg.Endpoints.TokenURL, cfg.Username, logger),
			Location: stages.NewLocationReporter(client, cfg.Endpoints.LocationURL, logger),
		},
		Gate:         gate,
		Source:       tracker,
		Notifier:     signals,
		Dispatcher:   loop,
		Journal:      journal,
		Metrics:      appMetrics,
		StageTimeout: cfg.StageTimeout,
		Logger:       logger,
	})

	router := api.NewRouter(api.Config{
		RunContext:    context.WithoutCancel(ctx), // runs in flight finish their requests on shutdown
		Reporter:      orchestrator,
		Feed:          tracker,
		Preconditions: gate,
		Signals:       signals,
		Runs:          journal,
		Health:        journal,
		Gatherer:      reg,
		Logger:        logger,
	})

	readTimeout := 5
	writeTimeout := 10
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(readTimeout) * time.Second,
		WriteTimeout: time.Duration(writeTimeout) * time.Second,
	}

	// Log that the application has started.
	logger.InfoContext(ctx, "Application started. Press Ctrl+C to stop.", "port", cfg.Port)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		loop.Run(gctx)
		return nil
	})
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()

		// Log that a shutdown signal has been received.
		logger.InfoContext(gctx, "Shutdown signal received. Stopping application...")

		orchestrator.Close()
		loop.Close()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.ErrorContext(ctx, "Application stopped with error", "error", err)
		os.Exit(1)
	}

	// Log graceful shutdown completion.
	logger.InfoContext(ctx, "Application stopped gracefully.")
}

// setupLogger initializes and returns a logger based on the environment provided.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
				Level:     slog.LevelDebug,
				AddSource: true,
			}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level:       slog.LevelWarn,
				ReplaceAttr: dropTime,
			}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level:       slog.LevelError,
				ReplaceAttr: dropTime,
			}),
		)

		log.Error(
			"The env parameter was not specified or was invalid. Logging will be minimal, by default.",
			slog.String("available_envs", "local, development, production"))
	}

	return log
}

func dropTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}
