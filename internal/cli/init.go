// Package cli provides the process bootstrap shared by cmd/housebill,
// cmd/billing-worker and cmd/statements-worker.
package cli

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"housebill/internal/amqp"
	"housebill/internal/config"
	"housebill/internal/log"
	"housebill/internal/notify"
	"housebill/internal/storage"
)

// LoadEnvFile loads environment variables from path, or from ./.env when
// path is empty. A missing default file is ignored; variables already set
// in the environment win.
func LoadEnvFile(path string) error {
	if path == "" {
		err := godotenv.Load()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// SetupLogger builds the process logger from the configured level and format
// and installs it as the slog default. An unknown level falls back to info;
// Validate reports it.
func SetupLogger(cfg *config.Config, component string) *log.Logger {
	level, _ := log.ParseLevel(cfg.LogLevel)
	logger := log.New(log.Config{
		Level:     level,
		Component: component,
		Format:    cfg.LogFormat,
		Output:    os.Stdout,
	})
	log.SetDefault(logger)
	return logger
}

// LoadConfig loads the environment file, the configuration and the logger,
// and validates the configuration. It exits the process on failure.
func LoadConfig(envFile, component string) (*config.Config, *log.Logger) {
	envErr := LoadEnvFile(envFile)

	cfg := config.Load()
	logger := SetupLogger(cfg, component)
	if envErr != nil {
		logger.Error("Failed to load env file", log.FieldError, envErr, "path", envFile)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg, logger
}

// InitSQLite opens the SQLite repository, migrating the schema first.
// Returns the repository or exits the process on failure.
func InitSQLite(logger *log.Logger, dbPath string) *storage.SQLiteRepository {
	sqliteRepo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", dbPath)
		os.Exit(1)
	}
	return sqliteRepo
}

// InitNotifier connects the AMQP publisher when a broker is configured. It
// falls back to logging notifications when AMQP is disabled or unreachable.
// The returned close function is always safe to call.
func InitNotifier(logger *log.Logger, cfg *config.Config) (notify.Notifier, func()) {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled, notifications will be logged")
		return notify.LogNotifier{}, func() {}
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("Failed to initialize AMQP client, notifications will be logged", log.FieldError, err)
		return notify.LogNotifier{}, func() {}
	}
	logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client, func() { client.Close() }
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", log.FieldOperation, log.OpShutdown, "signal", sig.String())

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		if cleanup != nil {
			cleanup(shutdownCtx)
		}

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup is done.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
