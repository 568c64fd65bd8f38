package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"housebill/internal/amqp"
	"housebill/internal/cli"
	"housebill/internal/log"
	"housebill/internal/sheets"
	gsheet "housebill/internal/sheets/google"
	"housebill/internal/sheets/memory"
	"housebill/internal/worker"
)

func main() {
	cfg, logger := cli.LoadConfig(os.Getenv("HOUSEBILL_ENV_FILE"), log.ComponentWorker)
	logger.Info("Starting statements-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the statements worker")
		os.Exit(1)
	}

	// Google Sheets export is optional; without it statements stay in memory
	var writer sheets.StatementWriter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.New(context.Background(), cfg.GoogleSpreadsheetID, cfg.GoogleStatementsSheetName)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
			os.Exit(1)
		}
		writer = client
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		writer = memory.New(memory.DefaultCapacity)
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	statementsWorker := worker.NewStatementsWorker(writer, nil)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return amqpClient.Consume(gctx, statementsWorker.HandleNotification)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down statements-worker...")
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", log.FieldError, err)
		amqpClient.Close()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
}
