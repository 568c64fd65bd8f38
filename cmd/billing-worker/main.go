package main

import (
	"context"
	"os"
	"time"

	"housebill/internal/cli"
	"housebill/internal/core"
	"housebill/internal/log"
	"housebill/internal/scheduler"
	"housebill/internal/services"
)

func main() {
	cfg, logger := cli.LoadConfig(os.Getenv("HOUSEBILL_ENV_FILE"), log.ComponentWorker)
	logger.Info("Starting billing-worker")

	strategy, err := cfg.Strategy()
	if err != nil {
		logger.Error("Invalid billing cycle strategy", log.FieldError, err)
		os.Exit(1)
	}

	sqliteRepo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer sqliteRepo.Close()

	// Notifications go to the statements-worker through AMQP, or to the log
	notifier, closeNotifier := cli.InitNotifier(logger, cfg)
	defer closeNotifier()

	billingService := services.NewBillingService(sqliteRepo, strategy, cfg.BillingCycleYears, notifier)

	sched := scheduler.New(billingService, scheduler.Config{
		Populate:       cfg.CronPopulate,
		Enact:          cfg.CronEnact,
		Reconciliation: cfg.CronReconciliation,
		Statements:     cfg.CronStatements,
		Timeout:        cfg.JobTimeout,
		Logger:         logger,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := sched.Stop(ctx); err != nil {
			logger.Warn("Scheduled jobs still running at shutdown", log.FieldError, err)
		}
	})

	// Make sure the timeline exists before the first scheduled run
	startupCtx, cancel := context.WithTimeout(ctx, cfg.JobTimeout)
	if res, err := billingService.RunPopulate(startupCtx, core.DateOf(time.Now())); err != nil {
		logger.Error("Initial populate failed", log.FieldError, err)
	} else {
		logger.Info("Initial populate complete", "created", res.Created)
	}
	cancel()

	if err := sched.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler", log.FieldError, err)
		closeNotifier()
		sqliteRepo.Close()
		os.Exit(1)
	}

	logger.Info("Billing worker running",
		"strategy", strategy.Name(),
		"sqlite_db", cfg.SQLiteDBPath)

	cli.WaitForShutdown(ctx, done)
}
