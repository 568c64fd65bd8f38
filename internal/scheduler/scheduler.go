// Package scheduler triggers the periodic billing runs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"housebill/internal/billing"
	"housebill/internal/core"
	"housebill/internal/log"
)

// Runner is the billing work the scheduler triggers.
type Runner interface {
	RunPopulate(ctx context.Context, asOf core.Date) (billing.PopulateResult, error)
	RunEnactment(ctx context.Context, asOf core.Date) (int, error)
	RunReconciliationReminders(ctx context.Context, asOf core.Date) (int, error)
	RunStatements(ctx context.Context, asOf core.Date) (int, error)
}

// Config holds one cron spec per job. An empty spec disables the job.
type Config struct {
	Populate       string
	Enact          string
	Reconciliation string
	Statements     string
	// Timeout bounds a single job run.
	Timeout  time.Duration
	Location *time.Location
	// Logger defaults to the process default logger.
	Logger *log.Logger
}

type BillingScheduler struct {
	cron   *cron.Cron
	runner Runner
	cfg    Config
	logger *log.Logger
	now    func() time.Time
}

func New(runner Runner, cfg Config) *BillingScheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	logger = logger.WithComponent(log.ComponentScheduler)
	adapter := cronLogger{logger}
	return &BillingScheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		runner: runner,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Start registers the configured jobs and starts the cron engine.
func (s *BillingScheduler) Start(ctx context.Context) error {
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context, asOf core.Date) (int, error)
	}{
		{log.OpPopulate, s.cfg.Populate, func(ctx context.Context, asOf core.Date) (int, error) {
			res, err := s.runner.RunPopulate(ctx, asOf)
			return res.Created, err
		}},
		{log.OpEnact, s.cfg.Enact, s.runner.RunEnactment},
		{log.OpReconciliation, s.cfg.Reconciliation, s.runner.RunReconciliationReminders},
		{log.OpStatements, s.cfg.Statements, s.runner.RunStatements},
	}

	registered := 0
	for _, job := range jobs {
		if job.spec == "" {
			s.logger.InfoContext(ctx, "Scheduled job disabled", log.FieldJob, job.name)
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, func() { s.runJob(ctx, job.name, job.run) }); err != nil {
			return fmt.Errorf("schedule %s job %q: %w", job.name, job.spec, err)
		}
		registered++
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Billing scheduler started", log.FieldCount, registered, "location", s.cfg.Location.String())
	return nil
}

// runJob runs one job with the configured timeout. Failures are logged; the
// next tick retries.
func (s *BillingScheduler) runJob(ctx context.Context, name string, run func(ctx context.Context, asOf core.Date) (int, error)) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	asOf := core.DateOf(s.now().In(s.cfg.Location))
	logger := s.logger.With(log.FieldJob, name, log.FieldAsOf, asOf.String())
	ctx = log.IntoContext(ctx, logger)

	start := time.Now()
	n, err := run(ctx, asOf)
	if err != nil {
		logger.ErrorContext(ctx, "Scheduled job failed", log.FieldError, err)
		return
	}
	logger.InfoContext(ctx, "Scheduled job complete",
		log.FieldCount, n,
		log.FieldDuration, time.Since(start))
}

// Stop stops scheduling new runs and waits for running jobs to finish or
// ctx to expire.
func (s *BillingScheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.InfoContext(ctx, "Billing scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running jobs: %w", ctx.Err())
	}
}

// cronLogger routes cron's own logging to the scheduler logger.
type cronLogger struct {
	logger *log.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, log.FieldError, err)...)
}
