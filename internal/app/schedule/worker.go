package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nosift/team-dh/internal/services"
	"github.com/nosift/team-dh/pkg/logger"
	"github.com/nosift/team-dh/pkg/metrics"
)

const (
	defaultSweepEvery    = 10 * time.Minute
	defaultStatusEvery   = 3 * time.Hour
	defaultAbnormalEvery = 30 * time.Minute
	defaultBatchLimit    = 20
)

// Worker coordinates the background jobs that keep leases rotating: the
// transfer sweep, the team credential check, and the abnormal-team rescue.
// All jobs are skipped when their dependency is nil.
type Worker struct {
	transfers *services.TransferService
	status    *services.TeamStatusService
	abnormal  *services.AbnormalChecker
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger

	batchLimit    int
	sweepEvery    time.Duration
	statusEvery   time.Duration
	abnormalEvery time.Duration
}

// Option customises the Worker.
type Option func(*Worker)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(w *Worker) {
		if c != nil {
			w.cron = c
		}
	}
}

// WithNow overrides the clock used for job timing.
func WithNow(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithSweepInterval sets how often the transfer sweep runs.
func WithSweepInterval(every time.Duration) Option {
	return func(w *Worker) {
		if every > 0 {
			w.sweepEvery = every
		}
	}
}

// WithBatchLimit caps how many due leases one sweep may transfer.
func WithBatchLimit(limit int) Option {
	return func(w *Worker) {
		if limit > 0 {
			w.batchLimit = limit
		}
	}
}

// WithStatusInterval sets how often team credentials are probed.
func WithStatusInterval(every time.Duration) Option {
	return func(w *Worker) {
		if every > 0 {
			w.statusEvery = every
		}
	}
}

// WithAbnormalInterval sets how often the abnormal-team rescue runs.
func WithAbnormalInterval(every time.Duration) Option {
	return func(w *Worker) {
		if every > 0 {
			w.abnormalEvery = every
		}
	}
}

// NewWorker constructs a Worker with sensible defaults.
func NewWorker(transfers *services.TransferService, status *services.TeamStatusService, abnormal *services.AbnormalChecker, opts ...Option) *Worker {
	worker := &Worker{
		transfers:     transfers,
		status:        status,
		abnormal:      abnormal,
		now:           time.Now,
		batchLimit:    defaultBatchLimit,
		sweepEvery:    defaultSweepEvery,
		statusEvery:   defaultStatusEvery,
		abnormalEvery: defaultAbnormalEvery,
		log:           logger.WithModule("schedule"),
	}

	for _, opt := range opts {
		opt(worker)
	}

	if worker.cron == nil {
		worker.cron = cron.New(
			cron.WithLogger(cron.DiscardLogger),
			cron.WithChain(cron.Recover(cron.PrintfLogger(zap.NewStdLog(worker.log)))),
		)
	}

	return worker
}

// Start registers the jobs with the cron scheduler and launches it.
func (w *Worker) Start() error {
	if w.transfers != nil {
		spec := fmt.Sprintf("@every %s", w.sweepEvery)
		if _, err := w.cron.AddFunc(spec, w.guard("transfer_sweep", func() {
			if err := w.runSweep(context.Background()); err != nil {
				w.log.Warn("transfer sweep failed", zap.Error(err))
			}
		})); err != nil {
			return err
		}
	}

	if w.status != nil {
		spec := fmt.Sprintf("@every %s", w.statusEvery)
		if _, err := w.cron.AddFunc(spec, w.guard("team_status", func() {
			if err := w.runStatusCheck(context.Background()); err != nil {
				w.log.Warn("team status check failed", zap.Error(err))
			}
		})); err != nil {
			return err
		}
	}

	if w.abnormal != nil {
		spec := fmt.Sprintf("@every %s", w.abnormalEvery)
		if _, err := w.cron.AddFunc(spec, w.guard("abnormal_check", func() {
			if err := w.runAbnormalCheck(context.Background()); err != nil {
				w.log.Warn("abnormal check failed", zap.Error(err))
			}
		})); err != nil {
			return err
		}
	}

	w.cron.Start()
	return nil
}

// guard keeps a panicking tick from taking the scheduler goroutine down;
// the next tick still fires.
func (w *Worker) guard(name string, job func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("scheduled job panicked",
					zap.String("job", name),
					zap.Any("panic", r))
			}
		}()
		job()
	}
}

// Stop halts the scheduler, waiting for any running jobs to complete.
func (w *Worker) Stop() context.Context {
	if w.cron == nil {
		return context.Background()
	}
	return w.cron.Stop()
}

// RunOnce executes every configured job sequentially. Used by tests and the
// startup warm-up pass.
func (w *Worker) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if w.status != nil {
		errs = multierr.Append(errs, w.runStatusCheck(ctx))
	}
	if w.transfers != nil {
		errs = multierr.Append(errs, w.runSweep(ctx))
	}
	if w.abnormal != nil {
		errs = multierr.Append(errs, w.runAbnormalCheck(ctx))
	}
	return errs
}

func (w *Worker) runSweep(ctx context.Context) error {
	started := w.now()
	moved, err := w.transfers.RunOnce(ctx, w.batchLimit)
	metrics.SweepDuration.WithLabelValues("transfer").Observe(w.now().Sub(started).Seconds())
	if err != nil {
		return err
	}
	if moved > 0 {
		w.log.Info("transfer sweep moved leases", zap.Int("moved", moved))
	}
	return nil
}

func (w *Worker) runStatusCheck(ctx context.Context) error {
	started := w.now()
	err := w.status.CheckAll(ctx)
	if _, syncErr := w.status.SyncCreatedTime(ctx); syncErr != nil {
		err = multierr.Append(err, syncErr)
	}
	metrics.SweepDuration.WithLabelValues("team_status").Observe(w.now().Sub(started).Seconds())
	return err
}

func (w *Worker) runAbnormalCheck(ctx context.Context) error {
	started := w.now()
	result, err := w.abnormal.Run(ctx)
	metrics.SweepDuration.WithLabelValues("abnormal").Observe(w.now().Sub(started).Seconds())
	if err != nil {
		return err
	}
	if result.Flagged > 0 {
		w.log.Warn("abnormal leases detected",
			zap.Int("flagged", result.Flagged),
			zap.Int("moved", result.Moved))
	}
	return nil
}
