package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule runs the evaluation cycle every five minutes.
const DefaultSchedule = "*/5 * * * *"

// Runner is a single evaluation pass.
type Runner interface {
	Run(ctx context.Context) ([]string, error)
}

// Scheduler drives a Runner on a cron schedule. A tick that fires while the
// previous run is still going is skipped.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	logger *zap.Logger
	ctx    context.Context
}

// NewScheduler parses schedule (standard five-field cron, UTC) and
// registers runner on it.
func NewScheduler(schedule string, runner Runner, logger *zap.Logger) (*Scheduler, error) {
	cl := cronLogger{logger: logger.Named("cron")}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner: runner,
		logger: logger,
		ctx:    context.Background(),
	}

	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid evaluation schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins firing ticks. Runs receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("evaluation scheduler started", zap.Time("next_run", s.NextRun()))
}

// Stop stops scheduling and waits for a running cycle to return, or for ctx
// to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextRun returns the next scheduled tick, or the zero time before Start.
func (s *Scheduler) NextRun() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) tick() {
	ids, err := s.runner.Run(s.ctx)
	switch {
	case errors.Is(err, ErrCycleInProgress):
		s.logger.Warn("previous evaluation cycle still running, tick skipped")
	case err != nil:
		s.logger.Error("evaluation cycle failed", zap.Error(err))
	default:
		s.logger.Info("evaluation cycle finished", zap.Int("triggered", len(ids)))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
