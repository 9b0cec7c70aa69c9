package poller

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/infra"
)

// Runner is one polling cycle.
type Runner interface {
	Run(ctx context.Context) (Summary, error)
}

// Scheduler triggers the sweep on a cron schedule. Overlapping runs are
// skipped so a slow cycle never stacks up.
type Scheduler struct {
	runner  Runner
	cron    *cron.Cron
	timeout time.Duration
	logger  *infra.Logger
}

// NewScheduler creates a scheduler. timeout bounds a single cycle including
// the item that is in flight when the sweep budget runs out.
func NewScheduler(runner Runner, timeout time.Duration, logger *infra.Logger) *Scheduler {
	if logger == nil {
		logger = infra.NopLogger()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Scheduler{
		runner:  runner,
		timeout: timeout,
		logger:  logger,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
	}
}

// Start registers the sweep under schedule ("@every 1m" when empty) and
// starts the cron loop.
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		schedule = "@every 1m"
	}
	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", schedule).Msg("poll scheduler started")
	return nil
}

// Stop halts the schedule and waits for a running cycle up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("poll scheduler stop timed out")
	}
	s.logger.Info().Msg("poll scheduler stopped")
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.runner.Run(ctx); err != nil {
		s.logger.Error().Err(err).Msg("poll cycle failed")
	}
}
