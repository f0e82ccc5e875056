package async

import (
	"context"
	"fmt"
	"time"

	"github.com/posalpro/posalpro/pkg/observability"
	"github.com/robfig/cron/v3"
)

// Scheduler runs Tasks on cron schedules. Every run gets panic recovery and
// its own timeout; a run still in progress when the next tick fires is
// skipped rather than overlapped.
type Scheduler struct {
	cron   *cron.Cron
	logger *observability.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a stopped scheduler using UTC schedules
func NewScheduler(logger *observability.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddTask schedules task under a standard five-field cron spec or a
// descriptor such as "@every 30s" or "@daily"
func (s *Scheduler) AddTask(spec, name string, timeout time.Duration, task Task) error {
	_, err := s.cron.AddFunc(spec, func() {
		run(s.ctx, s.logger, name, timeout, task)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	s.logger.WithFields(map[string]interface{}{
		"task":     name,
		"schedule": spec,
	}).Info("background task scheduled")
	return nil
}

// Start begins running scheduled tasks
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling, cancels running tasks and waits for them to return
// or for ctx to expire
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}
