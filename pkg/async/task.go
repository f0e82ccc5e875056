package async

import (
	"context"
	"time"

	"github.com/posalpro/posalpro/pkg/observability"
)

// Task is a unit of background work
type Task func(ctx context.Context) error

// run executes task with panic recovery and an optional timeout, logging
// failures instead of returning them
func run(ctx context.Context, logger *observability.Logger, name string, timeout time.Duration, task Task) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	log := logger.WithField("task", name)
	defer observability.RecoverPanic(log, name)

	start := time.Now()
	if err := task(ctx); err != nil {
		log.WithError(err).Error("background task failed")
		return
	}
	log.WithField("duration", time.Since(start).String()).Debug("background task finished")
}

// SafeGo runs task in a goroutine with panic recovery. A zero timeout leaves
// the task bounded only by ctx, which suits long-running watchers.
//
//	async.SafeGo(ctx, logger, "route table watcher", 0, func(ctx context.Context) error {
//		return registry.Watch(ctx, path, logger)
//	})
func SafeGo(ctx context.Context, logger *observability.Logger, name string, timeout time.Duration, task Task) {
	go run(ctx, logger, name, timeout, task)
}
