package async

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_RunsTasks(t *testing.T) {
	logger, _ := testLogger()
	s := NewScheduler(logger)
	runs := atomic.Int32{}

	if err := s.AddTask("@every 1s", "db stats", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}

	s.Start()
	waitForWithin(t, 3*time.Second, func() bool { return runs.Load() >= 1 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestScheduler_InvalidSpec(t *testing.T) {
	logger, _ := testLogger()
	s := NewScheduler(logger)

	if err := s.AddTask("every now and then", "broken", 0, func(ctx context.Context) error { return nil }); err == nil {
		t.Error("AddTask() should reject an invalid schedule")
	}
}

func TestScheduler_StopCancelsRunningTask(t *testing.T) {
	logger, _ := testLogger()
	s := NewScheduler(logger)
	started := make(chan struct{}, 1)
	cancelled := atomic.Bool{}

	if err := s.AddTask("@every 1s", "long purge", 0, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}); err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}

	s.Start()
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("task never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !cancelled.Load() {
		t.Error("running task should observe cancellation before Stop returns")
	}
}

func waitForWithin(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
