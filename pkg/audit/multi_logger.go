package audit

import (
	"context"
	"errors"
	"sync"
)

// MultiLogger writes every event to each sink. Created with
// NewQueuedMultiLogger it hands events to one background writer so request
// paths do not wait on the database; a full queue makes Log write inline
// rather than drop the event.
type MultiLogger struct {
	sinks []Logger

	queue   chan *AuditEvent
	onError func(error)
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewMultiLogger creates a synchronous fan-out
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	return &MultiLogger{sinks: sinks}
}

// NewQueuedMultiLogger creates a fan-out with a background writer holding up
// to size pending events. onError receives write failures from the writer.
func NewQueuedMultiLogger(size int, onError func(error), sinks ...Logger) *MultiLogger {
	if size <= 0 {
		size = 1
	}
	if onError == nil {
		onError = func(error) {}
	}
	m := &MultiLogger{
		sinks:   sinks,
		queue:   make(chan *AuditEvent, size),
		onError: onError,
		done:    make(chan struct{}),
	}
	go m.drain()
	return m
}

func (m *MultiLogger) drain() {
	defer close(m.done)
	for event := range m.queue {
		if err := m.write(context.Background(), event); err != nil {
			m.onError(err)
		}
	}
}

// write tries every sink and joins their failures
func (m *MultiLogger) write(ctx context.Context, event *AuditEvent) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log records event in every sink. Queued loggers only report failures of
// inline writes.
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	if len(m.sinks) == 0 {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.queue != nil && !m.closed {
		select {
		case m.queue <- event:
			return nil
		default:
		}
	}
	// the request context may end before a slow sink finishes
	return m.write(context.WithoutCancel(ctx), event)
}

// Close flushes queued events and closes every sink
func (m *MultiLogger) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.queue != nil {
		close(m.queue)
	}
	m.mu.Unlock()

	if m.done != nil {
		<-m.done
	}

	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
