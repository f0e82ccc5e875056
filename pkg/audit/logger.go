package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/posalpro/posalpro/pkg/auth"
	"github.com/posalpro/posalpro/pkg/observability"
)

// Logger is the append-only sink for security events
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered events
	Close() error
}

// NoOpLogger discards every event
type NoOpLogger struct{}

func (NoOpLogger) Log(ctx context.Context, event *AuditEvent) error {
	return nil
}

func (NoOpLogger) Close() error {
	return nil
}

// NewEvent builds an event with request context filled in. r may be nil.
// The requester, when present in ctx, becomes the actor.
func NewEvent(ctx context.Context, r *http.Request, eventType EventType, status EventStatus, risk RiskLevel) *AuditEvent {
	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RiskLevel: risk,
		RequestID: observability.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}

	if r != nil {
		event.IPAddress = auth.ClientIP(r)
		event.UserAgent = r.UserAgent()
		event.Method = r.Method
		event.Path = r.URL.Path
	}

	if rbacCtx := auth.FromContext(ctx); rbacCtx != nil {
		event.UserID = rbacCtx.UserID
		event.SessionID = rbacCtx.SessionID
		event.Roles = rbacCtx.Roles
	}

	return event
}
