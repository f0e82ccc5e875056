package audit

import (
	"context"

	"github.com/posalpro/posalpro/pkg/observability"
)

// SlogLogger writes security events to the structured application log.
// HIGH and CRITICAL events are logged at warn and error level.
type SlogLogger struct {
	logger *observability.Logger
}

// NewSlogLogger creates an audit logger backed by logger
func NewSlogLogger(logger *observability.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

func (l *SlogLogger) Log(ctx context.Context, event *AuditEvent) error {
	fields := map[string]interface{}{
		"audit":      true,
		"event_type": string(event.EventType),
		"status":     string(event.Status),
		"risk_level": string(event.RiskLevel),
	}
	for key, value := range map[string]string{
		"user_id":     event.UserID,
		"session_id":  event.SessionID,
		"resource":    event.Resource,
		"action":      event.Action,
		"resource_id": event.ResourceID,
		"ip_address":  event.IPAddress,
		"request_id":  event.RequestID,
		"method":      event.Method,
		"path":        event.Path,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	if len(event.Metadata) > 0 {
		fields["metadata"] = event.Metadata
	}

	logger := l.logger.WithFields(fields)
	if event.ErrorMessage != "" {
		logger = logger.WithField("error", event.ErrorMessage)
	}

	msg := event.Message
	if msg == "" {
		msg = "security event"
	}

	switch event.RiskLevel {
	case RiskCritical:
		logger.Error(msg)
	case RiskHigh:
		logger.Warn(msg)
	default:
		logger.Info(msg)
	}
	return nil
}

func (l *SlogLogger) Close() error {
	return nil
}
