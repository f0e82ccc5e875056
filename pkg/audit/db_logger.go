package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// DBLogger appends security events to the security_events table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger and ensures its table
func NewDBLogger(ctx context.Context, db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}
	if err := logger.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure security_events table: %w", err)
	}

	return logger, nil
}

func (l *DBLogger) ensureTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS security_events (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(50) NOT NULL,
		status VARCHAR(20) NOT NULL,
		risk_level VARCHAR(10) NOT NULL,
		user_id VARCHAR(255),
		session_id VARCHAR(255),
		resource VARCHAR(100),
		action VARCHAR(100),
		resource_id VARCHAR(255),
		ip_address VARCHAR(45),
		user_agent TEXT,
		request_id VARCHAR(100),
		method VARCHAR(10),
		path TEXT,
		message TEXT,
		error_message TEXT,
		metadata JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_security_events_timestamp ON security_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_security_events_user_id ON security_events(user_id);
	CREATE INDEX IF NOT EXISTS idx_security_events_type ON security_events(event_type);
	`

	_, err := l.db.ExecContext(ctx, query)
	return err
}

// Log inserts an event and sets its ID
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	var metadataJSON []byte
	if len(event.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO security_events (
			timestamp, event_type, status, risk_level,
			user_id, session_id,
			resource, action, resource_id,
			ip_address, user_agent, request_id, method, path,
			message, error_message, metadata
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17
		) RETURNING id
	`

	err := l.db.QueryRowContext(ctx, query,
		event.Timestamp, event.EventType, event.Status, event.RiskLevel,
		event.UserID, event.SessionID,
		event.Resource, event.Action, event.ResourceID,
		event.IPAddress, event.UserAgent, event.RequestID, event.Method, event.Path,
		event.Message, event.ErrorMessage, metadataJSON,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}

	return nil
}

// Search returns stored events matching filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	var (
		conditions []string
		args       []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filter.StartTime != nil {
		add("timestamp >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		add("timestamp <= $%d", *filter.EndTime)
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			types[i] = string(t)
		}
		add("event_type = ANY($%d)", pq.Array(types))
	}
	if filter.MinRisk != "" {
		var levels []string
		for _, level := range []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical} {
			if level.AtLeast(filter.MinRisk) {
				levels = append(levels, string(level))
			}
		}
		add("risk_level = ANY($%d)", pq.Array(levels))
	}

	query := `
		SELECT id, timestamp, event_type, status, risk_level,
		       COALESCE(user_id, ''), COALESCE(session_id, ''),
		       COALESCE(resource, ''), COALESCE(action, ''), COALESCE(resource_id, ''),
		       COALESCE(ip_address, ''), COALESCE(user_agent, ''), COALESCE(request_id, ''),
		       COALESCE(method, ''), COALESCE(path, ''),
		       COALESCE(message, ''), COALESCE(error_message, ''), metadata
		FROM security_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search security events: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		var (
			event        AuditEvent
			metadataJSON []byte
		)
		if err := rows.Scan(
			&event.ID, &event.Timestamp, &event.EventType, &event.Status, &event.RiskLevel,
			&event.UserID, &event.SessionID,
			&event.Resource, &event.Action, &event.ResourceID,
			&event.IPAddress, &event.UserAgent, &event.RequestID,
			&event.Method, &event.Path,
			&event.Message, &event.ErrorMessage, &metadataJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		events = append(events, &event)
	}

	return events, rows.Err()
}

// Purge deletes events recorded before cutoff and returns how many were
// removed
func (l *DBLogger) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM security_events WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge security events: %w", err)
	}
	return res.RowsAffected()
}

// Close is a no-op; the database handle is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}
