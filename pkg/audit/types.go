package audit

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType represents the category of security event
type EventType string

const (
	EventTypePermissionDenied   EventType = "PERMISSION_DENIED"
	EventTypeSuspiciousActivity EventType = "SUSPICIOUS_ACTIVITY"
	EventTypePermissionCheck    EventType = "PERMISSION_CHECK"
	EventTypeDataAccess         EventType = "DATA_ACCESS"
	EventTypeSecurityError      EventType = "SECURITY_ERROR"
	EventTypeAdminBypass        EventType = "ADMIN_BYPASS"
	EventTypeRoleChange         EventType = "ROLE_CHANGE"
	EventTypeSessionChange      EventType = "SESSION_CHANGE"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// RiskLevel is a coarse severity tag. It is attached to routes and to the
// events they produce.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

var riskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// ParseRiskLevel normalises a risk level name. Empty input is LOW.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	if strings.TrimSpace(s) == "" {
		return RiskLow, true
	}
	level := RiskLevel(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := riskRank[level]
	return level, ok
}

// AtLeast reports whether r is as severe as other or more
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return riskRank[r] >= riskRank[other]
}

// AuditEvent represents a single security event
type AuditEvent struct {
	ID        int64       `json:"id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`
	RiskLevel RiskLevel   `json:"risk_level"`

	// Actor information
	UserID    string   `json:"user_id,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Roles     []string `json:"roles,omitempty"`

	// Target
	Resource   string `json:"resource,omitempty"`
	Action     string `json:"action,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter represents filters for searching stored events
type SearchFilter struct {
	StartTime  *time.Time
	EndTime    *time.Time
	UserID     string
	EventTypes []EventType
	MinRisk    RiskLevel
	Limit      int
}
