package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/posalpro/posalpro/pkg/audit"
)

// ErrSessionsDisabled is returned when no session store is configured
var ErrSessionsDisabled = errors.New("sessions are not enabled")

// SessionStore starts and ends sessions
type SessionStore interface {
	Create(ctx context.Context, userID string) (string, error)
	Revoke(ctx context.Context, sessionID string) error
}

// TokenIssuer signs session tokens
type TokenIssuer interface {
	Issue(userID, email, sessionID string, roles, permissions []string) (string, error)
}

// IssuedSession is a new session and the token bound to it
type IssuedSession struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Roles     []string  `json:"roles"`
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
}

// EnableSessions lets the manager issue and revoke sessions
func (m *Manager) EnableSessions(sessions SessionStore, tokens TokenIssuer) {
	m.sessions = sessions
	m.tokens = tokens
}

// IssueSession starts a session for userID. The token carries the user's
// assigned role names; permissions are resolved per request.
func (m *Manager) IssueSession(ctx context.Context, actor, userID string) (*IssuedSession, error) {
	if m.sessions == nil || m.tokens == nil {
		return nil, ErrSessionsDisabled
	}

	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	roles, err := m.store.GetUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = role.Name
	}

	sessionID, err := m.sessions.Create(ctx, userID)
	if err != nil {
		return nil, err
	}
	token, err := m.tokens.Issue(userID, user.Email, sessionID, names, nil)
	if err != nil {
		// an unusable session must not linger
		if revokeErr := m.sessions.Revoke(context.WithoutCancel(ctx), sessionID); revokeErr != nil {
			m.logger.WithError(revokeErr).WithField("user_id", userID).Warn("failed to revoke unissued session")
		}
		return nil, err
	}

	m.logSessionChange(ctx, actor, userID, "session_issued", sessionID)
	return &IssuedSession{
		SessionID: sessionID,
		UserID:    userID,
		Roles:     names,
		Token:     token,
		IssuedAt:  time.Now().UTC(),
	}, nil
}

// RevokeSession ends a session. Tokens bound to it fail validation from
// the next request on.
func (m *Manager) RevokeSession(ctx context.Context, actor, sessionID string) error {
	if m.sessions == nil {
		return ErrSessionsDisabled
	}
	if err := m.sessions.Revoke(ctx, sessionID); err != nil {
		return err
	}
	m.logSessionChange(ctx, actor, "", "session_revoked", sessionID)
	return nil
}

func (m *Manager) logSessionChange(ctx context.Context, actor, userID, change, sessionID string) {
	event := audit.NewEvent(ctx, nil, audit.EventTypeSessionChange, audit.EventStatusSuccess, audit.RiskMedium)
	event.Resource = "sessions"
	event.Action = change
	event.ResourceID = sessionID
	event.Message = change
	if userID != "" {
		event.Message = fmt.Sprintf("%s for user %s", change, userID)
		event.Metadata["subject"] = userID
	}
	event.Metadata["actor"] = actor

	if err := m.audit.Log(ctx, event); err != nil {
		m.logger.WithError(err).WithField("session_id", sessionID).Warn("failed to write session audit event")
	}
}
