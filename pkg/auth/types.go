package auth

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/posalpro/posalpro/pkg/contextkeys"
)

// Super-admin roles. Holders pass every route check.
const (
	RoleSystemAdministrator = "System Administrator"
	RoleAdministrator       = "Administrator"
)

// RBACContext is the authenticated requester, built from a verified session
// token for the lifetime of one request
type RBACContext struct {
	UserID       string   `json:"user_id"`
	Email        string   `json:"email,omitempty"`
	Roles        []string `json:"roles"`
	Permissions  []string `json:"permissions"`
	SessionID    string   `json:"session_id"`
	IP           string   `json:"ip,omitempty"`
	UserAgent    string   `json:"user_agent,omitempty"`
	IsSuperAdmin bool     `json:"is_super_admin"`
}

// HasRole checks if the requester holds role
func (c *RBACContext) HasRole(role string) bool {
	if c == nil {
		return false
	}
	return slices.Contains(c.Roles, role)
}

// HasAnyRole checks if the requester holds at least one of roles
func (c *RBACContext) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if c.HasRole(role) {
			return true
		}
	}
	return false
}

// HasPermission checks the token-carried permission list. Authoritative
// checks go through rbac.Validator.
func (c *RBACContext) HasPermission(permission string) bool {
	if c == nil {
		return false
	}
	return slices.Contains(c.Permissions, permission)
}

// IsSuperAdminRoles reports whether roles include a super-admin role
func IsSuperAdminRoles(roles []string) bool {
	return slices.Contains(roles, RoleSystemAdministrator) || slices.Contains(roles, RoleAdministrator)
}

// WithRBACContext stores the requester in ctx
func WithRBACContext(ctx context.Context, rbacCtx *RBACContext) context.Context {
	return contextkeys.WithRBAC(ctx, rbacCtx)
}

// FromContext returns the requester stored in ctx, or nil
func FromContext(ctx context.Context) *RBACContext {
	rbacCtx, _ := ctx.Value(contextkeys.RBACKey).(*RBACContext)
	return rbacCtx
}

// FromRequest returns the requester attached to r, or nil
func FromRequest(r *http.Request) *RBACContext {
	return FromContext(r.Context())
}

// ClientIP extracts the caller address, preferring proxy headers
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
