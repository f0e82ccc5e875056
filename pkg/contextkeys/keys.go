// Package contextkeys provides centralized context key definitions
//
// All context keys shared across packages are defined here so that
// producers and consumers agree on one key per value.
//
// USAGE PATTERN:
//
//	import "github.com/posalpro/posalpro/pkg/contextkeys"
//	ctx = contextkeys.WithRBAC(ctx, rbacCtx)
//	rbacCtx, _ := ctx.Value(contextkeys.RBACKey).(*auth.RBACContext)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RBACKey contains *auth.RBACContext
	// Set by: routeguard.Integrator.Middleware
	// Required by: rbac handlers, api record handler
	// Type: *auth.RBACContext
	RBACKey Key = "rbac_context"

	// RouteKey contains the matched *routeguard.RouteConfig
	// Set by: routeguard.Integrator.Middleware
	// Used by: handlers that vary audit detail by route risk
	// Type: *routeguard.RouteConfig
	RouteKey Key = "route_config"

	// RequestIDKey contains the request ID string
	// Set by: observability.RequestLoggingMiddleware
	// Used by: observability.FromContext, audit.NewEvent
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user ID string
	// Set by: routeguard.Integrator.Middleware
	// Used by: observability.FromContext
	// Type: string
	UserIDKey Key = "user_id"

	// LoggerKey contains the request *observability.Logger
	// Set by: observability.RequestLoggingMiddleware
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithRBAC adds the requester's RBAC context
func WithRBAC(ctx context.Context, rbacCtx interface{}) context.Context {
	return context.WithValue(ctx, RBACKey, rbacCtx)
}

// WithRoute adds the matched route configuration
func WithRoute(ctx context.Context, route interface{}) context.Context {
	return context.WithValue(ctx, RouteKey, route)
}
