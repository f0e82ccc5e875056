package routeguard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/posalpro/posalpro/pkg/audit"
	"github.com/posalpro/posalpro/pkg/auth"
	"github.com/posalpro/posalpro/pkg/contextkeys"
	"github.com/posalpro/posalpro/pkg/httputil"
	"github.com/posalpro/posalpro/pkg/observability"
	"github.com/posalpro/posalpro/pkg/rbac"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/posalpro/posalpro/pkg/routeguard"

// TokenVerifier verifies a session token
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// PermissionValidator decides a single resource:action check
type PermissionValidator interface {
	ValidatePermission(ctx context.Context, userID, resource, action string, pc *rbac.PermissionContext) *rbac.ValidationResult
}

// Route decision outcomes, used as metric labels
const (
	OutcomePublic          = "public"
	OutcomeAllowed         = "allowed"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeInvalidSession  = "invalid_session"
	OutcomeDenied          = "denied"
	OutcomeError           = "error"
)

// Config configures the integrator
type Config struct {
	LoginPath        string
	UnauthorizedPath string
	ErrorPath        string

	// UnsafeAdminSessionBypass skips session validation for super-admins.
	// Every use is audited. Never enable in production.
	UnsafeAdminSessionBypass bool
}

// DefaultConfig returns default integrator configuration
func DefaultConfig() Config {
	return Config{
		LoginPath:        "/login",
		UnauthorizedPath: "/unauthorized",
		ErrorPath:        "/error",
	}
}

// Redirect tells the caller where a rejected request should go
type Redirect struct {
	Location string
	Outcome  string
}

// StatusCode is the status an API client receives instead of the redirect
func (rd *Redirect) StatusCode() int {
	switch rd.Outcome {
	case OutcomeUnauthenticated, OutcomeInvalidSession:
		return http.StatusUnauthorized
	case OutcomeDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Integrator authenticates requests and enforces the route table
type Integrator struct {
	routes    *Registry
	tokens    TokenVerifier
	sessions  auth.SessionValidator
	validator PermissionValidator
	audit     audit.Logger
	logger    *observability.Logger
	metrics   *observability.Metrics
	config    Config
}

// NewIntegrator creates an integrator. auditLogger and metrics may be nil.
func NewIntegrator(config Config, routes *Registry, tokens TokenVerifier, sessions auth.SessionValidator, validator PermissionValidator, auditLogger audit.Logger, logger *observability.Logger, metrics *observability.Metrics) (*Integrator, error) {
	if routes == nil || tokens == nil || sessions == nil || validator == nil {
		return nil, errors.New("routes, tokens, sessions and validator are required")
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}

	defaults := DefaultConfig()
	if config.LoginPath == "" {
		config.LoginPath = defaults.LoginPath
	}
	if config.UnauthorizedPath == "" {
		config.UnauthorizedPath = defaults.UnauthorizedPath
	}
	if config.ErrorPath == "" {
		config.ErrorPath = defaults.ErrorPath
	}

	if config.UnsafeAdminSessionBypass {
		logger.Warn("UNSAFE admin session bypass is enabled; super-admin sessions are not validated")
	}

	return &Integrator{
		routes:    routes,
		tokens:    tokens,
		sessions:  sessions,
		validator: validator,
		audit:     auditLogger,
		logger:    logger.WithField("component", "routeguard"),
		metrics:   metrics,
		config:    config,
	}, nil
}

// Routes returns the route registry
func (i *Integrator) Routes() *Registry {
	return i.routes
}

// AuthenticateAndAuthorize decides whether r may proceed. On success it
// returns the requester (nil for public routes) and a nil redirect.
func (i *Integrator) AuthenticateAndAuthorize(r *http.Request) (*auth.RBACContext, *Redirect) {
	rbacCtx, _, redirect := i.authorize(r)
	return rbacCtx, redirect
}

func (i *Integrator) authorize(r *http.Request) (rbacCtx *auth.RBACContext, route *RouteConfig, redirect *Redirect) {
	risk := audit.RiskLow
	outcome := OutcomeError

	spanCtx, span := otel.Tracer(tracerName).Start(r.Context(), "routeguard.authorize")
	r = r.WithContext(spanCtx)

	defer func() {
		if err := observability.PanicError(recover()); err != nil {
			i.securityError(r, rbacCtx, err)
			rbacCtx, route = nil, nil
			redirect = i.redirect(i.config.ErrorPath, OutcomeError)
			outcome = OutcomeError
		}
		if i.metrics != nil {
			i.metrics.RecordRouteDecision(outcome, string(risk))
		}
		span.SetAttributes(
			attribute.String("routeguard.outcome", outcome),
			attribute.String("routeguard.risk", string(risk)),
		)
		if outcome == OutcomeError {
			span.SetStatus(codes.Error, "route authorization failed")
		}
		span.End()
	}()

	if rc, ok := i.routes.Match(r.Method, r.URL.Path); ok {
		route = &rc
		risk = rc.RiskLevel
		if rc.AllowPublic {
			outcome = OutcomePublic
			return nil, route, nil
		}
	}

	token := auth.ExtractToken(r.Header.Get("Authorization"), sessionCookie(r))
	if token == "" {
		outcome = OutcomeUnauthenticated
		i.log(r.Context(), r, audit.EventTypePermissionDenied, audit.EventStatusDenied, audit.RiskMedium, "no session token", nil)
		return nil, route, i.loginRedirect(r, outcome)
	}

	claims, err := i.tokens.Verify(token)
	if err != nil {
		outcome = OutcomeInvalidSession
		i.log(r.Context(), r, audit.EventTypeSuspiciousActivity, audit.EventStatusDenied, audit.RiskHigh, "invalid session token", nil)
		return nil, route, i.loginRedirect(r, outcome)
	}

	rbacCtx = &auth.RBACContext{
		UserID:       claims.Subject,
		Email:        claims.Email,
		Roles:        claims.Roles,
		Permissions:  claims.Permissions,
		SessionID:    claims.SessionID,
		IP:           auth.ClientIP(r),
		UserAgent:    r.UserAgent(),
		IsSuperAdmin: auth.IsSuperAdminRoles(claims.Roles),
	}
	ctx := auth.WithRBACContext(r.Context(), rbacCtx)

	if rbacCtx.IsSuperAdmin && i.config.UnsafeAdminSessionBypass {
		i.log(ctx, r, audit.EventTypeAdminBypass, audit.EventStatusSuccess, audit.RiskHigh, "session validation skipped for administrator", nil)
	} else if err := i.sessions.Validate(ctx, rbacCtx.SessionID, rbacCtx.UserID); err != nil {
		if !errors.Is(err, auth.ErrSessionNotFound) {
			i.securityError(r, rbacCtx, fmt.Errorf("session validation: %w", err))
			return nil, route, i.redirect(i.config.ErrorPath, OutcomeError)
		}
		outcome = OutcomeInvalidSession
		i.log(ctx, r, audit.EventTypeSuspiciousActivity, audit.EventStatusDenied, audit.RiskHigh, "session is not valid for token", nil)
		return nil, route, i.loginRedirect(r, outcome)
	}

	if !rbacCtx.IsSuperAdmin && route != nil {
		if failed := i.checkRoute(ctx, rbacCtx, route); failed != nil {
			outcome = OutcomeDenied
			i.log(ctx, r, audit.EventTypePermissionCheck, audit.EventStatusFailure, risk, "route access denied", failed)
			return nil, route, i.redirect(i.config.UnauthorizedPath, outcome)
		}
	}

	outcome = OutcomeAllowed
	if risk.AtLeast(audit.RiskHigh) {
		i.log(ctx, r, audit.EventTypeDataAccess, audit.EventStatusSuccess, risk, "access to sensitive route", nil)
	}
	return rbacCtx, route, nil
}

// checkRoute applies the route's requirements: any one role, every
// permission. It returns nil when access is allowed, otherwise what failed.
func (i *Integrator) checkRoute(ctx context.Context, rbacCtx *auth.RBACContext, route *RouteConfig) map[string]interface{} {
	if len(route.RequiredRoles) > 0 && !rbacCtx.HasAnyRole(route.RequiredRoles...) {
		return map[string]interface{}{"required_roles": route.RequiredRoles}
	}

	for _, p := range route.RequiredPermissions {
		perm := rbac.MustParsePermission(p)
		result := i.validator.ValidatePermission(ctx, rbacCtx.UserID, perm.Resource, perm.Action, nil)
		if !result.Granted {
			return map[string]interface{}{
				"failed_permission": p,
				"reason":            result.Reason,
			}
		}
	}
	return nil
}

// Middleware enforces AuthenticateAndAuthorize and stores the requester and
// matched route in the request context. Browsers are redirected; API
// clients asking for JSON receive the equivalent status code.
func (i *Integrator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rbacCtx, route, redirect := i.authorize(r)
		if redirect != nil {
			if wantsJSON(r) {
				httputil.WriteJSON(w, redirect.StatusCode(), map[string]string{
					"error":      http.StatusText(redirect.StatusCode()),
					"redirect":   redirect.Location,
					"request_id": w.Header().Get(observability.RequestHeaderID),
				})
				return
			}
			http.Redirect(w, r, redirect.Location, http.StatusFound)
			return
		}

		ctx := r.Context()
		if route != nil {
			ctx = contextkeys.WithRoute(ctx, route)
		}
		if rbacCtx != nil {
			ctx = auth.WithRBACContext(ctx, rbacCtx)
			ctx = observability.WithUserID(ctx, rbacCtx.UserID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RouteFromContext returns the route matched for the current request
func RouteFromContext(ctx context.Context) *RouteConfig {
	route, _ := ctx.Value(contextkeys.RouteKey).(*RouteConfig)
	return route
}

func (i *Integrator) redirect(location, outcome string) *Redirect {
	return &Redirect{Location: location, Outcome: outcome}
}

func (i *Integrator) loginRedirect(r *http.Request, outcome string) *Redirect {
	q := url.Values{"callbackUrl": {r.URL.RequestURI()}}
	return i.redirect(i.config.LoginPath+"?"+q.Encode(), outcome)
}

func (i *Integrator) securityError(r *http.Request, rbacCtx *auth.RBACContext, err error) {
	i.logger.WithError(err).WithFields(map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Error("route guard failed")

	ctx := r.Context()
	if rbacCtx != nil {
		ctx = auth.WithRBACContext(ctx, rbacCtx)
	}
	event := audit.NewEvent(ctx, r, audit.EventTypeSecurityError, audit.EventStatusFailure, audit.RiskHigh)
	event.Message = "route guard failed"
	event.ErrorMessage = err.Error()
	i.write(ctx, event)
}

func (i *Integrator) log(ctx context.Context, r *http.Request, eventType audit.EventType, status audit.EventStatus, risk audit.RiskLevel, message string, metadata map[string]interface{}) {
	event := audit.NewEvent(ctx, r, eventType, status, risk)
	event.Message = message
	for k, v := range metadata {
		event.Metadata[k] = v
	}
	i.write(ctx, event)
}

func (i *Integrator) write(ctx context.Context, event *audit.AuditEvent) {
	if err := i.audit.Log(ctx, event); err != nil {
		i.logger.WithError(err).WithField("event_type", string(event.EventType)).Warn("failed to write security event")
	}
}

func sessionCookie(r *http.Request) string {
	if c, err := r.Cookie(auth.SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

func wantsJSON(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") || strings.Contains(r.Header.Get("Accept"), "application/json")
}
