package rbac

import (
	"net/http"

	"github.com/posalpro/posalpro/pkg/auth"
	"github.com/posalpro/posalpro/pkg/httputil"
)

// ContextFunc derives the PermissionContext of a request, typically from
// path variables. It may return nil.
type ContextFunc func(r *http.Request) *PermissionContext

// PermissionMiddleware guards handlers with record-level validator checks,
// after the route guard has placed the requester in the request context.
type PermissionMiddleware struct {
	validator *Validator
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(validator *Validator) *PermissionMiddleware {
	return &PermissionMiddleware{validator: validator}
}

// RequirePermission creates middleware that requires resource:action
func (pm *PermissionMiddleware) RequirePermission(resource, action string, contextFn ContextFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rbacCtx := auth.FromRequest(r)
			if rbacCtx == nil {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			if !rbacCtx.IsSuperAdmin {
				var pc *PermissionContext
				if contextFn != nil {
					pc = contextFn(r)
				}
				result := pm.validator.ValidatePermission(r.Context(), rbacCtx.UserID, resource, action, pc)
				if !result.Granted {
					httputil.WriteForbidden(w, "Insufficient permissions")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
