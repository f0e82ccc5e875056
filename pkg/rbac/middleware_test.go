package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/posalpro/posalpro/pkg/auth"
	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serveAs(h http.Handler, rbacCtx *auth.RBACContext, target string) int {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if rbacCtx != nil {
		req = req.WithContext(auth.WithRBACContext(req.Context(), rbacCtx))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code
}

func TestPermissionMiddleware_RequirePermission(t *testing.T) {
	store := setupTestStore(t)
	userWith(t, store, "rep", "t1", "proposals:read:OWN")
	userWith(t, store, "viewer", "", "products:read")
	pm := NewPermissionMiddleware(newTestValidator(t, store))

	ownerFromQuery := func(r *http.Request) *PermissionContext {
		return &PermissionContext{ResourceOwner: r.URL.Query().Get("owner")}
	}
	h := pm.RequirePermission("proposals", "read", ownerFromQuery)(okHandler())

	tests := []struct {
		name   string
		ctx    *auth.RBACContext
		target string
		want   int
	}{
		{"anonymous", nil, "/proposals/1", http.StatusUnauthorized},
		{"owner", &auth.RBACContext{UserID: "rep"}, "/proposals/1?owner=rep", http.StatusOK},
		{"not owner", &auth.RBACContext{UserID: "rep"}, "/proposals/1?owner=someone", http.StatusForbidden},
		{"no grant", &auth.RBACContext{UserID: "viewer"}, "/proposals/1?owner=viewer", http.StatusForbidden},
		{"super admin", &auth.RBACContext{UserID: "root", IsSuperAdmin: true}, "/proposals/1", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, serveAs(h, tt.ctx, tt.target))
		})
	}
}
