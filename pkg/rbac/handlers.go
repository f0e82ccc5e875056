package rbac

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/posalpro/posalpro/pkg/auth"
	"github.com/posalpro/posalpro/pkg/httputil"
)

// Handlers provides HTTP handlers for RBAC operations. Route-level access
// is enforced by the route guard in front of them.
type Handlers struct {
	manager *Manager
}

// NewHandlers creates new RBAC handlers
func NewHandlers(manager *Manager) *Handlers {
	return &Handlers{manager: manager}
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Role management
	router.HandleFunc("/rbac/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/rbac/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/rbac/roles/{id}", h.DeleteRole).Methods("DELETE")
	router.HandleFunc("/rbac/roles/{id}/permissions", h.UpdateRolePermissions).Methods("PUT")
	router.HandleFunc("/rbac/roles/{id}/rules", h.AddContextRule).Methods("POST")

	// User assignments and grants
	router.HandleFunc("/rbac/users/{id}/roles", h.GetUserRoles).Methods("GET")
	router.HandleFunc("/rbac/users/{id}/roles", h.AssignRole).Methods("POST")
	router.HandleFunc("/rbac/users/{id}/roles/{role_id}", h.RevokeRole).Methods("DELETE")
	router.HandleFunc("/rbac/users/{id}/permissions", h.GetUserPermissions).Methods("GET")
	router.HandleFunc("/rbac/users/{id}/permissions", h.GrantPermission).Methods("POST")
	router.HandleFunc("/rbac/users/{id}/permissions/{permission}", h.RevokePermission).Methods("DELETE")
	router.HandleFunc("/rbac/users/{id}/cache", h.ClearUserCache).Methods("DELETE")

	// Sessions; "current" is registered before the id pattern it overlaps
	router.HandleFunc("/rbac/users/{id}/sessions", h.IssueSession).Methods("POST")
	router.HandleFunc("/rbac/sessions/current", h.Logout).Methods("DELETE")
	router.HandleFunc("/rbac/sessions/{id}", h.RevokeSession).Methods("DELETE")

	// Permission checking
	router.HandleFunc("/rbac/check", h.CheckPermission).Methods("POST")
}

func actorID(r *http.Request) string {
	if rbacCtx := auth.FromRequest(r); rbacCtx != nil {
		return rbacCtx.UserID
	}
	return ""
}

// writeStoreError maps store errors to HTTP statuses
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrRoleNotFound), errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrRoleNotAssigned), errors.Is(err, ErrPermissionNotGranted):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrInvalidPermission):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrBuiltInRole):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrSessionsDisabled):
		httputil.WriteServiceUnavailable(w, err.Error())
	case errors.Is(err, ErrSharedInvalidation):
		httputil.WriteServiceUnavailable(w, "change saved but the shared permission cache was not cleared, retry the cache clear")
	default:
		httputil.WriteInternalError(w, r, err)
	}
}

// ListRoles lists all roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.manager.store.ListRoles(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, r, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httputil.WriteSuccess(w, roles)
}

type createRoleRequest struct {
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name"`
	Description  string   `json:"description"`
	Permissions  []string `json:"permissions"`
	ParentRoleID *int64   `json:"parent_role_id,omitempty"`
}

func parsePermissions(raw []string) ([]Permission, error) {
	out := make([]Permission, 0, len(raw))
	for _, s := range raw {
		p, err := ParsePermission(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// CreateRole creates a custom role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	permissions, err := parsePermissions(req.Permissions)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	role := &Role{
		Name:         req.Name,
		DisplayName:  req.DisplayName,
		Description:  req.Description,
		Permissions:  permissions,
		ParentRoleID: req.ParentRoleID,
	}
	if role.DisplayName == "" {
		role.DisplayName = role.Name
	}

	if err := h.manager.store.CreateRole(r.Context(), role); err != nil {
		httputil.WriteInternalError(w, r, err)
		return
	}

	httputil.WriteCreated(w, role)
}

// DeleteRole deletes a custom role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.manager.DeleteRole(r.Context(), roleID); err != nil {
		writeStoreError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// UpdateRolePermissions replaces a role's permissions
func (h *Handlers) UpdateRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Permissions []string `json:"permissions"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	permissions, err := parsePermissions(req.Permissions)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.manager.UpdateRolePermissions(r.Context(), roleID, permissions); err != nil {
		writeStoreError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// AddContextRule adds a context rule to a role
func (h *Handlers) AddContextRule(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var rule ContextRule
	if !httputil.ParseJSONOrError(w, r, &rule) {
		return
	}
	rule.RoleID = roleID

	if _, err := h.manager.store.GetRole(r.Context(), roleID); err != nil {
		writeStoreError(w, r, err)
		return
	}

	if err := h.manager.AddContextRule(r.Context(), &rule); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	httputil.WriteCreated(w, rule)
}

// GetUserRoles lists a user's roles
func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	roles, err := h.manager.store.GetUserRoles(r.Context(), userID)
	if err != nil {
		httputil.WriteInternalError(w, r, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httputil.WriteSuccess(w, roles)
}

// AssignRole assigns a role to a user
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		RoleID int64 `json:"role_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.RoleID, "role_id") {
		return
	}

	if err := h.manager.AssignRole(r.Context(), actorID(r), userID, req.RoleID); err != nil {
		writeStoreError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// RevokeRole removes a role from a user
func (h *Handlers) RevokeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}

	if err := h.manager.RevokeRole(r.Context(), actorID(r), userID, roleID); err != nil {
		writeStoreError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// GetUserPermissions returns a user's effective permission set
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	perms, err := h.manager.validator.GetUserPermissions(r.Context(), userID)
	if err != nil {
		httputil.WriteInternalError(w, r, err)
		return
	}
	if perms == nil {
		perms = []string{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id":     userID,
		"permissions": perms,
	})
}

// GrantPermission grants a direct permission
func (h *Handlers) GrantPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Permission string `json:"permission"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.manager.GrantPermission(r.Context(), actorID(r), userID, req.Permission); err != nil {
		writeStoreError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// RevokePermission revokes a direct permission
func (h *Handlers) RevokePermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	permission, ok := httputil.ParsePathStringOrError(w, r, "permission")
	if !ok {
		return
	}

	if err := h.manager.RevokePermission(r.Context(), actorID(r), userID, permission); err != nil {
		writeStoreError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// ClearUserCache drops a user's cached permission set
func (h *Handlers) ClearUserCache(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.manager.validator.ClearUserCache(r.Context(), userID); err != nil {
		httputil.WriteServiceUnavailable(w, "failed to clear shared permission cache")
		return
	}

	httputil.WriteNoContent(w)
}

// IssueSession starts a session for a user and returns its token
func (h *Handlers) IssueSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	issued, err := h.manager.IssueSession(r.Context(), actorID(r), userID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	httputil.WriteCreated(w, issued)
}

// RevokeSession ends any session by id
func (h *Handlers) RevokeSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.manager.RevokeSession(r.Context(), actorID(r), sessionID); err != nil {
		writeStoreError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// Logout ends the requester's own session
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	rbacCtx := auth.FromRequest(r)
	if rbacCtx == nil || rbacCtx.SessionID == "" {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.manager.RevokeSession(r.Context(), rbacCtx.UserID, rbacCtx.SessionID); err != nil {
		writeStoreError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

type checkRequest struct {
	UserID   string             `json:"userId,omitempty"`
	Resource string             `json:"resource"`
	Action   string             `json:"action"`
	Context  *PermissionContext `json:"context,omitempty"`
}

// CheckPermission validates a permission for the requester. Only
// administrators may name another user in userId.
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		func() (bool, string) { return req.Resource != "", "resource is required" },
		func() (bool, string) { return req.Action != "", "action is required" },
	) {
		return
	}

	rbacCtx := auth.FromRequest(r)
	if rbacCtx == nil || rbacCtx.UserID == "" {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	userID := rbacCtx.UserID
	if req.UserID != "" && req.UserID != userID {
		if !rbacCtx.IsSuperAdmin && !rbacCtx.HasAnyRole(RoleSystemAdministrator, RoleAdministrator) {
			httputil.WriteForbidden(w, "Only administrators may check other users")
			return
		}
		userID = req.UserID
	}

	result := h.manager.validator.ValidatePermission(r.Context(), userID, req.Resource, req.Action, req.Context)
	httputil.WriteSuccess(w, result)
}
