// Package httputil holds the JSON response, request parsing and middleware
// helpers shared by the PosalPro HTTP handlers.
//
// Errors are always written as
//
//	{"error": "role not found", "request_id": "8f0c..."}
//
// and a 500 never carries the underlying error text:
//
//	roles, err := store.ListRoles(r.Context())
//	if err != nil {
//		httputil.WriteInternalError(w, r, err) // logged, body says "internal server error"
//		return
//	}
//
// Request parsing helpers write the 400 themselves and report whether the
// handler may continue:
//
//	var req assignRoleRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	if !httputil.RequirePositive(w, req.RoleID, "role_id") {
//		return
//	}
//
// The middleware returns plain func(http.Handler) http.Handler values.
// Chain applies them outermost first. Wrap the router itself so CORS
// preflights reach CORSMiddleware even though no route matches OPTIONS:
//
//	handler := httputil.Chain(
//		httputil.CORSMiddleware(cfg.Server.AllowedOrigins),
//		httputil.MaxBytesMiddleware(1<<20),
//		httputil.ContentTypeMiddleware,
//	)(router)
package httputil
