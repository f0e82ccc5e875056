// Package auth authenticates PosalPro requests.
//
// A session token is an HS256 JWT issued by TokenManager. Its subject is the
// user id; it carries the user's roles, permissions and a session id (sid).
// The session id must also be live in a SessionValidator, normally the
// RedisSessionStore, so that logging out revokes a token before it expires.
//
//	tm, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
//	sid, err := sessions.Create(ctx, userID)
//	token, err := tm.Issue(userID, email, sid, roles, permissions)
//
// RBACContext is the per-request view of the authenticated caller. The route
// guard stores it in the request context; FromRequest reads it back.
package auth
