// Package routeguard gates HTTP routes on session and role/permission
// requirements.
//
// The route table maps a path prefix, optionally with a method, to its
// requirements and a risk level. It is loaded from YAML (an embedded default
// or an operator file) into a Registry, which can be changed at runtime and
// reloaded from disk with Watch.
//
// Integrator runs for every request:
//
//  1. public routes pass straight through
//  2. a missing or invalid session token redirects to the login page
//  3. the token's session must still be live in the SessionValidator
//  4. super-admins pass; others need any one required role and every
//     required permission, checked through the rbac validator
//  5. success on a HIGH or CRITICAL route is recorded as data access
//
// Rejections are audited and answered with a redirect (or a status code for
// API clients). Internal failures, panics included, never reach the caller:
// they are logged as security errors and redirected to the error page.
//
//	guard, err := routeguard.NewIntegrator(routeguard.DefaultConfig(), registry, tokens, sessions, validator, auditLogger, logger, metrics)
//	handler := guard.Middleware(router)
//
// Wrap the whole router rather than adding the guard with router.Use, so
// unmatched paths are guarded too.
package routeguard
