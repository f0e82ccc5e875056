// Package audit records PosalPro security events.
//
// # Overview
//
// Every authorization decision with security weight produces an AuditEvent:
// denied or unauthenticated route access, invalid sessions, access to
// HIGH and CRITICAL routes, role and permission changes, guard failures and
// every use of the admin session bypass. Events carry the requester, the
// request context and a risk level.
//
// # Event Types
//
//	PERMISSION_DENIED    no token, or the route check failed
//	SUSPICIOUS_ACTIVITY  token valid but its session is not
//	PERMISSION_CHECK     failed route permission check
//	DATA_ACCESS          successful access to a HIGH or CRITICAL route
//	SECURITY_ERROR       the guard itself failed
//	ADMIN_BYPASS         session validation skipped for an administrator
//	ROLE_CHANGE          role assignment or direct grant changed
//
// # Sinks
//
// Logger is append-only. FileLogger writes JSON lines to one file per UTC
// day, DBLogger inserts into security_events and supports Search and Purge,
// and SlogLogger writes to the application log. MultiLogger fans out to
// several sinks, optionally through a bounded queue:
//
//	fileLogger, err := audit.NewFileLogger(audit.DefaultFileLoggerConfig())
//	logger := audit.NewQueuedMultiLogger(1024, onError, fileLogger, audit.NewSlogLogger(appLogger))
//	defer logger.Close()
//
//	event := audit.NewEvent(ctx, r, audit.EventTypePermissionDenied, audit.EventStatusDenied, audit.RiskMedium)
//	event.Message = "no session token"
//	logger.Log(ctx, event)
//
// Search stored events:
//
//	since := time.Now().Add(-24 * time.Hour)
//	events, err := dbLogger.Search(ctx, audit.SearchFilter{
//		StartTime: &since,
//		MinRisk:   audit.RiskHigh,
//	})
package audit
