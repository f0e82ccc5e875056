// Package api serves field-projected record reads and the security event
// search.
//
// A record read returns only the columns the requester may see:
//
//	GET /api/proposals/p-1?fields=title,margin,customer
//
//	{
//	  "data":   {"title": "Q3 renewal"},
//	  "select": {"title": true, "customer": {"id": true, "name": true, "industry": true}}
//	}
//
// Each catalog table gets its own route. Before the handler runs, the record
// must pass a read check on the entity's permission resource. The check is
// evaluated against the row's owner and that owner's team, so OWN and TEAM
// grants apply to the rows they cover. A requester limited to OWN or TEAM
// sees 403 for rows that do not exist. Scalar fields are read from the table;
// relations appear only in the select echo. The id column is read to detect
// missing rows and returned only when selected.
//
// Security events are searched with
//
//	GET /api/security/events?type=PERMISSION_DENIED,SUSPICIOUS_ACTIVITY&risk=HIGH&since=2026-03-01T00:00:00Z&limit=50
//
// Route access is not checked here; mount the router behind
// routeguard.Integrator.Middleware.
package api
