package api

import (
	"net/http"
	"strings"

	"github.com/posalpro/posalpro/pkg/audit"
	"github.com/posalpro/posalpro/pkg/httputil"
)

// searchSecurityEvents handles GET /api/security/events.
//
// Query parameters: user, type (comma-separated event types), risk (minimum
// risk level), since and until (RFC 3339), limit (1-1000, default 100).
func (s *Server) searchSecurityEvents(w http.ResponseWriter, r *http.Request) {
	filter := audit.SearchFilter{
		UserID: httputil.ParseQueryString(r, "user", ""),
	}

	if raw := r.URL.Query().Get("type"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.EventTypes = append(filter.EventTypes, audit.EventType(strings.ToUpper(t)))
			}
		}
	}

	if raw := r.URL.Query().Get("risk"); raw != "" {
		risk, ok := audit.ParseRiskLevel(raw)
		if !ok {
			httputil.WriteBadRequest(w, "risk must be one of LOW, MEDIUM, HIGH, CRITICAL")
			return
		}
		filter.MinRisk = risk
	}

	since, err := httputil.ParseQueryTime(r, "since")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if !since.IsZero() {
		filter.StartTime = &since
	}

	until, err := httputil.ParseQueryTime(r, "until")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if !until.IsZero() {
		filter.EndTime = &until
	}

	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", 100, 1, 1000); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := s.events.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, r, err)
		return
	}
	if events == nil {
		events = []*audit.AuditEvent{}
	}
	httputil.WriteSuccess(w, events)
}
