package api

import (
	"context"
	"database/sql"

	"github.com/gorilla/mux"
	"github.com/posalpro/posalpro/pkg/audit"
	"github.com/posalpro/posalpro/pkg/fieldaccess"
	"github.com/posalpro/posalpro/pkg/rbac"
)

// EventSearcher queries stored security events
type EventSearcher interface {
	Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.AuditEvent, error)
}

// Server serves the field-projected record reads and the security event
// search. Authentication and route-level authorization happen in the route
// guard in front of it; record reads are further checked against the
// record's owner and team.
type Server struct {
	db        *sql.DB
	builder   *fieldaccess.Builder
	validator *rbac.Validator
	access    *rbac.PermissionMiddleware
	events    EventSearcher
}

// NewServer creates the API server. events may be nil when the database
// audit sink is disabled.
func NewServer(db *sql.DB, builder *fieldaccess.Builder, validator *rbac.Validator, events EventSearcher) *Server {
	return &Server{
		db:        db,
		builder:   builder,
		validator: validator,
		access:    rbac.NewPermissionMiddleware(validator),
		events:    events,
	}
}

// RegisterRoutes registers the API routes on router, which is expected to be
// mounted under /api. Register fixed-prefix routes such as /rbac first: the
// unknown entity route matches any two segments.
func (s *Server) RegisterRoutes(router *mux.Router) {
	if s.events != nil {
		router.HandleFunc("/security/events", s.searchSecurityEvents).Methods("GET")
	}

	catalog := s.builder.Catalog()
	for _, entity := range catalog.EntityTypes() {
		cfg := catalog.GetConfig(entity)
		if cfg.Table == "" {
			continue
		}
		read := s.access.RequirePermission(cfg.PermissionResource(), "read", s.recordContext(entity, cfg))
		router.Handle("/"+cfg.Table+"/{id}", read(s.getRecord(entity, cfg))).Methods("GET")
	}
	router.HandleFunc("/{entity}/{id}", s.unknownEntity).Methods("GET")
}
