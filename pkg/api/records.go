package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"unicode"

	"github.com/gorilla/mux"
	"github.com/posalpro/posalpro/pkg/auth"
	"github.com/posalpro/posalpro/pkg/fieldaccess"
	"github.com/posalpro/posalpro/pkg/httputil"
	"github.com/posalpro/posalpro/pkg/observability"
	"github.com/posalpro/posalpro/pkg/rbac"
)

// RecordResponse is a projected record plus the selection it was read with
type RecordResponse struct {
	Data   map[string]interface{} `json:"data"`
	Select fieldaccess.Selection  `json:"select"`
}

// getRecord handles GET /api/<table>/{id}?fields=a,b for entity. The read
// permission has already been checked by the route's permission middleware.
func (s *Server) getRecord(entity string, cfg fieldaccess.FieldConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rbacCtx := auth.FromRequest(r)
		if rbacCtx == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		id, ok := httputil.ParsePathStringOrError(w, r, "id")
		if !ok {
			return
		}

		ac := s.accessContext(r.Context(), rbacCtx, entity, id)
		selection := s.builder.GetSelectionFromQuery(entity, r.URL.Query().Get("fields"), ac)

		data, err := s.queryRecord(r.Context(), cfg.Table, id, selection.Columns())
		if errors.Is(err, sql.ErrNoRows) {
			httputil.WriteNotFoundError(w, fmt.Sprintf("%s not found", entity))
			return
		}
		if err != nil {
			httputil.WriteInternalError(w, r, err)
			return
		}

		httputil.WriteSuccess(w, RecordResponse{Data: data, Select: selection})
	}
}

func (s *Server) unknownEntity(w http.ResponseWriter, r *http.Request) {
	httputil.WriteNotFoundError(w, fmt.Sprintf("unknown entity: %s", mux.Vars(r)["entity"]))
}

// recordContext describes the requested record for scoped grants. A record
// that is missing or whose owner cannot be read carries no owner, so OWN and
// TEAM grants do not match it.
func (s *Server) recordContext(entity string, cfg fieldaccess.FieldConfig) rbac.ContextFunc {
	return func(r *http.Request) *rbac.PermissionContext {
		id := mux.Vars(r)["id"]
		pc := &rbac.PermissionContext{ResourceID: id, ResourceType: entity}
		if cfg.OwnerField == "" {
			return pc
		}

		owner, team, err := s.recordOwner(r.Context(), cfg.Table, cfg.OwnerField, id)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				observability.FromContext(r.Context()).WithError(err).
					WithField("resource_id", id).Warn("record owner lookup failed")
			}
			return pc
		}
		pc.ResourceOwner, pc.TeamID = owner, team
		return pc
	}
}

// recordOwner reads the owning user of a row and that user's team
func (s *Server) recordOwner(ctx context.Context, table, ownerField, id string) (string, string, error) {
	owner := quoteIdent(columnName(ownerField))
	query := fmt.Sprintf(`SELECT r.%s, u."team_id" FROM %s r LEFT JOIN "users" u ON u."id" = r.%s WHERE r."id" = $1`,
		owner, quoteIdent(table), owner)

	var ownerID, teamID sql.NullString
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&ownerID, &teamID); err != nil {
		return "", "", err
	}
	return ownerID.String, teamID.String, nil
}

// accessContext builds the field access context for the requester. When the
// permission lookup fails the context carries no permissions, so
// permission-gated fields are dropped rather than exposed.
func (s *Server) accessContext(ctx context.Context, rbacCtx *auth.RBACContext, entity, id string) *fieldaccess.AccessContext {
	ac := &fieldaccess.AccessContext{
		UserID:    rbacCtx.UserID,
		UserRoles: rbacCtx.Roles,
	}
	if entity == "user" {
		ac.TargetUserID = id
	}

	perms, err := s.validator.GetUserPermissions(ctx, rbacCtx.UserID)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("permission lookup failed, projecting without permissions")
		return ac
	}
	ac.UserPermissions = perms
	return ac
}

// queryRecord reads the selected scalar columns of one row. The id column is
// always read to detect missing rows but only returned when selected.
func (s *Server) queryRecord(ctx context.Context, table, id string, fields []string) (map[string]interface{}, error) {
	queryFields := fields
	if !slices.Contains(fields, "id") {
		queryFields = append([]string{"id"}, fields...)
	}

	columns := make([]string, len(queryFields))
	for i, f := range queryFields {
		columns[i] = quoteIdent(columnName(f))
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1",
		strings.Join(columns, ", "), quoteIdent(table))

	values := make([]interface{}, len(queryFields))
	dest := make([]interface{}, len(queryFields))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := s.db.QueryRowContext(ctx, query, id).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}

	data := make(map[string]interface{}, len(fields))
	for i, f := range queryFields {
		if f == "id" && !slices.Contains(fields, "id") {
			continue
		}
		if b, ok := values[i].([]byte); ok {
			data[f] = string(b)
			continue
		}
		data[f] = values[i]
	}
	return data, nil
}

// columnName maps a catalog field name to its column: customerId -> customer_id
func columnName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
