package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/posalpro/posalpro/pkg/auth"
	"github.com/posalpro/posalpro/pkg/fieldaccess"
	"github.com/posalpro/posalpro/pkg/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStore serves fixed effective permission sets and teams
type stubStore struct {
	perms map[string][]string
	teams map[string]string
	err   error
}

func (s stubStore) GetUserPermissions(ctx context.Context, userID string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.perms[userID], nil
}

func (s stubStore) GetUserRoles(ctx context.Context, userID string) ([]rbac.Role, error) {
	return nil, s.err
}

func (s stubStore) GetRole(ctx context.Context, roleID int64) (*rbac.Role, error) {
	return nil, rbac.ErrRoleNotFound
}

func (s stubStore) GetUserTeam(ctx context.Context, userID string) (string, string, error) {
	return s.teams[userID], "", s.err
}

func (s stubStore) GetContextRules(ctx context.Context, roleIDs []int64) ([]rbac.ContextRule, error) {
	return nil, nil
}

type apiFixture struct {
	router *mux.Router
	mock   sqlmock.Sqlmock
}

func setupAPI(t *testing.T, store rbac.PermissionStore, events EventSearcher) *apiFixture {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	catalog, err := fieldaccess.DefaultCatalog()
	require.NoError(t, err)

	validator, err := rbac.NewValidator(store, nil, nil, nil)
	require.NoError(t, err)

	server := NewServer(db, fieldaccess.NewBuilder(catalog, nil, nil), validator, events)
	router := mux.NewRouter()
	server.RegisterRoutes(router.PathPrefix("/api").Subrouter())

	return &apiFixture{router: router, mock: mock}
}

func (f *apiFixture) get(target string, requester *auth.RBACContext) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	if requester != nil {
		r = r.WithContext(auth.WithRBACContext(r.Context(), requester))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

// expectOwner expects the owner lookup of one row. No owner means the row
// is missing.
func (f *apiFixture) expectOwner(table, column, id, owner, team string) {
	query := fmt.Sprintf(`SELECT r."%s", u."team_id" FROM "%s" r LEFT JOIN "users" u ON u."id" = r."%s" WHERE r."id" = $1`,
		column, table, column)
	rows := sqlmock.NewRows([]string{column, "team_id"})
	if owner != "" {
		rows.AddRow(owner, team)
	}
	f.mock.ExpectQuery(query).WithArgs(id).WillReturnRows(rows)
}

func decodeRecord(t *testing.T, w *httptest.ResponseRecorder) RecordResponse {
	t.Helper()
	var resp RecordResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestGetRecord_ProjectsAllowedFields(t *testing.T) {
	f := setupAPI(t, stubStore{perms: map[string][]string{"rep": {"proposals:read"}}}, nil)
	rep := &auth.RBACContext{UserID: "rep", Roles: []string{"Sales Representative"}}

	f.expectOwner("proposals", "created_by", "p-1", "someone", "")
	f.mock.ExpectQuery(`SELECT "id", "title" FROM "proposals" WHERE id = $1`).
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow("p-1", "Q3 renewal"))

	w := f.get("/api/proposals/p-1?fields=title,margin,internalNotes,customer", rep)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeRecord(t, w)
	assert.Equal(t, map[string]interface{}{"title": "Q3 renewal"}, resp.Data)
	assert.Contains(t, resp.Select, "title")
	assert.Contains(t, resp.Select, "customer")
	assert.NotContains(t, resp.Select, "margin")
	assert.NotContains(t, resp.Select, "internalNotes")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGetRecord_PermissionAndRoleGatedFields(t *testing.T) {
	f := setupAPI(t, stubStore{perms: map[string][]string{"fa": {"proposals:read", "proposals:read_internal"}}}, nil)
	analyst := &auth.RBACContext{UserID: "fa", Roles: []string{"Financial Analyst"}}

	f.expectOwner("proposals", "created_by", "p-1", "rep", "")
	f.mock.ExpectQuery(`SELECT "id", "internal_notes", "margin" FROM "proposals" WHERE id = $1`).
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "internal_notes", "margin"}).
			AddRow("p-1", []byte("discount approved"), 0.32))

	w := f.get("/api/proposals/p-1?fields=id,margin,internalNotes", analyst)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, map[string]interface{}{
		"id":            "p-1",
		"internalNotes": "discount approved",
		"margin":        0.32,
	}, decodeRecord(t, w).Data)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGetRecord_OwnScope(t *testing.T) {
	f := setupAPI(t, stubStore{perms: map[string][]string{"rep": {"proposals:read:OWN"}}}, nil)
	rep := &auth.RBACContext{UserID: "rep", Roles: []string{"Sales Representative"}}

	f.expectOwner("proposals", "created_by", "p-mine", "rep", "t1")
	f.mock.ExpectQuery(`SELECT "id", "title" FROM "proposals" WHERE id = $1`).
		WithArgs("p-mine").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow("p-mine", "my deal"))
	w := f.get("/api/proposals/p-mine?fields=title", rep)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, map[string]interface{}{"title": "my deal"}, decodeRecord(t, w).Data)

	f.expectOwner("proposals", "created_by", "p-other", "other-rep", "t1")
	w = f.get("/api/proposals/p-other?fields=title", rep)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NotContains(t, w.Body.String(), "title")

	// a missing row has no owner, so it is indistinguishable from a foreign one
	f.expectOwner("proposals", "created_by", "p-gone", "", "")
	w = f.get("/api/proposals/p-gone?fields=title", rep)
	assert.Equal(t, http.StatusForbidden, w.Code)

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGetRecord_TeamScope(t *testing.T) {
	f := setupAPI(t, stubStore{
		perms: map[string][]string{"mgr": {"customers:read:TEAM"}},
		teams: map[string]string{"mgr": "t-east"},
	}, nil)
	mgr := &auth.RBACContext{UserID: "mgr", Roles: []string{"Sales Manager"}}

	f.expectOwner("customers", "created_by", "c-1", "rep-east", "t-east")
	f.mock.ExpectQuery(`SELECT "id", "name" FROM "customers" WHERE id = $1`).
		WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("c-1", "Acme"))
	w := f.get("/api/customers/c-1?fields=name", mgr)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	f.expectOwner("customers", "created_by", "c-2", "rep-west", "t-west")
	w = f.get("/api/customers/c-2?fields=name", mgr)
	assert.Equal(t, http.StatusForbidden, w.Code)

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGetRecord_UnownedEntitySkipsOwnerLookup(t *testing.T) {
	f := setupAPI(t, stubStore{perms: map[string][]string{"rep": {"products:read"}}}, nil)
	rep := &auth.RBACContext{UserID: "rep", Roles: []string{"Sales Representative"}}

	f.mock.ExpectQuery(`SELECT "id", "name" FROM "products" WHERE id = $1`).
		WithArgs("sku-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("sku-1", "Widget"))
	w := f.get("/api/products/sku-1?fields=name,cost", rep)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, map[string]interface{}{"name": "Widget"}, decodeRecord(t, w).Data)

	w = f.get("/api/system_settings/s-1", rep)
	assert.Equal(t, http.StatusForbidden, w.Code)

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGetRecord_SelfAccessOnUsers(t *testing.T) {
	f := setupAPI(t, stubStore{perms: map[string][]string{"u1": {"users:read"}}}, nil)
	u1 := &auth.RBACContext{UserID: "u1", Roles: []string{"Sales Representative"}}

	f.expectOwner("users", "id", "u1", "u1", "")
	f.mock.ExpectQuery(`SELECT "id", "phone" FROM "users" WHERE id = $1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "phone"}).AddRow("u1", "+1 555 0100"))
	w := f.get("/api/users/u1?fields=phone,salary", u1)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, map[string]interface{}{"phone": "+1 555 0100"}, decodeRecord(t, w).Data)

	f.expectOwner("users", "id", "u2", "u2", "")
	f.mock.ExpectQuery(`SELECT "id" FROM "users" WHERE id = $1`).
		WithArgs("u2").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u2"))
	w = f.get("/api/users/u2?fields=phone,salary", u1)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeRecord(t, w)
	assert.Empty(t, resp.Data)
	assert.Empty(t, resp.Select)

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGetRecord_PermissionLookupFailureDenies(t *testing.T) {
	f := setupAPI(t, stubStore{err: errors.New("redis down")}, nil)
	hr := &auth.RBACContext{UserID: "hr", Roles: []string{"HR Manager"}}

	f.expectOwner("users", "id", "u7", "u7", "")
	w := f.get("/api/users/u7?fields=salary,performanceRating", hr)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGetRecord_SuperAdminSkipsPermissionCheck(t *testing.T) {
	f := setupAPI(t, stubStore{}, nil)
	root := &auth.RBACContext{UserID: "root", Roles: []string{"System Administrator"}, IsSuperAdmin: true}

	f.mock.ExpectQuery(`SELECT "id", "title" FROM "proposals" WHERE id = $1`).
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow("p-1", "Q3 renewal"))
	w := f.get("/api/proposals/p-1?fields=title", root)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGetRecord_Errors(t *testing.T) {
	f := setupAPI(t, stubStore{perms: map[string][]string{"rep": {"proposals:read"}}}, nil)
	rep := &auth.RBACContext{UserID: "rep", Roles: []string{"Sales Representative"}}

	w := f.get("/api/proposals/p-1", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.get("/api/widgets/1", rep)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "unknown entity")

	f.expectOwner("proposals", "created_by", "missing", "", "")
	f.mock.ExpectQuery(`SELECT "id", "title" FROM "proposals" WHERE id = $1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}))
	w = f.get("/api/proposals/missing?fields=title", rep)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.expectOwner("proposals", "created_by", "p-1", "rep", "")
	f.mock.ExpectQuery(`SELECT "id", "title" FROM "proposals" WHERE id = $1`).
		WithArgs("p-1").
		WillReturnError(errors.New(`pq: column "title" does not exist`))
	w = f.get("/api/proposals/p-1?fields=title", rep)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "does not exist")

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestColumnName(t *testing.T) {
	tests := map[string]string{
		"id":                "id",
		"customerId":        "customer_id",
		"performanceRating": "performance_rating",
		"isActive":          "is_active",
	}
	for field, want := range tests {
		assert.Equal(t, want, columnName(field), field)
	}
	assert.Equal(t, `"bad""name"`, quoteIdent(`bad"name`))
}
