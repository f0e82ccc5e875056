package fieldaccess

import (
	"bytes"
	"testing"

	"github.com/posalpro/posalpro/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	catalog, err := DefaultCatalog()
	require.NoError(t, err)
	return NewBuilder(catalog, nil, nil)
}

func TestGetSelection_PerformanceRatingByRole(t *testing.T) {
	b := newTestBuilder(t)

	sel := b.GetSelection("user", []string{"performanceRating"}, &AccessContext{UserRoles: []string{"Sales Manager"}})
	assert.Equal(t, Selection{"performanceRating": true}, sel)

	sel = b.GetSelection("user", []string{"performanceRating"}, &AccessContext{UserRoles: []string{"Business Development Manager"}})
	assert.NotContains(t, sel, "performanceRating")
	assert.True(t, sel.IsEmpty())
}

func TestGetSelection_PasswordAdminOnly(t *testing.T) {
	b := newTestBuilder(t)

	sel := b.GetSelection("user", []string{"password"}, &AccessContext{UserRoles: []string{RoleSystemAdministrator}})
	assert.Contains(t, sel, "password")

	sel = b.GetSelection("user", []string{"password"}, &AccessContext{UserRoles: []string{"Sales Manager"}})
	assert.NotContains(t, sel, "password")
}

func TestGetSelection_DefaultFields(t *testing.T) {
	b := newTestBuilder(t)

	sel := b.GetSelection("user", nil, &AccessContext{UserID: "u1", TargetUserID: "u1"})
	assert.Equal(t, []string{"department", "email", "id", "name", "status", "title"}, sel.Columns())
	assert.Empty(t, sel.Relations())
}

func TestGetSelection_AllowedFieldsWhenNoDefaults(t *testing.T) {
	catalog, err := NewCatalog(map[string]FieldConfig{
		"note": {AllowedFields: []string{"id", "body"}},
	})
	require.NoError(t, err)
	b := NewBuilder(catalog, nil, nil)

	sel := b.GetSelection("note", nil, nil)
	assert.Equal(t, Selection{"id": true, "body": true}, sel)
}

func TestGetSelection_Relations(t *testing.T) {
	b := newTestBuilder(t)

	sel := b.GetSelection("proposal", []string{"id", "customer", "products"}, &AccessContext{})
	assert.Equal(t, true, sel["id"])
	assert.Equal(t, Selection{"id": true, "name": true, "industry": true}, sel["customer"])
	assert.Equal(t, Selection{
		"id":    true,
		"name":  true,
		"price": true,
		"category": Selection{
			"id":   true,
			"name": true,
		},
	}, sel["products"])
	assert.Equal(t, []string{"customer", "products"}, sel.Relations())
}

func TestGetSelection_RelationIsCopied(t *testing.T) {
	b := newTestBuilder(t)

	first := b.GetSelection("proposal", []string{"products"}, nil)
	first["products"].(Selection)["injected"] = true

	second := b.GetSelection("proposal", []string{"products"}, nil)
	assert.NotContains(t, second["products"], "injected")
}

func TestGetSelection_UnknownFieldsOmitted(t *testing.T) {
	b := newTestBuilder(t)

	sel := b.GetSelectionFromQuery("user", "id, doesNotExist, ,name,id", &AccessContext{})
	assert.Equal(t, Selection{"id": true, "name": true}, sel)
}

func TestGetSelection_UnknownEntityFallsBackToID(t *testing.T) {
	b := newTestBuilder(t)

	sel := b.GetSelection("spaceship", []string{"id", "warpCore"}, &AccessContext{UserRoles: []string{RoleSystemAdministrator}})
	assert.Equal(t, Selection{"id": true}, sel)

	sel = b.GetSelection("spaceship", nil, nil)
	assert.Equal(t, Selection{"id": true}, sel)
}

func TestGetSelection_MinRoleEntity(t *testing.T) {
	b := newTestBuilder(t)

	sel := b.GetSelection("systemSetting", nil, &AccessContext{UserRoles: []string{"Sales Manager"}})
	assert.True(t, sel.IsEmpty())

	sel = b.GetSelection("systemSetting", nil, &AccessContext{UserRoles: []string{RoleAdministrator}})
	assert.Equal(t, []string{"id", "key", "value"}, sel.Columns())
}

func TestGetSelection_Idempotent(t *testing.T) {
	b := newTestBuilder(t)
	ac := &AccessContext{UserID: "u1", TargetUserID: "u2", UserRoles: []string{"Sales Manager"}}
	fields := []string{"id", "phone", "performanceRating", "manager", "roles", "password"}

	first := b.GetSelection("user", fields, ac)
	second := b.GetSelection("user", fields, ac)
	assert.Equal(t, first, second)
}

func TestGetSelection_SubsetOfAllowedAndRelations(t *testing.T) {
	b := newTestBuilder(t)
	requested := []string{"id", "bogus", "margin", "internalNotes", "customer", "assignedTo", "__proto__", "title"}
	contexts := []*AccessContext{
		nil,
		{UserRoles: []string{RoleSystemAdministrator}, UserPermissions: []string{"proposals:read_internal"}},
		{UserRoles: []string{"Sales Representative"}},
	}

	for _, entity := range b.Catalog().EntityTypes() {
		cfg := b.Catalog().GetConfig(entity)
		for _, ac := range contexts {
			sel := b.GetSelection(entity, requested, ac)
			for key := range sel {
				_, isRelation := cfg.Relations[key]
				assert.True(t, cfg.IsAllowed(key) || isRelation, "%s.%s not in catalog", entity, key)
				assert.Contains(t, requested, key)
			}
		}
	}
}

func TestGetSelection_RecordsDenials(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.DebugLevel, &buf)

	b := NewBuilder(catalog, logger, metrics)
	b.GetSelection("user", []string{"password", "id"}, &AccessContext{})

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.FieldDenialsTotal.WithLabelValues("user", "restricted")))
	assert.Contains(t, buf.String(), "field omitted from selection")
	assert.Contains(t, buf.String(), `"field":"password"`)
}

func TestParseFields(t *testing.T) {
	assert.Nil(t, ParseFields(""))
	assert.Nil(t, ParseFields("   "))
	assert.Equal(t, []string{"a", "b", "c"}, ParseFields("a, b,,c ,a"))
}

func TestSelection_Columns(t *testing.T) {
	sel := Selection{"b": true, "a": true, "rel": Selection{"x": true}, "off": false}
	assert.Equal(t, []string{"a", "b"}, sel.Columns())
	assert.Equal(t, []string{"rel"}, sel.Relations())
}
