package rbac

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/posalpro/posalpro/pkg/audit"
	"github.com/posalpro/posalpro/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestManager(t *testing.T, client *redis.Client) (*Manager, *recordingAuditLogger) {
	t.Helper()

	db := setupTestDB(t)
	recorder := &recordingAuditLogger{}
	cfg := DefaultConfig()
	cfg.Dialect = DialectSQLite

	m, err := NewManager(db, client, recorder, quietLogger(), nil, cfg)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	return m, recorder
}

func TestManager_InitializeSeedsRoles(t *testing.T) {
	m, _ := setupTestManager(t, nil)

	roles, err := m.GetStore().ListRoles(context.Background())
	require.NoError(t, err)
	assert.Len(t, roles, len(BuiltInRoles()))

	// a second start is harmless
	require.NoError(t, m.Initialize(context.Background()))
}

func TestManager_AssignRoleClearsCacheAndAudits(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	m, recorder := setupTestManager(t, client)
	store := m.GetStore()
	createTestUser(t, store, "rep", "team-a")

	ctx := auth.WithRBACContext(context.Background(), &auth.RBACContext{UserID: "admin", SessionID: "s1"})

	result := m.ValidatePermission(ctx, "rep", "proposals", "create", nil)
	assert.False(t, result.Granted)
	assert.True(t, mr.Exists("rbac:perms:rep"))

	salesRep, err := store.GetRoleByName(ctx, RoleSalesRepresentative)
	require.NoError(t, err)
	require.NoError(t, m.AssignRole(ctx, "admin", "rep", salesRep.ID))
	assert.False(t, mr.Exists("rbac:perms:rep"))

	result = m.ValidatePermission(ctx, "rep", "proposals", "create", nil)
	assert.True(t, result.Granted)

	events := recorder.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTypeRoleChange, events[0].EventType)
	assert.Equal(t, audit.RiskHigh, events[0].RiskLevel)
	assert.Equal(t, "admin", events[0].UserID)
	assert.Equal(t, "rep", events[0].ResourceID)
	assert.Equal(t, "role_assigned", events[0].Action)

	require.NoError(t, m.RevokeRole(ctx, "admin", "rep", salesRep.ID))
	result = m.ValidatePermission(ctx, "rep", "proposals", "create", nil)
	assert.False(t, result.Granted)
	assert.Len(t, recorder.Events(), 2)
}

func TestManager_DirectGrants(t *testing.T) {
	m, recorder := setupTestManager(t, nil)
	ctx := context.Background()
	createTestUser(t, m.GetStore(), "u1", "")

	assert.False(t, m.ValidatePermission(ctx, "u1", "reports", "export", nil).Granted)

	require.NoError(t, m.GrantPermission(ctx, "admin", "u1", "reports:export"))
	assert.True(t, m.ValidatePermission(ctx, "u1", "reports", "export", nil).Granted)

	require.NoError(t, m.RevokePermission(ctx, "admin", "u1", "reports:export"))
	assert.False(t, m.ValidatePermission(ctx, "u1", "reports", "export", nil).Granted)

	assert.ErrorIs(t, m.GrantPermission(ctx, "admin", "u1", "bogus"), ErrInvalidPermission)
	assert.Len(t, recorder.Events(), 2)
}

func TestManager_RolePermissionChangeClearsEveryHolder(t *testing.T) {
	m, _ := setupTestManager(t, nil)
	ctx := context.Background()
	store := m.GetStore()

	role := createTestRole(t, store, "Analyst", nil, "reports:read")
	for _, id := range []string{"a1", "a2"} {
		createTestUser(t, store, id, "")
		require.NoError(t, m.AssignRole(ctx, "admin", id, role.ID))
		assert.False(t, m.ValidatePermission(ctx, id, "reports", "export", nil).Granted)
	}

	require.NoError(t, m.UpdateRolePermissions(ctx, role.ID, perms("reports:*")))

	for _, id := range []string{"a1", "a2"} {
		assert.True(t, m.ValidatePermission(ctx, id, "reports", "export", nil).Granted, id)
	}

	require.NoError(t, m.DeleteRole(ctx, role.ID))
	for _, id := range []string{"a1", "a2"} {
		assert.False(t, m.ValidatePermission(ctx, id, "reports", "read", nil).Granted, id)
	}
}

func TestManager_AddContextRule(t *testing.T) {
	m, _ := setupTestManager(t, nil)
	ctx := context.Background()
	role := createTestRole(t, m.GetStore(), "Approver", nil)

	bad := &ContextRule{RoleID: role.ID, Resource: "*", Action: "*", Operator: OpExpression, Value: "ctx.amount >", Effect: EffectGrant}
	assert.Error(t, m.AddContextRule(ctx, bad))

	good := &ContextRule{RoleID: role.ID, Resource: "*", Action: "*", Operator: OpExpression, Value: "true", Effect: EffectGrant}
	require.NoError(t, m.AddContextRule(ctx, good))
	assert.NotZero(t, good.ID)
}
