package rbac

import (
	"context"
	"database/sql"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/posalpro/posalpro/pkg/audit"
	"github.com/posalpro/posalpro/pkg/observability"
	"github.com/stretchr/testify/require"
)

func quietLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

// setupTestDB creates an in-memory database with the RBAC schema
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(context.Background(), db, DialectSQLite, quietLogger()))
	return db
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(setupTestDB(t))
}

func createTestUser(t *testing.T, store *Store, id, teamID string) *User {
	t.Helper()
	user := &User{ID: id, Email: id + "@posalpro.test", Name: id, TeamID: teamID}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

func createTestRole(t *testing.T, store *Store, name string, parentID *int64, permissions ...string) *Role {
	t.Helper()
	role := &Role{
		Name:         name,
		DisplayName:  name,
		Permissions:  perms(permissions...),
		ParentRoleID: parentID,
	}
	require.NoError(t, store.CreateRole(context.Background(), role))
	return role
}

func newTestValidator(t *testing.T, store PermissionStore) *Validator {
	t.Helper()
	v, err := NewValidator(store, nil, quietLogger(), nil)
	require.NoError(t, err)
	return v
}

// countingStore counts effective-set loads and can hold them until released
type countingStore struct {
	PermissionStore
	loads   atomic.Int32
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *countingStore) GetUserPermissions(ctx context.Context, userID string) ([]string, error) {
	s.loads.Add(1)
	if s.release != nil {
		s.once.Do(func() { close(s.started) })
		<-s.release
	}
	return s.PermissionStore.GetUserPermissions(ctx, userID)
}

// panicStore panics on every team lookup
type panicStore struct {
	PermissionStore
}

func (panicStore) GetUserTeam(ctx context.Context, userID string) (string, string, error) {
	panic("team directory exploded")
}

// recordingAuditLogger keeps events in memory
type recordingAuditLogger struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (l *recordingAuditLogger) Log(ctx context.Context, event *audit.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *recordingAuditLogger) Close() error {
	return nil
}

func (l *recordingAuditLogger) Events() []*audit.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*audit.AuditEvent(nil), l.events...)
}
