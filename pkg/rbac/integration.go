package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/posalpro/posalpro/pkg/audit"
	"github.com/posalpro/posalpro/pkg/observability"
)

// Config holds RBAC configuration
type Config struct {
	// CacheTTL is how long effective permission sets are cached
	CacheTTL time.Duration

	// LocalCacheSize bounds the process-local cache, in users
	LocalCacheSize int

	// Dialect selects the migration SQL flavour
	Dialect Dialect
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		CacheTTL:       DefaultCacheTTL,
		LocalCacheSize: 10000,
		Dialect:        DialectPostgres,
	}
}

// Manager wires the store, cache and validator, and is the only mutation
// path: every change to a user's roles or grants clears their cache.
type Manager struct {
	store     *Store
	validator *Validator
	handlers  *Handlers
	audit     audit.Logger
	logger    *observability.Logger
	config    Config

	sessions SessionStore
	tokens   TokenIssuer
}

// NewManager creates a new RBAC manager. redisClient may be nil for a
// local-only cache; auditLogger, logger and metrics may be nil.
func NewManager(db *sql.DB, redisClient *redis.Client, auditLogger audit.Logger, logger *observability.Logger, metrics *observability.Metrics, config Config) (*Manager, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}

	var shared PermissionCache
	if redisClient != nil {
		shared = NewRedisCache(redisClient, config.CacheTTL)
	}
	cache := NewTieredCache(NewMemoryCache(config.LocalCacheSize, config.CacheTTL), shared, logger, metrics)

	store := NewStore(db)
	validator, err := NewValidator(store, cache, logger, metrics)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		store:     store,
		validator: validator,
		audit:     auditLogger,
		logger:    logger.WithField("component", "rbac"),
		config:    config,
	}
	m.handlers = NewHandlers(m)
	return m, nil
}

// Initialize sets up RBAC system
func (m *Manager) Initialize(ctx context.Context) error {
	if err := RunMigrations(ctx, m.store.db, m.config.Dialect, m.logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := InitializeBuiltInRoles(ctx, m.store); err != nil {
		return fmt.Errorf("failed to initialize built-in roles: %w", err)
	}

	return nil
}

// RegisterRoutes registers RBAC routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// GetStore returns the RBAC store
func (m *Manager) GetStore() *Store {
	return m.store
}

// GetValidator returns the permission validator
func (m *Manager) GetValidator() *Validator {
	return m.validator
}

// AssignRole assigns a role and clears the user's cached permissions
func (m *Manager) AssignRole(ctx context.Context, actor, userID string, roleID int64) error {
	if err := m.store.AssignRole(ctx, userID, roleID, actor); err != nil {
		return err
	}
	m.logRoleChange(ctx, actor, userID, "role_assigned", map[string]interface{}{"role_id": roleID})
	return m.validator.ClearUserCache(ctx, userID)
}

// RevokeRole revokes a role and clears the user's cached permissions
func (m *Manager) RevokeRole(ctx context.Context, actor, userID string, roleID int64) error {
	if err := m.store.RevokeRole(ctx, userID, roleID); err != nil {
		return err
	}
	m.logRoleChange(ctx, actor, userID, "role_revoked", map[string]interface{}{"role_id": roleID})
	return m.validator.ClearUserCache(ctx, userID)
}

// GrantPermission grants a direct permission and clears the user's cache
func (m *Manager) GrantPermission(ctx context.Context, actor, userID, permission string) error {
	if err := m.store.GrantPermission(ctx, userID, permission, actor); err != nil {
		return err
	}
	m.logRoleChange(ctx, actor, userID, "permission_granted", map[string]interface{}{"permission": permission})
	return m.validator.ClearUserCache(ctx, userID)
}

// RevokePermission revokes a direct permission and clears the user's cache
func (m *Manager) RevokePermission(ctx context.Context, actor, userID, permission string) error {
	if err := m.store.RevokePermission(ctx, userID, permission); err != nil {
		return err
	}
	m.logRoleChange(ctx, actor, userID, "permission_revoked", map[string]interface{}{"permission": permission})
	return m.validator.ClearUserCache(ctx, userID)
}

// UpdateRolePermissions replaces a role's permissions and clears the cache
// of every holder
func (m *Manager) UpdateRolePermissions(ctx context.Context, roleID int64, permissions []Permission) error {
	if err := m.store.UpdateRolePermissions(ctx, roleID, permissions); err != nil {
		return err
	}
	return m.clearRoleHolders(ctx, roleID, nil)
}

// DeleteRole deletes a custom role and clears the cache of its former holders
func (m *Manager) DeleteRole(ctx context.Context, roleID int64) error {
	holders, err := m.store.GetRoleUserIDs(ctx, roleID)
	if err != nil {
		return err
	}
	if err := m.store.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	return m.clearRoleHolders(ctx, roleID, holders)
}

func (m *Manager) clearRoleHolders(ctx context.Context, roleID int64, holders []string) error {
	if holders == nil {
		var err error
		holders, err = m.store.GetRoleUserIDs(ctx, roleID)
		if err != nil {
			return err
		}
	}

	var firstErr error
	for _, userID := range holders {
		if err := m.validator.ClearUserCache(ctx, userID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AddContextRule validates and stores a context rule. Rules are read per
// validation, so no cache is affected.
func (m *Manager) AddContextRule(ctx context.Context, rule *ContextRule) error {
	if err := m.validator.CheckRule(*rule); err != nil {
		return err
	}
	return m.store.AddContextRule(ctx, rule)
}

// ValidatePermission is a convenience wrapper over the validator
func (m *Manager) ValidatePermission(ctx context.Context, userID, resource, action string, pc *PermissionContext) *ValidationResult {
	return m.validator.ValidatePermission(ctx, userID, resource, action, pc)
}

func (m *Manager) logRoleChange(ctx context.Context, actor, userID, change string, metadata map[string]interface{}) {
	event := audit.NewEvent(ctx, nil, audit.EventTypeRoleChange, audit.EventStatusSuccess, audit.RiskHigh)
	event.Resource = "users"
	event.Action = change
	event.ResourceID = userID
	event.Message = fmt.Sprintf("%s for user %s", change, userID)
	event.Metadata["actor"] = actor
	for k, v := range metadata {
		event.Metadata[k] = v
	}

	if err := m.audit.Log(ctx, event); err != nil {
		m.logger.WithError(err).WithField("user_id", userID).Warn("failed to write role change audit event")
	}
}
