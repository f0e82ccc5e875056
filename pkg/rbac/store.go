package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// PermissionStore is the persistence the validator reads from
type PermissionStore interface {
	GetUserPermissions(ctx context.Context, userID string) ([]string, error)
	GetUserRoles(ctx context.Context, userID string) ([]Role, error)
	GetRole(ctx context.Context, roleID int64) (*Role, error)
	GetUserTeam(ctx context.Context, userID string) (teamID, departmentID string, err error)
	GetContextRules(ctx context.Context, roleIDs []int64) ([]ContextRule, error)
}

// Store handles RBAC data persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for migrations and health checks
func (s *Store) DB() *sql.DB {
	return s.db
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrRoleNotFound) || errors.Is(err, ErrUserNotFound)
}

// CreateUser inserts a user record
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, team_id, department_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Email, user.Name, nullString(user.TeamID), nullString(user.DepartmentID), now)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.CreatedAt = now
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	var teamID, departmentID sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, team_id, department_id, created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.Name, &teamID, &departmentID, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.TeamID = teamID.String
	user.DepartmentID = departmentID.String
	return &user, nil
}

// GetUserTeam returns the user's team and department
func (s *Store) GetUserTeam(ctx context.Context, userID string) (string, string, error) {
	var teamID, departmentID sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT team_id, department_id FROM users WHERE id = $1", userID,
	).Scan(&teamID, &departmentID)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to get user team: %w", err)
	}
	return teamID.String, departmentID.String, nil
}

// CreateRole creates a new role
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	permissionsJSON, err := marshalPermissions(role.Permissions)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO roles (name, display_name, description, permissions, parent_role_id, is_built_in, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`,
		role.Name,
		role.DisplayName,
		role.Description,
		permissionsJSON,
		role.ParentRoleID,
		role.IsBuiltIn,
		now,
		now,
	).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

const roleColumns = "id, name, display_name, description, permissions, parent_role_id, is_built_in, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row rowScanner) (*Role, error) {
	var role Role
	var permissionsJSON string
	var parentRoleID sql.NullInt64

	err := row.Scan(
		&role.ID,
		&role.Name,
		&role.DisplayName,
		&role.Description,
		&permissionsJSON,
		&parentRoleID,
		&role.IsBuiltIn,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions of role %d: %w", role.ID, err)
	}
	if parentRoleID.Valid {
		role.ParentRoleID = &parentRoleID.Int64
	}

	return &role, nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx,
		"SELECT "+roleColumns+" FROM roles WHERE id = $1", roleID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrRoleNotFound, roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetRoleByName retrieves a role by its unique name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx,
		"SELECT "+roleColumns+" FROM roles WHERE name = $1", name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles lists all roles ordered by name
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	return s.queryRoles(ctx, "SELECT "+roleColumns+" FROM roles ORDER BY name")
}

func (s *Store) queryRoles(ctx context.Context, query string, args ...interface{}) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}

	return roles, rows.Err()
}

// UpdateRolePermissions replaces the permission list of a role
func (s *Store) UpdateRolePermissions(ctx context.Context, roleID int64, permissions []Permission) error {
	permissionsJSON, err := marshalPermissions(permissions)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE roles SET permissions = $1, updated_at = $2 WHERE id = $3",
		permissionsJSON, time.Now().UTC(), roleID,
	)
	if err != nil {
		return fmt.Errorf("failed to update role permissions: %w", err)
	}
	return expectAffected(result, fmt.Errorf("%w: %d", ErrRoleNotFound, roleID))
}

// DeleteRole deletes a custom role. Built-in roles are refused.
func (s *Store) DeleteRole(ctx context.Context, roleID int64) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsBuiltIn {
		return fmt.Errorf("%w: %s", ErrBuiltInRole, role.Name)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM roles WHERE id = $1", roleID); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}

// GetRoleUserIDs lists the users holding a role
func (s *Store) GetRoleUserIDs(ctx context.Context, roleID int64) ([]string, error) {
	return s.queryStrings(ctx,
		"SELECT user_id FROM user_roles WHERE role_id = $1 ORDER BY user_id", roleID)
}

// AssignRole assigns a role to a user. Assigning a held role is a no-op.
func (s *Store) AssignRole(ctx context.Context, userID string, roleID int64, grantedBy string) error {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id, granted_by, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, role_id) DO NOTHING
	`, userID, roleID, nullString(grantedBy), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// RevokeRole removes a role from a user
func (s *Store) RevokeRole(ctx context.Context, userID string, roleID int64) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2", userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	return expectAffected(result, fmt.Errorf("%w: user %s role %d", ErrRoleNotAssigned, userID, roleID))
}

// GetUserRoles returns the roles assigned to a user
func (s *Store) GetUserRoles(ctx context.Context, userID string) ([]Role, error) {
	return s.queryRoles(ctx, `
		SELECT r.id, r.name, r.display_name, r.description, r.permissions, r.parent_role_id, r.is_built_in, r.created_at, r.updated_at
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`, userID)
}

// GrantPermission grants a permission string directly to a user
func (s *Store) GrantPermission(ctx context.Context, userID, permission, grantedBy string) error {
	p, err := ParsePermission(permission)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_permissions (user_id, permission, granted_by, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, permission) DO NOTHING
	`, userID, p.String(), nullString(grantedBy), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to grant permission: %w", err)
	}
	return nil
}

// RevokePermission removes a direct permission grant
func (s *Store) RevokePermission(ctx context.Context, userID, permission string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM user_permissions WHERE user_id = $1 AND permission = $2", userID, permission)
	if err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}
	return expectAffected(result, fmt.Errorf("%w: %s", ErrPermissionNotGranted, permission))
}

// GetDirectPermissions returns the permissions granted to the user directly
func (s *Store) GetDirectPermissions(ctx context.Context, userID string) ([]string, error) {
	return s.queryStrings(ctx,
		"SELECT permission FROM user_permissions WHERE user_id = $1 ORDER BY permission", userID)
}

// GetUserPermissions computes the effective permission set: direct grants
// plus the grants of every assigned role, sorted and deduplicated. Parent
// role grants are not flattened in; the validator consults them separately.
func (s *Store) GetUserPermissions(ctx context.Context, userID string) ([]string, error) {
	direct, err := s.GetDirectPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}

	roles, err := s.GetUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(direct))
	for _, p := range direct {
		set[p] = struct{}{}
	}
	for _, role := range roles {
		for _, p := range role.Permissions {
			set[p.String()] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// AddContextRule stores a context rule for a role
func (s *Store) AddContextRule(ctx context.Context, rule *ContextRule) error {
	switch rule.Effect {
	case EffectGrant, EffectDeny:
	default:
		return fmt.Errorf("invalid context rule effect %q", rule.Effect)
	}
	if !validOperator(rule.Operator) {
		return fmt.Errorf("invalid context rule operator %q", rule.Operator)
	}
	if rule.Operator != OpExpression && rule.Attribute == "" {
		return errors.New("context rule attribute is required")
	}

	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO context_rules (role_id, resource, action, attribute, operator, value, effect, priority, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		rule.RoleID,
		rule.Resource,
		rule.Action,
		rule.Attribute,
		string(rule.Operator),
		rule.Value,
		string(rule.Effect),
		rule.Priority,
		now,
	).Scan(&rule.ID)
	if err != nil {
		return fmt.Errorf("failed to add context rule: %w", err)
	}

	rule.CreatedAt = now
	return nil
}

// DeleteContextRule removes a context rule
func (s *Store) DeleteContextRule(ctx context.Context, ruleID int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM context_rules WHERE id = $1", ruleID); err != nil {
		return fmt.Errorf("failed to delete context rule: %w", err)
	}
	return nil
}

// GetContextRules returns the rules of the given roles, highest priority
// first and in creation order among equal priorities
func (s *Store) GetContextRules(ctx context.Context, roleIDs []int64) ([]ContextRule, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(roleIDs))
	args := make([]interface{}, len(roleIDs))
	for i, id := range roleIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := `
		SELECT id, role_id, resource, action, attribute, operator, value, effect, priority, created_at
		FROM context_rules
		WHERE role_id IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY priority DESC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query context rules: %w", err)
	}
	defer rows.Close()

	var rules []ContextRule
	for rows.Next() {
		var rule ContextRule
		var operator, effect string
		if err := rows.Scan(
			&rule.ID,
			&rule.RoleID,
			&rule.Resource,
			&rule.Action,
			&rule.Attribute,
			&operator,
			&rule.Value,
			&effect,
			&rule.Priority,
			&rule.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan context rule: %w", err)
		}
		rule.Operator = Operator(operator)
		rule.Effect = Effect(effect)
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func marshalPermissions(permissions []Permission) (string, error) {
	if permissions == nil {
		permissions = []Permission{}
	}
	data, err := json.Marshal(permissions)
	if err != nil {
		return "", fmt.Errorf("failed to marshal permissions: %w", err)
	}
	return string(data), nil
}

func expectAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
