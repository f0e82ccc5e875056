package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/posalpro/posalpro/pkg/observability"
)

// Dialect selects the SQL flavour of the schema
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// serialKey is the auto-incrementing primary key column for the dialect
func (d Dialect) serialKey() string {
	if d == DialectSQLite {
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return "BIGSERIAL PRIMARY KEY"
}

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// render expands {{serial}} for the dialect
func (m Migration) render(d Dialect) string {
	return strings.ReplaceAll(m.SQL, "{{serial}}", d.serialKey())
}

// GetMigrations returns all RBAC migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users and roles tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id VARCHAR(64) PRIMARY KEY,
					email VARCHAR(255) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL DEFAULT '',
					team_id VARCHAR(64),
					department_id VARCHAR(64),
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_users_team ON users(team_id);

				CREATE TABLE IF NOT EXISTS roles (
					id {{serial}},
					name VARCHAR(255) NOT NULL UNIQUE,
					display_name VARCHAR(255) NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					permissions TEXT NOT NULL DEFAULT '[]',
					parent_role_id BIGINT REFERENCES roles(id) ON DELETE SET NULL,
					is_built_in BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
		{
			Version:     2,
			Description: "Create role assignment and direct grant tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_roles (
					user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					granted_by VARCHAR(64),
					granted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (user_id, role_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_roles_role ON user_roles(role_id);

				CREATE TABLE IF NOT EXISTS user_permissions (
					user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					permission VARCHAR(255) NOT NULL,
					granted_by VARCHAR(64),
					granted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (user_id, permission)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create context rules table",
			SQL: `
				CREATE TABLE IF NOT EXISTS context_rules (
					id {{serial}},
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					resource VARCHAR(255) NOT NULL,
					action VARCHAR(255) NOT NULL,
					attribute VARCHAR(255) NOT NULL DEFAULT '',
					operator VARCHAR(20) NOT NULL,
					value TEXT NOT NULL,
					effect VARCHAR(10) NOT NULL,
					priority INTEGER NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_context_rules_role ON context_rules(role_id);
			`,
		},
	}
}

// RunMigrations runs all pending RBAC migrations
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.FromContext(ctx)
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rbac_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM rbac_migrations")
	if err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("applying rbac migration")

		if err := applyMigration(ctx, db, dialect, migration); err != nil {
			return err
		}
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, dialect Dialect, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.render(dialect)); err != nil {
		return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO rbac_migrations (version, description) VALUES ($1, $2)",
		migration.Version, migration.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}

	return nil
}

// InitializeBuiltInRoles creates any missing built-in role. Existing roles
// are left untouched so operators can tune them.
func InitializeBuiltInRoles(ctx context.Context, store *Store) error {
	ids := make(map[string]int64)

	for _, tmpl := range BuiltInRoles() {
		existing, err := store.GetRoleByName(ctx, tmpl.Name)
		if err == nil {
			ids[tmpl.Name] = existing.ID
			continue
		}
		if !isNotFound(err) {
			return fmt.Errorf("failed to look up role %s: %w", tmpl.Name, err)
		}

		role := &Role{
			Name:        tmpl.Name,
			DisplayName: tmpl.DisplayName,
			Description: tmpl.Description,
			Permissions: tmpl.Permissions,
			IsBuiltIn:   true,
		}
		if tmpl.Parent != "" {
			parentID, ok := ids[tmpl.Parent]
			if !ok {
				return fmt.Errorf("built-in role %s references unknown parent %s", tmpl.Name, tmpl.Parent)
			}
			role.ParentRoleID = &parentID
		}

		if err := store.CreateRole(ctx, role); err != nil {
			return fmt.Errorf("failed to create role %s: %w", tmpl.Name, err)
		}
		ids[tmpl.Name] = role.ID
	}

	return nil
}
