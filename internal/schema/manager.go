// Package schema provides CRUD over database schemas, the lowest-level
// primitive of tenant provisioning. Every operation validates identifiers
// before building DDL text; schema and role names cannot be bind parameters.
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/schemaplane/schemaplane-backend/pkg/database"
	"github.com/schemaplane/schemaplane-backend/pkg/logger"
	"github.com/schemaplane/schemaplane-backend/pkg/sqlident"
)

// Manager executes schema DDL against the underlying store. It never retries;
// callers decide how to handle store errors.
type Manager struct {
	db     *database.DB
	logger *logger.Logger
}

// NewManager creates a new schema manager
func NewManager(db *database.DB, log *logger.Logger) *Manager {
	return &Manager{
		db:     db,
		logger: log.WithComponent("schema-manager"),
	}
}

// CreateIfNotExists creates the schema when it is not already present.
func (m *Manager) CreateIfNotExists(ctx context.Context, name string) error {
	if err := sqlident.Validate(name, sqlident.KindSchema); err != nil {
		return err
	}

	query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", sqlident.Quote(name))
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", name, err)
	}

	m.logger.Debug().Str("schema", name).Msg("schema ensured")
	return nil
}

// Create creates the schema and fails when it already exists. Provisioning
// uses this so a duplicate tenant surfaces as a conflict instead of silently
// succeeding twice.
func (m *Manager) Create(ctx context.Context, name string) error {
	if err := sqlident.Validate(name, sqlident.KindSchema); err != nil {
		return err
	}

	query := fmt.Sprintf("CREATE SCHEMA %s", sqlident.Quote(name))
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", name, err)
	}

	m.logger.Info().Str("schema", name).Msg("schema created")
	return nil
}

// DropIfExists drops the schema. With cascade it also drops every contained
// object; otherwise the drop fails when the schema is not empty.
func (m *Manager) DropIfExists(ctx context.Context, name string, cascade bool) error {
	if err := sqlident.Validate(name, sqlident.KindSchema); err != nil {
		return err
	}

	behavior := "RESTRICT"
	if cascade {
		behavior = "CASCADE"
	}

	query := fmt.Sprintf("DROP SCHEMA IF EXISTS %s %s", sqlident.Quote(name), behavior)
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to drop schema %s: %w", name, err)
	}

	m.logger.Info().Str("schema", name).Bool("cascade", cascade).Msg("schema dropped")
	return nil
}

// Exists reports whether the schema is present.
func (m *Manager) Exists(ctx context.Context, name string) (bool, error) {
	if err := sqlident.Validate(name, sqlident.KindSchema); err != nil {
		return false, err
	}

	var exists bool
	query := "SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)"
	if err := m.db.GetContext(ctx, &exists, query, name); err != nil {
		return false, fmt.Errorf("failed to check schema %s: %w", name, err)
	}

	return exists, nil
}

// ListByPrefix returns all schema names starting with prefix, ordered by name.
func (m *Manager) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	if err := sqlident.Validate(prefix, sqlident.KindSchema); err != nil {
		return nil, err
	}

	var names []string
	query := `SELECT schema_name FROM information_schema.schemata
	          WHERE schema_name LIKE $1 ESCAPE '\' ORDER BY schema_name`
	if err := m.db.SelectContext(ctx, &names, query, escapeLikePrefix(prefix)+"%"); err != nil {
		return nil, fmt.Errorf("failed to list schemas with prefix %s: %w", prefix, err)
	}

	return names, nil
}

// Rename renames a schema, preserving all contained objects.
func (m *Manager) Rename(ctx context.Context, oldName, newName string) error {
	if err := sqlident.Validate(oldName, sqlident.KindSchema); err != nil {
		return err
	}
	if err := sqlident.Validate(newName, sqlident.KindSchema); err != nil {
		return err
	}

	query := fmt.Sprintf("ALTER SCHEMA %s RENAME TO %s", sqlident.Quote(oldName), sqlident.Quote(newName))
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to rename schema %s to %s: %w", oldName, newName, err)
	}

	m.logger.Info().Str("from", oldName).Str("to", newName).Msg("schema renamed")
	return nil
}

// GrantAllTables grants usage on the schema and all privileges on its tables
// to the role.
func (m *Manager) GrantAllTables(ctx context.Context, name, role string) error {
	if err := sqlident.Validate(name, sqlident.KindSchema); err != nil {
		return err
	}
	if err := sqlident.Validate(role, sqlident.KindRole); err != nil {
		return err
	}

	statements := []string{
		fmt.Sprintf("GRANT USAGE ON SCHEMA %s TO %s", sqlident.Quote(name), sqlident.Quote(role)),
		fmt.Sprintf("GRANT ALL PRIVILEGES ON ALL TABLES IN SCHEMA %s TO %s", sqlident.Quote(name), sqlident.Quote(role)),
	}
	for _, query := range statements {
		if _, err := m.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to grant on schema %s to %s: %w", name, role, err)
		}
	}

	return nil
}

// RevokeAllTables revokes all privileges on the schema's tables and usage on
// the schema from the role.
func (m *Manager) RevokeAllTables(ctx context.Context, name, role string) error {
	if err := sqlident.Validate(name, sqlident.KindSchema); err != nil {
		return err
	}
	if err := sqlident.Validate(role, sqlident.KindRole); err != nil {
		return err
	}

	statements := []string{
		fmt.Sprintf("REVOKE ALL PRIVILEGES ON ALL TABLES IN SCHEMA %s FROM %s", sqlident.Quote(name), sqlident.Quote(role)),
		fmt.Sprintf("REVOKE USAGE ON SCHEMA %s FROM %s", sqlident.Quote(name), sqlident.Quote(role)),
	}
	for _, query := range statements {
		if _, err := m.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to revoke on schema %s from %s: %w", name, role, err)
		}
	}

	return nil
}

// escapeLikePrefix escapes LIKE wildcards so a prefix with underscores
// (tenant_) matches literally.
func escapeLikePrefix(prefix string) string {
	prefix = strings.ReplaceAll(prefix, `\`, `\\`)
	prefix = strings.ReplaceAll(prefix, `%`, `\%`)
	prefix = strings.ReplaceAll(prefix, `_`, `\_`)
	return prefix
}
