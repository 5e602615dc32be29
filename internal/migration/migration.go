// Package migration applies, tracks and reports schema migrations
// independently per tenant. Migration SQL is generated against a placeholder
// schema and rewritten per tenant before execution.
package migration

import (
	"context"
	"fmt"

	"github.com/schemaplane/schemaplane-backend/pkg/database"
	"github.com/schemaplane/schemaplane-backend/pkg/sqlident"
)

// ProductVersion is recorded with every applied migration.
const ProductVersion = "1.0"

// MaxMigrationIDLength bounds history table primary keys.
const MaxMigrationIDLength = 150

// Migration is one known migration: a stable identifier and the generically
// generated SQL body targeting the placeholder schema.
type Migration struct {
	ID  string
	SQL string
}

// Source lists the known migrations in declared order.
type Source interface {
	Migrations() []Migration
}

// StaticSource is a Source over a fixed, ordered migration list.
type StaticSource struct {
	migrations []Migration
}

// NewStaticSource builds a source from the given migrations. Fails on empty
// or over-long migration IDs and on duplicates.
func NewStaticSource(migrations []Migration) (*StaticSource, error) {
	seen := make(map[string]struct{}, len(migrations))
	for _, m := range migrations {
		if m.ID == "" {
			return nil, fmt.Errorf("migration with empty ID")
		}
		if len(m.ID) > MaxMigrationIDLength {
			return nil, fmt.Errorf("migration ID %q exceeds %d characters", m.ID, MaxMigrationIDLength)
		}
		if _, dup := seen[m.ID]; dup {
			return nil, fmt.Errorf("duplicate migration ID %q", m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	return &StaticSource{migrations: migrations}, nil
}

// Migrations returns the known migrations in declared order.
func (s *StaticSource) Migrations() []Migration {
	out := make([]Migration, len(s.migrations))
	copy(out, s.migrations)
	return out
}

// Record is one row of a tenant's history table.
type Record struct {
	MigrationID    string `db:"migration_id"`
	ProductVersion string `db:"product_version"`
}

// historyTableDDL returns the CREATE statement for the history table inside
// the given tenant schema, fully qualified.
func historyTableDDL(schemaName, table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	migration_id VARCHAR(%d) NOT NULL PRIMARY KEY,
	product_version VARCHAR(32) NOT NULL
)`, sqlident.Quote(schemaName), sqlident.Quote(table), MaxMigrationIDLength)
}

// appliedMigrations reads the tenant-schema-qualified history table directly.
// The qualification is deliberate: a search-path or cached table-location
// setting shared across tenants may be stale, the qualified read cannot be.
func appliedMigrations(ctx context.Context, db *database.DB, schemaName, table string) (map[string]struct{}, error) {
	if err := sqlident.Validate(schemaName, sqlident.KindSchema); err != nil {
		return nil, err
	}
	if err := sqlident.Validate(table, sqlident.KindTable); err != nil {
		return nil, err
	}

	var ids []string
	query := fmt.Sprintf("SELECT migration_id FROM %s.%s ORDER BY migration_id",
		sqlident.Quote(schemaName), sqlident.Quote(table))
	if err := db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("failed to read history table for schema %s: %w", schemaName, err)
	}

	applied := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		applied[id] = struct{}{}
	}
	return applied, nil
}

// pendingMigrations computes known − applied, preserving declared order.
func pendingMigrations(known []Migration, applied map[string]struct{}) []Migration {
	var pending []Migration
	for _, m := range known {
		if _, ok := applied[m.ID]; !ok {
			pending = append(pending, m)
		}
	}
	return pending
}
