// Package strategy implements the schema-per-tenant policy: how tenant
// identifiers map to schema names and how tenant schemas are provisioned,
// deleted, archived and enumerated.
package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/schemaplane/schemaplane-backend/internal/schema"
	"github.com/schemaplane/schemaplane-backend/pkg/config"
	"github.com/schemaplane/schemaplane-backend/pkg/database"
	apperrors "github.com/schemaplane/schemaplane-backend/pkg/errors"
	"github.com/schemaplane/schemaplane-backend/pkg/logger"
	"github.com/schemaplane/schemaplane-backend/pkg/sqlident"
)

// SchemaStrategy derives schema names from tenant identifiers and provisions
// schemas through the schema manager.
type SchemaStrategy struct {
	schemas       *schema.Manager
	prefix        string
	archivePrefix string
	logger        *logger.Logger
}

// New creates a schema-per-tenant strategy from the tenancy configuration.
func New(schemas *schema.Manager, cfg config.TenancyConfig, log *logger.Logger) *SchemaStrategy {
	return &SchemaStrategy{
		schemas:       schemas,
		prefix:        cfg.SchemaPrefix,
		archivePrefix: cfg.ArchivePrefix,
		logger:        log.WithComponent("tenant-strategy"),
	}
}

// SchemaNameFor derives the schema name for a tenant identifier. The mapping
// is a pure function: lower-case the identifier, replace hyphens with
// underscores, apply the configured prefix. The result must be a valid SQL
// identifier or an error is returned.
func (s *SchemaStrategy) SchemaNameFor(tenantID string) (string, error) {
	sanitized := strings.ToLower(strings.TrimSpace(tenantID))
	sanitized = strings.ReplaceAll(sanitized, "-", "_")

	name := s.prefix + sanitized
	if err := sqlident.Validate(name, sqlident.KindSchema); err != nil {
		return "", fmt.Errorf("cannot derive schema name for tenant %q: %w", tenantID, err)
	}
	return name, nil
}

// TenantIDFor reverse-maps a schema name to the sanitized tenant identifier.
// The second return is false when the schema does not carry the tenant prefix.
func (s *SchemaStrategy) TenantIDFor(schemaName string) (string, bool) {
	if !strings.HasPrefix(schemaName, s.prefix) {
		return "", false
	}
	id := strings.TrimPrefix(schemaName, s.prefix)
	if id == "" {
		return "", false
	}
	return id, true
}

// ArchivedSchemaName returns the schema name a tenant's schema is renamed to
// on archive. Restore strips the same prefix, so the pair is symmetric.
func (s *SchemaStrategy) ArchivedSchemaName(tenantID string) (string, error) {
	name, err := s.SchemaNameFor(tenantID)
	if err != nil {
		return "", err
	}
	archived := s.archivePrefix + name
	if err := sqlident.Validate(archived, sqlident.KindSchema); err != nil {
		return "", fmt.Errorf("archived schema name for tenant %q is not valid: %w", tenantID, err)
	}
	return archived, nil
}

// Provision creates the tenant's schema. Fails with TenantAlreadyExists when
// the schema is already present; plain CREATE SCHEMA makes concurrent
// provisioning of the same tenant fail fast instead of succeeding twice.
func (s *SchemaStrategy) Provision(ctx context.Context, tenantID string) (string, error) {
	name, err := s.SchemaNameFor(tenantID)
	if err != nil {
		return "", err
	}

	if err := s.schemas.Create(ctx, name); err != nil {
		if database.IsDuplicateSchema(err) {
			return "", apperrors.TenantAlreadyExists(tenantID)
		}
		return "", err
	}

	s.logger.Info().Str("tenant_id", tenantID).Str("schema", name).Msg("tenant schema provisioned")
	return name, nil
}

// Delete drops the tenant's schema. With hard it cascades through all data.
func (s *SchemaStrategy) Delete(ctx context.Context, tenantID string, hard bool) error {
	name, err := s.SchemaNameFor(tenantID)
	if err != nil {
		return err
	}
	return s.schemas.DropIfExists(ctx, name, hard)
}

// Exists reports whether the tenant's schema is present, active or archived.
func (s *SchemaStrategy) Exists(ctx context.Context, tenantID string) (bool, error) {
	name, err := s.SchemaNameFor(tenantID)
	if err != nil {
		return false, err
	}

	exists, err := s.schemas.Exists(ctx, name)
	if err != nil || exists {
		return exists, err
	}

	archived, err := s.ArchivedSchemaName(tenantID)
	if err != nil {
		return false, err
	}
	return s.schemas.Exists(ctx, archived)
}

// Enumerate lists the tenant identifiers of all active (non-archived) tenant
// schemas matching the configured prefix.
func (s *SchemaStrategy) Enumerate(ctx context.Context) ([]string, error) {
	names, err := s.schemas.ListByPrefix(ctx, s.prefix)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(names))
	for _, name := range names {
		if id, ok := s.TenantIDFor(name); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// EnumerateSchemas lists the active tenant schema names under the prefix.
func (s *SchemaStrategy) EnumerateSchemas(ctx context.Context) ([]string, error) {
	return s.schemas.ListByPrefix(ctx, s.prefix)
}

// Archive renames the tenant's schema out of active use, preserving data.
func (s *SchemaStrategy) Archive(ctx context.Context, tenantID string) error {
	name, err := s.SchemaNameFor(tenantID)
	if err != nil {
		return err
	}
	archived, err := s.ArchivedSchemaName(tenantID)
	if err != nil {
		return err
	}

	exists, err := s.schemas.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return apperrors.TenantNotFound(tenantID)
	}

	if err := s.schemas.Rename(ctx, name, archived); err != nil {
		return err
	}

	s.logger.Info().Str("tenant_id", tenantID).Str("schema", archived).Msg("tenant archived")
	return nil
}

// Restore renames an archived tenant schema back to its exact original name.
func (s *SchemaStrategy) Restore(ctx context.Context, tenantID string) error {
	name, err := s.SchemaNameFor(tenantID)
	if err != nil {
		return err
	}
	archived, err := s.ArchivedSchemaName(tenantID)
	if err != nil {
		return err
	}

	exists, err := s.schemas.Exists(ctx, archived)
	if err != nil {
		return err
	}
	if !exists {
		return apperrors.TenantNotFound(tenantID)
	}

	if err := s.schemas.Rename(ctx, archived, name); err != nil {
		return err
	}

	s.logger.Info().Str("tenant_id", tenantID).Str("schema", name).Msg("tenant restored")
	return nil
}
