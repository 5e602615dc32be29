// Package service is the tenant manager: it drives provisioning, lifecycle
// transitions and migrations across the schema strategy, the migration
// runner and the registry, and publishes lifecycle events.
package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/schemaplane/schemaplane-backend/internal/migration"
	"github.com/schemaplane/schemaplane-backend/internal/registry"
	"github.com/schemaplane/schemaplane-backend/internal/tenants/strategy"
	"github.com/schemaplane/schemaplane-backend/pkg/errors"
	"github.com/schemaplane/schemaplane-backend/pkg/logger"
	"github.com/schemaplane/schemaplane-backend/pkg/metrics"
	"github.com/schemaplane/schemaplane-backend/pkg/tenant"
)

// LifecyclePublisher receives lifecycle notifications. Satisfied by
// events.TenantEventPublisher; nil disables publishing.
type LifecyclePublisher interface {
	PublishTenantProvisioned(ctx context.Context, record *registry.TenantRecord)
	PublishTenantArchived(ctx context.Context, tenantID, schemaName, archivedSchema string)
	PublishTenantRestored(ctx context.Context, tenantID, schemaName, archivedSchema string)
	PublishTenantDeleted(ctx context.Context, tenantID, schemaName string, hard bool)
	PublishTenantStatusChanged(ctx context.Context, tenantID string, oldStatus, newStatus registry.Status)
	PublishTenantMigrated(ctx context.Context, schemaName string)
	PublishTenantMigrationError(ctx context.Context, schemaName string, cause error)
	PublishFleetMigrated(ctx context.Context, schemas int, failed []string)
}

// TenantService orchestrates the tenant lifecycle
type TenantService struct {
	registry registry.Registry
	strategy *strategy.SchemaStrategy
	runner   *migration.Runner
	tracker  *migration.Tracker
	events   LifecyclePublisher
	logger   *logger.Logger
}

// NewTenantService creates a new tenant service. events may be nil when no
// message broker is configured.
func NewTenantService(
	reg registry.Registry,
	strat *strategy.SchemaStrategy,
	runner *migration.Runner,
	tracker *migration.Tracker,
	events LifecyclePublisher,
	log *logger.Logger,
) *TenantService {
	return &TenantService{
		registry: reg,
		strategy: strat,
		runner:   runner,
		tracker:  tracker,
		events:   events,
		logger:   log,
	}
}

// Provision creates a new tenant end to end: schema, migrations, registry
// record. The schema is dropped again if migrations fail, so a failed
// provision leaves nothing behind.
func (s *TenantService) Provision(ctx context.Context, slug string) (*registry.TenantRecord, error) {
	schemaName, err := s.strategy.Provision(ctx, slug)
	if err != nil {
		return nil, err
	}

	if err := s.runner.MigrateSchema(ctx, schemaName); err != nil {
		s.logger.Error().Err(err).Str("schema", schemaName).Msg("provisioning migration failed, rolling back schema")
		if dropErr := s.strategy.Delete(ctx, slug, true); dropErr != nil {
			s.logger.Error().Err(dropErr).Str("schema", schemaName).Msg("failed to roll back schema")
		}
		return nil, fmt.Errorf("failed to migrate new tenant schema: %w", err)
	}

	record := &registry.TenantRecord{
		Slug:       slug,
		Status:     registry.StatusActive,
		SchemaName: schemaName,
	}
	if err := s.registry.Create(ctx, record); err != nil {
		if dropErr := s.strategy.Delete(ctx, slug, true); dropErr != nil {
			s.logger.Error().Err(dropErr).Str("schema", schemaName).Msg("failed to roll back schema")
		}
		return nil, err
	}

	metrics.TenantsProvisioned.Inc()
	s.logger.Info().Str("tenant_id", record.ID).Str("schema", schemaName).Msg("tenant provisioned")

	if s.events != nil {
		s.events.PublishTenantProvisioned(ctx, record)
	}
	return record, nil
}

// GetByID returns the tenant record
func (s *TenantService) GetByID(ctx context.Context, id string) (*registry.TenantRecord, error) {
	return s.registry.GetByID(ctx, id)
}

// GetBySlug returns the tenant record by slug
func (s *TenantService) GetBySlug(ctx context.Context, slug string) (*registry.TenantRecord, error) {
	return s.registry.GetBySlug(ctx, slug)
}

// List returns all tenant records
func (s *TenantService) List(ctx context.Context) ([]registry.TenantRecord, error) {
	return s.registry.List(ctx)
}

// ListByStatus returns tenant records in the given lifecycle state
func (s *TenantService) ListByStatus(ctx context.Context, status registry.Status) ([]registry.TenantRecord, error) {
	return s.registry.ListByStatus(ctx, status)
}

// Exists reports whether the tenant has an active or archived schema
func (s *TenantService) Exists(ctx context.Context, slug string) (bool, error) {
	return s.strategy.Exists(ctx, slug)
}

// SetStatus transitions a tenant to a new lifecycle state
func (s *TenantService) SetStatus(ctx context.Context, id string, status registry.Status) error {
	record, err := s.registry.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if record.Status == status {
		return nil
	}

	if err := s.registry.UpdateStatus(ctx, id, status); err != nil {
		return err
	}

	s.logger.Info().Str("tenant_id", id).Str("old", string(record.Status)).Str("new", string(status)).Msg("tenant status changed")
	if s.events != nil {
		s.events.PublishTenantStatusChanged(ctx, id, record.Status, status)
	}
	return nil
}

// Archive renames the tenant's schema under the archive prefix and disables
// the tenant. Data is preserved and the tenant can be restored.
func (s *TenantService) Archive(ctx context.Context, id string) error {
	record, err := s.registry.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.strategy.Archive(ctx, record.Slug); err != nil {
		return err
	}
	if err := s.registry.UpdateStatus(ctx, id, registry.StatusDisabled); err != nil {
		return err
	}

	archived, err := s.strategy.ArchivedSchemaName(record.Slug)
	if err != nil {
		archived = ""
	}
	s.logger.Info().Str("tenant_id", id).Str("schema", record.SchemaName).Msg("tenant archived")
	if s.events != nil {
		s.events.PublishTenantArchived(ctx, id, record.SchemaName, archived)
	}
	return nil
}

// Restore moves an archived schema back to its active name and reactivates
// the tenant.
func (s *TenantService) Restore(ctx context.Context, id string) error {
	record, err := s.registry.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.strategy.Restore(ctx, record.Slug); err != nil {
		return err
	}
	if err := s.registry.UpdateStatus(ctx, id, registry.StatusActive); err != nil {
		return err
	}

	archived, err := s.strategy.ArchivedSchemaName(record.Slug)
	if err != nil {
		archived = ""
	}
	s.logger.Info().Str("tenant_id", id).Str("schema", record.SchemaName).Msg("tenant restored")
	if s.events != nil {
		s.events.PublishTenantRestored(ctx, id, record.SchemaName, archived)
	}
	return nil
}

// Delete removes a tenant. A hard delete drops the schema with all data and
// removes the registry record. A soft delete only flags the record; the
// schema stays in place for a later hard delete.
func (s *TenantService) Delete(ctx context.Context, id string, hard bool) error {
	record, err := s.registry.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if hard {
		if err := s.strategy.Delete(ctx, record.Slug, true); err != nil {
			return err
		}
		if err := s.registry.Delete(ctx, id); err != nil {
			return err
		}
		metrics.TenantsDeleted.WithLabelValues("hard").Inc()
	} else {
		if err := s.registry.UpdateStatus(ctx, id, registry.StatusFlaggedForDelete); err != nil {
			return err
		}
		metrics.TenantsDeleted.WithLabelValues("soft").Inc()
	}

	s.logger.Info().Str("tenant_id", id).Bool("hard", hard).Msg("tenant deleted")
	if s.events != nil {
		s.events.PublishTenantDeleted(ctx, id, record.SchemaName, hard)
	}
	return nil
}

// RotateAPIKey generates a fresh API key for the tenant and stores its hash.
// The plaintext key is returned exactly once and never persisted.
func (s *TenantService) RotateAPIKey(ctx context.Context, id string) (string, error) {
	if _, err := s.registry.GetByID(ctx, id); err != nil {
		return "", err
	}

	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	apiKey := "sk_" + base64.RawURLEncoding.EncodeToString(raw)

	if err := s.registry.SetAPIKey(ctx, id, apiKey); err != nil {
		return "", err
	}

	s.logger.Info().Str("tenant_id", id).Msg("tenant API key rotated")
	return apiKey, nil
}

// Authenticate resolves an API key to its tenant. Only active tenants
// authenticate.
func (s *TenantService) Authenticate(ctx context.Context, apiKey string) (*registry.TenantRecord, error) {
	if apiKey == "" {
		return nil, errors.Unauthorized("missing API key")
	}
	return s.registry.FindByAPIKey(ctx, apiKey)
}

// TenantContext builds the request-scoped tenant context for a record.
func (s *TenantService) TenantContext(record *registry.TenantRecord) tenant.Context {
	return tenant.Context{ID: record.ID, Schema: record.SchemaName}
}

// MigrateTenant brings a single tenant's schema up to the current migration
// set.
func (s *TenantService) MigrateTenant(ctx context.Context, id string) error {
	record, err := s.registry.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.runner.MigrateSchema(ctx, record.SchemaName); err != nil {
		if s.events != nil {
			s.events.PublishTenantMigrationError(ctx, record.SchemaName, err)
		}
		return err
	}
	if s.events != nil {
		s.events.PublishTenantMigrated(ctx, record.SchemaName)
	}
	return nil
}

// MigrateFleet migrates every enumerated tenant schema under the given
// failure policy and publishes a summary event.
func (s *TenantService) MigrateFleet(ctx context.Context, policy migration.FailurePolicy) error {
	schemas, err := s.strategy.EnumerateSchemas(ctx)
	if err != nil {
		return err
	}

	err = s.runner.MigrateAll(ctx, schemas, policy)

	var failed []string
	var agg *migration.AggregateError
	if errors.As(err, &agg) {
		failed = agg.FailedSchemas()
		if s.events != nil {
			for _, schemaName := range failed {
				s.events.PublishTenantMigrationError(ctx, schemaName, agg.Failures[schemaName])
			}
		}
	}
	if s.events != nil {
		s.events.PublishFleetMigrated(ctx, len(schemas), failed)
	}
	return err
}

// Status reports per-schema migration status for the whole fleet.
func (s *TenantService) Status(ctx context.Context) ([]migration.SchemaStatus, error) {
	schemas, err := s.strategy.EnumerateSchemas(ctx)
	if err != nil {
		return nil, err
	}
	return s.tracker.Status(ctx, schemas), nil
}
