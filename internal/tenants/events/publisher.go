// Package events publishes tenant lifecycle events to the tenant.events
// exchange. Publishing is best effort: a broker failure is logged, never
// surfaced to the caller, so tenant operations do not fail on messaging.
package events

import (
	"context"

	"github.com/schemaplane/schemaplane-backend/internal/registry"
	"github.com/schemaplane/schemaplane-backend/pkg/logger"
	"github.com/schemaplane/schemaplane-backend/pkg/messaging"
)

// TenantEventPublisher publishes tenant lifecycle events
type TenantEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewTenantEventPublisher creates a new tenant event publisher
func NewTenantEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*TenantEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeTenantEvents, "tenant-service", log)
	if err != nil {
		return nil, err
	}

	return &TenantEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// PublishTenantProvisioned publishes a tenant provisioned event
func (p *TenantEventPublisher) PublishTenantProvisioned(ctx context.Context, record *registry.TenantRecord) {
	data := messaging.TenantProvisionedEvent{
		TenantID:     record.ID,
		TenantSlug:   record.Slug,
		TenantSchema: record.SchemaName,
	}

	if err := p.publisher.Publish(ctx, messaging.EventTenantProvisioned, data); err != nil {
		p.logger.Error().Err(err).Str("tenant_id", record.ID).Msg("failed to publish tenant provisioned event")
	}
}

// PublishTenantArchived publishes a tenant archived event
func (p *TenantEventPublisher) PublishTenantArchived(ctx context.Context, tenantID, schemaName, archivedSchema string) {
	data := messaging.TenantArchivedEvent{
		TenantID:       tenantID,
		TenantSchema:   schemaName,
		ArchivedSchema: archivedSchema,
	}

	if err := p.publisher.Publish(ctx, messaging.EventTenantArchived, data); err != nil {
		p.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("failed to publish tenant archived event")
	}
}

// PublishTenantRestored publishes a tenant restored event
func (p *TenantEventPublisher) PublishTenantRestored(ctx context.Context, tenantID, schemaName, archivedSchema string) {
	data := messaging.TenantRestoredEvent{
		TenantID:       tenantID,
		TenantSchema:   schemaName,
		ArchivedSchema: archivedSchema,
	}

	if err := p.publisher.Publish(ctx, messaging.EventTenantRestored, data); err != nil {
		p.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("failed to publish tenant restored event")
	}
}

// PublishTenantDeleted publishes a tenant deleted event
func (p *TenantEventPublisher) PublishTenantDeleted(ctx context.Context, tenantID, schemaName string, hard bool) {
	data := messaging.TenantDeletedEvent{
		TenantID:     tenantID,
		TenantSchema: schemaName,
		Hard:         hard,
	}

	if err := p.publisher.Publish(ctx, messaging.EventTenantDeleted, data); err != nil {
		p.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("failed to publish tenant deleted event")
	}
}

// PublishTenantStatusChanged publishes a status transition event
func (p *TenantEventPublisher) PublishTenantStatusChanged(ctx context.Context, tenantID string, oldStatus, newStatus registry.Status) {
	data := messaging.TenantStatusChangedEvent{
		TenantID:  tenantID,
		OldStatus: string(oldStatus),
		NewStatus: string(newStatus),
	}

	if err := p.publisher.Publish(ctx, messaging.EventTenantStatusChanged, data); err != nil {
		p.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("failed to publish tenant status changed event")
	}
}

// PublishTenantMigrated publishes a per-schema migration completed event
func (p *TenantEventPublisher) PublishTenantMigrated(ctx context.Context, schemaName string) {
	data := messaging.TenantMigratedEvent{TenantSchema: schemaName}

	if err := p.publisher.Publish(ctx, messaging.EventTenantMigrated, data); err != nil {
		p.logger.Error().Err(err).Str("schema", schemaName).Msg("failed to publish tenant migrated event")
	}
}

// PublishTenantMigrationError publishes a per-schema migration failure event
func (p *TenantEventPublisher) PublishTenantMigrationError(ctx context.Context, schemaName string, cause error) {
	data := messaging.TenantMigrationErrorEvent{TenantSchema: schemaName, Error: cause.Error()}

	if err := p.publisher.Publish(ctx, messaging.EventTenantMigrationError, data); err != nil {
		p.logger.Error().Err(err).Str("schema", schemaName).Msg("failed to publish tenant migration error event")
	}
}

// PublishFleetMigrated publishes a fleet migration summary event
func (p *TenantEventPublisher) PublishFleetMigrated(ctx context.Context, schemas int, failed []string) {
	data := messaging.FleetMigratedEvent{Schemas: schemas, Failed: failed}

	if err := p.publisher.Publish(ctx, messaging.EventFleetMigrated, data); err != nil {
		p.logger.Error().Err(err).Msg("failed to publish fleet migrated event")
	}
}
