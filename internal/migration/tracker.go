package migration

import (
	"context"

	"github.com/schemaplane/schemaplane-backend/pkg/database"
	"github.com/schemaplane/schemaplane-backend/pkg/logger"
	"github.com/schemaplane/schemaplane-backend/pkg/tenant"
)

// SchemaStatus is the migration state of one tenant schema.
type SchemaStatus struct {
	Schema   string   `json:"schema"`
	Applied  []string `json:"applied"`
	Pending  []string `json:"pending"`
	UpToDate bool     `json:"up_to_date"`
	Error    string   `json:"error,omitempty"`
}

// Tracker reports applied vs. pending migrations per tenant schema. Read-only.
type Tracker struct {
	db           *database.DB
	source       Source
	historyTable string
	logger       *logger.Logger
}

// NewTracker creates a migration status tracker.
func NewTracker(db *database.DB, source Source, historyTable string, log *logger.Logger) *Tracker {
	return &Tracker{
		db:           db,
		source:       source,
		historyTable: historyTable,
		logger:       log.WithComponent("migration-tracker"),
	}
}

// Status queries each tenant-qualified history table independently. A query
// failure for one schema is captured in that schema's Error field, so a
// fleet-wide report degrades per tenant instead of failing wholesale.
func (t *Tracker) Status(ctx context.Context, schemas []string) []SchemaStatus {
	ctx = tenant.Detach(ctx)
	known := t.source.Migrations()

	statuses := make([]SchemaStatus, 0, len(schemas))
	for _, schemaName := range schemas {
		statuses = append(statuses, t.statusFor(ctx, schemaName, known))
	}
	return statuses
}

func (t *Tracker) statusFor(ctx context.Context, schemaName string, known []Migration) SchemaStatus {
	status := SchemaStatus{Schema: schemaName}

	applied, err := appliedMigrations(ctx, t.db, schemaName, t.historyTable)
	if err != nil {
		status.Error = err.Error()
		return status
	}

	for _, m := range known {
		if _, ok := applied[m.ID]; ok {
			status.Applied = append(status.Applied, m.ID)
		} else {
			status.Pending = append(status.Pending, m.ID)
		}
	}
	status.UpToDate = len(status.Pending) == 0
	return status
}
