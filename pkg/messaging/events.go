package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types
const (
	// Tenant lifecycle events
	EventTenantProvisioned   = "tenant.provisioned"
	EventTenantArchived      = "tenant.archived"
	EventTenantRestored      = "tenant.restored"
	EventTenantDeleted       = "tenant.deleted"
	EventTenantStatusChanged = "tenant.status.changed"

	// Migration events
	EventTenantMigrated       = "tenant.migration.completed"
	EventTenantMigrationError = "tenant.migration.failed"
	EventFleetMigrated        = "tenant.migration.fleet.completed"
)

// Exchange names
const (
	ExchangeTenantEvents = "tenant.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Tenant lifecycle events

// TenantProvisionedEvent is published after a tenant's schema is created and
// migrated to the current version.
type TenantProvisionedEvent struct {
	TenantID     string `json:"tenant_id"`
	TenantSlug   string `json:"tenant_slug"`
	TenantSchema string `json:"tenant_schema"`
}

// TenantArchivedEvent is published when a tenant's schema is moved aside
// under the archive prefix.
type TenantArchivedEvent struct {
	TenantID       string `json:"tenant_id"`
	TenantSchema   string `json:"tenant_schema"`
	ArchivedSchema string `json:"archived_schema"`
}

// TenantRestoredEvent is published when an archived schema is moved back to
// its active name.
type TenantRestoredEvent struct {
	TenantID       string `json:"tenant_id"`
	TenantSchema   string `json:"tenant_schema"`
	ArchivedSchema string `json:"archived_schema"`
}

// TenantDeletedEvent is published when a tenant is removed. Hard deletes drop
// the schema and its data; soft deletes only flag the record.
type TenantDeletedEvent struct {
	TenantID     string `json:"tenant_id"`
	TenantSchema string `json:"tenant_schema"`
	Hard         bool   `json:"hard"`
}

// TenantStatusChangedEvent is published on lifecycle state transitions.
type TenantStatusChangedEvent struct {
	TenantID  string `json:"tenant_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// Migration events

// TenantMigratedEvent is published after a single schema reaches the current
// migration set.
type TenantMigratedEvent struct {
	TenantSchema string `json:"tenant_schema"`
}

// TenantMigrationErrorEvent is published when a schema's migration run fails
// after retries are exhausted.
type TenantMigrationErrorEvent struct {
	TenantSchema string `json:"tenant_schema"`
	Error        string `json:"error"`
}

// FleetMigratedEvent is published after a fleet-wide migration run.
type FleetMigratedEvent struct {
	Schemas int      `json:"schemas"`
	Failed  []string `json:"failed,omitempty"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), time.Now().Nanosecond()%10000)
}
