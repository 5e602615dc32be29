// Package registry is the durable catalog of tenants: status, schema name,
// encrypted credentials and hashed API keys, stored in a control schema
// outside any tenant schema.
package registry

import (
	"context"
	"database/sql"
	"time"
)

// Status is a tenant's lifecycle state in the control store.
type Status string

const (
	StatusPending          Status = "pending"
	StatusActive           Status = "active"
	StatusSuspended        Status = "suspended"
	StatusDisabled         Status = "disabled"
	StatusFlaggedForDelete Status = "flagged_for_delete"
)

// TenantRecord is one row of the control store.
type TenantRecord struct {
	ID         string `db:"id" json:"id"`
	Slug       string `db:"slug" json:"slug"`
	Status     Status `db:"status" json:"status"`
	SchemaName string `db:"schema_name" json:"schema_name"`

	// Optional remote database coordinates for tenants hosted elsewhere.
	DBHost sql.NullString `db:"db_host" json:"-"`
	DBPort sql.NullInt32  `db:"db_port" json:"-"`
	DBName sql.NullString `db:"db_name" json:"-"`

	EncryptedPassword sql.NullString `db:"encrypted_password" json:"-"`
	APIKeyHash        sql.NullString `db:"api_key_hash" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Registry is the CRUD surface over tenant records. The caching decorator
// implements the same interface; API-key lookup and password retrieval are
// never cached.
type Registry interface {
	Create(ctx context.Context, record *TenantRecord) error
	GetByID(ctx context.Context, id string) (*TenantRecord, error)
	GetBySlug(ctx context.Context, slug string) (*TenantRecord, error)
	ListByStatus(ctx context.Context, status Status) ([]TenantRecord, error)
	List(ctx context.Context) ([]TenantRecord, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	SetAPIKey(ctx context.Context, id, apiKey string) error
	FindByAPIKey(ctx context.Context, apiKey string) (*TenantRecord, error)
	SetPassword(ctx context.Context, id, password string) error
	GetPassword(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) error
}
