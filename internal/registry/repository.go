package registry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/schemaplane/schemaplane-backend/pkg/database"
	"github.com/schemaplane/schemaplane-backend/pkg/errors"
	"github.com/schemaplane/schemaplane-backend/pkg/logger"
	"github.com/schemaplane/schemaplane-backend/pkg/secrets"
	"github.com/schemaplane/schemaplane-backend/pkg/sqlident"
	"github.com/schemaplane/schemaplane-backend/pkg/tenant"
)

// Repository persists tenant records in the control schema. Every statement
// qualifies the table with the control schema, so reads and writes never
// depend on the connection's current search_path.
type Repository struct {
	db        *database.DB
	hasher    *APIKeyHasher
	protector secrets.Protector
	table     string
	logger    *logger.Logger
}

// NewRepository creates a repository over the given control schema. The
// schema name is validated once here; every query interpolates the quoted
// form.
func NewRepository(db *database.DB, controlSchema string, hasher *APIKeyHasher, protector secrets.Protector, log *logger.Logger) (*Repository, error) {
	if err := sqlident.Validate(controlSchema, sqlident.KindSchema); err != nil {
		return nil, fmt.Errorf("invalid control schema: %w", err)
	}
	return &Repository{
		db:        db,
		hasher:    hasher,
		protector: protector,
		table:     sqlident.Quote(controlSchema) + ".tenants",
		logger:    log,
	}, nil
}

// EnsureSchema creates the control schema and the tenants table if they do
// not exist yet. Called once at startup, before any tenant operation.
func (r *Repository) EnsureSchema(ctx context.Context, controlSchema string) error {
	ctx = tenant.Detach(ctx)

	if err := sqlident.Validate(controlSchema, sqlident.KindSchema); err != nil {
		return err
	}
	quoted := sqlident.Quote(controlSchema)

	statements := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, quoted),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.tenants (
				id UUID PRIMARY KEY,
				slug VARCHAR(63) NOT NULL,
				status VARCHAR(32) NOT NULL,
				schema_name VARCHAR(63) NOT NULL,
				db_host VARCHAR(255),
				db_port INTEGER,
				db_name VARCHAR(63),
				encrypted_password TEXT,
				api_key_hash TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, quoted),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS tenants_slug_idx ON %s.tenants (slug)`, quoted),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS tenants_schema_name_idx ON %s.tenants (schema_name)`, quoted),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS tenants_status_idx ON %s.tenants (status)`, quoted),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS tenants_api_key_hash_idx ON %s.tenants (api_key_hash) WHERE api_key_hash IS NOT NULL`, quoted),
	}

	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare control schema: %w", err)
		}
	}

	r.logger.Info().Str("control_schema", controlSchema).Msg("Control schema ready")
	return nil
}

const recordColumns = `id, slug, status, schema_name, db_host, db_port, db_name, encrypted_password, api_key_hash, created_at, updated_at`

// Create inserts a new tenant record. A missing ID is generated; a slug or
// schema collision maps to a tenant-already-exists error.
func (r *Repository) Create(ctx context.Context, record *TenantRecord) error {
	ctx = tenant.Detach(ctx)

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Status == "" {
		record.Status = StatusPending
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, slug, status, schema_name, db_host, db_port, db_name, encrypted_password, api_key_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, r.table)

	err := r.db.QueryRowxContext(ctx, query,
		record.ID,
		record.Slug,
		record.Status,
		record.SchemaName,
		record.DBHost,
		record.DBPort,
		record.DBName,
		record.EncryptedPassword,
		record.APIKeyHash,
	).Scan(&record.CreatedAt, &record.UpdatedAt)

	if database.IsUniqueViolation(err) {
		return errors.TenantAlreadyExists(record.Slug)
	}
	return err
}

// GetByID returns the record for the tenant ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*TenantRecord, error) {
	ctx = tenant.Detach(ctx)

	var record TenantRecord
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, recordColumns, r.table)
	err := r.db.GetContext(ctx, &record, query, id)

	if err == sql.ErrNoRows {
		return nil, errors.TenantNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetBySlug returns the record for the tenant slug.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (*TenantRecord, error) {
	ctx = tenant.Detach(ctx)

	var record TenantRecord
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE slug = $1`, recordColumns, r.table)
	err := r.db.GetContext(ctx, &record, query, slug)

	if err == sql.ErrNoRows {
		return nil, errors.TenantNotFound(slug)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByStatus returns all records in the given lifecycle state, oldest
// first.
func (r *Repository) ListByStatus(ctx context.Context, status Status) ([]TenantRecord, error) {
	ctx = tenant.Detach(ctx)

	var records []TenantRecord
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE status = $1 ORDER BY created_at`, recordColumns, r.table)
	if err := r.db.SelectContext(ctx, &records, query, status); err != nil {
		return nil, err
	}
	return records, nil
}

// List returns all records, oldest first.
func (r *Repository) List(ctx context.Context) ([]TenantRecord, error) {
	ctx = tenant.Detach(ctx)

	var records []TenantRecord
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at`, recordColumns, r.table)
	if err := r.db.SelectContext(ctx, &records, query); err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateStatus moves the tenant to a new lifecycle state.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status) error {
	ctx = tenant.Detach(ctx)

	query := fmt.Sprintf(`UPDATE %s SET status = $1, updated_at = now() WHERE id = $2`, r.table)
	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return err
	}
	return r.requireRow(result, id)
}

// SetAPIKey hashes the key and stores the salted hash. The plaintext key is
// never persisted.
func (r *Repository) SetAPIKey(ctx context.Context, id, apiKey string) error {
	ctx = tenant.Detach(ctx)

	hash, err := r.hasher.Hash(apiKey)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET api_key_hash = $1, updated_at = now() WHERE id = $2`, r.table)
	result, err := r.db.ExecContext(ctx, query, hash, id)
	if err != nil {
		return err
	}
	return r.requireRow(result, id)
}

// FindByAPIKey resolves an API key to its tenant. Hashes are salted, so there
// is no index lookup by key; every active candidate hash is verified in
// constant time. Unverifiable rows (malformed hashes) are skipped.
func (r *Repository) FindByAPIKey(ctx context.Context, apiKey string) (*TenantRecord, error) {
	ctx = tenant.Detach(ctx)

	var records []TenantRecord
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE api_key_hash IS NOT NULL AND status = $1`, recordColumns, r.table)
	if err := r.db.SelectContext(ctx, &records, query, StatusActive); err != nil {
		return nil, err
	}

	for i := range records {
		ok, err := r.hasher.Verify(apiKey, records[i].APIKeyHash.String)
		if err != nil {
			r.logger.Warn().Err(err).Str("tenant_id", records[i].ID).Msg("Skipping unverifiable API key hash")
			continue
		}
		if ok {
			return &records[i], nil
		}
	}

	return nil, errors.Unauthorized("invalid API key")
}

// SetPassword encrypts the tenant's database password and stores the
// ciphertext.
func (r *Repository) SetPassword(ctx context.Context, id, password string) error {
	ctx = tenant.Detach(ctx)

	sealed, err := r.protector.Protect(password)
	if err != nil {
		return fmt.Errorf("failed to protect password: %w", err)
	}

	query := fmt.Sprintf(`UPDATE %s SET encrypted_password = $1, updated_at = now() WHERE id = $2`, r.table)
	result, err := r.db.ExecContext(ctx, query, sealed, id)
	if err != nil {
		return err
	}
	return r.requireRow(result, id)
}

// GetPassword decrypts and returns the tenant's database password. Never
// cached.
func (r *Repository) GetPassword(ctx context.Context, id string) (string, error) {
	ctx = tenant.Detach(ctx)

	var sealed sql.NullString
	query := fmt.Sprintf(`SELECT encrypted_password FROM %s WHERE id = $1`, r.table)
	err := r.db.GetContext(ctx, &sealed, query, id)

	if err == sql.ErrNoRows {
		return "", errors.TenantNotFound(id)
	}
	if err != nil {
		return "", err
	}
	if !sealed.Valid {
		return "", errors.NotFound("tenant password")
	}

	return r.protector.Unprotect(sealed.String)
}

// Delete removes the tenant record. The tenant's schema is handled
// separately by the provisioning layer.
func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx = tenant.Detach(ctx)

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.table)
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return r.requireRow(result, id)
}

func (r *Repository) requireRow(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.TenantNotFound(id)
	}
	return nil
}
