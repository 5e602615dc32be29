package testutil

import (
	"context"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/schemaplane/schemaplane-backend/pkg/database"
	"github.com/schemaplane/schemaplane-backend/pkg/logger"
	"github.com/schemaplane/schemaplane-backend/pkg/tenant"
)

var (
	// Global test container (shared across all integration tests)
	globalContainer *PostgresContainer
	globalDB        *sqlx.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a base for integration tests with real
// PostgreSQL. DB goes through the schema router; RawDB bypasses it for
// direct assertions on database state.
type IntegrationSuite struct {
	Container *PostgresContainer
	RawDB     *sqlx.DB
	DB        *database.DB
	Logger    *logger.Logger
}

// NewIntegrationSuite starts (or reuses) the shared container and connects
// both the routed and the raw database handles.
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	container, db, err := getOrCreateContainer(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.New("test", "test")
	wrappedDB, err := database.NewWithDSN(container.DSN, "public", log)
	if err != nil {
		return nil, err
	}

	return &IntegrationSuite{
		Container: container,
		RawDB:     db,
		DB:        wrappedDB,
		Logger:    log,
	}, nil
}

// getOrCreateContainer returns the shared test container
func getOrCreateContainer(ctx context.Context) (*PostgresContainer, *sqlx.DB, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}
		globalDB, containerErr = globalContainer.Connect(ctx)
	})

	return globalContainer, globalDB, containerErr
}

// TenantCtx returns a context carrying the given tenant
func (s *IntegrationSuite) TenantCtx(ctx context.Context, tenantID, schemaName string) context.Context {
	return tenant.WithContext(ctx, tenant.Context{ID: tenantID, Schema: schemaName})
}

// SchemaExists reports whether the schema is present, checked through the
// raw connection.
func (s *IntegrationSuite) SchemaExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.RawDB.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`, name)
	return exists, err
}

// Cleanup closes the routed handle. The shared container stays up for other
// suites in the same test binary.
func (s *IntegrationSuite) Cleanup(ctx context.Context) {
	if s.DB != nil {
		s.DB.Close()
	}
}
