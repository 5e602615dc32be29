package schema_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/schemaplane/schemaplane-backend/internal/schema"
	"github.com/schemaplane/schemaplane-backend/pkg/database"
	"github.com/schemaplane/schemaplane-backend/pkg/logger"
	"github.com/schemaplane/schemaplane-backend/pkg/sqlident"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*schema.Manager, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	wrapped := database.NewFromSQLX(sqlx.NewDb(db, "postgres"), "public", logger.New("test", "test"))
	return schema.NewManager(wrapped, logger.New("test", "test")), mock
}

func TestCreateIfNotExists(t *testing.T) {
	m, mock := newManager(t)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE SCHEMA IF NOT EXISTS "tenant_acme"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, m.CreateIfNotExists(context.Background(), "tenant_acme"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_RejectsInvalidName(t *testing.T) {
	m, mock := newManager(t)

	err := m.Create(context.Background(), "tenant-acme")
	require.Error(t, err)
	assert.ErrorIs(t, err, sqlident.ErrInvalidIdentifier)
	assert.NoError(t, mock.ExpectationsWereMet(), "no SQL must be issued for invalid identifiers")
}

func TestDropIfExists_Cascade(t *testing.T) {
	m, mock := newManager(t)

	mock.ExpectExec(regexp.QuoteMeta(`DROP SCHEMA IF EXISTS "tenant_acme" CASCADE`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, m.DropIfExists(context.Background(), "tenant_acme", true))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropIfExists_Restrict(t *testing.T) {
	m, mock := newManager(t)

	mock.ExpectExec(regexp.QuoteMeta(`DROP SCHEMA IF EXISTS "tenant_acme" RESTRICT`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, m.DropIfExists(context.Background(), "tenant_acme", false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExists(t *testing.T) {
	m, mock := newManager(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("tenant_acme").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := m.Exists(context.Background(), "tenant_acme")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListByPrefix_EscapesLikeWildcards(t *testing.T) {
	m, mock := newManager(t)

	// The underscore in the prefix must match literally, not as a wildcard.
	mock.ExpectQuery("SELECT schema_name FROM information_schema\\.schemata").
		WithArgs(`tenant\_%`).
		WillReturnRows(sqlmock.NewRows([]string{"schema_name"}).
			AddRow("tenant_acme").
			AddRow("tenant_globex"))

	names, err := m.ListByPrefix(context.Background(), "tenant_")
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant_acme", "tenant_globex"}, names)
}

func TestRename(t *testing.T) {
	m, mock := newManager(t)

	mock.ExpectExec(regexp.QuoteMeta(`ALTER SCHEMA "tenant_acme" RENAME TO "archived_tenant_acme"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, m.Rename(context.Background(), "tenant_acme", "archived_tenant_acme"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantAllTables(t *testing.T) {
	m, mock := newManager(t)

	mock.ExpectExec(regexp.QuoteMeta(`GRANT USAGE ON SCHEMA "tenant_acme" TO "app_role"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`GRANT ALL PRIVILEGES ON ALL TABLES IN SCHEMA "tenant_acme" TO "app_role"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, m.GrantAllTables(context.Background(), "tenant_acme", "app_role"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeAllTables_RejectsInvalidRole(t *testing.T) {
	m, _ := newManager(t)

	err := m.RevokeAllTables(context.Background(), "tenant_acme", "role;drop")
	require.Error(t, err)
	assert.ErrorIs(t, err, sqlident.ErrInvalidIdentifier)
}
