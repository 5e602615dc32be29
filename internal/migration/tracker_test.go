package migration_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/schemaplane/schemaplane-backend/internal/migration"
	"github.com/schemaplane/schemaplane-backend/pkg/database"
	"github.com/schemaplane/schemaplane-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T, migrations []migration.Migration) (*migration.Tracker, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logger.New("test", "test")
	wrapped := database.NewFromSQLX(sqlx.NewDb(db, "postgres"), "public", log)

	source, err := migration.NewStaticSource(migrations)
	require.NoError(t, err)

	return migration.NewTracker(wrapped, source, "schema_migrations", log), mock
}

func TestStatus_ReportsAppliedAndPending(t *testing.T) {
	tracker, mock := newTracker(t, []migration.Migration{
		{ID: "001_init", SQL: "SELECT 1"},
		{ID: "002_items", SQL: "SELECT 2"},
	})

	mock.ExpectQuery(`SELECT migration_id FROM "tenant_a"`).
		WillReturnRows(sqlmock.NewRows([]string{"migration_id"}).AddRow("001_init"))

	statuses := tracker.Status(context.Background(), []string{"tenant_a"})
	require.Len(t, statuses, 1)

	s := statuses[0]
	assert.Equal(t, "tenant_a", s.Schema)
	assert.Equal(t, []string{"001_init"}, s.Applied)
	assert.Equal(t, []string{"002_items"}, s.Pending)
	assert.False(t, s.UpToDate)
	assert.Empty(t, s.Error)
}

func TestStatus_UpToDate(t *testing.T) {
	tracker, mock := newTracker(t, []migration.Migration{
		{ID: "001_init", SQL: "SELECT 1"},
	})

	mock.ExpectQuery(`SELECT migration_id FROM "tenant_a"`).
		WillReturnRows(sqlmock.NewRows([]string{"migration_id"}).AddRow("001_init"))

	statuses := tracker.Status(context.Background(), []string{"tenant_a"})
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].UpToDate)
	assert.Empty(t, statuses[0].Pending)
}

func TestStatus_CapturesPerSchemaErrors(t *testing.T) {
	tracker, mock := newTracker(t, []migration.Migration{
		{ID: "001_init", SQL: "SELECT 1"},
	})

	// tenant_a's history table is unreadable; tenant_b reports normally.
	mock.ExpectQuery(`SELECT migration_id FROM "tenant_a"`).
		WillReturnError(assert.AnError)
	mock.ExpectQuery(`SELECT migration_id FROM "tenant_b"`).
		WillReturnRows(sqlmock.NewRows([]string{"migration_id"}))

	statuses := tracker.Status(context.Background(), []string{"tenant_a", "tenant_b"})
	require.Len(t, statuses, 2)

	assert.NotEmpty(t, statuses[0].Error)
	assert.Empty(t, statuses[1].Error)
	assert.Equal(t, []string{"001_init"}, statuses[1].Pending)
}

func TestStatus_InvalidSchemaCapturedAsError(t *testing.T) {
	tracker, _ := newTracker(t, nil)

	statuses := tracker.Status(context.Background(), []string{"bad-schema"})
	require.Len(t, statuses, 1)
	assert.NotEmpty(t, statuses[0].Error)
}
