package database_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"
	"testing"

	"github.com/schemaplane/schemaplane-backend/pkg/database"
	"github.com/schemaplane/schemaplane-backend/pkg/sqlident"
	"github.com/schemaplane/schemaplane-backend/pkg/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records every statement executed on a single physical connection,
// letting the tests observe exactly what the router sends over the wire.
type fakeConn struct {
	mu    sync.Mutex
	stmts []string
}

func (c *fakeConn) record(query string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stmts = append(c.stmts, query)
}

func (c *fakeConn) statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.stmts))
	copy(out, c.stmts)
	return out
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	c.record(query)
	return &fakeStmt{}, nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) { return &fakeTx{}, nil }

func (c *fakeConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.record(query)
	return driver.RowsAffected(0), nil
}

func (c *fakeConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.record(query)
	return &fakeRows{}, nil
}

type fakeStmt struct{}

func (s *fakeStmt) Close() error                                    { return nil }
func (s *fakeStmt) NumInput() int                                   { return -1 }
func (s *fakeStmt) Exec(_ []driver.Value) (driver.Result, error)    { return driver.RowsAffected(0), nil }
func (s *fakeStmt) Query(_ []driver.Value) (driver.Rows, error)     { return &fakeRows{}, nil }

type fakeRows struct{}

func (r *fakeRows) Columns() []string              { return nil }
func (r *fakeRows) Close() error                   { return nil }
func (r *fakeRows) Next(_ []driver.Value) error    { return io.EOF }

type fakeTx struct{}

func (t *fakeTx) Commit() error   { return nil }
func (t *fakeTx) Rollback() error { return nil }

type fakeConnector struct {
	conn *fakeConn
}

func (f *fakeConnector) Connect(context.Context) (driver.Conn, error) { return f.conn, nil }
func (f *fakeConnector) Driver() driver.Driver                        { return fakeDriver{} }

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) { return nil, driver.ErrBadConn }

// newRoutedDB returns a single-connection pool over the fake driver so every
// command reuses the same physical connection, mimicking pool reuse.
func newRoutedDB(t *testing.T) (*sql.DB, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	db := sql.OpenDB(database.WrapConnector(&fakeConnector{conn: conn}, "public"))
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { db.Close() })
	return db, conn
}

func tenantCtx(id, schema string) context.Context {
	return tenant.WithContext(context.Background(), tenant.Context{ID: id, Schema: schema})
}

func TestRouter_SetsSearchPathForTenant(t *testing.T) {
	db, conn := newRoutedDB(t)

	_, err := db.ExecContext(tenantCtx("a", "tenant_a"), "INSERT INTO items DEFAULT VALUES")
	require.NoError(t, err)

	assert.Equal(t, []string{
		`SET search_path TO "tenant_a", "public"`,
		"INSERT INTO items DEFAULT VALUES",
	}, conn.statements())
}

func TestRouter_SkipsRedundantSet(t *testing.T) {
	db, conn := newRoutedDB(t)
	ctx := tenantCtx("a", "tenant_a")

	_, err := db.ExecContext(ctx, "INSERT INTO items DEFAULT VALUES")
	require.NoError(t, err)
	rows, err := db.QueryContext(ctx, "SELECT 1 FROM items")
	require.NoError(t, err)
	rows.Close()

	stmts := conn.statements()
	setCount := 0
	for _, s := range stmts {
		if s == `SET search_path TO "tenant_a", "public"` {
			setCount++
		}
	}
	assert.Equal(t, 1, setCount, "search_path should be set once for an unchanged tenant")
}

func TestRouter_SwitchesBetweenTenantsOnSameConnection(t *testing.T) {
	db, conn := newRoutedDB(t)

	_, err := db.ExecContext(tenantCtx("a", "tenant_a"), "INSERT INTO items DEFAULT VALUES")
	require.NoError(t, err)
	_, err = db.ExecContext(tenantCtx("b", "tenant_b"), "INSERT INTO items DEFAULT VALUES")
	require.NoError(t, err)
	_, err = db.ExecContext(tenantCtx("a", "tenant_a"), "INSERT INTO items DEFAULT VALUES")
	require.NoError(t, err)

	assert.Equal(t, []string{
		`SET search_path TO "tenant_a", "public"`,
		"INSERT INTO items DEFAULT VALUES",
		`SET search_path TO "tenant_b", "public"`,
		"INSERT INTO items DEFAULT VALUES",
		`SET search_path TO "tenant_a", "public"`,
		"INSERT INTO items DEFAULT VALUES",
	}, conn.statements())
}

func TestRouter_ResetsToDefaultWithoutTenant(t *testing.T) {
	db, conn := newRoutedDB(t)

	// Connection serves tenant A, then a context-less caller reuses it.
	_, err := db.ExecContext(tenantCtx("a", "tenant_a"), "INSERT INTO items DEFAULT VALUES")
	require.NoError(t, err)
	rows, err := db.QueryContext(context.Background(), "SELECT 1")
	require.NoError(t, err)
	rows.Close()

	assert.Equal(t, []string{
		`SET search_path TO "tenant_a", "public"`,
		"INSERT INTO items DEFAULT VALUES",
		`SET search_path TO "public"`,
		"SELECT 1",
	}, conn.statements())
}

func TestRouter_RejectsInvalidSchemaInContext(t *testing.T) {
	db, conn := newRoutedDB(t)

	ctx := tenantCtx("evil", `x"; DROP SCHEMA public; --`)
	_, err := db.ExecContext(ctx, "SELECT 1")
	require.Error(t, err)
	assert.ErrorIs(t, err, sqlident.ErrInvalidIdentifier)
	assert.Empty(t, conn.statements(), "no statement may reach the wire for an invalid schema")
}

func TestRouter_RoutesTransactions(t *testing.T) {
	db, conn := newRoutedDB(t)

	tx, err := db.BeginTx(tenantCtx("a", "tenant_a"), nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	stmts := conn.statements()
	require.NotEmpty(t, stmts)
	assert.Equal(t, `SET search_path TO "tenant_a", "public"`, stmts[0])
}

func TestRouter_ReappliesSearchPathAfterRollback(t *testing.T) {
	db, conn := newRoutedDB(t)
	ctx := tenantCtx("a", "tenant_a")

	// A SET issued while the transaction is open is reverted by the rollback,
	// so the next command on this connection must set the path again.
	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO items DEFAULT VALUES")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	rows, err := db.QueryContext(ctx, "SELECT 1 FROM items")
	require.NoError(t, err)
	rows.Close()

	assert.Equal(t, []string{
		`SET search_path TO "public"`,
		`SET search_path TO "tenant_a", "public"`,
		"INSERT INTO items DEFAULT VALUES",
		`SET search_path TO "tenant_a", "public"`,
		"SELECT 1 FROM items",
	}, conn.statements())
}

func TestRouter_NoDuplicateDefaultInSearchPath(t *testing.T) {
	db, conn := newRoutedDB(t)

	rows, err := db.QueryContext(context.Background(), "SELECT 1")
	require.NoError(t, err)
	rows.Close()

	assert.Equal(t, []string{
		`SET search_path TO "public"`,
		"SELECT 1",
	}, conn.statements())
}
