package database

import (
	"context"
	"database/sql/driver"

	"github.com/lib/pq"
	"github.com/schemaplane/schemaplane-backend/pkg/sqlident"
	"github.com/schemaplane/schemaplane-backend/pkg/tenant"
)

// RouterConnector wraps a driver.Connector so that every command executed on
// a connection runs with the search path of the ambient tenant context.
//
// The interception happens per command, not per connection open: a pooled
// connection that previously served tenant A is already open, so an open-time
// hook would never fire again and the connection would keep resolving
// unqualified names against tenant A's schema. Each routed connection tracks
// the last search path it set and only issues SET search_path when the
// ambient schema differs. When no tenant is set the connection is reset to
// the default schema before the command runs.
type RouterConnector struct {
	base          driver.Connector
	defaultSchema string
}

// NewConnector builds a routed connector on top of lib/pq for the given DSN.
func NewConnector(dsn, defaultSchema string) (*RouterConnector, error) {
	if err := sqlident.Validate(defaultSchema, sqlident.KindSchema); err != nil {
		return nil, err
	}
	base, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, err
	}
	return &RouterConnector{base: base, defaultSchema: defaultSchema}, nil
}

// WrapConnector wraps an existing connector. Used by tests with fake drivers.
func WrapConnector(base driver.Connector, defaultSchema string) *RouterConnector {
	return &RouterConnector{base: base, defaultSchema: defaultSchema}
}

// Connect opens a new physical connection and wraps it.
func (c *RouterConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := c.base.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &routedConn{conn: conn, defaultSchema: c.defaultSchema}, nil
}

// Driver returns the underlying driver.
func (c *RouterConnector) Driver() driver.Driver {
	return c.base.Driver()
}

// routedConn decorates one physical connection. The current field is the
// search-path state of this connection; it dies with the connection, so it
// can never outlive it or leak across connections.
type routedConn struct {
	conn          driver.Conn
	defaultSchema string
	current       string
}

var (
	_ driver.Conn               = (*routedConn)(nil)
	_ driver.ExecerContext      = (*routedConn)(nil)
	_ driver.QueryerContext     = (*routedConn)(nil)
	_ driver.ConnPrepareContext = (*routedConn)(nil)
	_ driver.ConnBeginTx        = (*routedConn)(nil)
)

// ensureSchema aligns the connection's search path with the ambient tenant
// context. This runs before every command, with no bypass path.
func (c *routedConn) ensureSchema(ctx context.Context) error {
	schema := tenant.SchemaOrDefault(ctx, c.defaultSchema)
	if schema == c.current {
		return nil
	}
	if err := sqlident.Validate(schema, sqlident.KindSchema); err != nil {
		return err
	}

	stmt := "SET search_path TO " + sqlident.Quote(schema)
	if schema != c.defaultSchema {
		stmt += ", " + sqlident.Quote(c.defaultSchema)
	}

	if err := c.rawExec(ctx, stmt); err != nil {
		// State is unknown after a failed SET; force a re-set on the next command.
		c.current = ""
		return err
	}
	c.current = schema
	return nil
}

// rawExec runs a statement on the underlying connection without re-entering
// the router.
func (c *routedConn) rawExec(ctx context.Context, query string) error {
	if execer, ok := c.conn.(driver.ExecerContext); ok {
		_, err := execer.ExecContext(ctx, query, nil)
		return err
	}

	prepared, err := c.prepare(ctx, query)
	if err != nil {
		return err
	}
	defer prepared.Close()

	if se, ok := prepared.(driver.StmtExecContext); ok {
		_, err = se.ExecContext(ctx, nil)
		return err
	}
	_, err = prepared.Exec(nil) //nolint:staticcheck // fallback for legacy drivers
	return err
}

func (c *routedConn) prepare(ctx context.Context, query string) (driver.Stmt, error) {
	if cp, ok := c.conn.(driver.ConnPrepareContext); ok {
		return cp.PrepareContext(ctx, query)
	}
	return c.conn.Prepare(query)
}

// ExecContext routes writes through the schema check.
func (c *routedConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if execer, ok := c.conn.(driver.ExecerContext); ok {
		return execer.ExecContext(ctx, query, args)
	}
	// Fall back to database/sql's prepare path, which re-enters PrepareContext.
	return nil, driver.ErrSkip
}

// QueryContext routes reads through the schema check.
func (c *routedConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if queryer, ok := c.conn.(driver.QueryerContext); ok {
		return queryer.QueryContext(ctx, query, args)
	}
	return nil, driver.ErrSkip
}

// PrepareContext routes statement preparation through the schema check so
// that prepared statements plan against the tenant's schema.
func (c *routedConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return c.prepare(ctx, query)
}

// Prepare exists to satisfy driver.Conn. database/sql always prefers
// PrepareContext on connections that implement it.
func (c *routedConn) Prepare(query string) (driver.Stmt, error) {
	return c.conn.Prepare(query)
}

// Begin exists to satisfy driver.Conn. database/sql always prefers
// BeginTx on connections that implement it.
func (c *routedConn) Begin() (driver.Tx, error) {
	return c.conn.Begin() //nolint:staticcheck // fallback for legacy drivers
}

// BeginTx routes transaction starts through the schema check so every
// statement inside the transaction sees the tenant's search path.
func (c *routedConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var (
		tx  driver.Tx
		err error
	)
	if bt, ok := c.conn.(driver.ConnBeginTx); ok {
		tx, err = bt.BeginTx(ctx, opts)
	} else {
		tx, err = c.conn.Begin() //nolint:staticcheck // fallback for legacy drivers
	}
	if err != nil {
		return nil, err
	}
	return &routedTx{tx: tx, conn: c}, nil
}

// routedTx tracks transaction outcome for the schema state. A SET search_path
// issued while the transaction was open is reverted by rollback, so the
// recorded path can no longer be trusted afterwards.
type routedTx struct {
	tx   driver.Tx
	conn *routedConn
}

func (t *routedTx) Commit() error {
	return t.tx.Commit()
}

func (t *routedTx) Rollback() error {
	// Unknown state after rollback; force a re-set on the next command.
	t.conn.current = ""
	return t.tx.Rollback()
}

func (c *routedConn) Close() error {
	return c.conn.Close()
}

func (c *routedConn) Ping(ctx context.Context) error {
	if pinger, ok := c.conn.(driver.Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// ResetSession forwards to the underlying connection. The schema tracker is
// deliberately not cleared here: the recorded search path is still accurate
// for this physical connection, and ensureSchema re-checks on every command.
func (c *routedConn) ResetSession(ctx context.Context) error {
	if rs, ok := c.conn.(driver.SessionResetter); ok {
		return rs.ResetSession(ctx)
	}
	return nil
}

func (c *routedConn) IsValid() bool {
	if v, ok := c.conn.(driver.Validator); ok {
		return v.IsValid()
	}
	return true
}

func (c *routedConn) CheckNamedValue(nv *driver.NamedValue) error {
	if nvc, ok := c.conn.(driver.NamedValueChecker); ok {
		return nvc.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}
