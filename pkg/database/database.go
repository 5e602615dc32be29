package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/schemaplane/schemaplane-backend/pkg/config"
	"github.com/schemaplane/schemaplane-backend/pkg/logger"
)

// DB wraps sqlx.DB with additional functionality. All connections are routed
// through the RouterConnector, so every command executes against the schema
// of the ambient tenant context.
type DB struct {
	*sqlx.DB
	defaultSchema string
	logger        *logger.Logger
}

// New creates a new database connection pool with tenant schema routing.
func New(cfg *config.DatabaseConfig, defaultSchema string, log *logger.Logger) (*DB, error) {
	return NewWithDSN(cfg.DSN(), defaultSchema, log, func(db *sql.DB) {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	})
}

// NewWithDSN creates a routed database connection pool from a DSN string.
func NewWithDSN(dsn, defaultSchema string, log *logger.Logger, tune ...func(*sql.DB)) (*DB, error) {
	connector, err := NewConnector(dsn, defaultSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to build database connector: %w", err)
	}

	sqlDB := sql.OpenDB(connector)
	for _, fn := range tune {
		fn(sqlDB)
	}

	db := sqlx.NewDb(sqlDB, "postgres")
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{
		DB:            db,
		defaultSchema: defaultSchema,
		logger:        log,
	}, nil
}

// NewFromSQLX wraps an existing sqlx.DB. Used by unit tests that route
// through sqlmock instead of a real connector.
func NewFromSQLX(db *sqlx.DB, defaultSchema string, log *logger.Logger) *DB {
	return &DB{
		DB:            db,
		defaultSchema: defaultSchema,
		logger:        log,
	}
}

// DefaultSchema returns the schema used when no tenant context is set.
func (db *DB) DefaultSchema() string {
	return db.defaultSchema
}

// Ping checks the database connection
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) map[string]string {
	status := map[string]string{
		"status": "up",
	}

	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		status["status"] = "down"
		status["error"] = err.Error()
	}

	return status
}

// Transaction executes a function within a transaction
func (db *DB) Transaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
