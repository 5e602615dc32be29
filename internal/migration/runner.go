package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/schemaplane/schemaplane-backend/internal/schema"
	"github.com/schemaplane/schemaplane-backend/pkg/config"
	"github.com/schemaplane/schemaplane-backend/pkg/database"
	"github.com/schemaplane/schemaplane-backend/pkg/logger"
	"github.com/schemaplane/schemaplane-backend/pkg/metrics"
	"github.com/schemaplane/schemaplane-backend/pkg/sqlident"
	"github.com/schemaplane/schemaplane-backend/pkg/tenant"
)

// Runner applies pending migrations to tenant schemas. It is the only
// component with built-in retry: migrations carry multi-step, cross-statement
// risk that single-statement DDL elsewhere does not.
type Runner struct {
	db       *database.DB
	schemas  *schema.Manager
	source   Source
	rewriter *Rewriter
	cfg      config.MigrationConfig
	logger   *logger.Logger
}

// NewRunner creates a migration runner.
func NewRunner(db *database.DB, schemas *schema.Manager, source Source, rewriter *Rewriter, cfg config.MigrationConfig, log *logger.Logger) *Runner {
	return &Runner{
		db:       db,
		schemas:  schemas,
		source:   source,
		rewriter: rewriter,
		cfg:      cfg,
		logger:   log.WithComponent("migration-runner"),
	}
}

// MigrateSchema brings one tenant schema to the current migration state.
// A run with zero pending migrations is a no-op; concurrent runs for the
// same schema are serialized by a per-schema advisory lock, so two runners
// can never both apply the same migration.
func (r *Runner) MigrateSchema(ctx context.Context, schemaName string) error {
	if err := sqlident.Validate(schemaName, sqlident.KindSchema); err != nil {
		return err
	}

	// Migration DDL is always schema-qualified; drop any ambient tenant so an
	// unrelated search path cannot interfere.
	ctx = tenant.Detach(ctx)

	start := time.Now()
	defer func() {
		metrics.MigrationDuration.Observe(time.Since(start).Seconds())
	}()

	release, err := acquireSchemaLock(ctx, r.db, schemaName)
	if err != nil {
		return err
	}
	defer release()

	// The runner creates the schema itself, once, deterministically. The
	// rewriter strips any CREATE SCHEMA side effects from generated scripts.
	if err := r.schemas.CreateIfNotExists(ctx, schemaName); err != nil {
		return err
	}
	if err := r.ensureHistoryTable(ctx, schemaName); err != nil {
		return err
	}

	applied, err := appliedMigrations(ctx, r.db, schemaName, r.cfg.HistoryTable)
	if err != nil {
		return err
	}

	pending := pendingMigrations(r.source.Migrations(), applied)
	if len(pending) == 0 {
		r.logger.Debug().Str("schema", schemaName).Msg("schema up to date")
		return nil
	}

	log := r.logger.WithSchema(schemaName)
	log.Info().Int("pending", len(pending)).Msg("applying migrations")

	for _, m := range pending {
		rewritten, err := r.rewriter.Rewrite(m.SQL, schemaName)
		if err != nil {
			return fmt.Errorf("failed to rewrite migration %s for schema %s: %w", m.ID, schemaName, err)
		}

		if err := r.applyWithRetry(ctx, schemaName, m.ID, rewritten); err != nil {
			return fmt.Errorf("migration %s failed for schema %s: %w", m.ID, schemaName, err)
		}

		metrics.MigrationsApplied.Inc()
		log.Info().Str("migration_id", m.ID).Msg("migration applied")
	}

	return nil
}

// applyWithRetry executes one rewritten migration, retrying per the
// configured policy. Every failure is treated as retriable; the policy does
// not distinguish transient from permanent failures.
func (r *Runner) applyWithRetry(ctx context.Context, schemaName, migrationID, script string) error {
	attempts := 1
	if r.cfg.RetryEnabled && r.cfg.RetryAttempts > 1 {
		attempts = r.cfg.RetryAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = r.applyOnce(ctx, schemaName, migrationID, script)
		if lastErr == nil {
			return nil
		}

		metrics.MigrationFailures.Inc()
		r.logger.Warn().
			Str("schema", schemaName).
			Str("migration_id", migrationID).
			Int("attempt", attempt).
			Err(lastErr).
			Msg("migration attempt failed")

		// The caller canceling is final; only the per-attempt timeout is retried.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < attempts {
			select {
			case <-time.After(r.cfg.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return lastErr
}

// applyOnce runs the script and records the history row in one transaction,
// bounded by the per-migration wall-clock timeout. The timeout is independent
// of the caller's cancellation; expiry surfaces as a retriable failure.
func (r *Runner) applyOnce(ctx context.Context, schemaName, migrationID, script string) error {
	attemptCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	err := r.db.Transaction(attemptCtx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(attemptCtx, script); err != nil {
			return err
		}

		record := fmt.Sprintf(
			"INSERT INTO %s.%s (migration_id, product_version) VALUES ($1, $2) ON CONFLICT (migration_id) DO NOTHING",
			sqlident.Quote(schemaName), sqlident.Quote(r.cfg.HistoryTable))
		_, err := tx.ExecContext(attemptCtx, record, migrationID, ProductVersion)
		return err
	})
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("migration %s timed out after %s: %w", migrationID, r.cfg.Timeout, err)
	}
	return err
}

func (r *Runner) ensureHistoryTable(ctx context.Context, schemaName string) error {
	if err := sqlident.Validate(r.cfg.HistoryTable, sqlident.KindTable); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, historyTableDDL(schemaName, r.cfg.HistoryTable)); err != nil {
		return fmt.Errorf("failed to ensure history table in schema %s: %w", schemaName, err)
	}
	return nil
}
