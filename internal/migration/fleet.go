package migration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// FailurePolicy controls how a fleet-wide migration reacts to a failing tenant.
type FailurePolicy string

const (
	// StopAll aborts remaining work on the first failure. Default, fails fast.
	StopAll FailurePolicy = "stop_all"
	// Skip logs failures and continues; the run reports no aggregate error.
	Skip FailurePolicy = "skip"
	// ContinueOthers migrates every tenant, then raises one aggregate error
	// listing every failed tenant.
	ContinueOthers FailurePolicy = "continue_others"
)

// ParseFailurePolicy validates a configured policy string.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case StopAll, Skip, ContinueOthers:
		return FailurePolicy(s), nil
	default:
		return "", fmt.Errorf("unknown migration failure policy %q", s)
	}
}

// AggregateError reports every tenant schema that failed during a fleet run.
type AggregateError struct {
	Failures map[string]error
}

// Error lists the failed schemas in stable order.
func (e *AggregateError) Error() string {
	schemas := make([]string, 0, len(e.Failures))
	for s := range e.Failures {
		schemas = append(schemas, s)
	}
	sort.Strings(schemas)

	var b strings.Builder
	fmt.Fprintf(&b, "migration failed for %d tenant(s):", len(e.Failures))
	for _, s := range schemas {
		fmt.Fprintf(&b, " %s: %v;", s, e.Failures[s])
	}
	return strings.TrimSuffix(b.String(), ";")
}

// FailedSchemas returns the failed schema names in stable order.
func (e *AggregateError) FailedSchemas() []string {
	schemas := make([]string, 0, len(e.Failures))
	for s := range e.Failures {
		schemas = append(schemas, s)
	}
	sort.Strings(schemas)
	return schemas
}

// MigrateAll migrates every given tenant schema under a bounded concurrency
// limit. Failure handling follows the policy; under every policy the limiter
// itself is never aborted by a single tenant's failure unless the policy says
// to stop.
func (r *Runner) MigrateAll(ctx context.Context, schemas []string, policy FailurePolicy) error {
	parallelism := r.cfg.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	var (
		mu       sync.Mutex
		failures = make(map[string]error)
	)

	for _, schemaName := range schemas {
		schemaName := schemaName
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			err := r.MigrateSchema(gctx, schemaName)
			if err == nil {
				return nil
			}

			switch policy {
			case Skip:
				r.logger.Warn().Str("schema", schemaName).Err(err).Msg("skipping failed tenant migration")
				return nil
			case ContinueOthers:
				mu.Lock()
				failures[schemaName] = err
				mu.Unlock()
				return nil
			default:
				// StopAll, and any unrecognized policy, fails fast.
				// Returning the error cancels gctx and aborts remaining work.
				return fmt.Errorf("schema %s: %w", schemaName, err)
			}
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if policy == ContinueOthers && len(failures) > 0 {
		return &AggregateError{Failures: failures}
	}
	return nil
}
