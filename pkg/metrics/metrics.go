// Package metrics exposes Prometheus instrumentation for tenant lifecycle
// and migration operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MigrationsApplied counts successfully applied migrations across all tenants.
	MigrationsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "schemaplane",
		Subsystem: "migration",
		Name:      "applied_total",
		Help:      "Number of migrations applied successfully.",
	})

	// MigrationFailures counts failed migration attempts, including retried ones.
	MigrationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "schemaplane",
		Subsystem: "migration",
		Name:      "failures_total",
		Help:      "Number of failed migration attempts.",
	})

	// MigrationDuration observes the wall-clock duration of per-tenant migration runs.
	MigrationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "schemaplane",
		Subsystem: "migration",
		Name:      "run_duration_seconds",
		Help:      "Duration of per-tenant migration runs.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// TenantsProvisioned counts successful tenant provisions.
	TenantsProvisioned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "schemaplane",
		Subsystem: "tenant",
		Name:      "provisioned_total",
		Help:      "Number of tenants provisioned.",
	})

	// TenantsDeleted counts tenant deletions, labeled hard or soft.
	TenantsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schemaplane",
		Subsystem: "tenant",
		Name:      "deleted_total",
		Help:      "Number of tenants deleted.",
	}, []string{"mode"})
)
