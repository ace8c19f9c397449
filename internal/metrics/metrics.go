package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRunsTotal counts sync runs by provider, kind and status
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_sync_runs_total",
			Help: "Total number of sync runs",
		},
		[]string{"provider", "kind", "status"},
	)

	// SyncRunDuration tracks per-integration sync run time
	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insights_sync_run_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "kind"},
	)

	// RowsIngested counts metric rows written to the store
	RowsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_rows_ingested_total",
			Help: "Total number of daily metric rows upserted",
		},
		[]string{"provider"},
	)

	// RowsSkipped counts provider rows dropped during transformation
	RowsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_rows_skipped_total",
			Help: "Total number of provider rows skipped",
		},
		[]string{"provider", "reason"},
	)

	// ChunkFailures counts failed persistence chunks
	ChunkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_chunk_failures_total",
			Help: "Total number of failed metric persistence chunks",
		},
		[]string{"provider"},
	)

	// CredentialRefreshes counts access secret refresh attempts
	CredentialRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_credential_refreshes_total",
			Help: "Total number of credential refresh attempts",
		},
		[]string{"provider", "status"},
	)

	// ReconcileChanges counts account list changes applied during reconciliation
	ReconcileChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_reconcile_changes_total",
			Help: "Total number of integration changes applied during reconciliation",
		},
		[]string{"provider", "op"},
	)

	// ActiveIntegrations tracks the number of active integrations
	ActiveIntegrations = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "insights_active_integrations",
			Help: "Number of active integrations by provider",
		},
		[]string{"provider"},
	)

	// ErrorsTotal counts errors by component
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insights_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)
