// Package ingest runs the metrics ingestion pipeline: historical backfill
// and daily updates over every eligible integration.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sitelens/insights-middleware/internal/metrics"
	"github.com/sitelens/insights-middleware/pkg/integration"
	"github.com/sitelens/insights-middleware/pkg/provider"
	"github.com/sitelens/insights-middleware/pkg/reconciler"
	"github.com/sitelens/insights-middleware/pkg/syncstore"
	"github.com/sitelens/insights-middleware/pkg/vault"
)

var (
	// ErrSelectionRequired means the integration still points at a
	// resolution sentinel; the user must pick an account before metrics can
	// flow. Sweeps treat this as a skip, not a failure.
	ErrSelectionRequired = errors.New("account selection required")

	// ErrBackfillIncomplete means a daily update was requested before the
	// historical backfill finished.
	ErrBackfillIncomplete = errors.New("backfill not completed")
)

// Store provides the persistence operations the pipeline needs.
type Store interface {
	ListIntegrations(ctx context.Context, opts ...syncstore.QueryOption) ([]*integration.Integration, error)
	UpdateIntegration(ctx context.Context, integ *integration.Integration) error
	UpsertMetrics(ctx context.Context, rows []*integration.DailyMetric) error
}

// CredentialVault hands out plaintext access secrets, refreshing on demand.
type CredentialVault interface {
	AccessCredential(ctx context.Context, integ *integration.Integration, refresher vault.CredentialRefresher) (string, error)
}

// Discoverer runs account discovery when an integration carries a sentinel
// account id. Implemented by the reconciler.
type Discoverer interface {
	Reconcile(ctx context.Context, userID string, p integration.Provider) (*reconciler.Result, error)
}

// Config carries the pipeline knobs. Zero values fall back to the defaults
// used in production.
type Config struct {
	BackfillDays     int
	ChunkSize        int
	ChunkTimeout     time.Duration
	ChunkDelay       time.Duration
	PeriodDelay      time.Duration
	IntegrationDelay time.Duration
	RunBudget        time.Duration
	BackfillInterval time.Duration
	DailyInterval    time.Duration
}

func (c *Config) applyDefaults() {
	if c.BackfillDays <= 0 {
		c.BackfillDays = 90
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 50
	}
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = 15 * time.Second
	}
	if c.RunBudget <= 0 {
		c.RunBudget = 10 * time.Minute
	}
	if c.BackfillInterval <= 0 {
		c.BackfillInterval = 15 * time.Minute
	}
	if c.DailyInterval <= 0 {
		c.DailyInterval = 24 * time.Hour
	}
}

// Engine drives ingestion runs. A single run is strictly sequential; sweeps
// process integrations one at a time with a pacing delay so concurrency is
// bounded by the caller, not the engine.
type Engine struct {
	store      Store
	vault      CredentialVault
	registry   *provider.Registry
	discoverer Discoverer
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time

	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	runCtx    context.Context
	cancelRun context.CancelFunc
}

// New creates a new Engine
func New(store Store, credVault CredentialVault, registry *provider.Registry, discoverer Discoverer, cfg Config, logger *zap.Logger) *Engine {
	cfg.applyDefaults()
	runCtx, cancelRun := context.WithCancel(context.Background())
	return &Engine{
		store:      store,
		vault:      credVault,
		registry:   registry,
		discoverer: discoverer,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		stopCh:     make(chan struct{}),
		runCtx:     runCtx,
		cancelRun:  cancelRun,
	}
}

// SweepResult summarizes one sweep over eligible integrations.
type SweepResult struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// RunBackfillSweep backfills every active integration whose historical
// window has not completed yet. Failures are isolated per integration.
func (e *Engine) RunBackfillSweep(ctx context.Context) SweepResult {
	return e.sweep(ctx, "backfill", e.Backfill,
		syncstore.WithActive(true), syncstore.WithBackfillCompleted(false))
}

// RunDailySweep ingests yesterday for every active, fully backfilled
// integration.
func (e *Engine) RunDailySweep(ctx context.Context) SweepResult {
	return e.sweep(ctx, "daily", e.DailyUpdate,
		syncstore.WithActive(true), syncstore.WithBackfillCompleted(true))
}

func (e *Engine) sweep(ctx context.Context, kind string, run func(context.Context, *integration.Integration) error, opts ...syncstore.QueryOption) SweepResult {
	var result SweepResult

	eligible, err := e.store.ListIntegrations(ctx, opts...)
	if err != nil {
		e.logger.Error("failed to list eligible integrations",
			zap.String("kind", kind), zap.Error(err))
		result.Errors++
		return result
	}

	for i, integ := range eligible {
		start := e.now()
		err := run(ctx, integ)
		metrics.SyncRunDuration.WithLabelValues(string(integ.Provider), kind).
			Observe(e.now().Sub(start).Seconds())

		switch {
		case errors.Is(err, ErrSelectionRequired):
			result.Skipped++
			metrics.SyncRunsTotal.WithLabelValues(string(integ.Provider), kind, "skipped").Inc()
		case err != nil:
			result.Errors++
			metrics.SyncRunsTotal.WithLabelValues(string(integ.Provider), kind, "failure").Inc()
			metrics.ErrorsTotal.WithLabelValues("ingest", kind).Inc()
			e.logger.Warn("sync run failed",
				zap.String("kind", kind),
				zap.String("integration_id", integ.ID),
				zap.String("provider", string(integ.Provider)),
				zap.Error(err))
		default:
			result.Processed++
			metrics.SyncRunsTotal.WithLabelValues(string(integ.Provider), kind, "success").Inc()
		}

		if i < len(eligible)-1 {
			e.pause(ctx, e.cfg.IntegrationDelay)
		}
	}

	e.logger.Info("sweep completed",
		zap.String("kind", kind),
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.Errors))

	return result
}

// Start launches the periodic sweeps in background goroutines.
func (e *Engine) Start() {
	e.startTicker("backfill", e.cfg.BackfillInterval, e.RunBackfillSweep)
	e.startTicker("daily", e.cfg.DailyInterval, e.RunDailySweep)
}

func (e *Engine) startTicker(kind string, interval time.Duration, sweep func(context.Context) SweepResult) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		e.logger.Info("started periodic sweep",
			zap.String("kind", kind), zap.Duration("interval", interval))

		for {
			select {
			case <-ticker.C:
				// Each integration bounds its own run with RunBudget, so
				// the sweep context only has to end when the engine stops.
				sweep(e.runCtx)
			case <-e.stopCh:
				e.logger.Info("stopping periodic sweep", zap.String("kind", kind))
				return
			}
		}
	}()
}

// Stop stops the periodic sweeps, cancels any in-flight run and waits for
// the sweep goroutines to exit. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		e.cancelRun()
	})
	e.wg.Wait()
}

// resolveAccount runs discovery for an integration whose account id is a
// sentinel or syntactically invalid, then reports that a selection is still
// required. Discovery may bind a single candidate for future runs, but never
// selects the metrics target of the current one.
func (e *Engine) resolveAccount(ctx context.Context, integ *integration.Integration) error {
	if e.discoverer != nil {
		if _, err := e.discoverer.Reconcile(ctx, integ.UserID, integ.Provider); err != nil {
			e.logger.Warn("account discovery failed",
				zap.String("integration_id", integ.ID),
				zap.Error(err))
		}
	}

	msg := "selection required"
	integ.LastError = &msg
	if err := e.store.UpdateIntegration(ctx, integ); err != nil {
		e.logger.Error("failed to record selection state",
			zap.String("integration_id", integ.ID), zap.Error(err))
	}

	return fmt.Errorf("%w: integration %s", ErrSelectionRequired, integ.ID)
}

// pause sleeps for d unless the context ends first.
func (e *Engine) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
