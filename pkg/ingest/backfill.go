package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sitelens/insights-middleware/internal/metrics"
	"github.com/sitelens/insights-middleware/pkg/integration"
	"github.com/sitelens/insights-middleware/pkg/provider"
)

// errBudgetExhausted marks a run cut short by the wall-clock budget. The
// in-flight chunk finishes; no new chunk or period starts.
var errBudgetExhausted = errors.New("run budget exhausted")

// Backfill ingests the historical window for one integration, oldest period
// first. Chunk failures are absorbed and aggregated so one bad write does
// not discard the rest of the run; the backfill is marked completed only
// when the run finished clean.
func (e *Engine) Backfill(ctx context.Context, integ *integration.Integration) error {
	adapter, err := e.registry.Get(integ.Provider)
	if err != nil {
		return err
	}

	if integ.IsPlaceholder() || !adapter.ValidAccountID(integ.RemoteAccountID) {
		return e.resolveAccount(ctx, integ)
	}

	accessSecret, err := e.vault.AccessCredential(ctx, integ, adapter)
	if err != nil {
		return e.finish(ctx, integ, fmt.Errorf("failed to obtain credential: %w", err))
	}

	end := yesterday(e.now())
	start := end.AddDate(0, 0, -(e.cfg.BackfillDays - 1))
	periods := monthlyRanges(start, end)
	deadline := e.now().Add(e.cfg.RunBudget)

	e.logger.Info("starting backfill",
		zap.String("integration_id", integ.ID),
		zap.String("provider", string(integ.Provider)),
		zap.String("from", start.Format("2006-01-02")),
		zap.String("to", end.Format("2006-01-02")),
		zap.Int("periods", len(periods)))

	var runErr error
	for i, period := range periods {
		if e.now().After(deadline) {
			runErr = multierr.Append(runErr, errBudgetExhausted)
			break
		}

		err := e.ingestPeriod(ctx, adapter, integ, accessSecret, period, deadline)
		if err != nil {
			runErr = multierr.Append(runErr, err)
			if errors.Is(err, errBudgetExhausted) {
				break
			}
		}

		if i < len(periods)-1 {
			e.pause(ctx, e.cfg.PeriodDelay)
		}
	}

	return e.finish(ctx, integ, runErr)
}

// DailyUpdate ingests exactly one day, yesterday in UTC, for an integration
// whose historical backfill already completed.
func (e *Engine) DailyUpdate(ctx context.Context, integ *integration.Integration) error {
	if !integ.BackfillCompleted {
		return fmt.Errorf("%w: integration %s", ErrBackfillIncomplete, integ.ID)
	}

	adapter, err := e.registry.Get(integ.Provider)
	if err != nil {
		return err
	}

	if integ.IsPlaceholder() || !adapter.ValidAccountID(integ.RemoteAccountID) {
		return e.resolveAccount(ctx, integ)
	}

	accessSecret, err := e.vault.AccessCredential(ctx, integ, adapter)
	if err != nil {
		return e.finishDaily(ctx, integ, fmt.Errorf("failed to obtain credential: %w", err))
	}

	day := yesterday(e.now())
	period := provider.DateRange{Start: day, End: day}
	deadline := e.now().Add(e.cfg.RunBudget)

	runErr := e.ingestPeriod(ctx, adapter, integ, accessSecret, period, deadline)
	return e.finishDaily(ctx, integ, runErr)
}

// ingestPeriod fetches one date range and writes it in bounded chunks.
func (e *Engine) ingestPeriod(ctx context.Context, adapter provider.Adapter, integ *integration.Integration, accessSecret string, period provider.DateRange, deadline time.Time) error {
	rows, err := adapter.FetchMetrics(ctx, accessSecret, integ.RemoteAccountID, period)
	if err != nil {
		return fmt.Errorf("failed to fetch %s..%s: %w",
			period.Start.Format("2006-01-02"), period.End.Format("2006-01-02"), err)
	}

	records, skipped := transform(integ, rows)
	if skipped > 0 {
		metrics.RowsSkipped.WithLabelValues(string(integ.Provider), "bad_date").Add(float64(skipped))
		e.logger.Warn("dropped rows with unparseable dates",
			zap.String("integration_id", integ.ID),
			zap.Int("skipped", skipped))
	}

	return e.writeChunks(ctx, integ, records, deadline)
}

// writeChunks upserts records in chunks of ChunkSize, each in its own
// bounded transaction. A failed chunk is counted and skipped; the remaining
// chunks still run.
func (e *Engine) writeChunks(ctx context.Context, integ *integration.Integration, records []*integration.DailyMetric, deadline time.Time) error {
	var errs error

	for offset := 0; offset < len(records); offset += e.cfg.ChunkSize {
		if e.now().After(deadline) {
			return multierr.Append(errs, errBudgetExhausted)
		}

		limit := offset + e.cfg.ChunkSize
		if limit > len(records) {
			limit = len(records)
		}
		chunk := records[offset:limit]

		chunkCtx, cancel := context.WithTimeout(ctx, e.cfg.ChunkTimeout)
		err := e.store.UpsertMetrics(chunkCtx, chunk)
		cancel()

		if err != nil {
			metrics.ChunkFailures.WithLabelValues(string(integ.Provider)).Inc()
			e.logger.Warn("chunk write failed",
				zap.String("integration_id", integ.ID),
				zap.Int("offset", offset),
				zap.Int("size", len(chunk)),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("chunk at %d: %w", offset, err))
			continue
		}

		metrics.RowsIngested.WithLabelValues(string(integ.Provider)).Add(float64(len(chunk)))

		if limit < len(records) {
			e.pause(ctx, e.cfg.ChunkDelay)
		}
	}

	return errs
}

// finish records the outcome of a backfill run on the integration row.
func (e *Engine) finish(ctx context.Context, integ *integration.Integration, runErr error) error {
	now := e.now().UTC()
	integ.LastSyncedAt = &now

	if runErr == nil {
		integ.BackfillCompleted = true
		integ.LastError = nil
	} else {
		msg := runErr.Error()
		integ.LastError = &msg
	}

	if err := e.store.UpdateIntegration(ctx, integ); err != nil {
		runErr = multierr.Append(runErr, fmt.Errorf("failed to persist sync state: %w", err))
	}
	return runErr
}

// finishDaily records the outcome of a daily run. The completed flag is
// already set and stays set.
func (e *Engine) finishDaily(ctx context.Context, integ *integration.Integration, runErr error) error {
	now := e.now().UTC()
	integ.LastSyncedAt = &now

	if runErr == nil {
		integ.LastError = nil
	} else {
		msg := runErr.Error()
		integ.LastError = &msg
	}

	if err := e.store.UpdateIntegration(ctx, integ); err != nil {
		runErr = multierr.Append(runErr, fmt.Errorf("failed to persist sync state: %w", err))
	}
	return runErr
}

// yesterday returns the previous UTC calendar day at midnight.
func yesterday(now time.Time) time.Time {
	t := now.UTC().AddDate(0, 0, -1)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// monthlyRanges splits [start, end] into calendar-month sub-ranges, oldest
// first, so provider queries stay well under response size limits.
func monthlyRanges(start, end time.Time) []provider.DateRange {
	var periods []provider.DateRange
	for cursor := start; !cursor.After(end); {
		monthEnd := time.Date(cursor.Year(), cursor.Month(), 1, 0, 0, 0, 0, time.UTC).
			AddDate(0, 1, -1)
		if monthEnd.After(end) {
			monthEnd = end
		}
		periods = append(periods, provider.DateRange{Start: cursor, End: monthEnd})
		cursor = monthEnd.AddDate(0, 0, 1)
	}
	return periods
}
