package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitelens/insights-middleware/pkg/integration"
	"github.com/sitelens/insights-middleware/pkg/provider"
)

func testConfig() Config {
	return Config{
		BackfillDays: 5,
		ChunkSize:    2,
		ChunkTimeout: time.Second,
		RunBudget:    time.Minute,
	}
}

func newTestEngine(store *memStore, adapter *stubAdapter, credVault *stubVault, discoverer Discoverer, cfg Config) *Engine {
	e := New(store, credVault, provider.NewRegistry(adapter), discoverer, cfg, zap.NewNop())
	e.now = func() time.Time {
		return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	}
	return e
}

func boundRow(accountID string, backfilled bool) *integration.Integration {
	integ := integration.New("user-1", integration.ProviderAnalytics, "enc-access", "enc-refresh", nil, "scope")
	integ.RemoteAccountID = accountID
	integ.BackfillCompleted = backfilled
	return integ
}

func metricRow(date, source string, sessions float64) provider.Row {
	return provider.Row{
		Dimensions: []string{date, "Organic Search", source},
		Metrics:    []float64{sessions, 80, 0.45, 120, 2.5, 3},
	}
}

func TestMonthlyRanges(t *testing.T) {
	start := time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)

	periods := monthlyRanges(start, end)
	require.Len(t, periods, 4)

	assert.Equal(t, start, periods[0].Start)
	assert.Equal(t, time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC), periods[0].End)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), periods[1].Start)
	assert.Equal(t, time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC), periods[1].End)
	assert.Equal(t, end, periods[3].End)

	// Sub-ranges are contiguous with no gap or overlap.
	for i := 1; i < len(periods); i++ {
		assert.Equal(t, periods[i-1].End.AddDate(0, 0, 1), periods[i].Start)
	}
}

func TestTransform(t *testing.T) {
	integ := boundRow("123456789", false)

	records, skipped := transform(integ, []provider.Row{
		metricRow("20260820", "google / organic", 100),
		metricRow("not-a-date", "bing / organic", 50),
		{Dimensions: []string{"20260820"}, Metrics: []float64{1}},
	})

	assert.Equal(t, 2, skipped)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, integ.ID, rec.IntegrationID)
	assert.Equal(t, "123456789", rec.RemoteAccountID)
	assert.Equal(t, time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), rec.Date)
	assert.Equal(t, "google / organic", rec.SourceDimension)
	assert.Equal(t, int64(100), rec.Sessions)
	assert.InDelta(t, 45.0, rec.BounceRate, 0.001)
	assert.Equal(t, int64(3), rec.Conversions)
	assert.Positive(t, rec.QualityScore)
	assert.LessOrEqual(t, rec.QualityScore, 100)
}

func TestBackfillSuccess(t *testing.T) {
	store := newMemStore()
	integ := boundRow("123456789", false)
	store.seedRow(integ)

	adapter := &stubAdapter{
		name: integration.ProviderAnalytics,
		rows: []provider.Row{
			metricRow("20260824", "google / organic", 100),
			metricRow("20260824", "bing / organic", 20),
			metricRow("20260825", "google / organic", 90),
		},
	}
	e := newTestEngine(store, adapter, &stubVault{secret: "token"}, nil, testConfig())

	err := e.Backfill(context.Background(), integ)
	require.NoError(t, err)

	// 5 backfill days ending yesterday (2026-08-27) fit in one month.
	require.Len(t, adapter.fetched, 1)
	assert.Equal(t, time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC), adapter.fetched[0].Start)
	assert.Equal(t, time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC), adapter.fetched[0].End)

	assert.Len(t, store.metrics, 3)
	persisted := store.integrations[integ.ID]
	assert.True(t, persisted.BackfillCompleted)
	assert.Nil(t, persisted.LastError)
	require.NotNil(t, persisted.LastSyncedAt)

	// Replaying the same run is idempotent.
	err = e.Backfill(context.Background(), integ)
	require.NoError(t, err)
	assert.Len(t, store.metrics, 3)
}

func TestBackfillChunkFailureAbsorbed(t *testing.T) {
	store := newMemStore()
	store.failOnCall = 1
	store.upsertErr = errors.New("deadlock detected")

	integ := boundRow("123456789", false)
	store.seedRow(integ)

	adapter := &stubAdapter{
		name: integration.ProviderAnalytics,
		rows: []provider.Row{
			metricRow("20260824", "a / a", 1),
			metricRow("20260824", "b / b", 2),
			metricRow("20260825", "c / c", 3),
			metricRow("20260825", "d / d", 4),
		},
	}
	e := newTestEngine(store, adapter, &stubVault{secret: "token"}, nil, testConfig())

	err := e.Backfill(context.Background(), integ)
	require.Error(t, err)

	// The failed chunk is skipped, the rest of the run still lands.
	assert.Equal(t, 2, store.upsertCalls)
	assert.Len(t, store.metrics, 2)

	persisted := store.integrations[integ.ID]
	assert.False(t, persisted.BackfillCompleted)
	require.NotNil(t, persisted.LastError)
	assert.Contains(t, *persisted.LastError, "deadlock")
}

func TestBackfillFetchFailureKeepsIncomplete(t *testing.T) {
	store := newMemStore()
	integ := boundRow("123456789", false)
	store.seedRow(integ)

	adapter := &stubAdapter{
		name:     integration.ProviderAnalytics,
		fetchErr: errors.New("quota exceeded"),
	}
	e := newTestEngine(store, adapter, &stubVault{secret: "token"}, nil, testConfig())

	err := e.Backfill(context.Background(), integ)
	require.Error(t, err)

	persisted := store.integrations[integ.ID]
	assert.False(t, persisted.BackfillCompleted)
	require.NotNil(t, persisted.LastError)
}

func TestBackfillBudgetStopsNewChunks(t *testing.T) {
	store := newMemStore()
	integ := boundRow("123456789", false)
	store.seedRow(integ)

	adapter := &stubAdapter{
		name: integration.ProviderAnalytics,
		rows: []provider.Row{
			metricRow("20260824", "a / a", 1),
			metricRow("20260824", "b / b", 2),
			metricRow("20260825", "c / c", 3),
			metricRow("20260825", "d / d", 4),
		},
	}

	cfg := testConfig()
	cfg.RunBudget = 2 * time.Second
	e := newTestEngine(store, adapter, &stubVault{secret: "token"}, nil, cfg)

	// Each clock read advances a full second, so the budget expires after
	// the first chunk.
	current := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time {
		current = current.Add(time.Second)
		return current
	}

	err := e.Backfill(context.Background(), integ)
	require.ErrorIs(t, err, errBudgetExhausted)

	assert.Equal(t, 1, store.upsertCalls)
	assert.Len(t, store.metrics, 2)
	assert.False(t, store.integrations[integ.ID].BackfillCompleted)
}

func TestBackfillSelectionRequired(t *testing.T) {
	store := newMemStore()
	integ := integration.New("user-1", integration.ProviderAnalytics, "enc-access", "enc-refresh", nil, "scope")
	store.seedRow(integ)

	adapter := &stubAdapter{name: integration.ProviderAnalytics}
	discoverer := &stubDiscoverer{}
	e := newTestEngine(store, adapter, &stubVault{secret: "token"}, discoverer, testConfig())

	err := e.Backfill(context.Background(), integ)
	require.ErrorIs(t, err, ErrSelectionRequired)

	// Discovery ran, but nothing was fetched or written for this run.
	assert.Equal(t, 1, discoverer.calls)
	assert.Empty(t, adapter.fetched)
	assert.Empty(t, store.metrics)

	persisted := store.integrations[integ.ID]
	require.NotNil(t, persisted.LastError)
	assert.Equal(t, "selection required", *persisted.LastError)
}

func TestDailyUpdate(t *testing.T) {
	store := newMemStore()
	integ := boundRow("123456789", true)
	msg := "old failure"
	integ.LastError = &msg
	store.seedRow(integ)

	adapter := &stubAdapter{
		name: integration.ProviderAnalytics,
		rows: []provider.Row{metricRow("20260827", "google / organic", 42)},
	}
	e := newTestEngine(store, adapter, &stubVault{secret: "token"}, nil, testConfig())

	err := e.DailyUpdate(context.Background(), integ)
	require.NoError(t, err)

	require.Len(t, adapter.fetched, 1)
	want := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, want, adapter.fetched[0].Start)
	assert.Equal(t, want, adapter.fetched[0].End)

	assert.Len(t, store.metrics, 1)
	persisted := store.integrations[integ.ID]
	assert.Nil(t, persisted.LastError)
	assert.True(t, persisted.BackfillCompleted)
}

func TestDailyRequiresBackfill(t *testing.T) {
	store := newMemStore()
	integ := boundRow("123456789", false)
	store.seedRow(integ)

	adapter := &stubAdapter{name: integration.ProviderAnalytics}
	e := newTestEngine(store, adapter, &stubVault{secret: "token"}, nil, testConfig())

	err := e.DailyUpdate(context.Background(), integ)
	assert.ErrorIs(t, err, ErrBackfillIncomplete)
	assert.Empty(t, adapter.fetched)
}

func TestSweepIsolatesFailures(t *testing.T) {
	store := newMemStore()

	broken := boundRow("111111111", false)
	store.seedRow(broken)
	healthy := boundRow("222222222", false)
	store.seedRow(healthy)

	adapter := &stubAdapter{
		name: integration.ProviderAnalytics,
		rows: []provider.Row{metricRow("20260827", "google / organic", 10)},
	}
	e := newTestEngine(store, adapter, &stubVault{secret: "token"}, nil, testConfig())

	// Fail the first upsert; it belongs to whichever integration runs
	// first, the other one must still complete.
	store.failOnCall = 1
	store.upsertErr = errors.New("connection reset")

	result := e.RunBackfillSweep(context.Background())
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Errors)
	assert.Zero(t, result.Skipped)
	assert.Len(t, store.metrics, 1)
}

func TestSweepCountsSelectionAsSkip(t *testing.T) {
	store := newMemStore()
	store.seedRow(integration.New("user-1", integration.ProviderAnalytics, "enc", "enc", nil, "scope"))

	adapter := &stubAdapter{name: integration.ProviderAnalytics}
	discoverer := &stubDiscoverer{}
	e := newTestEngine(store, adapter, &stubVault{secret: "token"}, discoverer, testConfig())

	result := e.RunBackfillSweep(context.Background())
	assert.Zero(t, result.Processed)
	assert.Zero(t, result.Errors)
	assert.Equal(t, 1, result.Skipped)
}

func TestStartStop(t *testing.T) {
	store := newMemStore()
	adapter := &stubAdapter{name: integration.ProviderAnalytics}
	e := newTestEngine(store, adapter, &stubVault{secret: "token"}, nil, testConfig())

	e.Start()
	e.Stop()

	// Shutdown can reach Stop from more than one path.
	assert.NotPanics(t, e.Stop)
}
