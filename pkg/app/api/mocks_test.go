package api

import (
	"context"
	"time"

	"github.com/sitelens/insights-middleware/pkg/ingest"
	"github.com/sitelens/insights-middleware/pkg/integration"
	"github.com/sitelens/insights-middleware/pkg/reconciler"
	"github.com/sitelens/insights-middleware/pkg/syncstore"
)

// memStore is an in-memory syncstore.Store for handler tests.
type memStore struct {
	integrations map[string]*integration.Integration
	aggregates   []*syncstore.SourceAggregate
}

func newMemStore() *memStore {
	return &memStore{integrations: make(map[string]*integration.Integration)}
}

func (m *memStore) seedRow(integ *integration.Integration) {
	copied := *integ
	m.integrations[integ.ID] = &copied
}

func (m *memStore) match(integ *integration.Integration, opts []syncstore.QueryOption) bool {
	options := &syncstore.QueryOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.ID != nil && integ.ID != *options.ID {
		return false
	}
	if options.UserID != nil && integ.UserID != *options.UserID {
		return false
	}
	if options.Provider != nil && integ.Provider != *options.Provider {
		return false
	}
	if options.IsActive != nil && integ.IsActive != *options.IsActive {
		return false
	}
	return true
}

func (m *memStore) CreateIntegration(_ context.Context, integ *integration.Integration) error {
	copied := *integ
	m.integrations[integ.ID] = &copied
	return nil
}

func (m *memStore) GetIntegration(_ context.Context, opts ...syncstore.QueryOption) (*integration.Integration, error) {
	for _, integ := range m.integrations {
		if m.match(integ, opts) {
			copied := *integ
			return &copied, nil
		}
	}
	return nil, syncstore.ErrIntegrationNotFound
}

func (m *memStore) ListIntegrations(_ context.Context, opts ...syncstore.QueryOption) ([]*integration.Integration, error) {
	var out []*integration.Integration
	for _, integ := range m.integrations {
		if m.match(integ, opts) {
			copied := *integ
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memStore) UpdateIntegration(_ context.Context, integ *integration.Integration) error {
	if _, ok := m.integrations[integ.ID]; !ok {
		return syncstore.ErrIntegrationNotFound
	}
	copied := *integ
	m.integrations[integ.ID] = &copied
	return nil
}

func (m *memStore) DeleteIntegration(_ context.Context, id string) error {
	delete(m.integrations, id)
	return nil
}

func (m *memStore) UpsertMetrics(context.Context, []*integration.DailyMetric) error {
	return nil
}

func (m *memStore) RankedSources(context.Context, string, time.Time, time.Time) ([]*syncstore.SourceAggregate, error) {
	return m.aggregates, nil
}

// stubCipher marks values instead of encrypting them.
type stubCipher struct{}

func (stubCipher) Encrypt(plaintext string) (string, error) {
	return "enc:" + plaintext, nil
}

type stubReconciler struct {
	calls int
	err   error
	store *memStore
}

func (s *stubReconciler) Reconcile(ctx context.Context, userID string, p integration.Provider) (*reconciler.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	final, _ := s.store.ListIntegrations(ctx,
		syncstore.WithUserID(userID), syncstore.WithProvider(p))
	return &reconciler.Result{FinalSet: final}, nil
}

type stubSweeper struct {
	backfills    int
	dailies      int
	lastDetached bool
}

func (s *stubSweeper) RunBackfillSweep(ctx context.Context) ingest.SweepResult {
	s.backfills++
	s.lastDetached = ctx.Done() == nil
	return ingest.SweepResult{Processed: 1}
}

func (s *stubSweeper) RunDailySweep(ctx context.Context) ingest.SweepResult {
	s.dailies++
	s.lastDetached = ctx.Done() == nil
	return ingest.SweepResult{Processed: 2}
}
