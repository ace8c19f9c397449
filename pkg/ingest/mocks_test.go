package ingest

import (
	"context"
	"time"

	"github.com/sitelens/insights-middleware/pkg/integration"
	"github.com/sitelens/insights-middleware/pkg/provider"
	"github.com/sitelens/insights-middleware/pkg/reconciler"
	"github.com/sitelens/insights-middleware/pkg/syncstore"
	"github.com/sitelens/insights-middleware/pkg/vault"
)

// memStore keeps metrics keyed by their natural composite key so replayed
// writes converge the way the SQL upsert does.
type memStore struct {
	integrations map[string]*integration.Integration
	metrics      map[integration.MetricKey]*integration.DailyMetric
	upsertCalls  int
	failOnCall   int // 1-based call number to fail, 0 for never
	upsertErr    error
}

func newMemStore() *memStore {
	return &memStore{
		integrations: make(map[string]*integration.Integration),
		metrics:      make(map[integration.MetricKey]*integration.DailyMetric),
	}
}

func (m *memStore) seedRow(integ *integration.Integration) {
	copied := *integ
	m.integrations[integ.ID] = &copied
}

func (m *memStore) ListIntegrations(_ context.Context, opts ...syncstore.QueryOption) ([]*integration.Integration, error) {
	options := &syncstore.QueryOptions{}
	for _, opt := range opts {
		opt(options)
	}

	var out []*integration.Integration
	for _, integ := range m.integrations {
		if options.IsActive != nil && integ.IsActive != *options.IsActive {
			continue
		}
		if options.BackfillCompleted != nil && integ.BackfillCompleted != *options.BackfillCompleted {
			continue
		}
		copied := *integ
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memStore) UpdateIntegration(_ context.Context, integ *integration.Integration) error {
	copied := *integ
	m.integrations[integ.ID] = &copied
	return nil
}

func (m *memStore) UpsertMetrics(_ context.Context, rows []*integration.DailyMetric) error {
	m.upsertCalls++
	if m.failOnCall != 0 && m.upsertCalls == m.failOnCall {
		return m.upsertErr
	}
	for _, row := range rows {
		copied := *row
		m.metrics[row.Key()] = &copied
	}
	return nil
}

type stubVault struct {
	secret string
	err    error
}

func (s *stubVault) AccessCredential(context.Context, *integration.Integration, vault.CredentialRefresher) (string, error) {
	return s.secret, s.err
}

type stubAdapter struct {
	name     integration.Provider
	rows     []provider.Row
	fetched  []provider.DateRange
	fetchErr error
}

func (s *stubAdapter) Name() integration.Provider { return s.name }

func (s *stubAdapter) ValidAccountID(id string) bool {
	return id != "" && id != integration.AccountPendingSelection && id != integration.AccountNoneFound
}

func (s *stubAdapter) ListRemoteAccounts(context.Context, string) ([]provider.RemoteAccount, error) {
	return nil, nil
}

func (s *stubAdapter) FetchMetrics(_ context.Context, _, _ string, period provider.DateRange) ([]provider.Row, error) {
	s.fetched = append(s.fetched, period)
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.rows, nil
}

func (s *stubAdapter) RefreshCredential(context.Context, string) (string, *time.Time, error) {
	return "", nil, nil
}

type stubDiscoverer struct {
	calls int
	err   error
}

func (s *stubDiscoverer) Reconcile(context.Context, string, integration.Provider) (*reconciler.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &reconciler.Result{}, nil
}
