package reconciler

import (
	"context"
	"time"

	"github.com/sitelens/insights-middleware/pkg/integration"
	"github.com/sitelens/insights-middleware/pkg/provider"
	"github.com/sitelens/insights-middleware/pkg/syncstore"
	"github.com/sitelens/insights-middleware/pkg/vault"
)

// memStore is an in-memory Store tracking write counts for atomicity checks.
type memStore struct {
	integrations map[string]*integration.Integration
	writes       int
}

func newMemStore() *memStore {
	return &memStore{integrations: make(map[string]*integration.Integration)}
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
		if options.UserID != nil && integ.UserID != *options.UserID {
			continue
		}
		if options.Provider != nil && integ.Provider != *options.Provider {
			continue
		}
		if options.IsActive != nil && integ.IsActive != *options.IsActive {
			continue
		}
		copied := *integ
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memStore) CreateIntegration(_ context.Context, integ *integration.Integration) error {
	m.writes++
	copied := *integ
	m.integrations[integ.ID] = &copied
	return nil
}

func (m *memStore) UpdateIntegration(_ context.Context, integ *integration.Integration) error {
	m.writes++
	copied := *integ
	m.integrations[integ.ID] = &copied
	return nil
}

func (m *memStore) DeleteIntegration(_ context.Context, id string) error {
	m.writes++
	delete(m.integrations, id)
	return nil
}

func (m *memStore) byAccount(accountID string) *integration.Integration {
	for _, integ := range m.integrations {
		if integ.RemoteAccountID == accountID {
			return integ
		}
	}
	return nil
}

// stubVault returns the stored secret as-is; tests store plaintext.
type stubVault struct {
	err error
}

func (s *stubVault) AccessCredential(_ context.Context, integ *integration.Integration, _ vault.CredentialRefresher) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return integ.EncryptedAccessSecret, nil
}

type stubAdapter struct {
	name     integration.Provider
	accounts []provider.RemoteAccount
	listErr  error
}

func (s *stubAdapter) Name() integration.Provider { return s.name }
func (s *stubAdapter) ValidAccountID(id string) bool {
	return id != "" && id != integration.AccountPendingSelection && id != integration.AccountNoneFound
}
func (s *stubAdapter) ListRemoteAccounts(context.Context, string) ([]provider.RemoteAccount, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.accounts, nil
}
func (s *stubAdapter) FetchMetrics(context.Context, string, string, provider.DateRange) ([]provider.Row, error) {
	return nil, nil
}
func (s *stubAdapter) RefreshCredential(context.Context, string) (string, *time.Time, error) {
	return "", nil, nil
}
