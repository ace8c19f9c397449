package vault

import (
	"context"
	"time"

	"github.com/sitelens/insights-middleware/pkg/integration"
)

type mockStore struct {
	UpdateIntegrationFunc func(ctx context.Context, integ *integration.Integration) error
	updates               int
}

func (m *mockStore) UpdateIntegration(ctx context.Context, integ *integration.Integration) error {
	m.updates++
	if m.UpdateIntegrationFunc != nil {
		return m.UpdateIntegrationFunc(ctx, integ)
	}
	return nil
}

type mockRefresher struct {
	RefreshCredentialFunc func(ctx context.Context, refreshSecret string) (string, *time.Time, error)
	calls                 int
}

func (m *mockRefresher) RefreshCredential(ctx context.Context, refreshSecret string) (string, *time.Time, error) {
	m.calls++
	if m.RefreshCredentialFunc != nil {
		return m.RefreshCredentialFunc(ctx, refreshSecret)
	}
	return "", nil, nil
}
