// Package reconciler keeps the local integration rows for one (user,
// provider) pair converged with the account list the provider reports.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sitelens/insights-middleware/internal/metrics"
	"github.com/sitelens/insights-middleware/pkg/integration"
	"github.com/sitelens/insights-middleware/pkg/provider"
	"github.com/sitelens/insights-middleware/pkg/syncstore"
	"github.com/sitelens/insights-middleware/pkg/vault"
)

// ErrNoSeed means no credential-bearing integration exists for the pair, so
// there is nothing to reconcile with.
var ErrNoSeed = errors.New("no credential-bearing integration for provider")

// Store provides the integration persistence operations reconciliation needs.
type Store interface {
	ListIntegrations(ctx context.Context, opts ...syncstore.QueryOption) ([]*integration.Integration, error)
	CreateIntegration(ctx context.Context, integ *integration.Integration) error
	UpdateIntegration(ctx context.Context, integ *integration.Integration) error
	DeleteIntegration(ctx context.Context, id string) error
}

// CredentialVault hands out plaintext access secrets, refreshing on demand.
type CredentialVault interface {
	AccessCredential(ctx context.Context, integ *integration.Integration, refresher vault.CredentialRefresher) (string, error)
}

// Result reports what one reconciliation run changed.
type Result struct {
	Added    int
	Removed  int
	Updated  int
	FinalSet []*integration.Integration
}

// Reconciler diffs local integration rows against the provider's account
// list and applies the difference.
type Reconciler struct {
	store    Store
	vault    CredentialVault
	registry *provider.Registry
	logger   *zap.Logger
}

// New creates a new Reconciler
func New(store Store, credVault CredentialVault, registry *provider.Registry, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		vault:    credVault,
		registry: registry,
		logger:   logger,
	}
}

// Reconcile converges the stored rows for (userID, p) with the remote
// account list. If the remote call fails the run aborts with zero writes;
// partial reconciliation is never applied.
func (r *Reconciler) Reconcile(ctx context.Context, userID string, p integration.Provider) (*Result, error) {
	adapter, err := r.registry.Get(p)
	if err != nil {
		return nil, err
	}

	locals, err := r.store.ListIntegrations(ctx,
		syncstore.WithUserID(userID),
		syncstore.WithProvider(p))
	if err != nil {
		return nil, fmt.Errorf("failed to load local integrations: %w", err)
	}

	seed := pickSeed(locals)
	if seed == nil {
		return nil, ErrNoSeed
	}

	accessSecret, err := r.vault.AccessCredential(ctx, seed, adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain seed credential: %w", err)
	}

	remote, err := adapter.ListRemoteAccounts(ctx, accessSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote accounts: %w", err)
	}

	var placeholders, real []*integration.Integration
	realByID := make(map[string]*integration.Integration)
	for _, local := range locals {
		if local.IsPlaceholder() {
			placeholders = append(placeholders, local)
			continue
		}
		real = append(real, local)
		realByID[local.RemoteAccountID] = local
	}

	result := &Result{}

	// Placeholder resolution runs first so a single-candidate bind claims
	// the account before the diff would insert a duplicate row for it.
	if err := r.resolvePlaceholders(ctx, placeholders, real, remote, realByID, result); err != nil {
		return nil, err
	}

	// Removals before insertions: rows no longer authorized upstream must
	// not linger as selectable accounts.
	for _, local := range real {
		if containsAccount(remote, local.RemoteAccountID) {
			continue
		}
		if err := r.store.DeleteIntegration(ctx, local.ID); err != nil {
			return nil, fmt.Errorf("failed to remove integration %s: %w", local.ID, err)
		}
		delete(realByID, local.RemoteAccountID)
		result.Removed++
		metrics.ReconcileChanges.WithLabelValues(string(p), "remove").Inc()
	}

	for _, account := range remote {
		local, exists := realByID[account.ID]
		if !exists {
			integ := newFromSeed(seed, userID, p, account)
			if err := r.store.CreateIntegration(ctx, integ); err != nil {
				return nil, fmt.Errorf("failed to add integration for account %s: %w", account.ID, err)
			}
			result.Added++
			metrics.ReconcileChanges.WithLabelValues(string(p), "add").Inc()
			continue
		}

		if local.DisplayName == account.DisplayName && local.ParentName == account.ParentName {
			continue
		}
		local.DisplayName = account.DisplayName
		local.ParentName = account.ParentName
		if err := r.store.UpdateIntegration(ctx, local); err != nil {
			return nil, fmt.Errorf("failed to update integration %s: %w", local.ID, err)
		}
		result.Updated++
		metrics.ReconcileChanges.WithLabelValues(string(p), "update").Inc()
	}

	result.FinalSet, err = r.store.ListIntegrations(ctx,
		syncstore.WithUserID(userID),
		syncstore.WithProvider(p))
	if err != nil {
		return nil, fmt.Errorf("failed to reload integrations: %w", err)
	}

	r.logger.Info("reconciliation completed",
		zap.String("user_id", userID),
		zap.String("provider", string(p)),
		zap.Int("added", result.Added),
		zap.Int("removed", result.Removed),
		zap.Int("updated", result.Updated),
		zap.Int("final_set", len(result.FinalSet)))

	return result, nil
}

// resolvePlaceholders advances sentinel rows. Zero remote accounts is a
// valid terminal state, not an error; a single candidate is bound in place
// and activated when no sibling account is already active.
func (r *Reconciler) resolvePlaceholders(
	ctx context.Context,
	placeholders, real []*integration.Integration,
	remote []provider.RemoteAccount,
	realByID map[string]*integration.Integration,
	result *Result,
) error {
	for _, ph := range placeholders {
		switch {
		case len(remote) == 0:
			if ph.RemoteAccountID == integration.AccountNoneFound {
				continue
			}
			ph.RemoteAccountID = integration.AccountNoneFound
			if err := r.store.UpdateIntegration(ctx, ph); err != nil {
				return fmt.Errorf("failed to mark placeholder %s: %w", ph.ID, err)
			}
			result.Updated++
			metrics.ReconcileChanges.WithLabelValues(string(ph.Provider), "update").Inc()

		case len(remote) == 1:
			account := remote[0]
			if _, taken := realByID[account.ID]; taken {
				continue
			}
			ph.RemoteAccountID = account.ID
			ph.DisplayName = account.DisplayName
			ph.ParentName = account.ParentName
			ph.IsActive = !anyActive(real)
			if err := r.store.UpdateIntegration(ctx, ph); err != nil {
				return fmt.Errorf("failed to bind placeholder %s: %w", ph.ID, err)
			}
			realByID[account.ID] = ph
			result.Added++
			metrics.ReconcileChanges.WithLabelValues(string(ph.Provider), "add").Inc()

		default:
			// Several candidates: the user has to pick one explicitly.
			if ph.RemoteAccountID == integration.AccountPendingSelection {
				continue
			}
			ph.RemoteAccountID = integration.AccountPendingSelection
			if err := r.store.UpdateIntegration(ctx, ph); err != nil {
				return fmt.Errorf("failed to reset placeholder %s: %w", ph.ID, err)
			}
			result.Updated++
			metrics.ReconcileChanges.WithLabelValues(string(ph.Provider), "update").Inc()
		}
	}
	return nil
}

// pickSeed selects the credential source row: any row holding an access
// secret, preferring active ones.
func pickSeed(locals []*integration.Integration) *integration.Integration {
	var fallback *integration.Integration
	for _, local := range locals {
		if local.EncryptedAccessSecret == "" {
			continue
		}
		if local.IsActive {
			return local
		}
		if fallback == nil {
			fallback = local
		}
	}
	return fallback
}

// newFromSeed builds a row for a newly discovered account. It inherits the
// seed's encrypted secrets and expiry and is never auto-activated.
func newFromSeed(seed *integration.Integration, userID string, p integration.Provider, account provider.RemoteAccount) *integration.Integration {
	integ := integration.New(userID, p, seed.EncryptedAccessSecret, seed.EncryptedRefreshSecret, copyTime(seed.SecretExpiresAt), seed.Scopes)
	integ.RemoteAccountID = account.ID
	integ.DisplayName = account.DisplayName
	integ.ParentName = account.ParentName
	integ.IsActive = false
	return integ
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func containsAccount(remote []provider.RemoteAccount, id string) bool {
	for _, account := range remote {
		if account.ID == id {
			return true
		}
	}
	return false
}

func anyActive(integrations []*integration.Integration) bool {
	for _, integ := range integrations {
		if integ.IsActive {
			return true
		}
	}
	return false
}
