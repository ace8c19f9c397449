package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sitelens/insights-middleware/internal/metrics"
	"github.com/sitelens/insights-middleware/pkg/integration"
)

var (
	// ErrIntegrationDisabled means the integration was deactivated, usually
	// after a failed refresh. Callers must not retry against the provider.
	ErrIntegrationDisabled = errors.New("integration is disabled")

	// ErrRefreshFailed means the provider rejected the refresh attempt. The
	// integration has been deactivated and the failure recorded.
	ErrRefreshFailed = errors.New("credential refresh failed")
)

// DefaultRefreshMargin refreshes secrets that expire within this window.
const DefaultRefreshMargin = 5 * time.Minute

// Store persists integration state after a refresh attempt.
type Store interface {
	UpdateIntegration(ctx context.Context, integ *integration.Integration) error
}

// CredentialRefresher exchanges a refresh secret for a fresh access secret.
// Implemented by the provider adapters.
type CredentialRefresher interface {
	RefreshCredential(ctx context.Context, refreshSecret string) (accessSecret string, expiry *time.Time, err error)
}

// Vault hands out plaintext access secrets, transparently refreshing and
// re-encrypting them when they are expired or about to expire.
type Vault struct {
	cipher *Cipher
	store  Store
	margin time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Vault. A non-positive margin falls back to
// DefaultRefreshMargin.
func New(c *Cipher, store Store, margin time.Duration, logger *zap.Logger) *Vault {
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}
	return &Vault{
		cipher: c,
		store:  store,
		margin: margin,
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Cipher exposes the underlying cipher for callers that encrypt new
// credentials, such as the integration registration handler.
func (v *Vault) Cipher() *Cipher {
	return v.cipher
}

// AccessCredential returns the plaintext access secret for integ, refreshing
// it through refresher if it is expired or expires within the safety margin.
//
// A successful refresh persists the re-encrypted secret, the new expiry and a
// cleared failure record. A failed refresh persists the failure, deactivates
// the integration and returns ErrRefreshFailed; subsequent calls then return
// ErrIntegrationDisabled without contacting the provider.
func (v *Vault) AccessCredential(ctx context.Context, integ *integration.Integration, refresher CredentialRefresher) (string, error) {
	if !integ.IsActive {
		return "", ErrIntegrationDisabled
	}

	lock := v.lockFor(integ.ID)
	lock.Lock()
	defer lock.Unlock()

	if !integ.SecretExpired(v.now(), v.margin) {
		secret, err := v.cipher.Decrypt(integ.EncryptedAccessSecret)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt access secret: %w", err)
		}
		return secret, nil
	}

	return v.refresh(ctx, integ, refresher)
}

func (v *Vault) refresh(ctx context.Context, integ *integration.Integration, refresher CredentialRefresher) (string, error) {
	if !integ.HasRefreshSecret() {
		return "", v.recordFailure(ctx, integ, errors.New("access secret expired and no refresh secret granted"))
	}

	refreshSecret, err := v.cipher.Decrypt(integ.EncryptedRefreshSecret)
	if err != nil {
		return "", v.recordFailure(ctx, integ, fmt.Errorf("failed to decrypt refresh secret: %w", err))
	}

	accessSecret, expiry, err := refresher.RefreshCredential(ctx, refreshSecret)
	if err != nil {
		return "", v.recordFailure(ctx, integ, err)
	}

	encrypted, err := v.cipher.Encrypt(accessSecret)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt refreshed secret: %w", err)
	}

	integ.EncryptedAccessSecret = encrypted
	integ.SecretExpiresAt = expiry
	integ.LastError = nil
	integ.UpdatedAt = v.now().UTC()

	if err := v.store.UpdateIntegration(ctx, integ); err != nil {
		return "", fmt.Errorf("failed to persist refreshed secret: %w", err)
	}

	metrics.CredentialRefreshes.WithLabelValues(string(integ.Provider), "success").Inc()
	v.logger.Info("refreshed provider credential",
		zap.String("integration_id", integ.ID),
		zap.String("provider", string(integ.Provider)))

	return accessSecret, nil
}

// recordFailure deactivates the integration and stores the failure so the
// pipeline skips it until the user re-authorizes.
func (v *Vault) recordFailure(ctx context.Context, integ *integration.Integration, cause error) error {
	msg := cause.Error()
	integ.LastError = &msg
	integ.IsActive = false
	integ.UpdatedAt = v.now().UTC()

	if err := v.store.UpdateIntegration(ctx, integ); err != nil {
		v.logger.Error("failed to persist refresh failure",
			zap.String("integration_id", integ.ID),
			zap.Error(err))
	}

	metrics.CredentialRefreshes.WithLabelValues(string(integ.Provider), "failure").Inc()
	v.logger.Warn("deactivated integration after refresh failure",
		zap.String("integration_id", integ.ID),
		zap.String("provider", string(integ.Provider)),
		zap.Error(cause))

	return fmt.Errorf("%w: %s", ErrRefreshFailed, msg)
}

func (v *Vault) lockFor(id string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	lock, ok := v.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		v.locks[id] = lock
	}
	return lock
}
