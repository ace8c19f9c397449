// Package integration holds the domain model shared by the vault, the
// reconciler and the ingestion pipeline.
package integration

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies the upstream data source an integration belongs to.
type Provider string

const (
	ProviderAnalytics     Provider = "analytics"
	ProviderSearchConsole Provider = "search-console"
	ProviderAds           Provider = "ads"
)

// Valid reports whether p is one of the known providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderAnalytics, ProviderSearchConsole, ProviderAds:
		return true
	}
	return false
}

// Sentinel remote account ids used while account resolution is in progress.
// Rows carrying a sentinel are placeholders: they hold credentials but do not
// reference a real remote account yet.
const (
	AccountPendingSelection = "pending-selection"
	AccountNoneFound        = "no-accounts-found"
)

// Integration binds a user, a provider and one remote account, together with
// the encrypted credentials and sync bookkeeping for that binding.
// (UserID, Provider, RemoteAccountID) is unique.
type Integration struct {
	ID                     string
	UserID                 string
	Provider               Provider
	RemoteAccountID        string
	DisplayName            string
	ParentName             string
	EncryptedAccessSecret  string
	EncryptedRefreshSecret string
	SecretExpiresAt        *time.Time
	Scopes                 string
	IsActive               bool
	BackfillCompleted      bool
	LastSyncedAt           *time.Time
	LastError              *string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// New creates a placeholder Integration for a freshly authorized provider.
// The remote account is not known yet, so the row starts in the
// pending-selection state. It is active so account discovery can use its
// credential; rows carrying a sentinel never ingest metrics.
func New(userID string, provider Provider, encryptedAccess, encryptedRefresh string, expiresAt *time.Time, scopes string) *Integration {
	now := time.Now().UTC()
	return &Integration{
		ID:                     uuid.New().String(),
		UserID:                 userID,
		Provider:               provider,
		RemoteAccountID:        AccountPendingSelection,
		EncryptedAccessSecret:  encryptedAccess,
		EncryptedRefreshSecret: encryptedRefresh,
		SecretExpiresAt:        expiresAt,
		Scopes:                 scopes,
		IsActive:               true,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// IsPlaceholder reports whether the row still carries a resolution sentinel
// instead of a real remote account id.
func (i *Integration) IsPlaceholder() bool {
	return i.RemoteAccountID == AccountPendingSelection || i.RemoteAccountID == AccountNoneFound
}

// HasRefreshSecret reports whether a refresh secret was granted during the
// authorization handshake.
func (i *Integration) HasRefreshSecret() bool {
	return i.EncryptedRefreshSecret != ""
}

// SecretExpired reports whether the access secret is expired, or expires
// within margin. A nil expiry means the secret does not expire.
func (i *Integration) SecretExpired(now time.Time, margin time.Duration) bool {
	if i.SecretExpiresAt == nil {
		return false
	}
	return !i.SecretExpiresAt.After(now.Add(margin))
}
