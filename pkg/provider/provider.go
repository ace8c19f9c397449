// Package provider defines the capability interface every upstream data
// source implements, plus the canonical row shape the ingestion pipeline
// consumes. Pipeline code depends only on this package, never on a concrete
// adapter.
package provider

import (
	"context"
	"time"

	"github.com/sitelens/insights-middleware/pkg/integration"
)

// Canonical dimension layout of a Row.
const (
	DimDate = iota
	DimChannelGroup
	DimSourceMedium
	DimCount
)

// Canonical metric layout of a Row.
const (
	MetSessions = iota
	MetUsers
	MetBounceRate
	MetAvgSessionDuration
	MetPagesPerSession
	MetConversions
	MetCount
)

// Row is one provider-reported data point in the canonical layout. The date
// dimension uses the providers' compact YYYYMMDD form; the transform step
// parses and validates it.
type Row struct {
	Dimensions []string
	Metrics    []float64
}

// RemoteAccount is one account (property, site, customer) the credential can
// access upstream.
type RemoteAccount struct {
	ID          string
	DisplayName string
	ParentName  string
}

// DateRange is an inclusive UTC date interval.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Adapter is the full capability surface of one provider. Implementations
// must be safe for concurrent use.
type Adapter interface {
	// Name identifies the provider this adapter serves.
	Name() integration.Provider

	// ValidAccountID reports whether id is syntactically a real account id
	// for this provider. Sentinel and malformed ids fail this check.
	ValidAccountID(id string) bool

	// ListRemoteAccounts returns the accounts the access secret can reach.
	ListRemoteAccounts(ctx context.Context, accessSecret string) ([]RemoteAccount, error)

	// FetchMetrics returns daily rows for the account over the range, in the
	// canonical dimension and metric layout.
	FetchMetrics(ctx context.Context, accessSecret, remoteAccountID string, rng DateRange) ([]Row, error)

	// RefreshCredential exchanges a refresh secret for a new access secret
	// and its expiry.
	RefreshCredential(ctx context.Context, refreshSecret string) (string, *time.Time, error)
}
