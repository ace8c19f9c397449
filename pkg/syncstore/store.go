// Package syncstore persists integrations and daily source metrics.
package syncstore

import (
	"context"
	"errors"
	"time"

	"github.com/sitelens/insights-middleware/pkg/integration"
)

// ErrIntegrationNotFound is returned when an integration lookup finds no
// matching record.
var ErrIntegrationNotFound = errors.New("integration not found")

// SourceAggregate is the per-source rollup behind the ranked sources view.
// Scores are computed at query time from these aggregates.
type SourceAggregate struct {
	SourceDimension    string
	ChannelGroup       string
	Sessions           int64
	Users              int64
	BounceRate         float64
	AvgSessionDuration float64
	PagesPerSession    float64
	Conversions        int64
}

// Store defines the persistence operations of the sync engine.
type Store interface {
	CreateIntegration(ctx context.Context, integ *integration.Integration) error
	GetIntegration(ctx context.Context, opts ...QueryOption) (*integration.Integration, error)
	ListIntegrations(ctx context.Context, opts ...QueryOption) ([]*integration.Integration, error)
	UpdateIntegration(ctx context.Context, integ *integration.Integration) error
	DeleteIntegration(ctx context.Context, id string) error

	// UpsertMetrics writes one chunk of rows in a single transaction. Rows
	// hitting the natural key of an existing record overwrite it.
	UpsertMetrics(ctx context.Context, rows []*integration.DailyMetric) error

	// RankedSources aggregates stored metrics per traffic source for one
	// user over a date range.
	RankedSources(ctx context.Context, userID string, from, to time.Time) ([]*SourceAggregate, error)
}

// QueryOptions defines options for querying integrations
type QueryOptions struct {
	ID                *string
	UserID            *string
	Provider          *integration.Provider
	RemoteAccountID   *string
	IsActive          *bool
	BackfillCompleted *bool
}

// QueryOption is a functional option for querying integrations
type QueryOption func(*QueryOptions)

// WithID sets the row id filter
func WithID(id string) QueryOption {
	return func(opts *QueryOptions) {
		opts.ID = &id
	}
}

// WithUserID sets the user filter
func WithUserID(userID string) QueryOption {
	return func(opts *QueryOptions) {
		opts.UserID = &userID
	}
}

// WithProvider sets the provider filter
func WithProvider(p integration.Provider) QueryOption {
	return func(opts *QueryOptions) {
		opts.Provider = &p
	}
}

// WithRemoteAccountID sets the remote account filter
func WithRemoteAccountID(id string) QueryOption {
	return func(opts *QueryOptions) {
		opts.RemoteAccountID = &id
	}
}

// WithActive sets the activation filter
func WithActive(active bool) QueryOption {
	return func(opts *QueryOptions) {
		opts.IsActive = &active
	}
}

// WithBackfillCompleted sets the backfill completion filter
func WithBackfillCompleted(done bool) QueryOption {
	return func(opts *QueryOptions) {
		opts.BackfillCompleted = &done
	}
}
