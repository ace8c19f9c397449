package integration

import "time"

// DailyMetric is one day of engagement counters for a single traffic source
// of a remote account. The composite key (IntegrationID, RemoteAccountID,
// Date, SourceDimension) is unique; writes are upserts, so re-ingesting a day
// converges instead of duplicating.
type DailyMetric struct {
	IntegrationID      string
	UserID             string
	RemoteAccountID    string
	Date               time.Time
	ChannelGroup       string
	SourceDimension    string
	Sessions           int64
	Users              int64
	BounceRate         float64
	AvgSessionDuration float64
	PagesPerSession    float64
	Conversions        int64
	QualityScore       int
}

// Key returns the natural composite key of the record. Used by in-memory
// stores and tests; the SQL store expresses the same key as a unique index.
type MetricKey struct {
	IntegrationID   string
	RemoteAccountID string
	Date            string // YYYY-MM-DD
	SourceDimension string
}

func (m *DailyMetric) Key() MetricKey {
	return MetricKey{
		IntegrationID:   m.IntegrationID,
		RemoteAccountID: m.RemoteAccountID,
		Date:            m.Date.Format("2006-01-02"),
		SourceDimension: m.SourceDimension,
	}
}
