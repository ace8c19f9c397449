package ingest

import (
	"math"
	"time"

	"github.com/sitelens/insights-middleware/pkg/integration"
	"github.com/sitelens/insights-middleware/pkg/provider"
	"github.com/sitelens/insights-middleware/pkg/quality"
)

// compactDateLayout is the date format providers report, YYYYMMDD.
const compactDateLayout = "20060102"

// transform converts provider rows into daily metric records for integ.
// Rows whose date does not parse are dropped and counted; everything else is
// kept, including zero-session rows. Bounce rate arrives as a 0..1 fraction
// and is stored as a percentage.
func transform(integ *integration.Integration, rows []provider.Row) (records []*integration.DailyMetric, skipped int) {
	for _, row := range rows {
		if len(row.Dimensions) < provider.DimCount || len(row.Metrics) < provider.MetCount {
			skipped++
			continue
		}

		date, err := time.Parse(compactDateLayout, row.Dimensions[provider.DimDate])
		if err != nil {
			skipped++
			continue
		}

		bouncePercent := row.Metrics[provider.MetBounceRate] * 100
		avgDuration := row.Metrics[provider.MetAvgSessionDuration]
		pages := row.Metrics[provider.MetPagesPerSession]
		sessions := roundCount(row.Metrics[provider.MetSessions])
		conversions := roundCount(row.Metrics[provider.MetConversions])

		records = append(records, &integration.DailyMetric{
			IntegrationID:      integ.ID,
			UserID:             integ.UserID,
			RemoteAccountID:    integ.RemoteAccountID,
			Date:               date,
			ChannelGroup:       row.Dimensions[provider.DimChannelGroup],
			SourceDimension:    row.Dimensions[provider.DimSourceMedium],
			Sessions:           sessions,
			Users:              roundCount(row.Metrics[provider.MetUsers]),
			BounceRate:         bouncePercent,
			AvgSessionDuration: avgDuration,
			PagesPerSession:    pages,
			Conversions:        conversions,
			QualityScore:       quality.Score(avgDuration, bouncePercent, pages, conversions, sessions),
		})
	}
	return records, skipped
}

func roundCount(v float64) int64 {
	return int64(math.Round(v))
}
