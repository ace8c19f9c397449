// Package quality computes the 0-100 engagement score used to rank traffic
// sources. The function is pure: the ingestion pipeline and query-time
// ranking must produce identical scores for identical inputs.
package quality

import "math"

// Weights and saturation points of the score components.
const (
	maxDurationSeconds = 600 // 10 minutes saturates the duration component
	maxPagesPerSession = 10
	durationWeight     = 0.3
	bounceWeight       = 0.3
	pagesWeight        = 0.2
	conversionWeight   = 0.2
)

// Score converts raw engagement signals into an integer in [0, 100].
//
// A 10% conversion rate saturates the conversion component.
func Score(avgDurationSeconds, bounceRatePercent, pagesPerSession float64, conversions, sessions int64) int {
	durationScore := math.Min(avgDurationSeconds/maxDurationSeconds, 1) * 100
	bounceScore := math.Max(0, 100-bounceRatePercent)
	pagesScore := math.Min(pagesPerSession/maxPagesPerSession, 1) * 100

	var conversionRate float64
	if sessions > 0 {
		conversionRate = float64(conversions) / float64(sessions) * 100
	}
	conversionScore := math.Min(conversionRate*10, 100)

	score := durationScore*durationWeight +
		bounceScore*bounceWeight +
		pagesScore*pagesWeight +
		conversionScore*conversionWeight

	return int(math.Round(score))
}
