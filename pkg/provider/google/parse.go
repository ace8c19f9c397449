package google

import (
	"github.com/shopspring/decimal"
)

// parseMetric converts a provider-reported numeric string to float64. The
// reporting APIs return all metrics as decimal strings; going through
// decimal keeps values like cost micros exact before the final conversion.
// Unparseable values count as zero rather than failing the whole row.
func parseMetric(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// microsToUnits converts a micro-denominated amount to whole currency units.
func microsToUnits(micros string) float64 {
	d, err := decimal.NewFromString(micros)
	if err != nil {
		return 0
	}
	f, _ := d.Div(decimal.NewFromInt(1_000_000)).Float64()
	return f
}
