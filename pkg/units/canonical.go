// Package units provides canonical unit types and display formatting.
package units

import "github.com/shopspring/decimal"

// Unit represents a measurable quantity.
type Unit string

const (
	// Time units
	UnitSeconds Unit = "s"

	// Money units
	UnitUSD Unit = "USD"
)

// FormatLatency renders a seconds magnitude as "12s" / "1.5s".
func FormatLatency(seconds decimal.Decimal) string {
	return seconds.Round(1).String() + "s"
}

// FormatCost renders a USD magnitude as "$0.45".
func FormatCost(usd decimal.Decimal) string {
	return "$" + usd.StringFixed(2)
}
