// Package money holds the decimal helpers shared by weights and amounts.
// Every figure is a shopspring decimal; float64 never enters the ledger.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DisplayPlaces is the number of decimals used when rendering amounts and weights.
const DisplayPlaces = 3

var chakraSubUnits = decimal.NewFromInt(5)

// Round rounds to the display precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(DisplayPlaces)
}

// Format renders d with exactly three decimals.
func Format(d decimal.Decimal) string {
	return d.StringFixed(DisplayPlaces)
}

// FormatPtr renders a nullable amount; nil stays nil.
func FormatPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := Format(*d)
	return &s
}

func Ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// Or returns *d, or def when d is nil.
func Or(d *decimal.Decimal, def decimal.Decimal) decimal.Decimal {
	if d == nil {
		return def
	}
	return *d
}

// Sum adds all values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// ChakraUnits converts a count of chkara sub-units into units (5 sub-units = 1 unit).
// Division by 5 always terminates, so the result is exact.
func ChakraUnits(subUnits decimal.Decimal) decimal.Decimal {
	return subUnits.Div(chakraSubUnits)
}

// Parse reads a decimal from user input, rejecting empty strings.
func Parse(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	return d, nil
}
