// Package moneyutil implements the settlement amount arithmetic on
// exact decimals. The cent boundary is adjusted with a decimal ceil,
// never via floating-point rounding, so repeated settlements cannot
// drift by a cent.
package moneyutil

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCommissionPercent applies when the product owner carries no
// per payment system override.
const DefaultCommissionPercent = 8

var hundred = decimal.NewFromInt(100)

// ParseMinorUnits parses a provider amount given in minor units
// (kopecks) and converts it to major units.
func ParseMinorUnits(raw string) (decimal.Decimal, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromFloat(value).Div(hundred), nil
}

// SubtractCommission removes the platform commission from a gross
// amount. percent is given in whole percents (8 means 8%). When the
// commission is included in the price, the deduction is
// gross·p/(1+p); otherwise it is gross·p. The result is adjusted up
// to the cent boundary.
func SubtractCommission(gross decimal.Decimal, percent decimal.Decimal, inclusive bool) decimal.Decimal {
	p := percent.Div(hundred)
	var net decimal.Decimal
	if inclusive {
		net = gross.Sub(gross.Mul(p).Div(decimal.NewFromInt(1).Add(p)))
	} else {
		net = gross.Sub(gross.Mul(p))
	}
	return net.RoundCeil(2)
}

// SubtractRoyalty removes a flat per-order royalty from the
// commission-adjusted amount. The royalty field is free-form text in
// the order document; only an integral value counts, any other
// content leaves the amount untouched.
func SubtractRoyalty(net decimal.Decimal, royalty string) decimal.Decimal {
	value, err := strconv.ParseFloat(strings.TrimSpace(royalty), 64)
	if err != nil {
		return net
	}
	if value != float64(int64(value)) {
		return net
	}
	return net.Sub(decimal.NewFromFloat(value))
}
