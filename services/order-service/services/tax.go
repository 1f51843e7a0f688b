package services

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultTaxRate is the Ontario HST.
var DefaultTaxRate = decimal.RequireFromString("0.14")

// ParseTaxRate reads a rate such as "0.14". Negative rates are rejected.
func ParseTaxRate(s string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid tax rate %q: %w", s, err)
	}
	if rate.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid tax rate %q: must not be negative", s)
	}
	return rate, nil
}

// TaxCents returns floor(base * rate) in cents.
func TaxCents(baseCents int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(baseCents).Mul(rate).Floor().IntPart()
}

// WithTax returns base + floor(base * rate).
func WithTax(baseCents int64, rate decimal.Decimal) int64 {
	return baseCents + TaxCents(baseCents, rate)
}
