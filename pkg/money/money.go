// Package money converts between decimal amounts, integer minor units and
// display strings using ISO-4217 currency data from go-money.
package money

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	ZAR = "ZAR" // South African Rand
	USD = "USD" // US Dollar
	EUR = "EUR" // Euro
	GBP = "GBP" // British Pound
	JPY = "JPY" // Japanese Yen (no decimal places)
)

// DefaultCurrency is used when a statement does not name its currency.
const DefaultCurrency = ZAR

// currency resolves a code, falling back to DefaultCurrency for unknown codes.
func currency(code string) *money.Currency {
	if c := money.GetCurrency(strings.ToUpper(strings.TrimSpace(code))); c != nil {
		return c
	}
	return money.GetCurrency(DefaultCurrency)
}

// Known reports whether code is an ISO-4217 currency go-money knows.
func Known(code string) bool {
	return money.GetCurrency(strings.ToUpper(strings.TrimSpace(code))) != nil
}

// ToMinor converts a decimal amount to minor units, rounding half away from zero.
func ToMinor(amount decimal.Decimal, code string) int64 {
	return amount.Shift(int32(currency(code).Fraction)).Round(0).IntPart()
}

// FromMinor converts minor units back to a decimal amount.
func FromMinor(minor int64, code string) decimal.Decimal {
	return decimal.New(minor, -int32(currency(code).Fraction))
}

// New wraps a decimal amount as a go-money value.
func New(amount decimal.Decimal, code string) *money.Money {
	c := currency(code)
	return money.New(ToMinor(amount, c.Code), c.Code)
}

// Format renders an amount for display, e.g. "R 1,234.56".
func Format(amount decimal.Decimal, code string) string {
	return New(amount, code).Display()
}
