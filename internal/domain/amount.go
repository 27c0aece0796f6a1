package domain

import (
	"errors"
	"regexp"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when an amount carries no currency prefix.
const DefaultCurrency = "USD"

// ErrInvalidAmount is returned when an amount string does not match the
// accepted format.
var ErrInvalidAmount = errors.New("amount must look like $100 or RON500.00")

// amountPattern accepts an optional 1-3 rune currency prefix (letters or a
// currency symbol), an integer part, and an optional 1-2 digit fraction.
var amountPattern = regexp.MustCompile(`^([A-Za-z$€£¥]{1,3})?(\d+(?:\.\d{1,2})?)$`)

// Amount is a parsed order amount.
type Amount struct {
	Currency string
	Value    decimal.Decimal
}

// Float64 returns the value as a float, as sent to the payment provider.
func (a Amount) Float64() float64 {
	return a.Value.InexactFloat64()
}

// String formats the amount back into its canonical string form.
func (a Amount) String() string {
	return a.Currency + a.Value.StringFixed(2)
}

// ParseAmount splits an amount string into its currency and numeric value.
func ParseAmount(s string) (Amount, error) {
	m := amountPattern.FindStringSubmatch(s)
	if m == nil {
		return Amount{}, ErrInvalidAmount
	}

	value, err := decimal.NewFromString(m[2])
	if err != nil {
		return Amount{}, ErrInvalidAmount
	}

	currency := m[1]
	if currency == "" {
		currency = DefaultCurrency
	}

	return Amount{Currency: currency, Value: value}, nil
}

// ValidAmount reports whether s is an acceptable amount string.
func ValidAmount(s string) bool {
	return amountPattern.MatchString(s)
}
