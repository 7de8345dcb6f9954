package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned for amounts that are not decimal numbers.
	ErrInvalidAmount = errors.New("money: invalid amount")
	// ErrNegativeAmount is returned for amounts below zero.
	ErrNegativeAmount = errors.New("money: negative amount")
	// ErrMissingCurrency is returned when no currency code is supplied.
	ErrMissingCurrency = errors.New("money: missing currency")
)

// Money is a decimal amount in a named currency (fiat ISO code or crypto ticker).
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// Parse builds Money from gateway strings such as ("5.00", "usd").
func Parse(amount, currency string) (Money, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return Money{}, ErrMissingCurrency
	}
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if d.IsNegative() {
		return Money{}, fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}
	return Money{Amount: d, Currency: currency}, nil
}

// MustParse is Parse for constants; it panics on error.
func MustParse(amount, currency string) Money {
	m, err := Parse(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// FromMinor converts an amount in minor units (cents) to Money.
func FromMinor(minor int64, currency string) Money {
	return Money{
		Amount:   decimal.New(minor, -2),
		Currency: strings.ToUpper(currency),
	}
}

// Minor returns the amount in minor units, rounded half away from zero.
func (m Money) Minor() int64 {
	return m.Amount.Shift(2).Round(0).IntPart()
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// Equal compares amount and currency.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// Decimal renders the amount with two decimal places.
func (m Money) Decimal() string {
	return m.Amount.StringFixed(2)
}

// String renders "5.00 USD".
func (m Money) String() string {
	if m.Currency == "" {
		return m.Decimal()
	}
	return m.Decimal() + " " + m.Currency
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON encodes Money as {"amount":"5.00","currency":"USD"}.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.Decimal(), Currency: m.Currency})
}

// UnmarshalJSON decodes the MarshalJSON form.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := Parse(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
