// Package money holds the immutable amount+currency value used by claims.
package money

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	IDR Currency = "IDR"
	USD Currency = "USD"
)

// ParseCurrency normalizes a currency code. It does not check membership
// in any configured set.
func ParseCurrency(s string) Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(s)))
}

// Money is compared by value; use Equal rather than ==, since two decimals
// with different exponents may represent the same amount.
type Money struct {
	Amount   decimal.Decimal
	Currency Currency
}

func New(amount decimal.Decimal, currency Currency) Money {
	return Money{Amount: amount, Currency: currency}
}

func FromInt(amount int64, currency Currency) Money {
	return Money{Amount: decimal.NewFromInt(amount), Currency: currency}
}

// Parse reads a decimal amount such as "150000" or "12.50".
func Parse(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("amount %q is not numeric: %w", amount, err)
	}
	return Money{Amount: d, Currency: currency}, nil
}

func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Amount.Equal(o.Amount)
}

func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

// LessThan compares amounts only; callers are responsible for currency.
func (m Money) LessThan(limit decimal.Decimal) bool {
	return m.Amount.LessThan(limit)
}

func (m Money) GreaterThan(limit decimal.Decimal) bool {
	return m.Amount.GreaterThan(limit)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.String(), m.Currency)
}

type wireMoney struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMoney{Amount: m.Amount, Currency: m.Currency})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var w wireMoney
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Amount = w.Amount
	m.Currency = w.Currency
	return nil
}
