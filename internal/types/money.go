// README: Common money value object used across modules.
package types

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "USD"

// Money is an exact decimal amount. Prices are compared with Equal, never with ==.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

func NewMoney(amount string, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{Amount: d.Round(2), Currency: currency}, nil
}

// MustMoney is NewMoney for literals in tests and fixtures.
func MustMoney(amount string) Money {
	m, err := NewMoney(amount, DefaultCurrency)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

func (m Money) Equal(o Money) bool {
	return m.Amount.Equal(o.Amount) && m.currency() == o.currency()
}

func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.currency()
}

func (m Money) currency() string {
	if m.Currency == "" {
		return DefaultCurrency
	}
	return m.Currency
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.Amount.StringFixed(2), Currency: m.currency()})
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, err := NewMoney(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
