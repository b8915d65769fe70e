package models

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an arbitrary-precision monetary amount. It serializes as a bare
// JSON number literal carrying the exact decimal digits from the source.
type Money struct {
	decimal.Decimal
}

// Zero is the zero amount
var Zero = Money{decimal.Zero}

// NewMoney parses a decimal string such as "1500.00"
func NewMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Money{d}, nil
}

// MustMoney is NewMoney that panics on bad input. Intended for fixtures.
func MustMoney(s string) Money {
	m, err := NewMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Plus returns m + o
func (m Money) Plus(o Money) Money {
	return Money{m.Decimal.Add(o.Decimal)}
}

// Same reports whether m and o are numerically equal
func (m Money) Same(o Money) bool {
	return m.Decimal.Equal(o.Decimal)
}

// MarshalJSON implements json.Marshaler. The scale of the parsed value is
// kept, so "1500.00" stays "1500.00".
func (m Money) MarshalJSON() ([]byte, error) {
	places := -m.Decimal.Exponent()
	if places < 0 {
		places = 0
	}
	return []byte(m.Decimal.StringFixed(places)), nil
}

// UnmarshalJSON accepts both number literals and quoted strings
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		m.Decimal = decimal.Zero
		return nil
	}
	data = bytes.Trim(data, `"`)
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", data, err)
	}
	m.Decimal = d
	return nil
}
