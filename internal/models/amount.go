package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a money value in hundredths of the currency unit.
type Amount int64

// AmountFromDecimal converts a value such as 20.5 to an Amount, rounding
// half away from zero to the nearest hundredth.
func AmountFromDecimal(d decimal.Decimal) Amount {
	return Amount(d.Round(2).Shift(2).IntPart())
}

func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

func (a Amount) Float64() float64 {
	return float64(a) / 100
}

func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON writes the amount as a JSON number with two decimals.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", s, err)
	}
	*a = AmountFromDecimal(d)
	return nil
}
