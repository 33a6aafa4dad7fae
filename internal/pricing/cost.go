// Package pricing turns a booked interval into a cost.
package pricing

import (
	"fmt"
	"math"
	"time"

	"parkledger/internal/models"

	"github.com/shopspring/decimal"
)

var nanosPerHour = decimal.NewFromInt(int64(time.Hour))

// Model prices intervals at an hourly rate. The zero value bills the exact
// duration with half-up rounding to the hundredth.
type Model struct {
	MinimumHours float64
	Rounding     string
}

func NewModel(minimumHours float64, rounding string) (*Model, error) {
	if minimumHours < 0 || math.IsNaN(minimumHours) || math.IsInf(minimumHours, 0) {
		return nil, fmt.Errorf("invalid minimum hours: %v", minimumHours)
	}
	switch rounding {
	case "", models.RoundingHalfUp, models.RoundingTruncate:
	default:
		return nil, fmt.Errorf("unknown rounding mode %q", rounding)
	}
	return &Model{MinimumHours: minimumHours, Rounding: rounding}, nil
}

// Price returns durationHours * hourlyRate rounded once to the hundredth.
// The interval must already be valid; the minimum billable duration applies
// before multiplication.
func (m *Model) Price(iv models.Interval, hourlyRate decimal.Decimal) models.Amount {
	billed := iv.Duration()
	if m != nil && m.MinimumHours > 0 {
		if floor := time.Duration(math.Round(m.MinimumHours * float64(time.Hour))); billed < floor {
			billed = floor
		}
	}

	num := hourlyRate.Mul(decimal.NewFromInt(int64(billed)))
	var cost decimal.Decimal
	if m != nil && m.Rounding == models.RoundingTruncate {
		cost, _ = num.QuoRem(nanosPerHour, 2)
	} else {
		cost = num.DivRound(nanosPerHour, 2)
	}
	return models.Amount(cost.Shift(2).IntPart())
}
