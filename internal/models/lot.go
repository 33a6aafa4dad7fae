package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Lot is a parking facility with a single hourly rate.
type Lot struct {
	ID           int64     `yaml:"id" json:"id"`
	Name         string    `yaml:"name" json:"name"`
	Address      string    `yaml:"address" json:"address"`
	Pincode      string    `yaml:"pincode" json:"pincode"`
	PricePerHour decimal.Decimal `yaml:"price_per_hour" json:"price_per_hour"`
	Capacity     int             `yaml:"capacity" json:"capacity"`
	Spots        []int           `yaml:"spots" json:"spots"`
	CreatedAt    time.Time       `yaml:"-" json:"created_at"`
	UpdatedAt    time.Time       `yaml:"-" json:"updated_at"`
}

// Rate returns the hourly rate exactly as configured. Costs are rounded
// once, when the rate is applied to a duration.
func (l *Lot) Rate() decimal.Decimal {
	return l.PricePerHour
}

// SpotNumbers returns the lot's spot numbers in ascending order. A lot
// declared only by capacity gets spots 1..capacity.
func (l *Lot) SpotNumbers() []int {
	if len(l.Spots) == 0 {
		out := make([]int, 0, l.Capacity)
		for n := 1; n <= l.Capacity; n++ {
			out = append(out, n)
		}
		return out
	}
	out := append([]int(nil), l.Spots...)
	sort.Ints(out)
	return out
}

// SpotID identifies one spot within a lot.
type SpotID struct {
	LotID  int64 `json:"lot_id"`
	Number int   `json:"spot_number"`
}

// SpotInterval is one booked interval on one spot.
type SpotInterval struct {
	Spot      SpotID   `json:"spot"`
	BookingID int64    `json:"booking_id"`
	Interval  Interval `json:"interval"`
}

// Availability summarises free spots of a lot for a requested interval.
type Availability struct {
	LotID       int64    `json:"lot_id"`
	Interval    Interval `json:"interval"`
	TotalSpots  int      `json:"total_spots"`
	FreeSpots   int      `json:"free_spots"`
	FreeNumbers []int    `json:"free_spot_numbers"`
}
