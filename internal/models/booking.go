package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Booking struct {
	ID          int64           `json:"id"`
	LotID       int64           `json:"lot_id"`
	SpotNumber  int             `json:"spot_number"`
	RequesterID string          `json:"requester_id"`
	VehicleRef  string          `json:"vehicle_ref"`
	EntryTime   time.Time       `json:"entry_time"`
	ExitTime    time.Time       `json:"exit_time"`
	HourlyRate  decimal.Decimal `json:"hourly_rate"`
	TotalCost   Amount          `json:"total_cost"`
	Status      string          `json:"status"` // active, completed, cancelled
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int64           `json:"version"`
}

func (b *Booking) Interval() Interval {
	return Interval{Start: b.EntryTime, End: b.ExitTime}
}

func (b *Booking) Spot() SpotID {
	return SpotID{LotID: b.LotID, Number: b.SpotNumber}
}

func (b *Booking) IsActive() bool {
	return b.Status == StatusActive
}
