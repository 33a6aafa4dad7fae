package domain

import (
	"context"
	"time"

	"parkledger/internal/models"

	"github.com/shopspring/decimal"
)

type BookingStore interface {
	// CreateBookingWithLock commits the booking only if no active booking on
	// the same spot overlaps it, otherwise it returns ErrConflict.
	CreateBookingWithLock(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	UpdateBookingStatusWithVersion(ctx context.Context, id, version int64, status string) error
	ListActiveBookings(ctx context.Context) ([]*models.Booking, error)
	ListExpiredBookings(ctx context.Context, now time.Time) ([]*models.Booking, error)
	GetUserBookings(ctx context.Context, requesterID string) ([]*models.Booking, error)
	GetLotBookings(ctx context.Context, lotID int64) ([]*models.Booking, error)
	ListActiveLotBookings(ctx context.Context, lotID int64) ([]*models.Booking, error)
	CountActiveLotBookings(ctx context.Context, lotID int64) (int, error)
}

type LotStore interface {
	UpsertLot(ctx context.Context, lot *models.Lot) error
	GetLot(ctx context.Context, id int64) (*models.Lot, error)
	ListLots(ctx context.Context) ([]*models.Lot, error)
	UpdateLotRate(ctx context.Context, id int64, pricePerHour decimal.Decimal) error
	DeleteLot(ctx context.Context, id int64) error
}

type Repository interface {
	BookingStore
	LotStore
}

// Locker provides a per-lot mutual exclusion scope.
type Locker interface {
	Lock(ctx context.Context, lotID int64) (unlock func(), err error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type Pricer interface {
	Price(iv models.Interval, hourlyRate decimal.Decimal) models.Amount
}

type BookingLedger interface {
	AllocateAndBook(ctx context.Context, lotID int64, requesterID, vehicleRef string, entry, exit time.Time) (*models.Booking, error)
	ReleaseBooking(ctx context.Context, bookingID int64, requesterID string) error
	CancelBooking(ctx context.Context, bookingID int64, requesterID string) error
	ListActiveIntervalsForLot(ctx context.Context, lotID int64) ([]models.SpotInterval, error)
	Availability(ctx context.Context, lotID int64, iv models.Interval) (*models.Availability, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetUserBookings(ctx context.Context, requesterID string) ([]*models.Booking, error)
	GetLotBookings(ctx context.Context, lotID int64) ([]*models.Booking, error)
}

type InventoryService interface {
	CreateLot(ctx context.Context, lot *models.Lot) error
	GetLot(ctx context.Context, id int64) (*models.Lot, error)
	ListLots(ctx context.Context) ([]*models.Lot, error)
	UpdateRate(ctx context.Context, id int64, pricePerHour decimal.Decimal) error
	DeleteLot(ctx context.Context, id int64) error
}
