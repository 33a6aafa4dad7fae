package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"parkledger/internal/allocator"
	"parkledger/internal/domain"
	"parkledger/internal/events"
	"parkledger/internal/index"
	"parkledger/internal/metrics"
	"parkledger/internal/models"

	"github.com/rs/zerolog"
)

// BookingLedger is the authoritative record of bookings. It keeps the
// conflict index and the store in step: a booking made through the ledger
// enters the index exactly when it is persisted as active. Other processes
// sharing the store are caught up by reloading a lot before it is reported
// full, listed, or queried for availability.
type BookingLedger struct {
	repo      domain.Repository
	index     *index.Index
	allocator *allocator.Allocator
	pricer    domain.Pricer
	eventBus  domain.EventPublisher
	locker    domain.Locker
	strategy  string
	logger    *zerolog.Logger
	now       func() time.Time
}

type LedgerOption func(*BookingLedger)

// WithLotLock serializes allocation per lot through locker.
func WithLotLock(locker domain.Locker) LedgerOption {
	return func(l *BookingLedger) {
		l.locker = locker
		l.strategy = models.StrategyLotLock
	}
}

func WithClock(now func() time.Time) LedgerOption {
	return func(l *BookingLedger) { l.now = now }
}

func NewBookingLedger(repo domain.Repository, idx *index.Index, pricer domain.Pricer, eventBus domain.EventPublisher, logger *zerolog.Logger, opts ...LedgerOption) *BookingLedger {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := &BookingLedger{
		repo:      repo,
		index:     idx,
		allocator: allocator.New(idx),
		pricer:    pricer,
		eventBus:  eventBus,
		strategy:  models.StrategyOptimistic,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *BookingLedger) Strategy() string {
	return l.strategy
}

// LoadIndex rebuilds the conflict index from the persisted active bookings.
// It must run before the ledger serves requests.
func (l *BookingLedger) LoadIndex(ctx context.Context) error {
	active, err := l.repo.ListActiveBookings(ctx)
	if err != nil {
		return fmt.Errorf("load active bookings: %w", err)
	}
	if err := l.index.Reset(active); err != nil {
		return err
	}
	metrics.SetActiveBookings(len(active))
	l.logger.Info().Int("active", len(active)).Msg("conflict index rebuilt")
	return nil
}

// AllocateAndBook books the first free spot of the lot for [entry, exit).
func (l *BookingLedger) AllocateAndBook(ctx context.Context, lotID int64, requesterID, vehicleRef string, entry, exit time.Time) (*models.Booking, error) {
	iv := models.NewInterval(entry, exit)
	if err := validateRequest(requesterID, iv); err != nil {
		metrics.IncBooking("invalid")
		return nil, err
	}

	lot, err := l.repo.GetLot(ctx, lotID)
	if err != nil {
		metrics.IncBooking("error")
		return nil, err
	}
	return l.Book(ctx, lot, requesterID, vehicleRef, iv)
}

// Book allocates a spot of lot and commits the booking. On a lost race for a
// spot it moves to the next candidate. When every spot looks taken the lot
// is reloaded from the store once, since other processes may have freed
// spots; if it is still full Book fails with domain.ErrNoAvailability.
func (l *BookingLedger) Book(ctx context.Context, lot *models.Lot, requesterID, vehicleRef string, iv models.Interval) (*models.Booking, error) {
	start := l.now()
	defer func() { metrics.ObserveAllocation(time.Since(start)) }()

	if err := validateRequest(requesterID, iv); err != nil {
		metrics.IncBooking("invalid")
		return nil, err
	}
	if lot == nil {
		metrics.IncBooking("invalid")
		return nil, fmt.Errorf("%w: lot is required", domain.ErrValidation)
	}

	if l.strategy == models.StrategyLotLock && l.locker != nil {
		unlock, err := l.locker.Lock(ctx, lot.ID)
		if err != nil {
			metrics.IncBooking("lot_busy")
			return nil, err
		}
		defer unlock()
	}

	rate := lot.Rate()
	tried := make(map[int]bool)
	synced := false
	for {
		spot, err := l.allocator.AllocateExcluding(lot, iv, tried)
		if errors.Is(err, domain.ErrNoAvailability) && !synced {
			synced = true
			if err := l.syncLot(ctx, lot); err != nil {
				metrics.IncBooking("error")
				return nil, err
			}
			tried = make(map[int]bool)
			continue
		}
		if err != nil {
			if errors.Is(err, domain.ErrNoAvailability) {
				metrics.IncBooking("no_availability")
			} else {
				metrics.IncBooking("invalid")
			}
			return nil, err
		}
		tried[spot.Number] = true

		booking := &models.Booking{
			LotID:       lot.ID,
			SpotNumber:  spot.Number,
			RequesterID: requesterID,
			VehicleRef:  vehicleRef,
			EntryTime:   iv.Start,
			ExitTime:    iv.End,
			HourlyRate:  rate,
			TotalCost:   l.pricer.Price(iv, rate),
			Status:      models.StatusActive,
		}

		err = l.index.InsertWith(spot, iv, func() (int64, error) {
			if err := l.repo.CreateBookingWithLock(ctx, booking); err != nil {
				return 0, err
			}
			return booking.ID, nil
		})
		switch {
		case err == nil:
			metrics.IncBooking("success")
			metrics.AddActiveBookings(1)
			l.logger.Info().
				Int64("booking_id", booking.ID).
				Int64("lot_id", lot.ID).
				Int("spot", spot.Number).
				Str("requester", requesterID).
				Str("cost", booking.TotalCost.String()).
				Msg("booking created")
			l.publishEvent(events.EventBookingCreated, booking, requesterID)
			return booking, nil
		case errors.Is(err, domain.ErrConflict):
			metrics.IncConflict()
			l.logger.Debug().Err(err).Int64("lot_id", lot.ID).Int("spot", spot.Number).Msg("spot taken concurrently, trying next")
		default:
			metrics.IncBooking("error")
			l.logger.Error().Err(err).Int64("lot_id", lot.ID).Int("spot", spot.Number).Msg("failed to persist booking")
			return nil, err
		}
	}
}

// ReleaseBooking marks the booking used and frees its interval.
func (l *BookingLedger) ReleaseBooking(ctx context.Context, bookingID int64, requesterID string) error {
	return l.Release(ctx, bookingID, requesterID)
}

// CancelBooking marks the booking never used and frees its interval.
func (l *BookingLedger) CancelBooking(ctx context.Context, bookingID int64, requesterID string) error {
	return l.Cancel(ctx, bookingID, requesterID)
}

func (l *BookingLedger) Release(ctx context.Context, bookingID int64, requesterID string) error {
	_, err := l.finish(ctx, bookingID, requesterID, models.StatusCompleted, events.EventBookingCompleted)
	return err
}

func (l *BookingLedger) Cancel(ctx context.Context, bookingID int64, requesterID string) error {
	_, err := l.finish(ctx, bookingID, requesterID, models.StatusCancelled, events.EventBookingCancelled)
	return err
}

// finish moves an active booking to status. Ownership and state are checked
// before anything is mutated.
func (l *BookingLedger) finish(ctx context.Context, bookingID int64, requesterID, status, eventType string) (*models.Booking, error) {
	booking, err := l.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.RequesterID != requesterID {
		return nil, fmt.Errorf("booking %d: %w", bookingID, domain.ErrUnauthorized)
	}
	if !booking.IsActive() {
		return nil, fmt.Errorf("booking %d is %s: %w", bookingID, booking.Status, domain.ErrInvalidState)
	}

	if err := l.transition(ctx, booking, status); err != nil {
		return nil, err
	}

	metrics.IncRelease(status)
	l.logger.Info().Int64("booking_id", bookingID).Str("status", status).Msg("booking finished")
	l.publishEvent(eventType, booking, requesterID)
	return booking, nil
}

// transition removes the booking's interval and persists the new status as
// one step under the spot lock.
func (l *BookingLedger) transition(ctx context.Context, booking *models.Booking, status string) error {
	commit := func() error {
		return l.repo.UpdateBookingStatusWithVersion(ctx, booking.ID, booking.Version, status)
	}

	err := l.index.RemoveWith(booking.Spot(), booking.Interval(), commit)
	if errors.Is(err, domain.ErrNotFound) {
		// The interval is already gone: a concurrent finish won, or the booking
		// was made by another process. The version check decides which.
		l.logger.Debug().Int64("booking_id", booking.ID).Msg("active booking missing from index")
		err = commit()
	}
	if errors.Is(err, domain.ErrConcurrentModification) {
		return fmt.Errorf("booking %d: %w", booking.ID, domain.ErrInvalidState)
	}
	if err != nil {
		return err
	}

	metrics.AddActiveBookings(-1)
	booking.Status = status
	booking.Version++
	booking.UpdatedAt = l.now().UTC()
	return nil
}

// ExpireDue completes every active booking whose exit time is at or before
// now and returns how many were completed.
func (l *BookingLedger) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	due, err := l.repo.ListExpiredBookings(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, booking := range due {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		err := l.transition(ctx, booking, models.StatusCompleted)
		if errors.Is(err, domain.ErrInvalidState) {
			continue
		}
		if err != nil {
			l.logger.Error().Err(err).Int64("booking_id", booking.ID).Msg("failed to expire booking")
			continue
		}
		expired++
		metrics.IncRelease(models.StatusCompleted)
		l.publishEvent(events.EventBookingExpired, booking, "sweeper")
	}
	return expired, nil
}

// syncLot reloads the lot's active intervals from the store, dropping ones
// released elsewhere and picking up ones booked elsewhere.
func (l *BookingLedger) syncLot(ctx context.Context, lot *models.Lot) error {
	err := l.index.ResetLot(lot.ID, lot.SpotNumbers(), func() ([]*models.Booking, error) {
		return l.repo.ListActiveLotBookings(ctx, lot.ID)
	})
	if err != nil {
		return fmt.Errorf("sync lot %d: %w", lot.ID, err)
	}
	l.logger.Debug().Int64("lot_id", lot.ID).Msg("lot intervals reloaded from store")
	return nil
}

// ListActiveIntervalsForLot returns the lot's booked intervals ordered by
// spot number then start, as currently committed to the store.
func (l *BookingLedger) ListActiveIntervalsForLot(ctx context.Context, lotID int64) ([]models.SpotInterval, error) {
	lot, err := l.repo.GetLot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if err := l.syncLot(ctx, lot); err != nil {
		return nil, err
	}

	out := make([]models.SpotInterval, 0)
	for _, n := range lot.SpotNumbers() {
		out = append(out, l.index.Intervals(models.SpotID{LotID: lot.ID, Number: n})...)
	}
	return out, nil
}

func (l *BookingLedger) Availability(ctx context.Context, lotID int64, iv models.Interval) (*models.Availability, error) {
	if err := iv.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	lot, err := l.repo.GetLot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if err := l.syncLot(ctx, lot); err != nil {
		return nil, err
	}
	free, err := l.allocator.FreeSpots(lot, iv)
	if err != nil {
		return nil, err
	}
	return &models.Availability{
		LotID:       lot.ID,
		Interval:    iv,
		TotalSpots:  len(lot.SpotNumbers()),
		FreeSpots:   len(free),
		FreeNumbers: free,
	}, nil
}

func (l *BookingLedger) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return l.repo.GetBooking(ctx, id)
}

func (l *BookingLedger) GetUserBookings(ctx context.Context, requesterID string) ([]*models.Booking, error) {
	if strings.TrimSpace(requesterID) == "" {
		return nil, fmt.Errorf("%w: requester is required", domain.ErrValidation)
	}
	return l.repo.GetUserBookings(ctx, requesterID)
}

func (l *BookingLedger) GetLotBookings(ctx context.Context, lotID int64) ([]*models.Booking, error) {
	if _, err := l.repo.GetLot(ctx, lotID); err != nil {
		return nil, err
	}
	bookings, err := l.repo.GetLotBookings(ctx, lotID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(bookings, func(i, j int) bool {
		if bookings[i].SpotNumber != bookings[j].SpotNumber {
			return bookings[i].SpotNumber < bookings[j].SpotNumber
		}
		return bookings[i].EntryTime.Before(bookings[j].EntryTime)
	})
	return bookings, nil
}

func (l *BookingLedger) publishEvent(eventType string, booking *models.Booking, changedBy string) {
	if l.eventBus == nil {
		return
	}

	if err := l.eventBus.PublishJSON(eventType, events.NewBookingPayload(booking, changedBy)); err != nil {
		l.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}

func validateRequest(requesterID string, iv models.Interval) error {
	if strings.TrimSpace(requesterID) == "" {
		return fmt.Errorf("%w: requester is required", domain.ErrValidation)
	}
	if err := iv.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}
