package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"parkledger/internal/domain"
	"parkledger/internal/models"
)

const bookingColumns = `id, lot_id, spot_number, requester_id, vehicle_ref, entry_ns, exit_ns,
	hourly_rate, total_cost, status, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var entryNs, exitNs, cost int64
	err := row.Scan(
		&b.ID, &b.LotID, &b.SpotNumber, &b.RequesterID, &b.VehicleRef, &entryNs, &exitNs,
		&b.HourlyRate, &cost, &b.Status, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.EntryTime = time.Unix(0, entryNs).UTC()
	b.ExitTime = time.Unix(0, exitNs).UTC()
	b.TotalCost = models.Amount(cost)
	return &b, nil
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...any) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// CreateBookingWithLock inserts an active booking inside one transaction
// that first re-checks the spot for overlapping active bookings. Either the
// booking is committed conflict-free or nothing is written.
func (db *DB) CreateBookingWithLock(ctx context.Context, booking *models.Booking) error {
	if err := booking.Interval().Validate(); err != nil {
		return fmt.Errorf("booking %s: %w: %v", booking.Interval(), domain.ErrValidation, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM spots WHERE lot_id = ? AND spot_number = ?`,
		booking.LotID, booking.SpotNumber).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check spot in tx: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("spot %d/%d: %w", booking.LotID, booking.SpotNumber, domain.ErrNotFound)
	}

	var overlapping int
	queryOverlap := `SELECT COUNT(*) FROM bookings
              WHERE lot_id = ? AND spot_number = ? AND status = ? AND entry_ns < ? AND exit_ns > ?`
	err = tx.QueryRowContext(ctx, queryOverlap, booking.LotID, booking.SpotNumber, models.StatusActive,
		booking.ExitTime.UnixNano(), booking.EntryTime.UnixNano()).Scan(&overlapping)
	if err != nil {
		return fmt.Errorf("failed to check overlap in tx: %w", err)
	}
	if overlapping > 0 {
		return fmt.Errorf("spot %d/%d: %w", booking.LotID, booking.SpotNumber, domain.ErrConflict)
	}

	queryInsert := `INSERT INTO bookings (
				lot_id, spot_number, requester_id, vehicle_ref, entry_ns, exit_ns,
				hourly_rate, total_cost, status, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	if booking.Status == "" {
		booking.Status = models.StatusActive
	}
	result, err := tx.ExecContext(ctx, queryInsert,
		booking.LotID,
		booking.SpotNumber,
		booking.RequesterID,
		booking.VehicleRef,
		booking.EntryTime.UnixNano(),
		booking.ExitTime.UnixNano(),
		booking.HourlyRate.String(),
		int64(booking.TotalCost),
		booking.Status,
		now,
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking in tx: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}

	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// UpdateBookingStatusWithVersion moves an active booking to status if it is
// still at fromVersion.
func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id, fromVersion int64, status string) error {
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND version = ? AND status = ?`
	result, err := db.ExecContext(ctx, query, status, time.Now().UTC(), id, fromVersion, models.StatusActive)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrConcurrentModification
	}
	return nil
}

func (db *DB) ListActiveBookings(ctx context.Context) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE status = ? ORDER BY lot_id, spot_number, entry_ns`
	bookings, err := db.queryBookings(ctx, query, models.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active bookings: %w", err)
	}
	return bookings, nil
}

// ListExpiredBookings returns active bookings whose exit time is at or before now.
func (db *DB) ListExpiredBookings(ctx context.Context, now time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE status = ? AND exit_ns <= ? ORDER BY exit_ns`
	bookings, err := db.queryBookings(ctx, query, models.StatusActive, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to list expired bookings: %w", err)
	}
	return bookings, nil
}

func (db *DB) GetUserBookings(ctx context.Context, requesterID string) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE requester_id = ? ORDER BY created_at DESC, id DESC`
	bookings, err := db.queryBookings(ctx, query, requesterID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user bookings: %w", err)
	}
	return bookings, nil
}

func (db *DB) GetLotBookings(ctx context.Context, lotID int64) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE lot_id = ? ORDER BY spot_number, entry_ns`
	bookings, err := db.queryBookings(ctx, query, lotID)
	if err != nil {
		return nil, fmt.Errorf("failed to get lot bookings: %w", err)
	}
	return bookings, nil
}

// ListActiveLotBookings returns the lot's active bookings ordered by spot then entry.
func (db *DB) ListActiveLotBookings(ctx context.Context, lotID int64) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE lot_id = ? AND status = ? ORDER BY spot_number, entry_ns`
	bookings, err := db.queryBookings(ctx, query, lotID, models.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active lot bookings: %w", err)
	}
	return bookings, nil
}

func (db *DB) CountActiveLotBookings(ctx context.Context, lotID int64) (int, error) {
	return countActiveLotBookings(ctx, db.DB, lotID)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// countActiveLotBookings runs against the pool or inside a transaction.
func countActiveLotBookings(ctx context.Context, q rowQuerier, lotID int64) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE lot_id = ? AND status = ?`,
		lotID, models.StatusActive).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active bookings: %w", err)
	}
	return count, nil
}
