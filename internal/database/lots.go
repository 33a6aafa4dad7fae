package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"parkledger/internal/domain"
	"parkledger/internal/models"

	"github.com/shopspring/decimal"
)

// UpsertLot creates the lot (assigning an id when zero) or updates its
// details, and reconciles its spots. A spot that still holds an active
// booking cannot be removed.
func (db *DB) UpsertLot(ctx context.Context, lot *models.Lot) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	if lot.ID == 0 {
		result, err := tx.ExecContext(ctx,
			`INSERT INTO lots (name, address, pincode, price_per_hour, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			lot.Name, lot.Address, lot.Pincode, lot.PricePerHour.String(), now, now)
		if err != nil {
			return fmt.Errorf("failed to insert lot: %w", err)
		}
		if lot.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		lot.CreatedAt = now
	} else {
		_, err = tx.ExecContext(ctx, `INSERT INTO lots (id, name, address, pincode, price_per_hour, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO UPDATE SET
                name = excluded.name,
                address = excluded.address,
                pincode = excluded.pincode,
                price_per_hour = excluded.price_per_hour,
                updated_at = excluded.updated_at`,
			lot.ID, lot.Name, lot.Address, lot.Pincode, lot.PricePerHour.String(), now, now)
		if err != nil {
			return fmt.Errorf("failed to upsert lot: %w", err)
		}
	}
	lot.UpdatedAt = now

	if err := syncSpots(ctx, tx, lot.ID, lot.SpotNumbers()); err != nil {
		return err
	}
	return tx.Commit()
}

func syncSpots(ctx context.Context, tx *sql.Tx, lotID int64, numbers []int) error {
	existing, err := spotNumbers(ctx, tx, lotID)
	if err != nil {
		return err
	}

	wanted := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		wanted[n] = true
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO spots (lot_id, spot_number) VALUES (?, ?)`, lotID, n); err != nil {
			return fmt.Errorf("failed to insert spot %d: %w", n, err)
		}
	}

	for _, n := range existing {
		if wanted[n] {
			continue
		}
		var active int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM bookings WHERE lot_id = ? AND spot_number = ? AND status = ?`,
			lotID, n, models.StatusActive).Scan(&active)
		if err != nil {
			return fmt.Errorf("failed to check spot %d: %w", n, err)
		}
		if active > 0 {
			return fmt.Errorf("spot %d/%d: %w", lotID, n, domain.ErrLotInUse)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM spots WHERE lot_id = ? AND spot_number = ?`, lotID, n); err != nil {
			return fmt.Errorf("failed to delete spot %d: %w", n, err)
		}
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func spotNumbers(ctx context.Context, q querier, lotID int64) ([]int, error) {
	rows, err := q.QueryContext(ctx, `SELECT spot_number FROM spots WHERE lot_id = ? ORDER BY spot_number`, lotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list spots: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan spot: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

const lotColumns = `id, name, address, pincode, price_per_hour, created_at, updated_at`

func scanLot(row rowScanner) (*models.Lot, error) {
	var l models.Lot
	err := row.Scan(&l.ID, &l.Name, &l.Address, &l.Pincode, &l.PricePerHour, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (db *DB) GetLot(ctx context.Context, id int64) (*models.Lot, error) {
	lot, err := scanLot(db.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lot %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lot: %w", err)
	}

	if lot.Spots, err = spotNumbers(ctx, db, id); err != nil {
		return nil, err
	}
	lot.Capacity = len(lot.Spots)
	return lot, nil
}

func (db *DB) ListLots(ctx context.Context) ([]*models.Lot, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+lotColumns+` FROM lots ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list lots: %w", err)
	}
	defer rows.Close()

	var lots []*models.Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, lot := range lots {
		if lot.Spots, err = spotNumbers(ctx, db, lot.ID); err != nil {
			return nil, err
		}
		lot.Capacity = len(lot.Spots)
	}
	return lots, nil
}

// UpdateLotRate changes the hourly rate for future bookings only; existing
// bookings keep the rate and cost they were created with.
func (db *DB) UpdateLotRate(ctx context.Context, id int64, pricePerHour decimal.Decimal) error {
	result, err := db.ExecContext(ctx, `UPDATE lots SET price_per_hour = ?, updated_at = ? WHERE id = ?`,
		pricePerHour.String(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update lot rate: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("lot %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// DeleteLot removes a lot and its spots unless any spot holds an active booking.
func (db *DB) DeleteLot(ctx context.Context, id int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	active, err := countActiveLotBookings(ctx, tx, id)
	if err != nil {
		return err
	}
	if active > 0 {
		return fmt.Errorf("lot %d: %w", id, domain.ErrLotInUse)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM spots WHERE lot_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete spots: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM lots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete lot: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("lot %d: %w", id, domain.ErrNotFound)
	}
	return tx.Commit()
}
