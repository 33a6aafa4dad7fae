package database

import (
	"context"
	"path/filepath"
	"testing"

	"parkledger/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "ledger.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedLot(t *testing.T, db *DB, id int64, capacity int, price int64) *models.Lot {
	t.Helper()
	lot := &models.Lot{ID: id, Name: "Lot", Address: "Main st", Pincode: "560001", PricePerHour: decimal.NewFromInt(price), Capacity: capacity}
	require.NoError(t, db.UpsertLot(context.Background(), lot))
	return lot
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, db.Path())
}

func TestNewDB_Memory(t *testing.T) {
	db, err := NewDB(":memory:", nil)
	require.NoError(t, err)
	defer db.Close()

	seedLot(t, db, 1, 1, 5)
	lots, err := db.ListLots(context.Background())
	require.NoError(t, err)
	assert.Len(t, lots, 1)
}

func TestDB_Ready(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.Ready(context.Background()))
}

func TestDB_ErrorPaths(t *testing.T) {
	db := setupTestDB(t)
	db.Close()
	ctx := context.Background()

	_, err := db.GetBooking(ctx, 1)
	assert.Error(t, err)
	_, err = db.ListActiveBookings(ctx)
	assert.Error(t, err)
	assert.Error(t, db.CreateBookingWithLock(ctx, &models.Booking{}))
	assert.Error(t, db.UpsertLot(ctx, &models.Lot{Name: "x"}))
	assert.Error(t, db.Ready(ctx))
}
