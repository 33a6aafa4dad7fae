package service

import (
	"context"
	"testing"

	"parkledger/internal/domain"
	"parkledger/internal/index"
	"parkledger/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLotService_Validation(t *testing.T) {
	svc := NewLotService(new(mockRepo), index.New(), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		lot  *models.Lot
	}{
		{name: "nil", lot: nil},
		{name: "no name", lot: &models.Lot{Capacity: 1}},
		{name: "negative rate", lot: &models.Lot{Name: "A", PricePerHour: decimal.NewFromInt(-1), Capacity: 1}},
		{name: "no spots", lot: &models.Lot{Name: "A"}},
		{name: "duplicate spot", lot: &models.Lot{Name: "A", Spots: []int{2, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, svc.CreateLot(ctx, tt.lot), domain.ErrValidation)
		})
	}

	assert.ErrorIs(t, svc.UpdateRate(ctx, 1, decimal.NewFromInt(-5)), domain.ErrValidation)
}

func TestLotService_Lifecycle(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.lots.SeedLots(ctx, []models.Lot{
		{ID: 1, Name: "Central", PricePerHour: decimal.NewFromInt(20), Capacity: 2},
		{ID: 2, Name: "Airport", PricePerHour: decimal.NewFromInt(35), Spots: []int{10, 11, 12}},
	}))

	lots, err := f.lots.ListLots(ctx)
	require.NoError(t, err)
	assert.Len(t, lots, 2)

	airport, err := f.lots.GetLot(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 11, 12}, airport.SpotNumbers())

	b, err := f.ledger.AllocateAndBook(ctx, 2, "a", "", at(8, 0), at(9, 0))
	require.NoError(t, err)
	assert.Equal(t, 10, b.SpotNumber)

	assert.ErrorIs(t, f.lots.DeleteLot(ctx, 2), domain.ErrLotInUse)

	require.NoError(t, f.ledger.CancelBooking(ctx, b.ID, "a"))
	require.NoError(t, f.lots.DeleteLot(ctx, 2))

	_, err = f.lots.GetLot(ctx, 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, f.lots.DeleteLot(ctx, 2), domain.ErrNotFound)
}

func TestLotService_ShrinkingBusySpotRefused(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.lot(t, 1, 3, 10)

	_, err := f.ledger.AllocateAndBook(ctx, 1, "a", "", at(8, 0), at(9, 0))
	require.NoError(t, err)
	_, err = f.ledger.AllocateAndBook(ctx, 1, "a", "", at(8, 0), at(9, 0))
	require.NoError(t, err)

	err = f.lots.CreateLot(ctx, &models.Lot{ID: 1, Name: "Lot", PricePerHour: decimal.NewFromInt(10), Capacity: 1})
	assert.ErrorIs(t, err, domain.ErrLotInUse)

	require.NoError(t, f.lots.CreateLot(ctx, &models.Lot{ID: 1, Name: "Lot", PricePerHour: decimal.NewFromInt(10), Spots: []int{1, 2}}))
	lot, err := f.lots.GetLot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, lot.SpotNumbers())
}

func TestLotService_SeedKeepsStoredLots(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	seed := []models.Lot{
		{ID: 1, Name: "Central", PricePerHour: decimal.NewFromInt(20), Capacity: 2},
	}
	require.NoError(t, f.lots.SeedLots(ctx, seed))
	require.NoError(t, f.lots.UpdateRate(ctx, 1, decimal.RequireFromString("27.5")))

	// restart with the same inventory file plus a new lot
	seed = append(seed, models.Lot{ID: 2, Name: "Airport", PricePerHour: decimal.NewFromInt(35), Capacity: 1})
	require.NoError(t, f.lots.SeedLots(ctx, seed))

	central, err := f.lots.GetLot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "27.5", central.PricePerHour.String(), "rate set through the API survives reseeding")

	airport, err := f.lots.GetLot(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "35", airport.PricePerHour.String())

	b, err := f.ledger.AllocateAndBook(ctx, 1, "a", "", at(8, 0), at(10, 0))
	require.NoError(t, err)
	assert.Equal(t, models.Amount(5500), b.TotalCost)
}
