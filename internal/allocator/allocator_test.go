package allocator

import (
	"testing"
	"time"

	"parkledger/internal/domain"
	"parkledger/internal/index"
	"parkledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func hours(from, to int) models.Interval {
	return models.NewInterval(base.Add(time.Duration(from)*time.Hour), base.Add(time.Duration(to)*time.Hour))
}

func TestAllocateLowestFreeSpot(t *testing.T) {
	x := index.New()
	a := New(x)
	lot := &models.Lot{ID: 5, Spots: []int{3, 1, 2}}

	spot, err := a.Allocate(lot, hours(0, 2))
	require.NoError(t, err)
	assert.Equal(t, models.SpotID{LotID: 5, Number: 1}, spot)

	again, err := a.Allocate(lot, hours(0, 2))
	require.NoError(t, err)
	assert.Equal(t, spot, again, "deterministic for unchanged state")

	require.NoError(t, x.Insert(spot, hours(0, 2), 1))
	spot, err = a.Allocate(lot, hours(1, 3))
	require.NoError(t, err)
	assert.Equal(t, 2, spot.Number)

	spot, err = a.Allocate(lot, hours(2, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, spot.Number, "adjacent interval fits the same spot")
}

func TestAllocateExhaustion(t *testing.T) {
	x := index.New()
	a := New(x)
	lot := &models.Lot{ID: 1, Capacity: 2}
	require.NoError(t, x.Insert(models.SpotID{LotID: 1, Number: 1}, hours(0, 4), 1))
	require.NoError(t, x.Insert(models.SpotID{LotID: 1, Number: 2}, hours(3, 5), 2))

	_, err := a.Allocate(lot, hours(3, 4))
	assert.ErrorIs(t, err, domain.ErrNoAvailability)

	free, err := a.FreeSpots(lot, hours(0, 1))
	require.NoError(t, err)
	assert.Equal(t, []int{2}, free)
}

func TestAllocateExcluding(t *testing.T) {
	a := New(index.New())
	lot := &models.Lot{ID: 1, Capacity: 3}

	spot, err := a.AllocateExcluding(lot, hours(0, 1), map[int]bool{1: true})
	require.NoError(t, err)
	assert.Equal(t, 2, spot.Number)

	_, err = a.AllocateExcluding(lot, hours(0, 1), map[int]bool{1: true, 2: true, 3: true})
	assert.ErrorIs(t, err, domain.ErrNoAvailability)
}

func TestAllocateValidation(t *testing.T) {
	a := New(index.New())
	lot := &models.Lot{ID: 1, Capacity: 1}

	_, err := a.Allocate(lot, hours(2, 2))
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = a.Allocate(lot, models.Interval{Start: base})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = a.Allocate(nil, hours(0, 1))
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = a.FreeSpots(lot, hours(3, 1))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAllocateEmptyLot(t *testing.T) {
	a := New(index.New())
	_, err := a.Allocate(&models.Lot{ID: 9}, hours(0, 1))
	assert.ErrorIs(t, err, domain.ErrNoAvailability)
}
