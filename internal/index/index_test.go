package index

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"parkledger/internal/domain"
	"parkledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func hours(from, to int) models.Interval {
	return models.NewInterval(base.Add(time.Duration(from)*time.Hour), base.Add(time.Duration(to)*time.Hour))
}

func assertNoOverlap(t *testing.T, x *Index) {
	t.Helper()
	x.mu.RLock()
	defer x.mu.RUnlock()
	for spot, tl := range x.spots {
		for i := 1; i < len(tl.entries); i++ {
			prev, cur := tl.entries[i-1].iv, tl.entries[i].iv
			assert.False(t, prev.Overlaps(cur), "spot %v: %s overlaps %s", spot, prev, cur)
			assert.False(t, cur.Start.Before(prev.Start), "spot %v not sorted", spot)
		}
	}
}

func TestIndexInsertAndOverlap(t *testing.T) {
	x := New()
	spot := models.SpotID{LotID: 1, Number: 1}

	require.NoError(t, x.Insert(spot, hours(2, 4), 1))
	require.NoError(t, x.Insert(spot, hours(6, 8), 2))

	assert.True(t, x.Overlaps(spot, hours(3, 5)))
	assert.True(t, x.Overlaps(spot, hours(1, 10)))
	assert.True(t, x.Overlaps(spot, hours(7, 9)))
	assert.False(t, x.Overlaps(spot, hours(4, 6)), "gap between bookings")
	assert.False(t, x.Overlaps(spot, hours(0, 2)), "adjacent before")
	assert.False(t, x.Overlaps(spot, hours(8, 9)), "adjacent after")
	assert.False(t, x.Overlaps(models.SpotID{LotID: 1, Number: 2}, hours(2, 4)), "other spot")

	err := x.Insert(spot, hours(3, 7), 3)
	assert.True(t, errors.Is(err, domain.ErrConflict))

	require.NoError(t, x.Insert(spot, hours(4, 6), 4), "exactly fills the gap")
	got := x.Intervals(spot)
	require.Len(t, got, 3)
	assert.Equal(t, int64(1), got[0].BookingID)
	assert.Equal(t, int64(4), got[1].BookingID)
	assert.Equal(t, int64(2), got[2].BookingID)
	assertNoOverlap(t, x)
}

func TestIndexRemove(t *testing.T) {
	x := New()
	spot := models.SpotID{LotID: 1, Number: 1}
	require.NoError(t, x.Insert(spot, hours(2, 4), 1))

	err := x.Remove(spot, hours(2, 5))
	assert.True(t, errors.Is(err, domain.ErrNotFound), "only exact matches are removed")

	require.NoError(t, x.Remove(spot, hours(2, 4)))
	assert.False(t, x.Overlaps(spot, hours(2, 4)))
	assert.True(t, errors.Is(x.Remove(spot, hours(2, 4)), domain.ErrNotFound))
}

func TestIndexCommitHooks(t *testing.T) {
	x := New()
	spot := models.SpotID{LotID: 1, Number: 1}
	boom := errors.New("disk full")

	err := x.InsertWith(spot, hours(1, 2), func() (int64, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, x.Overlaps(spot, hours(1, 2)), "failed commit leaves no interval")

	require.NoError(t, x.InsertWith(spot, hours(1, 2), func() (int64, error) { return 9, nil }))
	called := false
	err = x.InsertWith(spot, hours(1, 3), func() (int64, error) { called = true; return 10, nil })
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.False(t, called, "commit must not run on conflict")

	err = x.RemoveWith(spot, hours(1, 2), func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.True(t, x.Overlaps(spot, hours(1, 2)), "failed commit keeps the interval")
}

func TestIndexRandomizedInvariant(t *testing.T) {
	x := New()
	rng := rand.New(rand.NewSource(42))
	var stored []struct {
		spot models.SpotID
		iv   models.Interval
	}

	for i := 0; i < 2000; i++ {
		spot := models.SpotID{LotID: 1, Number: rng.Intn(3) + 1}
		from := rng.Intn(200)
		iv := hours(from, from+rng.Intn(6)+1)

		if len(stored) > 0 && rng.Intn(4) == 0 {
			k := rng.Intn(len(stored))
			require.NoError(t, x.Remove(stored[k].spot, stored[k].iv))
			stored = append(stored[:k], stored[k+1:]...)
			continue
		}

		expectConflict := false
		for _, s := range stored {
			if s.spot == spot && s.iv.Overlaps(iv) {
				expectConflict = true
				break
			}
		}
		assert.Equal(t, expectConflict, x.Overlaps(spot, iv))
		err := x.Insert(spot, iv, int64(i))
		if expectConflict {
			require.ErrorIs(t, err, domain.ErrConflict)
		} else {
			require.NoError(t, err)
			stored = append(stored, struct {
				spot models.SpotID
				iv   models.Interval
			}{spot, iv})
		}
		assertNoOverlap(t, x)
	}
}

func TestIndexConcurrentInsert(t *testing.T) {
	x := New()
	spot := models.SpotID{LotID: 1, Number: 1}

	const workers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	success := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := x.Insert(spot, hours(0, 2), int64(id)); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Len(t, x.Intervals(spot), 1)
}

func TestIndexResetAndDropLot(t *testing.T) {
	x := New()
	bookings := []*models.Booking{
		{ID: 1, LotID: 1, SpotNumber: 1, EntryTime: hours(0, 1).Start, ExitTime: hours(0, 1).End},
		{ID: 2, LotID: 2, SpotNumber: 1, EntryTime: hours(0, 1).Start, ExitTime: hours(0, 1).End},
	}
	require.NoError(t, x.Reset(bookings))
	assert.True(t, x.Overlaps(models.SpotID{LotID: 1, Number: 1}, hours(0, 1)))

	x.DropLot(1)
	assert.False(t, x.Overlaps(models.SpotID{LotID: 1, Number: 1}, hours(0, 1)))
	assert.True(t, x.Overlaps(models.SpotID{LotID: 2, Number: 1}, hours(0, 1)))

	dup := append(bookings, &models.Booking{ID: 3, LotID: 1, SpotNumber: 1, EntryTime: hours(0, 1).Start, ExitTime: hours(0, 1).End})
	assert.ErrorIs(t, x.Reset(dup), domain.ErrConflict)
}

func TestIndexResetLot(t *testing.T) {
	x := New()
	spot := func(lot int64, n int) models.SpotID { return models.SpotID{LotID: lot, Number: n} }
	active := func(id, lot int64, n, from, to int) *models.Booking {
		iv := hours(from, to)
		return &models.Booking{ID: id, LotID: lot, SpotNumber: n, EntryTime: iv.Start, ExitTime: iv.End, Status: models.StatusActive}
	}

	require.NoError(t, x.Insert(spot(1, 1), hours(0, 2), 10))
	require.NoError(t, x.Insert(spot(1, 2), hours(0, 2), 11))
	require.NoError(t, x.Insert(spot(2, 1), hours(0, 2), 20))

	err := x.ResetLot(1, []int{1, 2}, func() ([]*models.Booking, error) {
		return []*models.Booking{active(13, 1, 2, 5, 6), active(12, 1, 2, 3, 4)}, nil
	})
	require.NoError(t, err)

	assert.Empty(t, x.Intervals(spot(1, 1)), "released elsewhere")
	got := x.Intervals(spot(1, 2))
	require.Len(t, got, 2)
	assert.Equal(t, int64(12), got[0].BookingID)
	assert.Equal(t, int64(13), got[1].BookingID)
	assert.True(t, x.Overlaps(spot(2, 1), hours(1, 2)), "other lots untouched")
	assertNoOverlap(t, x)

	boom := errors.New("store down")
	err = x.ResetLot(1, []int{1, 2}, func() ([]*models.Booking, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Len(t, x.Intervals(spot(1, 2)), 2, "failed load keeps previous state")

	err = x.ResetLot(1, []int{1, 2}, func() ([]*models.Booking, error) {
		return []*models.Booking{active(14, 1, 9, 0, 1)}, nil
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIndexResetLotWaitsForInFlightInsert(t *testing.T) {
	x := New()
	sid := models.SpotID{LotID: 1, Number: 1}
	committed := make(chan struct{})
	release := make(chan struct{})

	var stored []*models.Booking
	var mu sync.Mutex
	done := make(chan error, 1)
	go func() {
		done <- x.InsertWith(sid, hours(0, 1), func() (int64, error) {
			mu.Lock()
			iv := hours(0, 1)
			stored = append(stored, &models.Booking{ID: 1, LotID: 1, SpotNumber: 1, EntryTime: iv.Start, ExitTime: iv.End, Status: models.StatusActive})
			mu.Unlock()
			close(committed)
			<-release
			return 1, nil
		})
	}()

	<-committed
	resetDone := make(chan error, 1)
	go func() {
		resetDone <- x.ResetLot(1, []int{1}, func() ([]*models.Booking, error) {
			mu.Lock()
			defer mu.Unlock()
			return append([]*models.Booking(nil), stored...), nil
		})
	}()
	close(release)

	require.NoError(t, <-done)
	require.NoError(t, <-resetDone)
	got := x.Intervals(sid)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].BookingID)
}
