// Package index tracks booked intervals per spot and answers overlap queries.
package index

import (
	"fmt"
	"sort"
	"sync"

	"parkledger/internal/domain"
	"parkledger/internal/models"
)

type entry struct {
	iv        models.Interval
	bookingID int64
}

// timeline holds one spot's intervals sorted by start. Because stored
// intervals never overlap, their ends are sorted as well.
type timeline struct {
	mu      sync.Mutex
	entries []entry
}

// firstEndingAfter returns the first entry whose end is after t.
func (tl *timeline) firstEndingAfter(iv models.Interval) int {
	return sort.Search(len(tl.entries), func(i int) bool {
		return tl.entries[i].iv.End.After(iv.Start)
	})
}

func (tl *timeline) overlaps(iv models.Interval) bool {
	i := tl.firstEndingAfter(iv)
	return i < len(tl.entries) && tl.entries[i].iv.Start.Before(iv.End)
}

func (tl *timeline) insert(iv models.Interval, bookingID int64) {
	i := sort.Search(len(tl.entries), func(i int) bool {
		return !tl.entries[i].iv.Start.Before(iv.Start)
	})
	tl.entries = append(tl.entries, entry{})
	copy(tl.entries[i+1:], tl.entries[i:])
	tl.entries[i] = entry{iv: iv, bookingID: bookingID}
}

func (tl *timeline) find(iv models.Interval) int {
	i := sort.Search(len(tl.entries), func(i int) bool {
		return !tl.entries[i].iv.Start.Before(iv.Start)
	})
	if i < len(tl.entries) && tl.entries[i].iv.Equal(iv) {
		return i
	}
	return -1
}

func (tl *timeline) removeAt(i int) {
	tl.entries = append(tl.entries[:i], tl.entries[i+1:]...)
}

// Index is the interval conflict index. Every mutation of a spot happens
// under that spot's lock, so check-and-insert is atomic per spot while
// different spots proceed independently.
type Index struct {
	mu    sync.RWMutex
	spots map[models.SpotID]*timeline

	// resetMu serialises ResetLot, the only path holding several spot locks.
	resetMu sync.Mutex
}

func New() *Index {
	return &Index{spots: make(map[models.SpotID]*timeline)}
}

func (x *Index) timeline(spot models.SpotID) *timeline {
	x.mu.RLock()
	tl, ok := x.spots[spot]
	x.mu.RUnlock()
	if ok {
		return tl
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if tl, ok = x.spots[spot]; !ok {
		tl = &timeline{}
		x.spots[spot] = tl
	}
	return tl
}

// Overlaps reports whether any interval stored for spot shares an instant with iv.
func (x *Index) Overlaps(spot models.SpotID, iv models.Interval) bool {
	tl := x.timeline(spot)
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.overlaps(iv)
}

// Insert stores iv for spot or fails with domain.ErrConflict.
func (x *Index) Insert(spot models.SpotID, iv models.Interval, bookingID int64) error {
	return x.InsertWith(spot, iv, func() (int64, error) { return bookingID, nil })
}

// InsertWith re-checks iv against spot and, while still holding the spot,
// runs commit. The interval becomes visible only if commit succeeds, so the
// index and the caller's persisted state change together.
func (x *Index) InsertWith(spot models.SpotID, iv models.Interval, commit func() (int64, error)) error {
	tl := x.timeline(spot)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.overlaps(iv) {
		return fmt.Errorf("spot %d/%d %s: %w", spot.LotID, spot.Number, iv, domain.ErrConflict)
	}
	bookingID, err := commit()
	if err != nil {
		return err
	}
	tl.insert(iv, bookingID)
	return nil
}

// Remove deletes the exact interval from spot or fails with domain.ErrNotFound.
func (x *Index) Remove(spot models.SpotID, iv models.Interval) error {
	return x.RemoveWith(spot, iv, func() error { return nil })
}

// RemoveWith runs commit while holding spot and removes iv only if commit succeeds.
func (x *Index) RemoveWith(spot models.SpotID, iv models.Interval, commit func() error) error {
	tl := x.timeline(spot)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	i := tl.find(iv)
	if i < 0 {
		return fmt.Errorf("spot %d/%d %s: %w", spot.LotID, spot.Number, iv, domain.ErrNotFound)
	}
	if err := commit(); err != nil {
		return err
	}
	tl.removeAt(i)
	return nil
}

// Intervals returns the intervals held by spot, ordered by start.
func (x *Index) Intervals(spot models.SpotID) []models.SpotInterval {
	tl := x.timeline(spot)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	out := make([]models.SpotInterval, 0, len(tl.entries))
	for _, e := range tl.entries {
		out = append(out, models.SpotInterval{Spot: spot, BookingID: e.bookingID, Interval: e.iv})
	}
	return out
}

// Reset drops everything and loads the given bookings' intervals. It is
// meant for start-up before the index is shared.
func (x *Index) Reset(bookings []*models.Booking) error {
	x.mu.Lock()
	x.spots = make(map[models.SpotID]*timeline)
	x.mu.Unlock()

	for _, b := range bookings {
		if err := x.Insert(b.Spot(), b.Interval(), b.ID); err != nil {
			return fmt.Errorf("load booking %d: %w", b.ID, err)
		}
	}
	return nil
}

// ResetLot replaces the intervals of a lot with the bookings returned by
// load. Every spot of the lot is held while load runs, so a booking
// committed through this index cannot land between the read and the swap.
// On error the lot is left untouched.
func (x *Index) ResetLot(lotID int64, numbers []int, load func() ([]*models.Booking, error)) error {
	x.resetMu.Lock()
	defer x.resetMu.Unlock()

	held := make(map[int]*timeline, len(numbers))
	for _, n := range numbers {
		held[n] = x.timeline(models.SpotID{LotID: lotID, Number: n})
	}
	x.mu.RLock()
	for spot, tl := range x.spots {
		if spot.LotID == lotID {
			held[spot.Number] = tl
		}
	}
	x.mu.RUnlock()

	order := make([]int, 0, len(held))
	for n := range held {
		order = append(order, n)
	}
	sort.Ints(order)
	for _, n := range order {
		held[n].mu.Lock()
	}
	defer func() {
		for _, n := range order {
			held[n].mu.Unlock()
		}
	}()

	bookings, err := load()
	if err != nil {
		return err
	}

	fresh := make(map[int][]entry, len(held))
	for _, b := range bookings {
		if b.LotID != lotID || !b.IsActive() {
			continue
		}
		if _, ok := held[b.SpotNumber]; !ok {
			return fmt.Errorf("booking %d on unknown spot %d/%d: %w", b.ID, lotID, b.SpotNumber, domain.ErrNotFound)
		}
		fresh[b.SpotNumber] = append(fresh[b.SpotNumber], entry{iv: b.Interval(), bookingID: b.ID})
	}
	for n, tl := range held {
		entries := fresh[n]
		sort.Slice(entries, func(i, j int) bool { return entries[i].iv.Start.Before(entries[j].iv.Start) })
		tl.entries = entries
	}
	return nil
}

// DropLot forgets every spot of a lot.
func (x *Index) DropLot(lotID int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for spot := range x.spots {
		if spot.LotID == lotID {
			delete(x.spots, spot)
		}
	}
}
