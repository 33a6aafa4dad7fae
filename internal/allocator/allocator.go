// Package allocator chooses a spot for a requested interval.
package allocator

import (
	"fmt"

	"parkledger/internal/domain"
	"parkledger/internal/models"
)

// ConflictChecker answers whether a spot already holds an overlapping interval.
type ConflictChecker interface {
	Overlaps(spot models.SpotID, iv models.Interval) bool
}

// Allocator scans a lot's spots in ascending number order and picks the
// first one without an overlapping booking. The lowest free number wins,
// so the same state always yields the same spot.
type Allocator struct {
	index ConflictChecker
}

func New(index ConflictChecker) *Allocator {
	return &Allocator{index: index}
}

func (a *Allocator) Allocate(lot *models.Lot, iv models.Interval) (models.SpotID, error) {
	return a.AllocateExcluding(lot, iv, nil)
}

// AllocateExcluding is Allocate that skips spots already tried in the
// current booking attempt.
func (a *Allocator) AllocateExcluding(lot *models.Lot, iv models.Interval, tried map[int]bool) (models.SpotID, error) {
	if lot == nil {
		return models.SpotID{}, fmt.Errorf("%w: lot is required", domain.ErrValidation)
	}
	if err := iv.Validate(); err != nil {
		return models.SpotID{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	for _, n := range lot.SpotNumbers() {
		if tried[n] {
			continue
		}
		spot := models.SpotID{LotID: lot.ID, Number: n}
		if !a.index.Overlaps(spot, iv) {
			return spot, nil
		}
	}
	return models.SpotID{}, fmt.Errorf("lot %d %s: %w", lot.ID, iv, domain.ErrNoAvailability)
}

// FreeSpots lists every spot number of the lot that could take iv right now.
func (a *Allocator) FreeSpots(lot *models.Lot, iv models.Interval) ([]int, error) {
	if err := iv.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	free := make([]int, 0)
	for _, n := range lot.SpotNumbers() {
		if !a.index.Overlaps(models.SpotID{LotID: lot.ID, Number: n}, iv) {
			free = append(free, n)
		}
	}
	return free, nil
}
