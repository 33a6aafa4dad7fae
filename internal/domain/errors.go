package domain

import "errors"

var (
	// ErrValidation marks malformed input rejected before any shared state is touched.
	ErrValidation = errors.New("validation error")

	// ErrConflict means an interval overlaps one already held by the spot.
	ErrConflict = errors.New("interval conflicts with an existing booking")

	// ErrNoAvailability means every spot of the lot conflicts with the request.
	ErrNoAvailability = errors.New("no available spots")

	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("requester does not own the booking")
	ErrInvalidState = errors.New("booking is not active")

	// ErrConcurrentModification is returned by version compare-and-swap updates.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrLotBusy means the lot lock could not be acquired within the wait bound.
	ErrLotBusy = errors.New("lot is busy")

	// ErrLotInUse blocks deleting a lot that still holds active bookings.
	ErrLotInUse = errors.New("lot has active bookings")
)
