package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	errMissingStart  = errors.New("interval start is required")
	errMissingEnd    = errors.New("interval end is required")
	errEmptyInterval = errors.New("interval start must be before end")
	errOutOfRange    = errors.New("interval is outside the storable time range")
)

// Instants are persisted as Unix nanoseconds, which covers roughly the
// years 1678 to 2262.
var (
	MinTime = time.Unix(0, math.MinInt64).UTC()
	MaxTime = time.Unix(0, math.MaxInt64).UTC()
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewInterval(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

// Validate rejects open-ended, empty and unstorable intervals.
func (iv Interval) Validate() error {
	if iv.Start.IsZero() {
		return errMissingStart
	}
	if iv.End.IsZero() {
		return errMissingEnd
	}
	if !iv.Start.Before(iv.End) {
		return errEmptyInterval
	}
	if iv.Start.Before(MinTime) || iv.End.After(MaxTime) {
		return errOutOfRange
	}
	return nil
}

// Overlaps reports whether the two intervals share any instant.
// Adjacent intervals (one ends when the other begins) do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

func (iv Interval) Equal(other Interval) bool {
	return iv.Start.Equal(other.Start) && iv.End.Equal(other.End)
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%s, %s)", iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
}
