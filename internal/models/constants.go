package models

const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

const (
	RoundingHalfUp   = "half_up"
	RoundingTruncate = "truncate"
)

const (
	// StrategyOptimistic inserts per spot and moves to the next candidate on conflict.
	StrategyOptimistic = "optimistic"
	// StrategyLotLock serializes all bookings of a lot behind one lock.
	StrategyLotLock = "lot_lock"
)

const (
	// DefaultLockTTL bounds how long a lot lock may be held, in seconds.
	DefaultLockTTL = 10

	// DefaultLockWait bounds how long a booking waits for a lot lock, in milliseconds.
	DefaultLockWait = 2000

	// DefaultSweeperSchedule runs the expiry sweep every minute.
	DefaultSweeperSchedule = "@every 1m"

	// EventQueueSize is the buffer of the kafka sink.
	EventQueueSize = 1000
)
