package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "parkledger"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Booking attempts by result.",
		},
		[]string{"result"},
	)

	releases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_total",
			Help:      "Bookings leaving the active state by final status.",
		},
		[]string{"status"},
	)

	allocationConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_conflicts_total",
			Help:      "Spot claims lost to a concurrent booking and retried.",
		},
	)

	bookingEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_events_total",
			Help:      "Published booking events by type.",
		},
		[]string{"type"},
	)

	allocationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "allocation_duration_seconds",
			Help:      "Time spent in allocate-and-book.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	activeBookings = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_bookings",
			Help:      "Intervals currently held in the conflict index.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			bookings,
			releases,
			allocationConflicts,
			bookingEvents,
			allocationDuration,
			activeBookings,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncBooking records an allocate-and-book outcome such as "success" or "no_availability".
func IncBooking(result string) {
	bookings.WithLabelValues(result).Inc()
}

func IncRelease(status string) {
	releases.WithLabelValues(status).Inc()
}

func IncConflict() {
	allocationConflicts.Inc()
}

func IncEvent(eventType string) {
	bookingEvents.WithLabelValues(eventType).Inc()
}

func ObserveAllocation(d time.Duration) {
	allocationDuration.Observe(d.Seconds())
}

func SetActiveBookings(n int) {
	activeBookings.Set(float64(n))
}

func AddActiveBookings(delta int) {
	activeBookings.Add(float64(delta))
}
