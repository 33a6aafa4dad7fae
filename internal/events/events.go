package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"parkledger/internal/metrics"
	"parkledger/internal/models"

	"github.com/rs/zerolog"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingCompleted = "booking_completed"
	EventBookingCancelled = "booking_cancelled"
	EventBookingExpired   = "booking_expired"

	// AllEvents subscribes a handler to every event type.
	AllEvents = "*"
)

// BookingEventPayload describes the booking snapshot sent to consumers.
type BookingEventPayload struct {
	BookingID   int64         `json:"booking_id"`
	LotID       int64         `json:"lot_id"`
	SpotNumber  int           `json:"spot_number"`
	RequesterID string        `json:"requester_id"`
	VehicleRef  string        `json:"vehicle_ref,omitempty"`
	EntryTime   time.Time     `json:"entry_time"`
	ExitTime    time.Time     `json:"exit_time"`
	TotalCost   models.Amount `json:"total_cost"`
	Status      string        `json:"status"`
	ChangedBy   string        `json:"changed_by,omitempty"`
}

// NewBookingPayload snapshots a booking for publishing.
func NewBookingPayload(b *models.Booking, changedBy string) BookingEventPayload {
	return BookingEventPayload{
		BookingID:   b.ID,
		LotID:       b.LotID,
		SpotNumber:  b.SpotNumber,
		RequesterID: b.RequesterID,
		VehicleRef:  b.VehicleRef,
		EntryTime:   b.EntryTime,
		ExitTime:    b.ExitTime,
		TotalCost:   b.TotalCost,
		Status:      b.Status,
		ChangedBy:   changedBy,
	}
}

// EventKey keeps all events of one lot on one partition.
func (p BookingEventPayload) EventKey() string {
	return fmt.Sprintf("lot-%d", p.LotID)
}

type keyed interface {
	EventKey() string
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. A nil logger discards handler errors.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type or AllEvents.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[AllEvents]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	metrics.IncEvent(event.Type)

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil {
			b.logger.Warn().Err(err).Str("event", event.Type).Msg("event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}

	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	event := Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}
	if k, ok := payload.(keyed); ok {
		event.Key = k.EventKey()
	}
	return event, nil
}
