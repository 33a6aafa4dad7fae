package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"parkledger/internal/config"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

var ErrSinkClosed = errors.New("kafka sink closed")

// MessageWriter is the part of kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a writer hashing on the message key so one lot keeps its order.
func NewKafkaWriter(cfg config.KafkaConfig, logger *zerolog.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  5,
		BatchTimeout: 50 * time.Millisecond,
		Logger:       kafka.LoggerFunc(func(string, ...any) {}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Error().Msgf(msg, args...)
		}),
	}
}

// KafkaSink forwards bus events to Kafka from a background goroutine.
// Handle never blocks the booking path; a full queue drops the event.
type KafkaSink struct {
	writer MessageWriter
	queue  chan kafka.Message
	logger *zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewKafkaSink(writer MessageWriter, queueSize int, logger *zerolog.Logger) *KafkaSink {
	if queueSize <= 0 {
		queueSize = 1
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &KafkaSink{
		writer: writer,
		queue:  make(chan kafka.Message, queueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Handle is an EventHandler.
func (s *KafkaSink) Handle(event *Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}

	msg := kafka.Message{
		Key:   []byte(event.Key),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}

	select {
	case s.queue <- msg:
		return nil
	default:
		s.logger.Warn().Str("event", event.Type).Msg("kafka queue full, dropping event")
		return errors.New("kafka queue full")
	}
}

// Run drains the queue until ctx is done or the sink is closed.
func (s *KafkaSink) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case msg, ok := <-s.queue:
			if !ok {
				return
			}
			s.write(ctx, msg)
		case <-ctx.Done():
			s.flush()
			return
		}
	}
}

func (s *KafkaSink) write(ctx context.Context, msg kafka.Message) {
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Error().Err(err).Str("key", string(msg.Key)).Msg("failed to write event to kafka")
	}
}

// flush writes whatever is already queued with a short deadline.
func (s *KafkaSink) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case msg, ok := <-s.queue:
			if !ok {
				return
			}
			s.write(ctx, msg)
		default:
			return
		}
	}
}

// Close stops accepting events, waits for Run to drain, then closes the writer.
// Run must have been started.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.writer.Close()
}
