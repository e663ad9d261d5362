package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/expense-claims/pkg/logger"
)

type Event interface {
	EventType() string
	EventID() string
	OccurredAt() time.Time
	Payload() interface{}
}

type BaseEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) EventID() string {
	return e.ID
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

func (e BaseEvent) Payload() interface{} {
	return e.Data
}

type Handler func(ctx context.Context, event Event) error

// ErrClosed is returned by Publish once Close has been called.
var ErrClosed = errors.New("event bus is closed")

// EventBus fans events out to in-process subscribers. Publish runs
// handlers on their own goroutines; Wait blocks until they have returned.
type EventBus struct {
	handlers map[string][]Handler
	logger   *slog.Logger
	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

func (eb *EventBus) Subscribe(eventType string, handler Handler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
	eb.logger.Debug("event handler registered",
		"event_type", eventType,
		"total_handlers", len(eb.handlers[eventType]))
}

// Publish never fails the caller for a subscriber's error: a claim change
// that has been stored stays stored. Handlers keep the request's logger
// values but not its cancellation. After Close it returns ErrClosed.
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	lg := eb.logger
	if scoped, ok := logger.Lookup(ctx); ok {
		lg = scoped
	}
	lg = lg.With("event_type", event.EventType(), "event_id", event.EventID())

	// inflight is counted under the read lock so Close cannot start
	// waiting between the closed check and Add.
	eb.mu.RLock()
	if eb.closed {
		eb.mu.RUnlock()
		lg.Warn("event dropped, bus is closed")
		return ErrClosed
	}
	handlers := append([]Handler(nil), eb.handlers[event.EventType()]...)
	eb.inflight.Add(len(handlers))
	eb.mu.RUnlock()

	if len(handlers) == 0 {
		lg.Debug("no handlers for event type")
		return nil
	}
	lg.Info("publishing event", "handlers_count", len(handlers))

	ctx = context.WithoutCancel(ctx)
	for _, handler := range handlers {
		go func(h Handler) {
			defer eb.inflight.Done()
			if err := h(ctx, event); err != nil {
				lg.Error("event handler failed", "error", err)
			}
		}(handler)
	}
	return nil
}

// Wait blocks until every handler started by Publish has returned. The bus
// stays open.
func (eb *EventBus) Wait() {
	eb.inflight.Wait()
}

// Close refuses further events and waits for running handlers. Handlers
// that publish while the bus drains get ErrClosed.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	eb.closed = true
	eb.mu.Unlock()
	eb.inflight.Wait()
}
