package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Publisher delivers audited events to the surrounding system. Publish is
// called from an outbox drain goroutine, never from a pair actor.
type Publisher interface {
	Publish(ctx context.Context, batch []Event) error
}

// EventHandler handles one event. It runs on the drain goroutine and must
// return quickly.
type EventHandler func(Event)

// InMemoryEventBus fans events out to per-topic subscribers in publish
// order.
type InMemoryEventBus struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	subs    map[string][]EventHandler
	metrics EventBusMetrics
}

// EventBusMetrics counts bus activity.
type EventBusMetrics struct {
	Published atomic.Int64
	Delivered atomic.Int64
	Failed    atomic.Int64
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	return &InMemoryEventBus{
		logger: logger,
		subs:   make(map[string][]EventHandler),
	}
}

// Publish delivers each event to the subscribers of its topic.
func (bus *InMemoryEventBus) Publish(_ context.Context, batch []Event) error {
	for _, ev := range batch {
		bus.metrics.Published.Add(1)
		topic := ev.Type.Topic()
		bus.mu.RLock()
		handlers := bus.subs[topic]
		bus.mu.RUnlock()
		for _, h := range handlers {
			bus.deliver(h, ev)
		}
	}
	return nil
}

func (bus *InMemoryEventBus) deliver(h EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			bus.logger.Error("Event handler panic", zap.Any("recover", r), zap.String("type", string(ev.Type)))
			bus.metrics.Failed.Add(1)
		}
	}()
	h(ev)
	bus.metrics.Delivered.Add(1)
}

// Subscribe registers a handler for a topic
func (bus *InMemoryEventBus) Subscribe(topic string, handler EventHandler) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.subs[topic] = append(bus.subs[topic], handler)
	bus.logger.Info("Subscribed handler to topic", zap.String("topic", topic))
}

// Stats returns published, delivered and failed counts.
func (bus *InMemoryEventBus) Stats() (published, delivered, failed int64) {
	return bus.metrics.Published.Load(), bus.metrics.Delivered.Load(), bus.metrics.Failed.Load()
}

// ChannelPublisher writes events to a bounded channel consumed by the
// settlement side. Publish blocks while the channel is full, which stalls
// the outbox and in turn makes the pair report overloaded.
type ChannelPublisher struct {
	ch chan Event
}

// NewChannelPublisher creates a publisher with the given buffer.
func NewChannelPublisher(capacity int) *ChannelPublisher {
	return &ChannelPublisher{ch: make(chan Event, capacity)}
}

// Events returns the receive side.
func (p *ChannelPublisher) Events() <-chan Event {
	return p.ch
}

func (p *ChannelPublisher) Publish(ctx context.Context, batch []Event) error {
	for _, ev := range batch {
		select {
		case p.ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// MultiPublisher publishes to every publisher in order and joins errors.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, batch []Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, []Event) error { return nil }
