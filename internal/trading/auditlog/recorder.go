package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pincex/tradingcore/internal/trading/events"
)

// EventRecorder appends core events to a Sink, once per tenant stream the
// event belongs to. It remembers the last pair sequence written per
// (pair, tenant) so a retried event is not chained twice.
type EventRecorder struct {
	sink Sink

	mu   sync.Mutex
	last map[string]uint64
}

// NewEventRecorder wraps sink.
func NewEventRecorder(sink Sink) *EventRecorder {
	return &EventRecorder{sink: sink, last: make(map[string]uint64)}
}

// Record implements events.Recorder.
func (r *EventRecorder) Record(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	pair := ev.Pair.String()
	for _, tenant := range ev.Tenants() {
		key := pair + "|" + tenant
		r.mu.Lock()
		done := r.last[key] >= ev.PairSeq && ev.PairSeq != 0
		r.mu.Unlock()
		if done {
			continue
		}
		_, err := r.sink.Append(ctx, Record{
			TenantID:  tenant,
			Type:      string(ev.Type),
			Pair:      pair,
			PairSeq:   ev.PairSeq,
			Timestamp: ev.Timestamp,
			Payload:   payload,
		})
		if err != nil {
			return fmt.Errorf("append %s for tenant %s: %w", ev.Type, tenant, err)
		}
		r.mu.Lock()
		r.last[key] = ev.PairSeq
		r.mu.Unlock()
	}
	return nil
}

// Decode turns an entry back into the event it recorded.
func Decode(e Entry) (events.Event, error) {
	var ev events.Event
	if err := json.Unmarshal(e.Payload, &ev); err != nil {
		return events.Event{}, fmt.Errorf("decode entry %s/%d: %w", e.TenantID, e.Sequence, err)
	}
	return ev, nil
}
