package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pincex/tradingcore/pkg/metrics"
	"go.uber.org/zap"
)

// Recorder appends an event to the audit trail. It must be idempotent for
// an event it already recorded, since a failed call is retried as a whole.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// OutboxConfig bounds an Outbox.
type OutboxConfig struct {
	Limit           int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	PublishAttempts int
}

// DefaultOutboxConfig returns the defaults used by the engine.
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		Limit:           4096,
		InitialBackoff:  50 * time.Millisecond,
		MaxBackoff:      5 * time.Second,
		PublishAttempts: 3,
	}
}

// Outbox is the handoff between a pair actor and the audit sink and
// publisher. Push never blocks. A separate goroutine records each event and
// only then publishes it, so nothing reaches settlement unaudited. A batch
// the publisher keeps refusing is held at the head and redelivered before
// anything newer.
type Outbox struct {
	name      string
	cfg       OutboxConfig
	recorder  Recorder
	publisher Publisher
	logger    *zap.Logger

	mu       sync.Mutex
	pending  []Event
	inflight int
	// unpublished is recorded but not yet accepted by the publisher.
	unpublished []Event
	notify   chan struct{}
	failing  atomic.Bool
}

// NewOutbox creates an outbox; name labels logs and metrics.
func NewOutbox(name string, cfg OutboxConfig, recorder Recorder, publisher Publisher, logger *zap.Logger) *Outbox {
	def := DefaultOutboxConfig()
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.PublishAttempts <= 0 {
		cfg.PublishAttempts = def.PublishAttempts
	}
	if publisher == nil {
		publisher = Discard
	}
	return &Outbox{
		name:      name,
		cfg:       cfg,
		recorder:  recorder,
		publisher: publisher,
		logger:    logger.With(zap.String("outbox", name)),
		notify:    make(chan struct{}, 1),
	}
}

// Push enqueues events. The limit is soft: a pass that started under it
// always lands in full.
func (o *Outbox) Push(evs ...Event) {
	if len(evs) == 0 {
		return
	}
	o.mu.Lock()
	o.pending = append(o.pending, evs...)
	depth := len(o.pending) + o.inflight
	o.mu.Unlock()
	metrics.OutboxDepth.WithLabelValues(o.name).Set(float64(depth))
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// Overloaded reports whether new admissions must be refused: the queue is
// at its limit or the sink is failing.
func (o *Outbox) Overloaded() bool {
	if o.failing.Load() {
		return true
	}
	return o.Len() >= o.cfg.Limit
}

// Failing reports whether the last record attempt failed.
func (o *Outbox) Failing() bool {
	return o.failing.Load()
}

// Len returns queued, in-flight and held events.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending) + o.inflight + len(o.unpublished)
}

func (o *Outbox) holding() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.unpublished) > 0
}

// Run drains the outbox until ctx is cancelled. Unrecorded and held events
// stay queued for Drain.
func (o *Outbox) Run(ctx context.Context) {
	for {
		for o.drainOnce(ctx) {
		}
		var retry <-chan time.Time
		if o.holding() {
			retry = time.After(o.cfg.MaxBackoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-o.notify:
		case <-retry:
		}
	}
}

// Drain records and publishes everything queued. It is used at shutdown
// after Run returned.
func (o *Outbox) Drain(ctx context.Context) error {
	for o.drainOnce(ctx) {
	}
	if n := o.Len(); n > 0 {
		err := ctx.Err()
		if err == nil {
			err = fmt.Errorf("outbox %s: %d events pending", o.name, n)
		}
		o.logger.Error("Outbox not drained", zap.Int("pending", n), zap.Error(err))
		return err
	}
	return nil
}

// Flush waits until everything pushed so far was recorded and published.
func (o *Outbox) Flush(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for o.Len() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (o *Outbox) drainOnce(ctx context.Context) bool {
	if !o.redeliver(ctx) {
		return false
	}

	o.mu.Lock()
	batch := o.pending
	o.pending = nil
	o.inflight = len(batch)
	o.mu.Unlock()
	if len(batch) == 0 {
		return false
	}

	recorded := len(batch)
	for i := range batch {
		if err := o.record(ctx, batch[i]); err != nil {
			recorded = i
			break
		}
	}
	var pubErr error
	if recorded > 0 {
		pubErr = o.publish(ctx, batch[:recorded])
	}

	o.mu.Lock()
	if pubErr != nil {
		o.unpublished = append([]Event(nil), batch[:recorded]...)
	}
	if recorded < len(batch) {
		o.pending = append(append([]Event(nil), batch[recorded:]...), o.pending...)
	}
	o.inflight = 0
	depth := len(o.pending) + len(o.unpublished)
	o.mu.Unlock()
	metrics.OutboxDepth.WithLabelValues(o.name).Set(float64(depth))
	return recorded == len(batch) && pubErr == nil && ctx.Err() == nil
}

// redeliver publishes the held batch. It reports whether nothing is held
// any more.
func (o *Outbox) redeliver(ctx context.Context) bool {
	o.mu.Lock()
	held := o.unpublished
	o.mu.Unlock()
	if len(held) == 0 {
		return true
	}
	if err := o.publish(ctx, held); err != nil {
		return false
	}
	o.logger.Info("Redelivered held events", zap.Int("events", len(held)))
	o.mu.Lock()
	o.unpublished = nil
	depth := len(o.pending) + o.inflight
	o.mu.Unlock()
	metrics.OutboxDepth.WithLabelValues(o.name).Set(float64(depth))
	return true
}

func (o *Outbox) record(ctx context.Context, ev Event) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.InitialBackoff
	b.MaxInterval = o.cfg.MaxBackoff
	for {
		err := o.recorder.Record(ctx, ev)
		if err == nil {
			if o.failing.Swap(false) {
				o.logger.Info("Audit sink recovered")
			}
			return nil
		}
		if !o.failing.Swap(true) {
			o.logger.Error("Audit append failed, refusing admissions until it recovers",
				zap.String("type", string(ev.Type)),
				zap.Uint64("pair_seq", ev.PairSeq),
				zap.Error(err))
		}
		metrics.AuditAppendFailures.WithLabelValues(o.name).Inc()
		wait := b.NextBackOff()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (o *Outbox) publish(ctx context.Context, batch []Event) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.InitialBackoff
	b.MaxInterval = o.cfg.MaxBackoff
	var err error
retry:
	for attempt := 1; attempt <= o.cfg.PublishAttempts; attempt++ {
		if err = o.publisher.Publish(ctx, batch); err == nil {
			return nil
		}
		o.logger.Warn("Publish failed", zap.Int("attempt", attempt), zap.Int("events", len(batch)), zap.Error(err))
		if attempt == o.cfg.PublishAttempts {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break retry
		case <-time.After(b.NextBackOff()):
		}
	}
	metrics.PublishFailures.WithLabelValues(o.name).Add(float64(len(batch)))
	o.logger.Error("Holding audited events for redelivery",
		zap.Int("events", len(batch)),
		zap.Uint64("first_pair_seq", batch[0].PairSeq),
		zap.Error(err))
	return err
}
