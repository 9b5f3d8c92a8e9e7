package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type flakyRecorder struct {
	mu       sync.Mutex
	failures int
	recorded []uint64
}

func (r *flakyRecorder) Record(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("sink unavailable")
	}
	r.recorded = append(r.recorded, ev.PairSeq)
	return nil
}

func (r *flakyRecorder) seqs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.recorded...)
}

type blockingRecorder struct {
	release chan struct{}
}

func (r *blockingRecorder) Record(ctx context.Context, _ Event) error {
	select {
	case <-r.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func fastConfig(limit int) OutboxConfig {
	return OutboxConfig{Limit: limit, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, PublishAttempts: 2}
}

func ev(seq uint64) Event {
	return Event{Type: TypeOrderAccepted, Pair: model.NewPair("BTC", "USDT"), PairSeq: seq, TenantID: "t1"}
}

func TestOutbox_RecordsBeforePublishingInOrder(t *testing.T) {
	rec := &flakyRecorder{failures: 3}
	pub := NewChannelPublisher(16)
	ob := NewOutbox("BTC/USDT", fastConfig(100), rec, pub, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ob.Run(ctx)

	ob.Push(ev(1), ev(2))
	ob.Push(ev(3))

	flushCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	require.NoError(t, ob.Flush(flushCtx))
	assert.Equal(t, []uint64{1, 2, 3}, rec.seqs())
	assert.False(t, ob.Failing())

	for _, want := range []uint64{1, 2, 3} {
		got := <-pub.Events()
		assert.Equal(t, want, got.PairSeq)
	}
}

func TestOutbox_OverloadedAtLimit(t *testing.T) {
	rec := &blockingRecorder{release: make(chan struct{})}
	ob := NewOutbox("p", fastConfig(2), rec, nil, zaptest.NewLogger(t))
	assert.False(t, ob.Overloaded())
	ob.Push(ev(1))
	assert.False(t, ob.Overloaded())
	ob.Push(ev(2), ev(3))
	assert.True(t, ob.Overloaded())
	assert.Equal(t, 3, ob.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ob.Run(ctx)
	close(rec.release)

	flushCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	require.NoError(t, ob.Flush(flushCtx))
	assert.False(t, ob.Overloaded())
}

func TestOutbox_FailingSinkReportsOverloaded(t *testing.T) {
	rec := &flakyRecorder{failures: 1 << 30}
	ob := NewOutbox("p", fastConfig(100), rec, nil, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go ob.Run(ctx)
	ob.Push(ev(1))

	assert.Eventually(t, ob.Overloaded, 5*time.Second, time.Millisecond)
	cancel()

	// The unrecorded event survives cancellation and drains once the sink
	// recovers.
	rec.mu.Lock()
	rec.failures = 0
	rec.mu.Unlock()
	assert.Eventually(t, func() bool {
		return ob.Drain(context.Background()) == nil
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{1}, rec.seqs())
	assert.Zero(t, ob.Len())
}

var errBrokerDown = errors.New("broker down")

// failingPublisher refuses every batch until healthy is set and remembers
// what it accepted.
type failingPublisher struct {
	mu        sync.Mutex
	calls     int
	healthy   bool
	published []uint64
}

func (p *failingPublisher) Publish(_ context.Context, batch []Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if !p.healthy {
		return errBrokerDown
	}
	for _, ev := range batch {
		p.published = append(p.published, ev.PairSeq)
	}
	return nil
}

func (p *failingPublisher) setHealthy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = true
}

func (p *failingPublisher) stats() (calls int, published []uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls, append([]uint64(nil), p.published...)
}

func TestOutbox_PublishFailureHoldsEvents(t *testing.T) {
	rec := &flakyRecorder{}
	pub := &failingPublisher{}
	ob := NewOutbox("p", fastConfig(100), rec, pub, zaptest.NewLogger(t))

	ob.Push(ev(1))
	assert.Error(t, ob.Drain(context.Background()))
	calls, published := pub.stats()
	assert.Equal(t, 2, calls)
	assert.Empty(t, published)
	assert.Equal(t, 1, ob.Len())
	assert.Equal(t, []uint64{1}, rec.seqs())

	// Newer events wait behind the held batch and nothing is recorded twice.
	pub.setHealthy()
	ob.Push(ev(2))
	require.NoError(t, ob.Drain(context.Background()))
	_, published = pub.stats()
	assert.Equal(t, []uint64{1, 2}, published)
	assert.Equal(t, []uint64{1, 2}, rec.seqs())
	assert.Zero(t, ob.Len())
}

func TestOutbox_RunRedeliversWithoutNewPush(t *testing.T) {
	rec := &flakyRecorder{}
	pub := &failingPublisher{}
	ob := NewOutbox("p", fastConfig(100), rec, pub, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ob.Run(ctx)

	ob.Push(ev(1), ev(2))
	assert.Eventually(t, func() bool {
		calls, _ := pub.stats()
		return calls >= 2
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, 2, ob.Len())

	pub.setHealthy()
	flushCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	require.NoError(t, ob.Flush(flushCtx))
	_, published := pub.stats()
	assert.Equal(t, []uint64{1, 2}, published)
}
