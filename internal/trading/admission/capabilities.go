package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
)

// RiskRequest carries what the host risk service needs to approve an order.
type RiskRequest struct {
	AccountID string
	TenantID  string
	Pair      model.Pair
	Side      model.Side
	Quantity  decimal.Decimal
	Notional  decimal.Decimal
}

// RiskDecision is the outcome of a risk check.
type RiskDecision struct {
	Approved bool
	Reason   string
}

// RiskChecker is provided by the host system.
type RiskChecker interface {
	Check(ctx context.Context, req RiskRequest) (RiskDecision, error)
}

// RiskCheckerFunc adapts a function to RiskChecker.
type RiskCheckerFunc func(ctx context.Context, req RiskRequest) (RiskDecision, error)

func (f RiskCheckerFunc) Check(ctx context.Context, req RiskRequest) (RiskDecision, error) {
	return f(ctx, req)
}

// ApproveAll approves every request.
var ApproveAll = RiskCheckerFunc(func(context.Context, RiskRequest) (RiskDecision, error) {
	return RiskDecision{Approved: true}, nil
})

// PriceOracle returns a reference mid price for a pair.
type PriceOracle interface {
	Mid(ctx context.Context, pair model.Pair) (decimal.Decimal, bool)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManualClock is a settable clock.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock frozen at t.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// IDGenerator mints opaque order and fill ids.
type IDGenerator interface {
	NewOrderID() string
}

// UUIDGenerator issues random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewOrderID() string { return uuid.NewString() }

// Sequencer generates strictly monotonic sequence numbers for one pair.
type Sequencer struct {
	next atomic.Uint64
}

// NewSequencer starts counting after start.
func NewSequencer(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next sequence.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued sequence.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}

// Reset sets the last issued sequence. Only used after replay.
func (s *Sequencer) Reset(v uint64) {
	s.next.Store(v)
}
