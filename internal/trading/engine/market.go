package engine

import (
	"context"
	"time"

	"github.com/pincex/tradingcore/internal/trading/admission"
	"github.com/pincex/tradingcore/internal/trading/breaker"
	"github.com/pincex/tradingcore/internal/trading/events"
	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/pincex/tradingcore/internal/trading/orderbook"
	"github.com/pincex/tradingcore/internal/trading/trigger"
	"github.com/pincex/tradingcore/pkg/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// command runs on the pair actor goroutine.
type command func(m *market)

// market is the single writer of one pair. Everything below cmds is owned
// by the actor goroutine; only depth and the breaker snapshot are read
// from outside.
type market struct {
	pair        model.Pair
	cfg         PairConfig
	algorithm   model.Algorithm
	depthLevels int
	logger      *zap.Logger
	clock       admission.Clock
	ids         admission.IDGenerator

	book     *orderbook.OrderBook
	admitter *admission.Admitter
	monitor  *trigger.Monitor
	breaker  *breaker.Breaker
	depth    breaker.DepthView
	outbox   *events.Outbox
	fees     *FeeEngine

	// orders holds every live order of the pair: resting, parked, OCO
	// parents and legs, iceberg parents and their current slice.
	orders   map[string]*model.Order
	terminal *terminalRing

	lastPrice decimal.Decimal
	hasLast   bool
	eventSeq  uint64
	tradeSeq  uint64

	// per-command scratch
	pending    []events.Event
	passTrades []decimal.Decimal
	passFills  []model.Fill
	rejection  *model.Rejection
	// allOrNothing is set while a FOK taker that passed its preflight
	// matches; a breaker trip inside it waits in deferredTrip.
	allOrNothing bool
	deferredTrip *breaker.Transition

	haltErr error

	cmds chan command
	done chan struct{}
}

func newMarket(pc PairConfig, cfg Config, deps Dependencies, fees *FeeEngine, recorder events.Recorder, logger *zap.Logger) *market {
	algo := pc.Algorithm
	if algo == "" {
		algo = cfg.DefaultAlgorithm
	}
	log := logger.With(zap.String("pair", pc.Pair.String()))
	rules := admission.PairRules{
		Pair:         pc.Pair,
		PriceTick:    pc.PriceTick,
		QuantityStep: pc.QuantityStep,
		MaxSlippage:  pc.MaxSlippage,
	}
	return &market{
		pair:        pc.Pair,
		cfg:         pc,
		algorithm:   algo,
		depthLevels: cfg.DepthLevels,
		logger:      log,
		clock:       deps.Clock,
		ids:         deps.IDs,
		book:        orderbook.NewOrderBook(pc.Pair),
		admitter:    admission.New(rules, deps.Risk, deps.Oracle, deps.Clock, deps.IDs, logger),
		monitor:     trigger.NewMonitor(pc.Pair, pc.PriceTick, logger),
		breaker:     breaker.New(pc.Pair, cfg.Breaker, logger),
		outbox:      events.NewOutbox(pc.Pair.String(), cfg.Outbox, recorder, deps.Publisher, logger),
		fees:        fees,
		orders:      make(map[string]*model.Order),
		terminal:    newTerminalRing(cfg.TerminalRetention),
		cmds:        make(chan command, cfg.CommandBuffer),
		done:        make(chan struct{}),
	}
}

// run is the actor loop. It returns when ctx is cancelled.
func (m *market) run(ctx context.Context, tickInterval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	m.publishDepth()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-m.cmds:
			cmd(m)
		case <-ticker.C:
			m.exec(func(m *market) { m.tick() })
		}
	}
}

// exec runs fn as one atomic step: the trigger cascade runs after it and
// every event it produced is handed to the outbox as one batch.
func (m *market) exec(fn command) error {
	err := m.guard(func() {
		fn(m)
		m.cascade()
	})
	m.flush()
	return err
}

// do runs fn on the actor and waits for it to finish.
func (m *market) do(ctx context.Context, fn command) error {
	reply := make(chan error, 1)
	wrapped := func(m *market) {
		reply <- m.exec(fn)
	}
	select {
	case m.cmds <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrEngineStopped
	}
	select {
	case err := <-reply:
		return err
	case <-m.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrEngineStopped
		}
	}
}

func (m *market) flush() {
	if len(m.pending) > 0 {
		m.outbox.Push(m.pending...)
		m.pending = m.pending[:0]
	}
	m.passFills = nil
	m.passTrades = nil
	m.rejection = nil
	m.publishDepth()
	metrics.BookOrders.WithLabelValues(m.pair.String(), "resting").Set(float64(m.book.Len()))
	metrics.BookOrders.WithLabelValues(m.pair.String(), "parked").Set(float64(m.monitor.ParkedCount()))
}

func (m *market) publishDepth() {
	m.depth.Publish(m.book.Depth(m.depthLevels, m.eventSeq, m.clock.Now()))
}

// emit stamps ev with the next pair sequence and queues it for this step.
func (m *market) emit(ev events.Event) {
	m.eventSeq++
	ev.Pair = m.pair
	ev.PairSeq = m.eventSeq
	ev.Timestamp = m.clock.Now()
	m.pending = append(m.pending, ev)
}

func (m *market) tick() {
	now := m.clock.Now()
	if tr := m.breaker.Tick(now); tr != nil {
		m.onBreaker(tr)
	}
	m.expire(now)
}

// view adapts the book to what admission reads.
func (m *market) view() admission.MarketView {
	return marketView{m: m}
}

type marketView struct {
	m *market
}

func (v marketView) Mid() (decimal.Decimal, bool) {
	return v.m.book.Mid()
}

func (v marketView) LastPrice() (decimal.Decimal, bool) {
	return v.m.lastPrice, v.m.hasLast
}

func (v marketView) SweepPrice(side model.Side, qty decimal.Decimal) (decimal.Decimal, bool) {
	var (
		price decimal.Decimal
		found bool
	)
	left := qty
	v.m.book.Levels(side.Opposite(), func(level *orderbook.PriceLevel) bool {
		found = true
		price = level.Price
		left = left.Sub(level.Volume())
		return left.IsPositive()
	})
	return price, found
}
