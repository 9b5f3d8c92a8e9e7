package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pincex/tradingcore/internal/trading/admission"
	"github.com/pincex/tradingcore/internal/trading/auditlog"
	"github.com/pincex/tradingcore/internal/trading/breaker"
	"github.com/pincex/tradingcore/internal/trading/events"
	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/pincex/tradingcore/internal/trading/orderbook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("tradingcore")

// Dependencies are the host capabilities the engine consumes. Unset fields
// fall back to an in-memory sink, a discarding publisher, approve-all risk,
// the wall clock and random UUIDs.
type Dependencies struct {
	Sink      auditlog.Sink
	Publisher events.Publisher
	Risk      admission.RiskChecker
	Oracle    admission.PriceOracle
	Clock     admission.Clock
	IDs       admission.IDGenerator
}

func (d *Dependencies) applyDefaults() {
	if d.Sink == nil {
		d.Sink = auditlog.NewMemorySink()
	}
	if d.Publisher == nil {
		d.Publisher = events.Discard
	}
	if d.Risk == nil {
		d.Risk = admission.ApproveAll
	}
	if d.Clock == nil {
		d.Clock = admission.SystemClock{}
	}
	if d.IDs == nil {
		d.IDs = admission.UUIDGenerator{}
	}
}

// BookSnapshot is the admin view of one pair.
type BookSnapshot struct {
	Pair      model.Pair          `json:"pair"`
	Algorithm model.Algorithm     `json:"algorithm"`
	Sequence  uint64              `json:"sequence"` // last pair event sequence
	Resting   []model.OrderHeader `json:"resting"`
	Parked    []model.OrderHeader `json:"parked"`
	Breaker   breaker.Status      `json:"breaker"`
}

// Engine routes requests to one single-writer actor per pair.
type Engine struct {
	logger   *zap.Logger
	config   Config
	deps     Dependencies
	fees     *FeeEngine
	recorder *auditlog.EventRecorder
	markets  map[model.Pair]*market
	pairs    []model.Pair

	mutex     sync.RWMutex
	isRunning bool
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewEngine creates an engine with one market per configured pair.
func NewEngine(cfg Config, deps Dependencies, logger *zap.Logger) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	deps.applyDefaults()

	fees := NewFeeEngine(logger, cfg.Fees, deps.Clock.Now)
	e := &Engine{
		logger:   logger,
		config:   cfg,
		deps:     deps,
		fees:     fees,
		recorder: auditlog.NewEventRecorder(deps.Sink),
		markets:  make(map[model.Pair]*market, len(cfg.Pairs)),
	}
	for _, pc := range cfg.Pairs {
		if pc.MakerFee.Valid || pc.TakerFee.Valid {
			rates := PairFeeConfig{Pair: pc.Pair, MakerFee: cfg.Fees.DefaultMakerFee, TakerFee: cfg.Fees.DefaultTakerFee}
			if pc.MakerFee.Valid {
				rates.MakerFee = pc.MakerFee.Decimal
			}
			if pc.TakerFee.Valid {
				rates.TakerFee = pc.TakerFee.Decimal
			}
			if err := fees.SetPairRates(rates); err != nil {
				return nil, err
			}
		}
		e.markets[pc.Pair] = newMarket(pc, cfg, deps, fees, e.recorder, logger)
		e.pairs = append(e.pairs, pc.Pair)
	}
	sort.Slice(e.pairs, func(i, j int) bool { return e.pairs[i].String() < e.pairs[j].String() })
	return e, nil
}

// Start launches the pair actors and their outbox drainers.
func (e *Engine) Start(ctx context.Context) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.isRunning || e.started {
		return ErrEngineStarted
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	for _, p := range e.pairs {
		m := e.markets[p]
		e.wg.Add(2)
		go func() {
			defer e.wg.Done()
			m.run(runCtx, e.config.TickInterval)
		}()
		go func() {
			defer e.wg.Done()
			m.outbox.Run(runCtx)
		}()
	}
	e.isRunning = true
	e.started = true
	e.logger.Info("Trading engine started", zap.Int("pairs", len(e.pairs)))
	return nil
}

// Stop stops the actors and drains every outbox within ctx.
func (e *Engine) Stop(ctx context.Context) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if !e.isRunning {
		return ErrEngineNotStarted
	}
	e.cancel()
	e.wg.Wait()
	e.isRunning = false

	var errs []error
	for _, p := range e.pairs {
		if err := e.markets[p].outbox.Drain(ctx); err != nil {
			errs = append(errs, fmt.Errorf("pair %s: %w", p, err))
		}
	}
	e.logger.Info("Trading engine stopped")
	return errors.Join(errs...)
}

func (e *Engine) market(pair model.Pair) (*market, error) {
	e.mutex.RLock()
	running := e.isRunning
	e.mutex.RUnlock()
	if !running {
		return nil, ErrEngineNotStarted
	}
	m, ok := e.markets[pair]
	if !ok {
		return nil, model.Reject(model.RejectUnknownPair, "%s", pair)
	}
	return m, nil
}

// mutate runs fn on the pair actor unless the pair is halted.
func (e *Engine) mutate(ctx context.Context, pair model.Pair, fn func(m *market) error) error {
	m, err := e.market(pair)
	if err != nil {
		return err
	}
	var out error
	err = m.do(ctx, func(m *market) {
		if m.haltErr != nil {
			out = m.haltErr
			return
		}
		out = fn(m)
	})
	if err != nil {
		return err
	}
	return out
}

// Submit admits an order and matches it. A rejection is returned as a
// *model.Rejection; a self-cross refusal also returns the rejected order.
func (e *Engine) Submit(ctx context.Context, req *model.OrderRequest) (*SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "tradingcore.submit", trace.WithAttributes(
		attribute.String("pair", req.Pair.String()),
		attribute.String("type", string(req.Type)),
		attribute.String("side", string(req.Side)),
	))
	defer span.End()

	r := *req
	var res *SubmitResult
	err := e.mutate(ctx, req.Pair, func(m *market) error {
		var err error
		res, err = m.submit(ctx, &r)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(
		attribute.String("order_id", res.Order.ID),
		attribute.Int("fills", len(res.Fills)),
	)
	return res, nil
}

// Cancel cancels a live order of pair.
func (e *Engine) Cancel(ctx context.Context, pair model.Pair, orderID string) error {
	return e.mutate(ctx, pair, func(m *market) error {
		return m.cancel(orderID)
	})
}

// CancelAll empties both ladders of pair and returns how many orders were
// cancelled.
func (e *Engine) CancelAll(ctx context.Context, pair model.Pair) (int, error) {
	var n int
	err := e.mutate(ctx, pair, func(m *market) error {
		n = m.drain(events.ReasonAdminCancel)
		return nil
	})
	return n, err
}

// GetOrder returns a copy of a live or recently terminal order.
func (e *Engine) GetOrder(ctx context.Context, pair model.Pair, orderID string) (*model.Order, error) {
	m, err := e.market(pair)
	if err != nil {
		return nil, err
	}
	var o *model.Order
	err = m.do(ctx, func(m *market) {
		if found, ok := m.lookup(orderID); ok {
			o = found.Clone()
		}
	})
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, model.Reject(model.RejectUnknownOrder, "order %s", orderID)
	}
	return o, nil
}

// SnapshotDepth returns the latest published depth of pair without going
// through the actor.
func (e *Engine) SnapshotDepth(pair model.Pair, levels int) (orderbook.Depth, error) {
	m, ok := e.markets[pair]
	if !ok {
		return orderbook.Depth{}, model.Reject(model.RejectUnknownPair, "%s", pair)
	}
	d, ok := m.depth.Load(levels)
	if !ok {
		return orderbook.Depth{Pair: pair}, nil
	}
	return d, nil
}

// SnapshotBook lists resting and parked orders of pair.
func (e *Engine) SnapshotBook(ctx context.Context, pair model.Pair) (*BookSnapshot, error) {
	m, err := e.market(pair)
	if err != nil {
		return nil, err
	}
	var snap *BookSnapshot
	err = m.do(ctx, func(m *market) {
		snap = m.snapshot()
	})
	return snap, err
}

// SetAlgorithm switches the matching algorithm of pair for future passes.
func (e *Engine) SetAlgorithm(ctx context.Context, pair model.Pair, algo model.Algorithm) error {
	if !algo.Valid() {
		return fmt.Errorf("invalid algorithm %q", algo)
	}
	return e.mutate(ctx, pair, func(m *market) error {
		m.setAlgorithm(algo)
		return nil
	})
}

// ForceOpenBreaker suspends pair until ForceCloseBreaker.
func (e *Engine) ForceOpenBreaker(ctx context.Context, pair model.Pair, reason string) error {
	return e.mutate(ctx, pair, func(m *market) error {
		m.forceOpen(reason)
		return nil
	})
}

// ForceCloseBreaker resumes trading on pair.
func (e *Engine) ForceCloseBreaker(ctx context.Context, pair model.Pair) error {
	return e.mutate(ctx, pair, func(m *market) error {
		m.forceClose()
		return nil
	})
}

// BreakerState returns the published breaker state of pair.
func (e *Engine) BreakerState(pair model.Pair) (breaker.Status, error) {
	m, ok := e.markets[pair]
	if !ok {
		return breaker.Status{}, model.Reject(model.RejectUnknownPair, "%s", pair)
	}
	return m.breaker.Status(), nil
}

// Tick runs the expiry sweep and breaker cooldown check on every pair now
// instead of waiting for the ticker.
func (e *Engine) Tick(ctx context.Context) error {
	for _, p := range e.pairs {
		if err := e.mutate(ctx, p, func(m *market) error {
			m.tick()
			return nil
		}); err != nil && !errors.Is(err, ErrIntegrity) && !errors.Is(err, ErrSystemFailure) {
			return err
		}
	}
	return nil
}

// Flush waits until every event emitted so far was audited and published.
func (e *Engine) Flush(ctx context.Context) error {
	for _, p := range e.pairs {
		if err := e.markets[p].outbox.Flush(ctx); err != nil {
			return fmt.Errorf("flush %s: %w", p, err)
		}
	}
	return nil
}

// Pairs lists the configured pairs.
func (e *Engine) Pairs() []model.Pair {
	return append([]model.Pair(nil), e.pairs...)
}

// Fees exposes the fee engine for discount management.
func (e *Engine) Fees() *FeeEngine {
	return e.fees
}

// VerifyRange checks the audit chain of tenant.
func (e *Engine) VerifyRange(ctx context.Context, tenant string, from, to uint64) (auditlog.Report, error) {
	return e.deps.Sink.VerifyRange(ctx, tenant, from, to)
}

func (m *market) snapshot() *BookSnapshot {
	snap := &BookSnapshot{
		Pair:      m.pair,
		Algorithm: m.algorithm,
		Sequence:  m.eventSeq,
		Breaker:   m.breaker.Status(),
	}
	for _, o := range m.book.Orders() {
		snap.Resting = append(snap.Resting, o.Header())
	}
	for _, o := range m.monitor.ParkedOrders() {
		snap.Parked = append(snap.Parked, o.Header())
	}
	return snap
}
