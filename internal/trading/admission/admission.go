// Package admission validates order requests, runs the host risk check and
// assigns ids and per-pair sequence numbers.
package admission

import (
	"context"
	"time"

	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PairRules are the static trading rules of one pair.
type PairRules struct {
	Pair         model.Pair
	PriceTick    decimal.Decimal
	QuantityStep decimal.Decimal
	MaxSlippage  decimal.Decimal // zero disables the market-order guard
}

// MarketView is the read-only market state admission needs.
type MarketView interface {
	Mid() (decimal.Decimal, bool)
	LastPrice() (decimal.Decimal, bool)
	// SweepPrice returns the worst opposite price a taker on side would
	// reach to fill qty, or the deepest price if liquidity runs out.
	SweepPrice(side model.Side, qty decimal.Decimal) (decimal.Decimal, bool)
}

// Admission is an accepted order and, for OCO, its two legs
// (limit leg first).
type Admission struct {
	Order *model.Order
	Legs  []*model.Order
}

// Admitter turns requests into sequenced orders for one pair.
type Admitter struct {
	rules  PairRules
	risk   RiskChecker
	oracle PriceOracle
	clock  Clock
	ids    IDGenerator
	seq    *Sequencer
	logger *zap.Logger
}

// New creates an Admitter. oracle may be nil.
func New(rules PairRules, risk RiskChecker, oracle PriceOracle, clock Clock, ids IDGenerator, logger *zap.Logger) *Admitter {
	if risk == nil {
		risk = ApproveAll
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return &Admitter{
		rules:  rules,
		risk:   risk,
		oracle: oracle,
		clock:  clock,
		ids:    ids,
		seq:    NewSequencer(0),
		logger: logger.With(zap.String("pair", rules.Pair.String())),
	}
}

// Rules returns the pair rules.
func (a *Admitter) Rules() PairRules {
	return a.rules
}

// Sequencer exposes the pair sequencer for replay.
func (a *Admitter) Sequencer() *Sequencer {
	return a.seq
}

// Admit validates req, applies the slippage guard and the risk check, and
// returns the sequenced order.
func (a *Admitter) Admit(ctx context.Context, req *model.OrderRequest, view MarketView) (*Admission, error) {
	normalize(req)
	if rej := a.Validate(req); rej != nil {
		return nil, rej
	}
	if req.Type == model.OrderTypeMarket {
		if rej := a.checkSlippage(ctx, req, view); rej != nil {
			return nil, rej
		}
	}
	notional := a.referenceNotional(ctx, req, view)
	decision, err := a.risk.Check(ctx, RiskRequest{
		AccountID: req.AccountID,
		TenantID:  req.TenantID,
		Pair:      req.Pair,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Notional:  notional,
	})
	if err != nil {
		a.logger.Warn("Risk check failed", zap.String("account_id", req.AccountID), zap.Error(err))
		return nil, model.Reject(model.RejectRiskExceeded, "risk check unavailable: %v", err)
	}
	if !decision.Approved {
		return nil, model.Reject(model.RejectRiskExceeded, "%s", decision.Reason)
	}
	return a.build(req, view), nil
}

// Reactivate converts a triggered stop variant into the order it becomes
// and gives it a fresh sequence. Risk is not re-checked.
func (a *Admitter) Reactivate(o *model.Order) {
	switch o.Type {
	case model.OrderTypeStopLimit:
		o.Type = model.OrderTypeLimit
	default:
		o.Type = model.OrderTypeMarket
		o.Price = decimal.Zero
	}
	o.Activated = true
	o.Sequence = a.seq.Next()
	o.Status = model.OrderStatusActive
	o.UpdatedAt = a.clock.Now()
}

// NewID mints an order id.
func (a *Admitter) NewID() string {
	return a.ids.NewOrderID()
}

func normalize(req *model.OrderRequest) {
	if req.TimeInForce == "" {
		if req.Type == model.OrderTypeMarket || req.Type == model.OrderTypeStop || req.Type == model.OrderTypeTrailingStop {
			req.TimeInForce = model.TimeInForceIOC
		} else {
			req.TimeInForce = model.TimeInForceGTC
		}
	}
}

func (a *Admitter) build(req *model.OrderRequest, view MarketView) *Admission {
	now := a.clock.Now()
	seq := a.seq.Next()
	order := &model.Order{
		ID:             a.ids.NewOrderID(),
		AccountID:      req.AccountID,
		TenantID:       req.TenantID,
		Pair:           req.Pair,
		Side:           req.Side,
		Type:           req.Type,
		TimeInForce:    req.TimeInForce,
		Quantity:       req.Quantity,
		Price:          req.Price,
		StopPrice:      req.StopPrice,
		TrailingOffset: req.TrailingOffset,
		CallbackRate:   req.CallbackRate,
		VisibleSize:    req.VisibleSize,
		MakerFeeRate:   req.MakerFeeRate,
		TakerFeeRate:   req.TakerFeeRate,
		Sequence:       seq,
		Status:         model.OrderStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      req.ExpiresAt,
	}
	adm := &Admission{Order: order}

	switch req.Type {
	case model.OrderTypeStop, model.OrderTypeStopLimit:
		order.Status = model.OrderStatusPending
	case model.OrderTypeTrailingStop:
		order.Status = model.OrderStatusPending
		if last, ok := view.LastPrice(); ok {
			order.PeakPrice = last
		}
	case model.OrderTypeIceberg:
		order.HiddenRemaining = req.Quantity
	case model.OrderTypeOCO:
		limitReq, stopReq := splitLegs(req.Legs)
		limitLeg := a.leg(order, limitReq, now)
		stopLeg := a.leg(order, stopReq, now)
		stopLeg.Status = model.OrderStatusPending
		limitLeg.OCOSiblingID = stopLeg.ID
		stopLeg.OCOSiblingID = limitLeg.ID
		order.LegIDs = []string{limitLeg.ID, stopLeg.ID}
		adm.Legs = []*model.Order{limitLeg, stopLeg}
	}
	return adm
}

func (a *Admitter) leg(parent *model.Order, req model.LegRequest, now time.Time) *model.Order {
	return &model.Order{
		ID:           a.ids.NewOrderID(),
		AccountID:    parent.AccountID,
		TenantID:     parent.TenantID,
		Pair:         parent.Pair,
		Side:         parent.Side,
		Type:         req.Type,
		TimeInForce:  parent.TimeInForce,
		Quantity:     parent.Quantity,
		Price:        req.Price,
		StopPrice:    req.StopPrice,
		MakerFeeRate: parent.MakerFeeRate,
		TakerFeeRate: parent.TakerFeeRate,
		ParentID:     parent.ID,
		Sequence:     parent.Sequence,
		Status:       model.OrderStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    parent.ExpiresAt,
	}
}

// splitLegs returns the limit leg and the stop leg. Callers validate first.
func splitLegs(legs []model.LegRequest) (limit, stop model.LegRequest) {
	for _, l := range legs {
		if l.Type == model.OrderTypeLimit {
			limit = l
		} else {
			stop = l
		}
	}
	return limit, stop
}

func (a *Admitter) checkSlippage(ctx context.Context, req *model.OrderRequest, view MarketView) *model.Rejection {
	max := a.rules.MaxSlippage
	if !max.IsPositive() {
		return nil
	}
	ref := req.Price
	if !ref.IsPositive() {
		var ok bool
		if ref, ok = view.SweepPrice(req.Side, req.Quantity); !ok {
			return nil
		}
	}
	mid, ok := a.referenceMid(ctx, view)
	if !ok || !mid.IsPositive() {
		return nil
	}
	deviation := ref.Sub(mid).Abs().Div(mid)
	if deviation.GreaterThan(max) {
		return model.Reject(model.RejectSlippageGuard, "deviation %s exceeds %s (ref %s, mid %s)",
			deviation.StringFixed(6), max.String(), ref.String(), mid.String())
	}
	return nil
}

// referenceMid prefers the book mid, then the last trade, then the oracle.
func (a *Admitter) referenceMid(ctx context.Context, view MarketView) (decimal.Decimal, bool) {
	if mid, ok := view.Mid(); ok {
		return mid, true
	}
	if last, ok := view.LastPrice(); ok {
		return last, true
	}
	if a.oracle != nil {
		return a.oracle.Mid(ctx, a.rules.Pair)
	}
	return decimal.Zero, false
}

func (a *Admitter) referenceNotional(ctx context.Context, req *model.OrderRequest, view MarketView) decimal.Decimal {
	var price decimal.Decimal
	switch req.Type {
	case model.OrderTypeLimit, model.OrderTypeIceberg, model.OrderTypeStopLimit:
		price = req.Price
	case model.OrderTypeStop:
		price = req.StopPrice
	case model.OrderTypeOCO:
		for _, l := range req.Legs {
			price = decimal.Max(price, l.Price, l.StopPrice)
		}
	default:
		price = req.Price
		if !price.IsPositive() {
			if p, ok := view.SweepPrice(req.Side, req.Quantity); ok {
				price = p
			} else if p, ok := a.referenceMid(ctx, view); ok {
				price = p
			}
		}
	}
	return req.Quantity.Mul(price)
}
