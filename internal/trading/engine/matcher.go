package engine

import (
	"github.com/pincex/tradingcore/internal/trading/admission"
	"github.com/pincex/tradingcore/internal/trading/breaker"
	"github.com/pincex/tradingcore/internal/trading/events"
	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/pincex/tradingcore/pkg/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type matchResult struct {
	// selfBlocked is set when crossing liquidity owned by the taker's
	// account was skipped.
	selfBlocked bool
}

// execute runs taker t against the book and settles its remainder. An
// iceberg slice that fills completely is replaced by the next slice, which
// keeps matching.
func (m *market) execute(t *model.Order) {
	if t.TimeInForce == model.TimeInForceFOK {
		if !m.preflightFOK(t) {
			return
		}
		m.allOrNothing = true
		defer m.endAllOrNothing()
	}
	for {
		res := m.match(t)
		if t.Remaining().IsPositive() {
			m.settleTaker(t, res)
			return
		}
		m.closeOrder(t, model.OrderStatusFilled, events.ReasonFilled)
		next := m.afterFilled(t)
		if next == nil {
			return
		}
		if m.halted() {
			m.cancelGroupFor(next, model.OrderStatusCancelled, events.ReasonBreaker)
			return
		}
		t = next
	}
}

// endAllOrNothing applies a breaker trip held back during a FOK pass.
func (m *market) endAllOrNothing() {
	m.allOrNothing = false
	if tr := m.deferredTrip; tr != nil {
		m.deferredTrip = nil
		m.onBreaker(tr)
	}
}

// halted reports whether matching must stop. A FOK taker that passed its
// preflight finishes even if its own fills opened the breaker.
func (m *market) halted() bool {
	return m.breaker.IsOpen() && !m.allOrNothing
}

// preflightFOK refuses t without any fill unless the crossing liquidity of
// other accounts covers it entirely.
func (m *market) preflightFOK(t *model.Order) bool {
	avail, own := m.crossingLiquidity(t)
	if avail.GreaterThanOrEqual(t.Remaining()) {
		return true
	}
	if avail.IsZero() && own.IsPositive() {
		m.refuseSelfCross(t)
		return false
	}
	m.closeTaker(t, model.OrderStatusCancelled, events.ReasonFOKUnfillable)
	return false
}

// crossingLiquidity sums what t could take: avail from other accounts and
// own from t's account. Hidden iceberg quantity counts since it refills at
// the same price during the pass.
func (m *market) crossingLiquidity(t *model.Order) (avail, own decimal.Decimal) {
	avail, own = decimal.Zero, decimal.Zero
	need := t.Remaining()
	var after *decimal.Decimal
	for {
		level := m.book.NextLevel(t.Side.Opposite(), after)
		if level == nil || !t.Crosses(level.Price) {
			return avail, own
		}
		level.Scan(func(o *model.Order) bool {
			qty := o.Remaining().Add(m.hiddenBehind(o))
			if o.AccountID == t.AccountID {
				own = own.Add(qty)
			} else {
				avail = avail.Add(qty)
			}
			return avail.LessThan(need)
		})
		if avail.GreaterThanOrEqual(need) {
			return avail, own
		}
		price := level.Price
		after = &price
	}
}

func (m *market) hiddenBehind(o *model.Order) decimal.Decimal {
	parentID, ok := m.monitor.IcebergParentOf(o.ID)
	if !ok {
		return decimal.Zero
	}
	if p, ok := m.orders[parentID]; ok {
		return p.HiddenRemaining
	}
	return decimal.Zero
}

// match consumes crossing liquidity level by level.
func (m *market) match(t *model.Order) matchResult {
	var res matchResult
	var after *decimal.Decimal
	for t.Remaining().IsPositive() && !m.halted() {
		level := m.book.NextLevel(t.Side.Opposite(), after)
		if level == nil || !t.Crosses(level.Price) {
			break
		}
		price := level.Price
		if m.algorithm == model.AlgorithmProRata {
			m.matchProRata(t, price, &res)
		} else {
			m.matchPriceTime(t, price, &res)
		}
		after = &price
	}
	return res
}

func (m *market) matchPriceTime(t *model.Order, price decimal.Decimal, res *matchResult) {
	opp := t.Side.Opposite()
	for t.Remaining().IsPositive() && !m.halted() {
		level, ok := m.book.Level(opp, price)
		if !ok {
			return
		}
		maker := level.FirstEligible(t.AccountID)
		if maker == nil {
			res.selfBlocked = true
			return
		}
		m.fill(maker, t, decimal.Min(t.Remaining(), maker.Remaining()), price)
	}
}

func (m *market) matchProRata(t *model.Order, price decimal.Decimal, res *matchResult) {
	opp := t.Side.Opposite()
	for t.Remaining().IsPositive() && !m.halted() {
		level, ok := m.book.Level(opp, price)
		if !ok {
			return
		}
		makers := level.Eligible(t.AccountID)
		if len(makers) == 0 {
			res.selfBlocked = true
			return
		}
		allocs := allocateProRata(t.Remaining(), makers, m.cfg.QuantityStep)
		for i, maker := range makers {
			if !allocs[i].IsPositive() || !m.book.Contains(maker.ID) {
				continue
			}
			m.fill(maker, t, allocs[i], price)
			if m.halted() {
				return
			}
		}
	}
}

// allocateProRata splits want across makers in proportion to their
// remaining quantity, floored to step. The rounding residual goes to makers
// in time priority.
func allocateProRata(want decimal.Decimal, makers []*model.Order, step decimal.Decimal) []decimal.Decimal {
	allocs := make([]decimal.Decimal, len(makers))
	total := decimal.Zero
	for _, mk := range makers {
		total = total.Add(mk.Remaining())
	}
	if want.GreaterThanOrEqual(total) {
		for i, mk := range makers {
			allocs[i] = mk.Remaining()
		}
		return allocs
	}
	used := decimal.Zero
	for i, mk := range makers {
		share := admission.AlignQuantity(want.Mul(mk.Remaining()).Div(total), step)
		allocs[i] = decimal.Min(share, mk.Remaining())
		used = used.Add(allocs[i])
	}
	residual := want.Sub(used)
	for i, mk := range makers {
		if !residual.IsPositive() {
			break
		}
		extra := decimal.Min(residual, mk.Remaining().Sub(allocs[i]))
		allocs[i] = allocs[i].Add(extra)
		residual = residual.Sub(extra)
	}
	return allocs
}

// fill executes qty at the maker's price and runs every hook that depends
// on it.
func (m *market) fill(maker, taker *model.Order, qty, price decimal.Decimal) {
	now := m.clock.Now()
	fees := m.fees.Price(maker, taker, qty, price)
	m.tradeSeq++
	f := model.Fill{
		ID:             m.ids.NewOrderID(),
		Pair:           m.pair,
		MakerOrderID:   maker.ID,
		TakerOrderID:   taker.ID,
		MakerAccountID: maker.AccountID,
		TakerAccountID: taker.AccountID,
		MakerTenantID:  maker.TenantID,
		TakerTenantID:  taker.TenantID,
		TakerSide:      taker.Side,
		Quantity:       qty,
		Price:          price,
		MakerFee:       fees.MakerFee,
		TakerFee:       fees.TakerFee,
		Timestamp:      now,
		Sequence:       m.tradeSeq,
	}
	maker.FilledQuantity = maker.FilledQuantity.Add(qty)
	taker.FilledQuantity = taker.FilledQuantity.Add(qty)
	fillCopy := f
	m.emit(events.Event{Type: events.TypeFill, TenantID: taker.TenantID, Fill: &fillCopy})
	m.passFills = append(m.passFills, f)
	m.passTrades = append(m.passTrades, price)
	m.lastPrice, m.hasLast = price, true
	metrics.Fills.WithLabelValues(m.pair.String()).Inc()

	m.progress(maker, qty)
	m.progress(taker, qty)
	if !maker.Remaining().IsPositive() {
		m.closeOrder(maker, model.OrderStatusFilled, events.ReasonFilled)
		if next := m.afterFilled(maker); next != nil {
			if err := m.book.Insert(next); err != nil {
				m.logger.Error("Failed to rest iceberg slice", zap.String("order_id", next.ID), zap.Error(err))
			}
		}
	}

	if tr := m.breaker.Observe(breaker.Trade{Price: price, Size: qty, At: now}); tr != nil {
		if m.allOrNothing {
			m.deferredTrip = tr
			return
		}
		m.onBreaker(tr)
	}
}

// progress moves o and its parent forward after a fill of qty. The first
// fill on an OCO leg cancels its sibling.
func (m *market) progress(o *model.Order, qty decimal.Decimal) {
	m.markFilled(o, events.ReasonPartial)

	if parentID, ok := m.monitor.IcebergParentOf(o.ID); ok {
		if p, ok := m.orders[parentID]; ok {
			p.FilledQuantity = p.FilledQuantity.Add(qty)
			m.markFilled(p, events.ReasonPartial)
		}
	}
	if g, ok := m.monitor.OCOByLeg(o.ID); ok {
		if p, ok := m.orders[g.ParentID]; ok {
			p.FilledQuantity = p.FilledQuantity.Add(qty)
			m.markFilled(p, events.ReasonPartial)
		}
		if sibling, first := m.monitor.ClaimOCO(o.ID); first {
			if s, ok := m.orders[sibling]; ok {
				m.closeOrder(s, model.OrderStatusCancelled, events.ReasonOCOSibling)
			}
		}
	}
}

// markFilled sets FILLED or PARTIALLY_FILLED from the filled quantity.
func (m *market) markFilled(o *model.Order, partialReason string) {
	if !o.Remaining().IsPositive() {
		m.setStatus(o, model.OrderStatusFilled, events.ReasonFilled)
		return
	}
	if o.FilledQuantity.IsPositive() {
		m.setStatus(o, model.OrderStatusPartiallyFilled, partialReason)
	}
}

// afterFilled runs once o is closed as FILLED. For an iceberg slice it
// returns the next slice, or closes the parent when nothing is hidden.
func (m *market) afterFilled(o *model.Order) *model.Order {
	parentID, ok := m.monitor.IcebergParentOf(o.ID)
	if !ok {
		return nil
	}
	parent, ok := m.orders[parentID]
	if !ok {
		return nil
	}
	return m.refill(parent)
}

// refill cuts the next iceberg slice off parent. It closes the parent and
// returns nil once nothing is hidden.
func (m *market) refill(parent *model.Order) *model.Order {
	next, ok, err := m.monitor.NextSlice(parent, m.ids.NewOrderID(), m.clock.Now())
	if err != nil {
		m.logger.Error("Iceberg refill failed", zap.String("order_id", parent.ID), zap.Error(err))
		return nil
	}
	if !ok {
		m.monitor.ReleaseIceberg(parent.ID)
		m.markFilled(parent, events.ReasonPartial)
		status := model.OrderStatusFilled
		if parent.Remaining().IsPositive() {
			status = model.OrderStatusCancelled
		}
		m.closeOrder(parent, status, events.ReasonFilled)
		return nil
	}
	m.orders[next.ID] = next
	m.emit(events.Event{
		Type:     events.TypeIcebergRefilled,
		TenantID: parent.TenantID,
		IcebergRefilled: &events.IcebergRefilled{
			ParentID:        parent.ID,
			NewVisibleID:    next.ID,
			VisibleQuantity: next.Quantity,
			RemainingHidden: parent.HiddenRemaining,
		},
	})
	return next
}

// settleTaker decides what happens to the unfilled part of t.
func (m *market) settleTaker(t *model.Order, res matchResult) {
	if m.halted() {
		m.closeTaker(t, model.OrderStatusCancelled, events.ReasonBreaker)
		return
	}
	canRest := t.Type == model.OrderTypeLimit &&
		(t.TimeInForce == model.TimeInForceGTC || t.TimeInForce == model.TimeInForceGTX)
	if canRest && !m.crossesOpposite(t) {
		if err := m.book.Insert(t); err != nil {
			m.logger.Error("Failed to rest order", zap.String("order_id", t.ID), zap.Error(err))
			m.closeTaker(t, model.OrderStatusCancelled, events.ReasonNoLiquidity)
		}
		return
	}
	if res.selfBlocked && t.FilledQuantity.IsZero() {
		m.refuseSelfCross(t)
		return
	}
	var reason string
	switch {
	case canRest:
		reason = events.ReasonSelfCross
	case t.TimeInForce == model.TimeInForceFOK:
		reason = events.ReasonFOKUnfillable
	case t.Type == model.OrderTypeMarket && t.FilledQuantity.IsZero():
		reason = events.ReasonNoLiquidity
	default:
		reason = events.ReasonIOCRemainder
	}
	m.closeTaker(t, model.OrderStatusCancelled, reason)
}

// refuseSelfCross rejects t whose only crossing liquidity is its own.
func (m *market) refuseSelfCross(t *model.Order) {
	rej := model.Reject(model.RejectSelfCrossRefused, "only liquidity of account %s crosses order %s", t.AccountID, t.ID)
	m.closeTaker(t, model.OrderStatusRejected, events.ReasonSelfCross)
	m.emit(events.Event{
		Type:     events.TypeOrderRejected,
		TenantID: t.TenantID,
		OrderRejected: &events.OrderRejected{
			OrderID: t.ID,
			Kind:    rej.Kind,
			Detail:  rej.Detail,
		},
	})
	metrics.OrdersRejected.WithLabelValues(m.pair.String(), string(rej.Kind)).Inc()
	m.rejection = rej
}

// closeTaker closes a taker that will not rest. An iceberg slice takes its
// parent with it; an OCO leg leaves its sibling alone.
func (m *market) closeTaker(t *model.Order, status model.OrderStatus, reason string) {
	if _, ok := m.monitor.IcebergParentOf(t.ID); ok {
		m.cancelGroupFor(t, status, reason)
		return
	}
	m.closeOrder(t, status, reason)
}

// crossesOpposite reports whether o would trade against the top of the
// opposite side.
func (m *market) crossesOpposite(o *model.Order) bool {
	best, ok := m.book.BestPrice(o.Side.Opposite())
	return ok && o.Crosses(best)
}
