package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/pincex/tradingcore/internal/trading/auditlog"
	"github.com/pincex/tradingcore/internal/trading/breaker"
	"github.com/pincex/tradingcore/internal/trading/events"
	"github.com/pincex/tradingcore/internal/trading/model"
	"go.uber.org/zap"
)

// Restore rebuilds every pair from the audit sink. It must run before
// Start. Each tenant chain is verified first; a pair touched by a tenant
// whose chain is broken stays halted with ErrIntegrity.
func (e *Engine) Restore(ctx context.Context) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.started {
		return ErrEngineStarted
	}

	tenants, err := e.deps.Sink.Tenants(ctx)
	if err != nil {
		return fmt.Errorf("list audit tenants: %w", err)
	}
	streams := make(map[model.Pair][]events.Event)
	broken := make(map[model.Pair]error)
	for _, tenant := range tenants {
		rep, err := e.deps.Sink.VerifyRange(ctx, tenant, 0, 0)
		if err != nil {
			return fmt.Errorf("verify tenant %s: %w", tenant, err)
		}
		entries, err := e.deps.Sink.Range(ctx, tenant, 0, 0)
		if err != nil {
			return fmt.Errorf("read tenant %s: %w", tenant, err)
		}
		for _, entry := range entries {
			ev, err := auditlog.Decode(entry)
			if err != nil {
				if rep.OK {
					return err
				}
				continue
			}
			if !rep.OK {
				broken[ev.Pair] = fmt.Errorf("%w: %v", ErrIntegrity, rep.Err())
				continue
			}
			streams[ev.Pair] = append(streams[ev.Pair], ev)
		}
		if !rep.OK {
			e.logger.Error("Audit chain verification failed",
				zap.String("tenant_id", tenant),
				zap.Uint64("broken_at", rep.BrokenAt),
				zap.String("reason", rep.Reason))
		}
	}

	for pair := range streams {
		if _, ok := e.markets[pair]; !ok {
			e.logger.Warn("Audit stream for unconfigured pair ignored", zap.String("pair", pair.String()))
		}
	}
	for _, p := range e.pairs {
		m := e.markets[p]
		if err, ok := broken[p]; ok {
			m.halt(err)
			continue
		}
		applied := m.replay(mergeStream(streams[p]))
		m.logger.Info("Pair restored",
			zap.Int("events", applied),
			zap.Int("resting", m.book.Len()),
			zap.Int("parked", m.monitor.ParkedCount()),
			zap.Uint64("pair_seq", m.eventSeq))
	}
	return nil
}

// mergeStream orders the events of one pair by pair sequence and drops the
// copies a fill leaves in the second tenant's chain.
func mergeStream(evs []events.Event) []events.Event {
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].PairSeq < evs[j].PairSeq })
	out := evs[:0]
	var last uint64
	for i, ev := range evs {
		if i > 0 && ev.PairSeq == last {
			continue
		}
		out = append(out, ev)
		last = ev.PairSeq
	}
	return out
}

// replay applies a merged stream without emitting anything and returns the
// number of events applied.
func (m *market) replay(evs []events.Event) int {
	var maxSeq uint64
	for i := range evs {
		ev := &evs[i]
		switch ev.Type {
		case events.TypeOrderAccepted:
			if seq := m.replayAccepted(ev.OrderAccepted); seq > maxSeq {
				maxSeq = seq
			}
		case events.TypeFill:
			m.replayFill(ev.Fill)
		case events.TypeOrderStatusChanged:
			if seq := m.replayStatus(ev.StatusChanged); seq > maxSeq {
				maxSeq = seq
			}
		case events.TypeBreakerStateChanged:
			m.replayBreaker(ev.BreakerChanged)
		case events.TypeIcebergRefilled:
			m.replayRefill(ev.IcebergRefilled, ev)
		}
		if ev.PairSeq > m.eventSeq {
			m.eventSeq = ev.PairSeq
		}
	}

	live := make([]*model.Order, 0, len(m.orders))
	for _, o := range m.orders {
		live = append(live, o)
	}
	sortBySequence(live)
	for _, o := range live {
		if o.Type != model.OrderTypeLimit || !o.Status.IsResting() || m.monitor.IsParked(o.ID) {
			continue
		}
		if err := m.book.Insert(o); err != nil {
			m.logger.Error("Failed to restore resting order", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	m.admitter.Sequencer().Reset(maxSeq)
	m.publishDepth()
	return len(evs)
}

func (m *market) replayAccepted(acc *events.OrderAccepted) uint64 {
	if acc == nil || acc.Order == nil {
		return 0
	}
	o := acc.Order
	m.orders[o.ID] = o
	switch {
	case o.Type.IsStopVariant():
		m.park(o)
	case o.Type == model.OrderTypeOCO && len(acc.Legs) == 2:
		limitLeg, stopLeg := acc.Legs[0], acc.Legs[1]
		m.orders[limitLeg.ID] = limitLeg
		m.orders[stopLeg.ID] = stopLeg
		m.monitor.RegisterOCO(o, limitLeg, stopLeg)
		m.park(stopLeg)
	case o.Type == model.OrderTypeIceberg:
		m.monitor.RegisterIceberg(o)
	}
	return acc.Sequence
}

func (m *market) park(o *model.Order) {
	if err := m.monitor.Park(o); err != nil {
		m.logger.Error("Failed to restore parked order", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (m *market) replayFill(f *model.Fill) {
	if f == nil {
		return
	}
	for _, id := range []string{f.MakerOrderID, f.TakerOrderID} {
		o, ok := m.orders[id]
		if !ok {
			continue
		}
		o.FilledQuantity = o.FilledQuantity.Add(f.Quantity)
		if parentID, ok := m.monitor.IcebergParentOf(id); ok {
			if p, ok := m.orders[parentID]; ok {
				p.FilledQuantity = p.FilledQuantity.Add(f.Quantity)
			}
		}
		if g, ok := m.monitor.OCOByLeg(id); ok {
			if p, ok := m.orders[g.ParentID]; ok {
				p.FilledQuantity = p.FilledQuantity.Add(f.Quantity)
			}
			m.monitor.ClaimOCO(id)
		}
	}
	m.lastPrice, m.hasLast = f.Price, true
	if f.Sequence > m.tradeSeq {
		m.tradeSeq = f.Sequence
	}
	if !m.breaker.IsOpen() {
		m.breaker.Window().Add(breaker.Trade{Price: f.Price, Size: f.Quantity, At: f.Timestamp})
	}
	m.monitor.TrackPrice(f.Price)
}

func (m *market) replayStatus(sc *events.OrderStatusChanged) uint64 {
	if sc == nil {
		return 0
	}
	o, ok := m.orders[sc.OrderID]
	if !ok {
		return 0
	}
	if sc.Activated {
		m.monitor.Unpark(o.ID)
		o.Type = sc.Type
		o.Price = sc.Price
		o.Sequence = sc.Sequence
		o.Activated = true
		o.Status = sc.To
		return sc.Sequence
	}
	o.Status = sc.To
	if !sc.To.IsTerminal() {
		return 0
	}
	m.monitor.Unpark(o.ID)
	delete(m.orders, o.ID)
	m.terminal.add(o)
	if _, ok := m.monitor.Iceberg(o.ID); ok {
		m.monitor.ReleaseIceberg(o.ID)
	}
	if _, ok := m.monitor.OCO(o.ID); ok {
		if err := m.monitor.ReleaseOCO(o.ID); err != nil {
			m.logger.Warn("Failed to release restored OCO group", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	return 0
}

func (m *market) replayBreaker(bc *events.BreakerStateChanged) {
	if bc == nil {
		return
	}
	st := breaker.Status{State: breaker.State(bc.To), Forced: bc.Forced}
	if st.State == breaker.StateOpen {
		st.OpenedAt = bc.OpenedAt
		st.TriggerReason = bc.Reason
		st.CooldownUntil = bc.CooldownUntil
	}
	m.breaker.Restore(st)
}

func (m *market) replayRefill(r *events.IcebergRefilled, ev *events.Event) {
	if r == nil {
		return
	}
	parent, ok := m.orders[r.ParentID]
	if !ok {
		return
	}
	slice, ok, err := m.monitor.NextSlice(parent, r.NewVisibleID, ev.Timestamp)
	if err != nil || !ok {
		m.logger.Error("Failed to restore iceberg slice",
			zap.String("order_id", r.ParentID),
			zap.String("slice_id", r.NewVisibleID),
			zap.Error(err))
		return
	}
	m.orders[slice.ID] = slice
}
