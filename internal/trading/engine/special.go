package engine

import (
	"strconv"

	"github.com/pincex/tradingcore/internal/trading/breaker"
	"github.com/pincex/tradingcore/internal/trading/events"
	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/pincex/tradingcore/pkg/metrics"
	"go.uber.org/zap"
)

// cascade feeds the trades of the last pass to the parked orders and runs
// whatever fired, until a pass prints no trade. Once the breaker is open the
// prints only move trailing peaks.
func (m *market) cascade() {
	for len(m.passTrades) > 0 {
		prices := m.passTrades
		m.passTrades = nil
		if m.breaker.IsOpen() {
			for _, p := range prices {
				m.monitor.TrackPrice(p)
			}
			continue
		}
		fired := m.monitor.Evaluate(prices)
		for i, o := range fired {
			if _, live := m.orders[o.ID]; !live {
				continue
			}
			if m.breaker.IsOpen() {
				m.repark(fired[i:])
				break
			}
			m.activate(o)
		}
	}
}

// repark returns fired orders that did not get to run to the parked set.
func (m *market) repark(orders []*model.Order) {
	for _, o := range orders {
		if _, live := m.orders[o.ID]; !live {
			continue
		}
		if err := m.monitor.Park(o); err != nil {
			m.logger.Error("Failed to re-park order", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
}

// activate converts a triggered stop variant and matches it as a new taker.
func (m *market) activate(o *model.Order) {
	from := o.Status
	m.admitter.Reactivate(o)
	m.emit(events.Event{
		Type:     events.TypeOrderStatusChanged,
		TenantID: o.TenantID,
		StatusChanged: &events.OrderStatusChanged{
			OrderID:   o.ID,
			ParentID:  o.ParentID,
			From:      from,
			To:        o.Status,
			Reason:    events.ReasonTriggered,
			Filled:    o.FilledQuantity,
			Activated: true,
			Type:      o.Type,
			Price:     o.Price,
			Sequence:  o.Sequence,
		},
	})
	m.logger.Debug("Stop order activated",
		zap.String("order_id", o.ID),
		zap.String("type", string(o.Type)),
		zap.Uint64("sequence", o.Sequence))

	if o.TimeInForce == model.TimeInForceGTX && m.crossesOpposite(o) {
		m.closeTaker(o, model.OrderStatusCancelled, events.ReasonPostOnly)
		return
	}
	m.execute(o)
}

// onBreaker records a breaker transition and drains the book when it opens.
func (m *market) onBreaker(tr *breaker.Transition) {
	m.emitBreaker(tr)
	if tr.To == breaker.StateOpen && tr.From != breaker.StateOpen {
		metrics.BreakerTrips.WithLabelValues(m.pair.String(), strconv.FormatBool(tr.Status.Forced)).Inc()
		m.drain(events.ReasonBreaker)
	}
}

func (m *market) emitBreaker(tr *breaker.Transition) {
	st := tr.Status
	m.emit(events.Event{
		Type: events.TypeBreakerStateChanged,
		BreakerChanged: &events.BreakerStateChanged{
			Pair:          m.pair,
			From:          string(tr.From),
			To:            string(tr.To),
			Reason:        tr.Reason,
			OpenedAt:      st.OpenedAt,
			CooldownUntil: st.CooldownUntil,
			Forced:        st.Forced,
		},
	})
}

// forceOpen opens the breaker until an admin closes it. Forcing an already
// open breaker is still recorded so a restore sees it as forced.
func (m *market) forceOpen(reason string) {
	if tr := m.breaker.ForceOpen(m.clock.Now(), reason); tr != nil {
		m.onBreaker(tr)
		return
	}
	st := m.breaker.Status()
	m.emitBreaker(&breaker.Transition{
		From:   breaker.StateOpen,
		To:     breaker.StateOpen,
		Reason: st.TriggerReason,
		Status: st,
	})
}

func (m *market) forceClose() {
	if tr := m.breaker.ForceClose(); tr != nil {
		m.onBreaker(tr)
	}
}

func (m *market) setAlgorithm(algo model.Algorithm) {
	if m.algorithm == algo {
		return
	}
	m.logger.Info("Matching algorithm changed",
		zap.String("from", string(m.algorithm)),
		zap.String("to", string(algo)))
	m.algorithm = algo
}
