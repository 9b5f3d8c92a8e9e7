package engine

import (
	"context"
	"errors"
	"time"

	"github.com/pincex/tradingcore/internal/trading/events"
	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/pincex/tradingcore/pkg/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SubmitResult is what a successful submit returns to the caller.
type SubmitResult struct {
	Order *model.Order   `json:"order"`
	Legs  []*model.Order `json:"legs,omitempty"`
	// Fills executed by the order itself, in execution order. Fills of
	// stops it triggered are only published as events.
	Fills []model.Fill `json:"fills,omitempty"`
}

// submit admits req and runs it through matching. The returned order is a
// snapshot taken when its own pass ended.
func (m *market) submit(ctx context.Context, req *model.OrderRequest) (*SubmitResult, error) {
	if m.haltErr != nil {
		return nil, m.haltErr
	}
	if m.breaker.IsOpen() {
		return nil, m.refuse(req, model.Reject(model.RejectBreakerOpen, "trading on %s is suspended", m.pair), true)
	}
	if m.outbox.Overloaded() {
		return nil, m.refuse(req, model.Reject(model.RejectOverloaded, "audit backlog of %d events", m.outbox.Len()), false)
	}
	if req.TimeInForce == model.TimeInForceGTX && req.Type == model.OrderTypeLimit {
		if rej := m.admitter.Validate(req); rej == nil {
			if best, ok := m.book.BestPrice(req.Side.Opposite()); ok && crosses(req.Side, req.Price, best) {
				return nil, m.refuse(req, model.Reject(model.RejectPostOnlyWouldCross,
					"limit %s crosses best %s", req.Price, best), true)
			}
		}
	}

	start := time.Now()
	adm, err := m.admitter.Admit(ctx, req, m.view())
	if err != nil {
		var rej *model.Rejection
		if errors.As(err, &rej) {
			return nil, m.refuse(req, rej, true)
		}
		return nil, err
	}

	order := adm.Order
	legs := make([]*model.Order, len(adm.Legs))
	for i, l := range adm.Legs {
		legs[i] = l.Clone()
	}
	m.emit(events.Event{
		Type:     events.TypeOrderAccepted,
		TenantID: order.TenantID,
		OrderAccepted: &events.OrderAccepted{
			Order:    order.Clone(),
			Legs:     legs,
			Sequence: order.Sequence,
		},
	})
	metrics.OrdersAccepted.WithLabelValues(m.pair.String(), string(order.Type)).Inc()
	m.orders[order.ID] = order

	switch {
	case order.Type.IsStopVariant():
		if err := m.monitor.Park(order); err != nil {
			m.logger.Error("Failed to park order", zap.String("order_id", order.ID), zap.Error(err))
		}
	case order.Type == model.OrderTypeOCO:
		limitLeg, stopLeg := adm.Legs[0], adm.Legs[1]
		m.orders[limitLeg.ID] = limitLeg
		m.orders[stopLeg.ID] = stopLeg
		m.monitor.RegisterOCO(order, limitLeg, stopLeg)
		if err := m.monitor.Park(stopLeg); err != nil {
			m.logger.Error("Failed to park OCO stop leg", zap.String("order_id", stopLeg.ID), zap.Error(err))
		}
		m.execute(limitLeg)
	case order.Type == model.OrderTypeIceberg:
		m.monitor.RegisterIceberg(order)
		if slice := m.refill(order); slice != nil {
			m.execute(slice)
		}
	default:
		m.execute(order)
	}
	metrics.MatchLatency.WithLabelValues(m.pair.String()).Observe(time.Since(start).Seconds())

	res := &SubmitResult{Order: order.Clone()}
	for _, l := range adm.Legs {
		res.Legs = append(res.Legs, l.Clone())
	}
	if len(m.passFills) > 0 {
		res.Fills = append([]model.Fill(nil), m.passFills...)
	}
	if m.rejection != nil {
		return res, m.rejection
	}
	return res, nil
}

// refuse reports a rejected request. Overload refusals are not recorded so
// the backlog does not grow.
func (m *market) refuse(req *model.OrderRequest, rej *model.Rejection, record bool) error {
	metrics.OrdersRejected.WithLabelValues(m.pair.String(), string(rej.Kind)).Inc()
	m.logger.Debug("Order rejected",
		zap.String("account_id", req.AccountID),
		zap.String("tenant_id", req.TenantID),
		zap.String("kind", string(rej.Kind)),
		zap.String("detail", rej.Detail))
	if record {
		r := *req
		r.Legs = append([]model.LegRequest(nil), req.Legs...)
		m.emit(events.Event{
			Type:     events.TypeOrderRejected,
			TenantID: req.TenantID,
			OrderRejected: &events.OrderRejected{
				Request: &r,
				Kind:    rej.Kind,
				Detail:  rej.Detail,
			},
		})
	}
	return rej
}

func crosses(side model.Side, limit, opposite decimal.Decimal) bool {
	if side == model.SideBuy {
		return limit.GreaterThanOrEqual(opposite)
	}
	return limit.LessThanOrEqual(opposite)
}
