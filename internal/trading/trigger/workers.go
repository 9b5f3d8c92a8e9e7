package trigger

import (
	"github.com/pincex/tradingcore/internal/trading/admission"
	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// checkTrigger evaluates one trade price against a parked order.
func (m *Monitor) checkTrigger(o *model.Order, price decimal.Decimal) bool {
	if o.Type == model.OrderTypeTrailingStop {
		return m.checkTrailingStopTrigger(o, price)
	}
	return checkPriceTrigger(o.Side, o.StopPrice, price)
}

// checkPriceTrigger fires buys at or above the stop and sells at or below.
func checkPriceTrigger(side model.Side, stop, price decimal.Decimal) bool {
	if !stop.IsPositive() {
		return false
	}
	if side == model.SideBuy {
		return price.GreaterThanOrEqual(stop)
	}
	return price.LessThanOrEqual(stop)
}

func (m *Monitor) checkTrailingStopTrigger(o *model.Order, price decimal.Decimal) bool {
	m.trackPeak(o, price)
	return checkPriceTrigger(o.Side, o.StopPrice, price)
}

// trackPeak moves the peak (sells) or trough (buys) in the favourable
// direction only, and recomputes the stop level from it.
func (m *Monitor) trackPeak(o *model.Order, price decimal.Decimal) {
	switch {
	case o.PeakPrice.IsZero():
		o.PeakPrice = price
	case o.Side == model.SideSell && price.GreaterThan(o.PeakPrice):
		o.PeakPrice = price
	case o.Side == model.SideBuy && price.LessThan(o.PeakPrice):
		o.PeakPrice = price
	default:
		if o.StopPrice.IsPositive() {
			return
		}
	}
	o.StopPrice = TrailingStopPrice(o, m.priceTick)
}

// TrailingStopPrice derives the stop level from the current peak. The
// absolute offset wins when both offset and callback rate are set.
func TrailingStopPrice(o *model.Order, tick decimal.Decimal) decimal.Decimal {
	peak := o.PeakPrice
	var level decimal.Decimal
	if o.Side == model.SideSell {
		if o.TrailingOffset.IsPositive() {
			level = peak.Sub(o.TrailingOffset)
		} else {
			level = peak.Mul(one.Sub(o.CallbackRate))
		}
	} else {
		if o.TrailingOffset.IsPositive() {
			level = peak.Add(o.TrailingOffset)
		} else {
			level = peak.Mul(one.Add(o.CallbackRate))
		}
	}
	return admission.AlignPrice(level, tick, o.Side)
}
