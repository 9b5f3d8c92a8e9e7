package admission

import (
	"time"

	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
)

// Validate applies the static admission rules to req. It does not consult
// market state or the risk checker.
func (a *Admitter) Validate(req *model.OrderRequest) *model.Rejection {
	if req.Pair != a.rules.Pair {
		return model.Reject(model.RejectUnknownPair, "%s", req.Pair)
	}
	if req.AccountID == "" {
		return model.Reject(model.RejectInvalidOrder, "missing account")
	}
	if !req.Side.Valid() {
		return model.Reject(model.RejectInvalidOrder, "unknown side %q", req.Side)
	}
	if !req.Type.Valid() {
		return model.Reject(model.RejectInvalidOrder, "unknown order type %q", req.Type)
	}
	if !req.TimeInForce.Valid() {
		return model.Reject(model.RejectInvalidOrder, "unknown time in force %q", req.TimeInForce)
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(a.clock.Now()) {
		return model.Reject(model.RejectInvalidOrder, "expiry %s is in the past", req.ExpiresAt.Format(time.RFC3339))
	}
	if !req.Quantity.IsPositive() {
		return model.Reject(model.RejectInvalidQuantity, "quantity must be positive")
	}
	if !aligned(req.Quantity, a.rules.QuantityStep) {
		return model.Reject(model.RejectInvalidQuantity, "quantity %s is not a multiple of %s", req.Quantity, a.rules.QuantityStep)
	}
	if req.TimeInForce == model.TimeInForceGTX && req.Type != model.OrderTypeLimit && req.Type != model.OrderTypeStopLimit {
		return model.Reject(model.RejectInvalidPrice, "post-only requires a limit price")
	}
	if err := a.validateFeeOverrides(req); err != nil {
		return err
	}

	switch req.Type {
	case model.OrderTypeMarket:
		if !req.Price.IsZero() {
			// An explicit price on a market order is the slippage reference.
			if rej := a.checkPrice(req.Price); rej != nil {
				return rej
			}
		}
	case model.OrderTypeLimit:
		return a.checkPrice(req.Price)
	case model.OrderTypeStop:
		return a.checkStop(req.StopPrice)
	case model.OrderTypeStopLimit:
		if rej := a.checkStop(req.StopPrice); rej != nil {
			return rej
		}
		return a.checkPrice(req.Price)
	case model.OrderTypeTrailingStop:
		return validateTrailing(req)
	case model.OrderTypeIceberg:
		if rej := a.checkPrice(req.Price); rej != nil {
			return rej
		}
		return a.validateIceberg(req)
	case model.OrderTypeOCO:
		return a.validateOCO(req)
	}
	return nil
}

func (a *Admitter) checkPrice(price decimal.Decimal) *model.Rejection {
	if !price.IsPositive() {
		return model.Reject(model.RejectInvalidPrice, "price must be positive")
	}
	if !aligned(price, a.rules.PriceTick) {
		return model.Reject(model.RejectInvalidPrice, "price %s is not a multiple of %s", price, a.rules.PriceTick)
	}
	return nil
}

func (a *Admitter) checkStop(stop decimal.Decimal) *model.Rejection {
	if stop.IsZero() {
		return model.Reject(model.RejectMissingStopPrice, "stop price required")
	}
	if stop.IsNegative() {
		return model.Reject(model.RejectInvalidPrice, "stop price must be positive")
	}
	if !aligned(stop, a.rules.PriceTick) {
		return model.Reject(model.RejectInvalidPrice, "stop price %s is not a multiple of %s", stop, a.rules.PriceTick)
	}
	return nil
}

func validateTrailing(req *model.OrderRequest) *model.Rejection {
	hasOffset := !req.TrailingOffset.IsZero()
	hasRate := !req.CallbackRate.IsZero()
	switch {
	case !hasOffset && !hasRate:
		return model.Reject(model.RejectBadTrailing, "trailing offset or callback rate required")
	case req.TrailingOffset.IsNegative():
		return model.Reject(model.RejectBadTrailing, "trailing offset must be positive")
	case req.CallbackRate.IsNegative() || req.CallbackRate.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return model.Reject(model.RejectBadTrailing, "callback rate must be in (0, 1)")
	}
	return nil
}

func (a *Admitter) validateIceberg(req *model.OrderRequest) *model.Rejection {
	switch {
	case !req.VisibleSize.IsPositive():
		return model.Reject(model.RejectBadIceberg, "visible size must be positive")
	case req.VisibleSize.GreaterThanOrEqual(req.Quantity):
		return model.Reject(model.RejectBadIceberg, "visible size %s must be below total %s", req.VisibleSize, req.Quantity)
	case !aligned(req.VisibleSize, a.rules.QuantityStep):
		return model.Reject(model.RejectBadIceberg, "visible size %s is not a multiple of %s", req.VisibleSize, a.rules.QuantityStep)
	case req.TimeInForce != model.TimeInForceGTC:
		return model.Reject(model.RejectBadIceberg, "iceberg orders rest until cancelled")
	}
	return nil
}

func (a *Admitter) validateOCO(req *model.OrderRequest) *model.Rejection {
	if len(req.Legs) != 2 {
		return model.Reject(model.RejectBadOCO, "expected 2 legs, got %d", len(req.Legs))
	}
	if req.TimeInForce != model.TimeInForceGTC {
		return model.Reject(model.RejectBadOCO, "oco legs rest until cancelled")
	}
	var limits, stops int
	for _, leg := range req.Legs {
		switch leg.Type {
		case model.OrderTypeLimit:
			limits++
			if rej := a.checkPrice(leg.Price); rej != nil {
				return model.Reject(model.RejectBadOCO, "limit leg: %s", rej.Detail)
			}
		case model.OrderTypeStop, model.OrderTypeStopLimit:
			stops++
			if rej := a.checkStop(leg.StopPrice); rej != nil {
				return model.Reject(model.RejectBadOCO, "stop leg: %s", rej.Detail)
			}
			if leg.Type == model.OrderTypeStopLimit {
				if rej := a.checkPrice(leg.Price); rej != nil {
					return model.Reject(model.RejectBadOCO, "stop leg: %s", rej.Detail)
				}
			}
		default:
			return model.Reject(model.RejectBadOCO, "unsupported leg type %q", leg.Type)
		}
	}
	if limits != 1 || stops != 1 {
		return model.Reject(model.RejectBadOCO, "need one limit leg and one stop leg")
	}
	return nil
}

func (a *Admitter) validateFeeOverrides(req *model.OrderRequest) *model.Rejection {
	for _, rate := range []decimal.NullDecimal{req.MakerFeeRate, req.TakerFeeRate} {
		if rate.Valid && (rate.Decimal.IsNegative() || rate.Decimal.GreaterThanOrEqual(decimal.NewFromInt(1))) {
			return model.Reject(model.RejectInvalidOrder, "fee rate %s out of range", rate.Decimal)
		}
	}
	return nil
}

// aligned reports whether v is a whole multiple of step. A zero step
// disables the check.
func aligned(v, step decimal.Decimal) bool {
	if !step.IsPositive() {
		return true
	}
	return v.Mod(step).IsZero()
}

// AlignPrice rounds a computed price onto the tick grid, up for buys and
// down for sells.
func AlignPrice(p, tick decimal.Decimal, side model.Side) decimal.Decimal {
	if !tick.IsPositive() {
		return p
	}
	units := p.Div(tick)
	if side == model.SideBuy {
		units = units.Ceil()
	} else {
		units = units.Floor()
	}
	return units.Mul(tick)
}

// AlignQuantity truncates q to the quantity step.
func AlignQuantity(q, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return q
	}
	return q.Div(step).Floor().Mul(step)
}
