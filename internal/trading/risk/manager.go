package risk

import (
	"context"
	"fmt"

	"github.com/pincex/tradingcore/internal/trading/admission"
	"github.com/pincex/tradingcore/internal/trading/model"
	"go.uber.org/zap"
)

// Manager is the pre-trade risk check handed to the engine. Positions lag
// the book by the outbox drain; resting orders do not count toward the
// position limit.
type Manager struct {
	cfg       *Config
	positions *PositionTracker
	logger    *zap.Logger
}

func NewManager(cfg *Config, positions *PositionTracker, logger *zap.Logger) *Manager {
	return &Manager{cfg: cfg, positions: positions, logger: logger.Named("risk")}
}

// Check enforces order size, order notional and position limits for
// non-exempt accounts.
func (m *Manager) Check(_ context.Context, req admission.RiskRequest) (admission.RiskDecision, error) {
	if m.cfg.IsExempt(req.AccountID) {
		return admission.RiskDecision{Approved: true}, nil
	}
	if max := m.cfg.MaxOrderQuantity; max.IsPositive() && req.Quantity.GreaterThan(max) {
		return m.deny(req, fmt.Sprintf("quantity %s above limit %s", req.Quantity, max)), nil
	}
	if max := m.cfg.MaxOrderNotional; max.IsPositive() && req.Notional.GreaterThan(max) {
		return m.deny(req, fmt.Sprintf("notional %s above limit %s", req.Notional, max)), nil
	}
	if max, ok := m.cfg.PositionLimit(req.Pair); ok && m.positions != nil {
		delta := req.Quantity
		if req.Side == model.SideSell {
			delta = delta.Neg()
		}
		after := m.positions.Position(req.AccountID, req.Pair).Add(delta)
		if after.Abs().GreaterThan(max) {
			return m.deny(req, fmt.Sprintf("position %s would exceed limit %s", after, max)), nil
		}
	}
	return admission.RiskDecision{Approved: true}, nil
}

func (m *Manager) deny(req admission.RiskRequest, reason string) admission.RiskDecision {
	m.logger.Debug("Risk check denied order",
		zap.String("account_id", req.AccountID),
		zap.String("pair", req.Pair.String()),
		zap.String("reason", reason))
	return admission.RiskDecision{Approved: false, Reason: reason}
}

var _ admission.RiskChecker = (*Manager)(nil)
