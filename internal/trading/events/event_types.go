package events

import (
	"time"

	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
)

// Type names an outbound event.
type Type string

const (
	TypeOrderAccepted       Type = "order_accepted"
	TypeOrderRejected       Type = "order_rejected"
	TypeFill                Type = "fill"
	TypeOrderStatusChanged  Type = "order_status_changed"
	TypeBreakerStateChanged Type = "breaker_state_changed"
	TypeIcebergRefilled     Type = "iceberg_refilled"
)

// Standard event topics
const (
	TopicOrder   = "order"
	TopicTrade   = "trade"
	TopicBreaker = "breaker"
)

// SystemTenant owns pair-level events that belong to no single tenant.
const SystemTenant = "_system"

// Topic returns the topic an event type is published on.
func (t Type) Topic() string {
	switch t {
	case TypeFill:
		return TopicTrade
	case TypeBreakerStateChanged:
		return TopicBreaker
	default:
		return TopicOrder
	}
}

// Event is the envelope for everything the core emits. Exactly one payload
// field is set, matching Type. PairSeq orders events within a pair and is
// what replay merges tenant streams by.
type Event struct {
	Type      Type       `json:"type"`
	Pair      model.Pair `json:"pair"`
	PairSeq   uint64     `json:"pair_seq"`
	TenantID  string     `json:"tenant_id,omitempty"`
	Timestamp time.Time  `json:"timestamp"`

	OrderAccepted   *OrderAccepted       `json:"order_accepted,omitempty"`
	OrderRejected   *OrderRejected       `json:"order_rejected,omitempty"`
	Fill            *model.Fill          `json:"fill,omitempty"`
	StatusChanged   *OrderStatusChanged  `json:"status_changed,omitempty"`
	BreakerChanged  *BreakerStateChanged `json:"breaker_changed,omitempty"`
	IcebergRefilled *IcebergRefilled     `json:"iceberg_refilled,omitempty"`
}

// Tenants returns the audit streams the event belongs to. A fill between
// two tenants lands in both.
func (e *Event) Tenants() []string {
	switch {
	case e.Type == TypeBreakerStateChanged:
		return []string{SystemTenant}
	case e.Type == TypeFill && e.Fill != nil:
		maker, taker := orSystem(e.Fill.MakerTenantID), orSystem(e.Fill.TakerTenantID)
		if maker == taker {
			return []string{maker}
		}
		return []string{taker, maker}
	default:
		return []string{orSystem(e.TenantID)}
	}
}

func orSystem(tenant string) string {
	if tenant == "" {
		return SystemTenant
	}
	return tenant
}

// OrderAccepted is emitted once per admitted order. OCO parents carry their
// legs.
type OrderAccepted struct {
	Order    *model.Order   `json:"order"`
	Legs     []*model.Order `json:"legs,omitempty"`
	Sequence uint64         `json:"sequence"`
}

// OrderRejected is emitted when admission or matching refuses an order.
type OrderRejected struct {
	Request *model.OrderRequest `json:"request,omitempty"`
	OrderID string              `json:"order_id,omitempty"`
	Kind    model.RejectKind    `json:"kind"`
	Detail  string              `json:"detail,omitempty"`
}

// OrderStatusChanged records a lifecycle transition. Activation of a stop
// variant carries the converted type, limit price and fresh sequence.
type OrderStatusChanged struct {
	OrderID  string            `json:"order_id"`
	ParentID string            `json:"parent_id,omitempty"`
	From     model.OrderStatus `json:"from"`
	To       model.OrderStatus `json:"to"`
	Reason   string            `json:"reason,omitempty"`
	Filled   decimal.Decimal   `json:"filled"`

	Activated bool            `json:"activated,omitempty"`
	Type      model.OrderType `json:"order_type,omitempty"`
	Price     decimal.Decimal `json:"price,omitempty"`
	Sequence  uint64          `json:"sequence,omitempty"`
}

// BreakerStateChanged records a breaker transition.
type BreakerStateChanged struct {
	Pair          model.Pair `json:"pair"`
	From          string     `json:"from"`
	To            string     `json:"to"`
	Reason        string     `json:"reason"`
	OpenedAt      time.Time  `json:"opened_at,omitempty"`
	CooldownUntil time.Time  `json:"cooldown_until,omitempty"`
	Forced        bool       `json:"forced,omitempty"`
}

// IcebergRefilled records a new visible slice.
type IcebergRefilled struct {
	ParentID        string          `json:"parent_id"`
	NewVisibleID    string          `json:"new_visible_id"`
	VisibleQuantity decimal.Decimal `json:"visible_quantity"`
	RemainingHidden decimal.Decimal `json:"remaining_hidden"`
}

// Reason strings used on status changes.
const (
	ReasonFilled         = "filled"
	ReasonPartial        = "partial-fill"
	ReasonUserCancel     = "user-cancel"
	ReasonAdminCancel    = "admin-cancel"
	ReasonBreaker        = "breaker"
	ReasonExpired        = "expired"
	ReasonIOCRemainder   = "ioc-remainder"
	ReasonFOKUnfillable  = "fok-unfillable"
	ReasonNoLiquidity    = "no-liquidity"
	ReasonOCOSibling     = "oco-sibling-filled"
	ReasonTriggered      = "triggered"
	ReasonSelfCross      = "self-cross"
	ReasonIcebergParent  = "iceberg-parent-closed"
	ReasonIcebergDrained = "iceberg-slice-closed"
	ReasonGroupCancel    = "group-cancel"
	ReasonPostOnly       = "post-only-would-cross"
)
