package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

// OrderType classifies how an order is handled by the engine.
type OrderType string

// TimeInForce controls how long an order may stay on the book.
type TimeInForce string

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

// Algorithm selects the allocation rule used at a price level.
type Algorithm string

const (
	// Order sides
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"

	// Order types
	OrderTypeMarket       OrderType = "MARKET"
	OrderTypeLimit        OrderType = "LIMIT"
	OrderTypeStop         OrderType = "STOP"
	OrderTypeStopLimit    OrderType = "STOP_LIMIT"
	OrderTypeOCO          OrderType = "OCO"
	OrderTypeTrailingStop OrderType = "TRAILING_STOP"
	OrderTypeIceberg      OrderType = "ICEBERG"

	// Time in force
	TimeInForceGTC TimeInForce = "GTC" // Good Till Cancelled
	TimeInForceIOC TimeInForce = "IOC" // Immediate Or Cancel
	TimeInForceFOK TimeInForce = "FOK" // Fill Or Kill
	TimeInForceGTX TimeInForce = "GTX" // Good Till Crossing (post-only)

	// Order statuses
	OrderStatusPending         OrderStatus = "PENDING" // parked, waiting for a trigger
	OrderStatusActive          OrderStatus = "ACTIVE"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"

	// Matching algorithms
	AlgorithmPriceTime Algorithm = "ptp"
	AlgorithmProRata   Algorithm = "pro_rata"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit,
		OrderTypeOCO, OrderTypeTrailingStop, OrderTypeIceberg:
		return true
	}
	return false
}

// IsStopVariant reports whether orders of this type wait for a trigger.
func (t OrderType) IsStopVariant() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit || t == OrderTypeTrailingStop
}

// Valid reports whether tif is a known time-in-force.
func (tif TimeInForce) Valid() bool {
	switch tif {
	case TimeInForceGTC, TimeInForceIOC, TimeInForceFOK, TimeInForceGTX:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// IsResting reports whether an order in this status may sit on a book.
func (s OrderStatus) IsResting() bool {
	return s == OrderStatusActive || s == OrderStatusPartiallyFilled
}

// Valid reports whether a is a known matching algorithm.
func (a Algorithm) Valid() bool {
	return a == AlgorithmPriceTime || a == AlgorithmProRata
}

// Pair is an ordered market identified by base and quote currency.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// NewPair builds a Pair with normalized currency codes.
func NewPair(base, quote string) Pair {
	return Pair{Base: strings.ToUpper(strings.TrimSpace(base)), Quote: strings.ToUpper(strings.TrimSpace(quote))}
}

// ParsePair parses "BASE/QUOTE".
func ParsePair(s string) (Pair, error) {
	base, quote, ok := strings.Cut(s, "/")
	if !ok || strings.TrimSpace(base) == "" || strings.TrimSpace(quote) == "" {
		return Pair{}, fmt.Errorf("invalid pair %q: expected BASE/QUOTE", s)
	}
	return NewPair(base, quote), nil
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// IsZero reports whether the pair is unset.
func (p Pair) IsZero() bool {
	return p.Base == "" && p.Quote == ""
}

// Order represents an order owned by a single pair.
//
// Cross references (OCO siblings, iceberg parent and visible child) are ids
// into the owning pair's order table, never pointers.
type Order struct {
	ID          string      `json:"id"`
	AccountID   string      `json:"account_id"`
	TenantID    string      `json:"tenant_id"`
	Pair        Pair        `json:"pair"`
	Side        Side        `json:"side"`
	Type        OrderType   `json:"type"`
	TimeInForce TimeInForce `json:"time_in_force"`

	Quantity       decimal.Decimal `json:"quantity"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`

	Price          decimal.Decimal `json:"price"`
	StopPrice      decimal.Decimal `json:"stop_price,omitempty"`
	TrailingOffset decimal.Decimal `json:"trailing_offset,omitempty"`
	CallbackRate   decimal.Decimal `json:"callback_rate,omitempty"`
	PeakPrice      decimal.Decimal `json:"peak_price,omitempty"` // highest trade for sells, lowest for buys

	VisibleSize      decimal.Decimal `json:"visible_size,omitempty"`
	HiddenRemaining  decimal.Decimal `json:"hidden_remaining,omitempty"`
	ParentID         string          `json:"parent_id,omitempty"`
	CurrentVisibleID string          `json:"current_visible_id,omitempty"`

	OCOSiblingID string   `json:"oco_sibling_id,omitempty"`
	LegIDs       []string `json:"leg_ids,omitempty"`

	MakerFeeRate decimal.NullDecimal `json:"maker_fee_rate"`
	TakerFeeRate decimal.NullDecimal `json:"taker_fee_rate"`

	Sequence  uint64      `json:"sequence"`
	Status    OrderStatus `json:"status"`
	Activated bool        `json:"activated,omitempty"` // stop variant converted after its trigger
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
}

// Remaining returns requested minus filled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// IsBuy reports whether the order buys the base currency.
func (o *Order) IsBuy() bool {
	return o.Side == SideBuy
}

// HasLimit reports whether the order carries a price bound.
func (o *Order) HasLimit() bool {
	return o.Price.IsPositive()
}

// Crosses reports whether a maker resting at price is acceptable to o.
// Orders without a price bound accept any price.
func (o *Order) Crosses(price decimal.Decimal) bool {
	if !o.HasLimit() {
		return true
	}
	if o.IsBuy() {
		return price.LessThanOrEqual(o.Price)
	}
	return price.GreaterThanOrEqual(o.Price)
}

// Clone returns a deep copy safe to hand to other goroutines.
func (o *Order) Clone() *Order {
	c := *o
	if o.LegIDs != nil {
		c.LegIDs = append([]string(nil), o.LegIDs...)
	}
	if o.ExpiresAt != nil {
		t := *o.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

// Header returns the read-only summary used by admin queries.
func (o *Order) Header() OrderHeader {
	return OrderHeader{
		ID:             o.ID,
		AccountID:      o.AccountID,
		TenantID:       o.TenantID,
		Pair:           o.Pair,
		Side:           o.Side,
		Type:           o.Type,
		TimeInForce:    o.TimeInForce,
		Price:          o.Price,
		StopPrice:      o.StopPrice,
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
		Remaining:      o.Remaining(),
		Sequence:       o.Sequence,
		Status:         o.Status,
		ParentID:       o.ParentID,
	}
}

// OrderHeader is a flat snapshot of an order.
type OrderHeader struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	TenantID       string          `json:"tenant_id"`
	Pair           Pair            `json:"pair"`
	Side           Side            `json:"side"`
	Type           OrderType       `json:"type"`
	TimeInForce    TimeInForce     `json:"time_in_force"`
	Price          decimal.Decimal `json:"price"`
	StopPrice      decimal.Decimal `json:"stop_price"`
	Quantity       decimal.Decimal `json:"quantity"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	Remaining      decimal.Decimal `json:"remaining"`
	Sequence       uint64          `json:"sequence"`
	Status         OrderStatus     `json:"status"`
	ParentID       string          `json:"parent_id,omitempty"`
}

// Fill is an immutable execution between a resting maker and an incoming taker.
type Fill struct {
	ID             string          `json:"id"`
	Pair           Pair            `json:"pair"`
	MakerOrderID   string          `json:"maker_order_id"`
	TakerOrderID   string          `json:"taker_order_id"`
	MakerAccountID string          `json:"maker_account_id"`
	TakerAccountID string          `json:"taker_account_id"`
	MakerTenantID  string          `json:"maker_tenant_id"`
	TakerTenantID  string          `json:"taker_tenant_id"`
	TakerSide      Side            `json:"taker_side"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	MakerFee       decimal.Decimal `json:"maker_fee"`
	TakerFee       decimal.Decimal `json:"taker_fee"`
	Timestamp      time.Time       `json:"timestamp"`
	Sequence       uint64          `json:"sequence"`
}

// Notional returns quantity times price.
func (f *Fill) Notional() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}

// LegRequest describes one leg of an OCO request. Legs share the parent's
// side and quantity.
type LegRequest struct {
	Type      OrderType       `json:"type"`
	Price     decimal.Decimal `json:"price"`
	StopPrice decimal.Decimal `json:"stop_price"`
}

// OrderRequest is the admission input.
type OrderRequest struct {
	AccountID   string      `json:"account_id"`
	TenantID    string      `json:"tenant_id"`
	Pair        Pair        `json:"pair"`
	Side        Side        `json:"side"`
	Type        OrderType   `json:"type"`
	TimeInForce TimeInForce `json:"time_in_force"`

	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	StopPrice      decimal.Decimal `json:"stop_price"`
	TrailingOffset decimal.Decimal `json:"trailing_offset"`
	CallbackRate   decimal.Decimal `json:"callback_rate"`
	VisibleSize    decimal.Decimal `json:"visible_size"`
	Legs           []LegRequest    `json:"legs,omitempty"`

	MakerFeeRate decimal.NullDecimal `json:"maker_fee_rate"`
	TakerFeeRate decimal.NullDecimal `json:"taker_fee_rate"`
	ExpiresAt    *time.Time          `json:"expires_at,omitempty"`
}
