// Package trigger holds the special-order state of one pair: parked stop
// variants, trailing peaks, OCO groups and iceberg parents.
//
// A Monitor is owned by its pair actor and is not safe for concurrent use.
// It never touches the book; it tells the caller which orders fired and
// builds iceberg slices, and the caller routes them through matching.
package trigger

import (
	"errors"
	"fmt"

	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
	"go.uber.org/zap"
)

var (
	ErrAlreadyParked = errors.New("order already parked")
	ErrNotParkable   = errors.New("order type cannot be parked")
	ErrUnknownGroup  = errors.New("unknown order group")
)

// Monitor tracks the special orders of one pair.
type Monitor struct {
	pair      model.Pair
	priceTick decimal.Decimal
	logger    *zap.Logger

	parked     *btree.BTreeG[*model.Order] // admission sequence order
	parkedByID map[string]*model.Order

	ocoGroups  map[string]*OCOGroup // by parent id
	ocoByLeg   map[string]string    // leg id -> parent id
	icebergs   map[string]*IcebergState
	sliceOwner map[string]string // slice id -> parent id
}

// NewMonitor creates an empty Monitor for pair.
func NewMonitor(pair model.Pair, priceTick decimal.Decimal, logger *zap.Logger) *Monitor {
	return &Monitor{
		pair:      pair,
		priceTick: priceTick,
		logger:    logger.With(zap.String("pair", pair.String())),
		parked: btree.NewBTreeGOptions(func(a, b *model.Order) bool {
			if a.Sequence != b.Sequence {
				return a.Sequence < b.Sequence
			}
			return a.ID < b.ID
		}, btree.Options{NoLocks: true}),
		parkedByID: make(map[string]*model.Order),
		ocoGroups:  make(map[string]*OCOGroup),
		ocoByLeg:   make(map[string]string),
		icebergs:   make(map[string]*IcebergState),
		sliceOwner: make(map[string]string),
	}
}

// Park holds a stop variant off-book until its trigger fires.
func (m *Monitor) Park(order *model.Order) error {
	if !order.Type.IsStopVariant() {
		return fmt.Errorf("%w: %s is %s", ErrNotParkable, order.ID, order.Type)
	}
	if _, ok := m.parkedByID[order.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyParked, order.ID)
	}
	order.Status = model.OrderStatusPending
	if order.Type == model.OrderTypeTrailingStop && order.PeakPrice.IsPositive() && order.StopPrice.IsZero() {
		order.StopPrice = TrailingStopPrice(order, m.priceTick)
	}
	m.parked.Set(order)
	m.parkedByID[order.ID] = order
	m.logger.Debug("Parked order",
		zap.String("order_id", order.ID),
		zap.String("type", string(order.Type)),
		zap.String("stop_price", order.StopPrice.String()))
	return nil
}

// Unpark removes an order from the parked set. Status is left to the caller.
func (m *Monitor) Unpark(orderID string) (*model.Order, bool) {
	order, ok := m.parkedByID[orderID]
	if !ok {
		return nil, false
	}
	m.parked.Delete(order)
	delete(m.parkedByID, orderID)
	return order, true
}

// IsParked reports whether the order awaits a trigger.
func (m *Monitor) IsParked(orderID string) bool {
	_, ok := m.parkedByID[orderID]
	return ok
}

// Parked returns a parked order by id.
func (m *Monitor) Parked(orderID string) (*model.Order, bool) {
	o, ok := m.parkedByID[orderID]
	return o, ok
}

// ParkedOrders returns parked orders in sequence order.
func (m *Monitor) ParkedOrders() []*model.Order {
	return m.parked.Items()
}

// ParkedCount returns the number of parked orders.
func (m *Monitor) ParkedCount() int {
	return m.parked.Len()
}

// TrackPrice moves trailing peaks for a trade without evaluating triggers.
// Replay uses it to rebuild peaks from the recorded fills.
func (m *Monitor) TrackPrice(price decimal.Decimal) {
	m.parked.Scan(func(o *model.Order) bool {
		if o.Type == model.OrderTypeTrailingStop {
			m.trackPeak(o, price)
		}
		return true
	})
}

// Evaluate runs the trades of one matching pass, in execution order,
// against every parked order and returns the ones that fired, unparked and
// in sequence order. Peaks move with each trade before the trigger check.
func (m *Monitor) Evaluate(prices []decimal.Decimal) []*model.Order {
	if len(prices) == 0 || m.parked.Len() == 0 {
		return nil
	}
	var fired []*model.Order
	m.parked.Scan(func(o *model.Order) bool {
		for _, p := range prices {
			if m.checkTrigger(o, p) {
				fired = append(fired, o)
				break
			}
		}
		return true
	})
	for _, o := range fired {
		m.parked.Delete(o)
		delete(m.parkedByID, o.ID)
		m.logger.Debug("Stop triggered",
			zap.String("order_id", o.ID),
			zap.String("type", string(o.Type)),
			zap.String("stop_price", o.StopPrice.String()))
	}
	return fired
}
