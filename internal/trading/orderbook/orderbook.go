// Package orderbook implements the per-pair price ladders.
//
// Bids are kept best-first in descending price order, asks in ascending
// order; orders inside a level are kept by admission sequence. The book is
// owned by a single writer (the pair actor) and takes no locks.
package orderbook

import (
	"errors"
	"fmt"

	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

var (
	ErrOrderExists      = errors.New("order already resting")
	ErrOrderNotFound    = errors.New("order not found")
	ErrNothingRemaining = errors.New("order has no remaining quantity")
	ErrWrongPair        = errors.New("order belongs to another pair")
)

// OrderBook holds the bid and ask ladders of one pair.
type OrderBook struct {
	Pair   model.Pair
	bids   *btree.BTreeG[*PriceLevel]
	asks   *btree.BTreeG[*PriceLevel]
	orders map[string]*model.Order
}

// NewOrderBook creates an empty book for pair.
func NewOrderBook(pair model.Pair) *OrderBook {
	opts := btree.Options{NoLocks: true}
	return &OrderBook{
		Pair: pair,
		bids: btree.NewBTreeGOptions(func(a, b *PriceLevel) bool {
			return a.Price.GreaterThan(b.Price)
		}, opts),
		asks: btree.NewBTreeGOptions(func(a, b *PriceLevel) bool {
			return a.Price.LessThan(b.Price)
		}, opts),
		orders: make(map[string]*model.Order),
	}
}

func (ob *OrderBook) ladder(side model.Side) *btree.BTreeG[*PriceLevel] {
	if side == model.SideBuy {
		return ob.bids
	}
	return ob.asks
}

// Insert appends order at its price level.
func (ob *OrderBook) Insert(order *model.Order) error {
	if order.Pair != ob.Pair {
		return fmt.Errorf("%w: %s", ErrWrongPair, order.Pair)
	}
	if _, ok := ob.orders[order.ID]; ok {
		return fmt.Errorf("%w: %s", ErrOrderExists, order.ID)
	}
	if !order.Remaining().IsPositive() {
		return fmt.Errorf("%w: %s", ErrNothingRemaining, order.ID)
	}
	ladder := ob.ladder(order.Side)
	level, ok := ladder.Get(&PriceLevel{Price: order.Price})
	if !ok {
		level = newPriceLevel(order.Price)
		ladder.Set(level)
	}
	level.add(order)
	ob.orders[order.ID] = order
	return nil
}

// Remove takes the order off the book and drops its level when emptied.
func (ob *OrderBook) Remove(orderID string) (*model.Order, error) {
	order, ok := ob.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	ladder := ob.ladder(order.Side)
	if level, ok := ladder.Get(&PriceLevel{Price: order.Price}); ok {
		level.remove(order)
		if level.Len() == 0 {
			ladder.Delete(level)
		}
	}
	delete(ob.orders, orderID)
	return order, nil
}

// Get returns a resting order by id.
func (ob *OrderBook) Get(orderID string) (*model.Order, bool) {
	o, ok := ob.orders[orderID]
	return o, ok
}

// Contains reports whether the order is resting.
func (ob *OrderBook) Contains(orderID string) bool {
	_, ok := ob.orders[orderID]
	return ok
}

// Len returns the number of resting orders.
func (ob *OrderBook) Len() int {
	return len(ob.orders)
}

// Best returns the first order of the top level on side.
func (ob *OrderBook) Best(side model.Side) *model.Order {
	level, ok := ob.ladder(side).Min()
	if !ok {
		return nil
	}
	return level.Head()
}

// BestPrice returns the top price on side.
func (ob *OrderBook) BestPrice(side model.Side) (decimal.Decimal, bool) {
	level, ok := ob.ladder(side).Min()
	if !ok {
		return decimal.Zero, false
	}
	return level.Price, true
}

// Mid returns (best bid + best ask) / 2 when both sides are present.
func (ob *OrderBook) Mid() (decimal.Decimal, bool) {
	bid, okBid := ob.BestPrice(model.SideBuy)
	ask, okAsk := ob.BestPrice(model.SideSell)
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// Crossed reports whether best bid >= best ask.
func (ob *OrderBook) Crossed() bool {
	bid, okBid := ob.BestPrice(model.SideBuy)
	ask, okAsk := ob.BestPrice(model.SideSell)
	return okBid && okAsk && bid.GreaterThanOrEqual(ask)
}

// Level returns the level at price on side.
func (ob *OrderBook) Level(side model.Side, price decimal.Decimal) (*PriceLevel, bool) {
	return ob.ladder(side).Get(&PriceLevel{Price: price})
}

// NextLevel returns the best level on side strictly worse than after, or
// the top level when after is nil.
func (ob *OrderBook) NextLevel(side model.Side, after *decimal.Decimal) *PriceLevel {
	ladder := ob.ladder(side)
	if after == nil {
		level, _ := ladder.Min()
		return level
	}
	var next *PriceLevel
	ladder.Ascend(&PriceLevel{Price: *after}, func(level *PriceLevel) bool {
		if level.Price.Equal(*after) {
			return true
		}
		next = level
		return false
	})
	return next
}

// Levels walks levels on side best-first until fn returns false. fn must not
// mutate the book.
func (ob *OrderBook) Levels(side model.Side, fn func(level *PriceLevel) bool) {
	ob.ladder(side).Scan(fn)
}

// Orders returns every resting order, bids best-first then asks best-first.
func (ob *OrderBook) Orders() []*model.Order {
	out := make([]*model.Order, 0, len(ob.orders))
	for _, side := range []model.Side{model.SideBuy, model.SideSell} {
		ob.Levels(side, func(level *PriceLevel) bool {
			out = append(out, level.Orders()...)
			return true
		})
	}
	return out
}

// CancelAll drains both ladders and returns the removed orders. Status
// changes are left to the caller.
func (ob *OrderBook) CancelAll() []*model.Order {
	drained := ob.Orders()
	ob.bids.Clear()
	ob.asks.Clear()
	ob.orders = make(map[string]*model.Order)
	return drained
}
