package orderbook

import (
	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// PriceLevel holds all resting orders at one price, ordered by admission
// sequence. An iceberg slice inheriting an older sequence lands ahead of
// younger orders.
type PriceLevel struct {
	Price  decimal.Decimal
	orders *btree.BTreeG[*model.Order]
}

func bySequence(a, b *model.Order) bool {
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	return a.ID < b.ID
}

func newPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{
		Price:  price,
		orders: btree.NewBTreeGOptions(bySequence, btree.Options{NoLocks: true}),
	}
}

// Len returns the number of orders at the level.
func (pl *PriceLevel) Len() int {
	return pl.orders.Len()
}

// Head returns the order with time priority.
func (pl *PriceLevel) Head() *model.Order {
	o, _ := pl.orders.Min()
	return o
}

// FirstEligible returns the oldest order not owned by account.
func (pl *PriceLevel) FirstEligible(account string) *model.Order {
	var found *model.Order
	pl.orders.Scan(func(o *model.Order) bool {
		if o.AccountID != account {
			found = o
			return false
		}
		return true
	})
	return found
}

// Eligible returns, in sequence order, the orders not owned by account.
func (pl *PriceLevel) Eligible(account string) []*model.Order {
	out := make([]*model.Order, 0, pl.orders.Len())
	pl.orders.Scan(func(o *model.Order) bool {
		if o.AccountID != account {
			out = append(out, o)
		}
		return true
	})
	return out
}

// Orders returns the orders in sequence order.
func (pl *PriceLevel) Orders() []*model.Order {
	return pl.orders.Items()
}

// Scan walks orders in sequence order until fn returns false.
func (pl *PriceLevel) Scan(fn func(o *model.Order) bool) {
	pl.orders.Scan(fn)
}

// Volume sums the visible remaining quantity.
func (pl *PriceLevel) Volume() decimal.Decimal {
	total := decimal.Zero
	pl.orders.Scan(func(o *model.Order) bool {
		total = total.Add(o.Remaining())
		return true
	})
	return total
}

func (pl *PriceLevel) add(o *model.Order) {
	pl.orders.Set(o)
}

func (pl *PriceLevel) remove(o *model.Order) bool {
	_, ok := pl.orders.Delete(o)
	return ok
}
