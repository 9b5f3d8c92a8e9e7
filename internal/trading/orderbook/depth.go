package orderbook

import (
	"time"

	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
)

// MaxDepthLevels caps depth requests.
const MaxDepthLevels = 1000

// DepthLevel is an aggregated price level.
type DepthLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

// Depth is an immutable aggregated view of the top of both ladders.
type Depth struct {
	Pair      model.Pair   `json:"pair"`
	Bids      []DepthLevel `json:"bids"`
	Asks      []DepthLevel `json:"asks"`
	Sequence  uint64       `json:"sequence"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Truncate returns a copy limited to levels per side.
func (d Depth) Truncate(levels int) Depth {
	out := d
	if levels < len(d.Bids) {
		out.Bids = d.Bids[:levels:levels]
	}
	if levels < len(d.Asks) {
		out.Asks = d.Asks[:levels:levels]
	}
	return out
}

// SideDepth aggregates up to levels price levels on side. Only visible
// quantity is counted.
func (ob *OrderBook) SideDepth(side model.Side, levels int) []DepthLevel {
	if levels <= 0 {
		return nil
	}
	if levels > MaxDepthLevels {
		levels = MaxDepthLevels
	}
	out := make([]DepthLevel, 0, levels)
	ob.Levels(side, func(level *PriceLevel) bool {
		out = append(out, DepthLevel{Price: level.Price, Quantity: level.Volume(), Orders: level.Len()})
		return len(out) < levels
	})
	return out
}

// Depth builds a snapshot of both sides.
func (ob *OrderBook) Depth(levels int, seq uint64, at time.Time) Depth {
	return Depth{
		Pair:      ob.Pair,
		Bids:      ob.SideDepth(model.SideBuy, levels),
		Asks:      ob.SideDepth(model.SideSell, levels),
		Sequence:  seq,
		UpdatedAt: at,
	}
}
