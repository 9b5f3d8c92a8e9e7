package breaker

import (
	"sync/atomic"

	"github.com/pincex/tradingcore/internal/trading/orderbook"
)

// DepthView holds the latest depth snapshot of a pair. The owner publishes
// after each matching pass and readers load without locking.
type DepthView struct {
	snap atomic.Pointer[orderbook.Depth]
}

// Publish replaces the snapshot. d must not be mutated afterwards.
func (v *DepthView) Publish(d orderbook.Depth) {
	v.snap.Store(&d)
}

// Load returns the latest snapshot truncated to levels per side.
func (v *DepthView) Load(levels int) (orderbook.Depth, bool) {
	d := v.snap.Load()
	if d == nil {
		return orderbook.Depth{}, false
	}
	if levels <= 0 {
		return *d, true
	}
	return d.Truncate(levels), true
}
