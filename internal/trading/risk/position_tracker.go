package risk

import (
	"context"
	"sync"

	"github.com/pincex/tradingcore/internal/trading/events"
	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
)

type accountPair struct {
	account string
	pair    model.Pair
}

// PositionTracker keeps the net base position of every account per pair,
// built from published fills. It is an events.Publisher so it can sit next
// to the settlement transport.
type PositionTracker struct {
	mu        sync.RWMutex
	positions map[accountPair]decimal.Decimal
}

func NewPositionTracker() *PositionTracker {
	return &PositionTracker{positions: make(map[accountPair]decimal.Decimal)}
}

// Publish applies the fills of batch. Other events are ignored.
func (pt *PositionTracker) Publish(_ context.Context, batch []events.Event) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for i := range batch {
		ev := &batch[i]
		if ev.Type != events.TypeFill || ev.Fill == nil {
			continue
		}
		f := ev.Fill
		buyer, seller := f.TakerAccountID, f.MakerAccountID
		if f.TakerSide == model.SideSell {
			buyer, seller = seller, buyer
		}
		pt.add(buyer, f.Pair, f.Quantity)
		pt.add(seller, f.Pair, f.Quantity.Neg())
	}
	return nil
}

func (pt *PositionTracker) add(account string, pair model.Pair, delta decimal.Decimal) {
	key := accountPair{account, pair}
	pt.positions[key] = pt.positions[key].Add(delta)
}

// Position returns the net base position, positive when long.
func (pt *PositionTracker) Position(accountID string, pair model.Pair) decimal.Decimal {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.positions[accountPair{accountID, pair}]
}

var _ events.Publisher = (*PositionTracker)(nil)
