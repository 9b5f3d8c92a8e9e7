package breaker

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one execution seen by the volatility window.
type Trade struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
	At    time.Time       `json:"at"`
}

// Window is a bounded ring of the most recent trades. When maxAge is set,
// trades older than maxAge relative to the newest one are dropped too.
type Window struct {
	ring   []Trade
	head   int // index of the oldest trade
	count  int
	maxAge time.Duration
}

// NewWindow creates a window holding at most size trades.
func NewWindow(size int, maxAge time.Duration) *Window {
	if size < 2 {
		size = 2
	}
	return &Window{ring: make([]Trade, size), maxAge: maxAge}
}

// Add appends a trade, evicting the oldest when full.
func (w *Window) Add(t Trade) {
	if w.count == len(w.ring) {
		w.head = (w.head + 1) % len(w.ring)
		w.count--
	}
	w.ring[(w.head+w.count)%len(w.ring)] = t
	w.count++
	if w.maxAge > 0 {
		cutoff := t.At.Add(-w.maxAge)
		for w.count > 1 && w.ring[w.head].At.Before(cutoff) {
			w.head = (w.head + 1) % len(w.ring)
			w.count--
		}
	}
}

// Len returns the number of trades held.
func (w *Window) Len() int {
	return w.count
}

// Reset empties the window.
func (w *Window) Reset() {
	w.head, w.count = 0, 0
}

// Trades returns the held trades, oldest first.
func (w *Window) Trades() []Trade {
	out := make([]Trade, w.count)
	for i := 0; i < w.count; i++ {
		out[i] = w.ring[(w.head+i)%len(w.ring)]
	}
	return out
}

// Change returns (last - first) / first over the window. It reports false
// until two trades are held.
func (w *Window) Change() (decimal.Decimal, bool) {
	if w.count < 2 {
		return decimal.Zero, false
	}
	first := w.ring[w.head].Price
	last := w.ring[(w.head+w.count-1)%len(w.ring)].Price
	if first.IsZero() {
		return decimal.Zero, false
	}
	return last.Sub(first).Div(first), true
}
