package trigger

import (
	"testing"
	"time"

	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var pair = model.NewPair("BTC", "USDT")

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func prices(vals ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = d(v)
	}
	return out
}

func stop(id string, side model.Side, typ model.OrderType, stopPrice string, seq uint64) *model.Order {
	return &model.Order{
		ID: id, AccountID: "A", Pair: pair, Side: side, Type: typ,
		Quantity: d("1"), StopPrice: d(stopPrice), Sequence: seq,
	}
}

func newMonitor() *Monitor {
	return NewMonitor(pair, d("0.01"), zap.NewNop())
}

func TestMonitor_StopTriggerDirection(t *testing.T) {
	m := newMonitor()
	require.NoError(t, m.Park(stop("sell", model.SideSell, model.OrderTypeStop, "90", 1)))
	require.NoError(t, m.Park(stop("buy", model.SideBuy, model.OrderTypeStopLimit, "110", 2)))
	assert.Equal(t, model.OrderStatusPending, m.ParkedOrders()[0].Status)

	assert.Empty(t, m.Evaluate(prices("100", "91", "109")))
	assert.Equal(t, 2, m.ParkedCount())

	fired := m.Evaluate(prices("90"))
	require.Len(t, fired, 1)
	assert.Equal(t, "sell", fired[0].ID)
	assert.False(t, m.IsParked("sell"))

	fired = m.Evaluate(prices("110"))
	require.Len(t, fired, 1)
	assert.Equal(t, "buy", fired[0].ID)
	assert.Zero(t, m.ParkedCount())
}

func TestMonitor_EvaluateReturnsSequenceOrder(t *testing.T) {
	m := newMonitor()
	require.NoError(t, m.Park(stop("late", model.SideSell, model.OrderTypeStop, "95", 9)))
	require.NoError(t, m.Park(stop("early", model.SideSell, model.OrderTypeStop, "99", 3)))
	fired := m.Evaluate(prices("94"))
	require.Len(t, fired, 2)
	assert.Equal(t, "early", fired[0].ID)
	assert.Equal(t, "late", fired[1].ID)
}

func TestMonitor_ParkRejectsDuplicatesAndPlainOrders(t *testing.T) {
	m := newMonitor()
	o := stop("s", model.SideSell, model.OrderTypeStop, "90", 1)
	require.NoError(t, m.Park(o))
	assert.ErrorIs(t, m.Park(o), ErrAlreadyParked)

	limit := &model.Order{ID: "l", Type: model.OrderTypeLimit}
	assert.ErrorIs(t, m.Park(limit), ErrNotParkable)

	got, ok := m.Unpark("s")
	require.True(t, ok)
	assert.Same(t, o, got)
	_, ok = m.Unpark("s")
	assert.False(t, ok)
}

func TestMonitor_TrailingSellPeakIsOneDirectional(t *testing.T) {
	m := newMonitor()
	o := &model.Order{
		ID: "t", AccountID: "A", Pair: pair, Side: model.SideSell, Type: model.OrderTypeTrailingStop,
		Quantity: d("1"), TrailingOffset: d("5"), PeakPrice: d("100"), Sequence: 1,
	}
	require.NoError(t, m.Park(o))
	assert.True(t, o.StopPrice.Equal(d("95")))

	assert.Empty(t, m.Evaluate(prices("104", "102")))
	assert.True(t, o.PeakPrice.Equal(d("104")))
	assert.True(t, o.StopPrice.Equal(d("99")))

	// A lower trade never drags the peak down.
	assert.Empty(t, m.Evaluate(prices("100")))
	assert.True(t, o.PeakPrice.Equal(d("104")))

	fired := m.Evaluate(prices("99"))
	require.Len(t, fired, 1)
}

func TestMonitor_TrailingBuyCallbackRateRoundsUp(t *testing.T) {
	m := newMonitor()
	o := &model.Order{
		ID: "t", AccountID: "A", Pair: pair, Side: model.SideBuy, Type: model.OrderTypeTrailingStop,
		Quantity: d("1"), CallbackRate: d("0.015"), Sequence: 1,
	}
	require.NoError(t, m.Park(o))
	assert.True(t, o.StopPrice.IsZero())

	// First trade seeds the trough: 100.33 * 1.015 = 101.83495 -> 101.84
	assert.Empty(t, m.Evaluate(prices("100.33")))
	assert.True(t, o.StopPrice.Equal(d("101.84")))

	assert.Empty(t, m.Evaluate(prices("100")))
	assert.True(t, o.PeakPrice.Equal(d("100")))
	assert.True(t, o.StopPrice.Equal(d("101.5")))

	assert.Empty(t, m.Evaluate(prices("101")))
	assert.True(t, o.PeakPrice.Equal(d("100")))
	require.Len(t, m.Evaluate(prices("101.5")), 1)
}

func TestTrailingStopPrice_OffsetBeatsRate(t *testing.T) {
	o := &model.Order{Side: model.SideSell, PeakPrice: d("200"), TrailingOffset: d("3"), CallbackRate: d("0.5")}
	assert.True(t, TrailingStopPrice(o, d("0.01")).Equal(d("197")))
}

func TestMonitor_TrackPriceOnlyMovesPeaks(t *testing.T) {
	m := newMonitor()
	o := &model.Order{
		ID: "t", Side: model.SideSell, Type: model.OrderTypeTrailingStop,
		Quantity: d("1"), TrailingOffset: d("1"), PeakPrice: d("100"), Sequence: 1,
	}
	require.NoError(t, m.Park(o))
	m.TrackPrice(d("50"))
	assert.True(t, m.IsParked("t"))
	m.TrackPrice(d("120"))
	assert.True(t, o.PeakPrice.Equal(d("120")))
}

func TestMonitor_OCOClaimOnce(t *testing.T) {
	m := newMonitor()
	parent := &model.Order{ID: "p"}
	limit := &model.Order{ID: "l"}
	stopLeg := &model.Order{ID: "s"}
	g := m.RegisterOCO(parent, limit, stopLeg)
	assert.Equal(t, "s", g.Sibling("l"))
	assert.Equal(t, []string{"l", "s"}, g.Legs())

	sibling, ok := m.ClaimOCO("l")
	require.True(t, ok)
	assert.Equal(t, "s", sibling)
	_, ok = m.ClaimOCO("s")
	assert.False(t, ok)

	require.NoError(t, m.ReleaseOCO("p"))
	_, ok = m.OCOByLeg("l")
	assert.False(t, ok)
	assert.ErrorIs(t, m.ReleaseOCO("p"), ErrUnknownGroup)
}

func TestMonitor_IcebergSlicesInheritSequence(t *testing.T) {
	m := newMonitor()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	parent := &model.Order{
		ID: "p", AccountID: "A", Pair: pair, Side: model.SideSell, Type: model.OrderTypeIceberg,
		Quantity: d("5"), Price: d("100"), VisibleSize: d("2"), HiddenRemaining: d("5"), Sequence: 7,
	}
	m.RegisterIceberg(parent)

	var sizes []string
	for i := 0; ; i++ {
		child, ok, err := m.NextSlice(parent, "c"+string(rune('0'+i)), now)
		require.NoError(t, err)
		if !ok {
			break
		}
		assert.Equal(t, uint64(7), child.Sequence)
		assert.Equal(t, "p", child.ParentID)
		assert.Equal(t, child.ID, parent.CurrentVisibleID)
		owner, found := m.IcebergParentOf(child.ID)
		require.True(t, found)
		assert.Equal(t, "p", owner)
		sizes = append(sizes, child.Quantity.String())
	}
	assert.Equal(t, []string{"2", "2", "1"}, sizes)
	assert.True(t, parent.HiddenRemaining.IsZero())

	st, ok := m.Iceberg("p")
	require.True(t, ok)
	assert.Equal(t, 3, st.SliceCount)
	_, found := m.IcebergParentOf("c0")
	assert.False(t, found)

	m.ReleaseIceberg("p")
	assert.Zero(t, m.IcebergCount())
	_, _, err := m.NextSlice(parent, "x", now)
	assert.ErrorIs(t, err, ErrUnknownGroup)
}
