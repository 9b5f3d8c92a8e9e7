package risk

import (
	"context"
	"testing"

	"github.com/pincex/tradingcore/internal/trading/admission"
	"github.com/pincex/tradingcore/internal/trading/events"
	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var ethusd = model.NewPair("ETH", "USD")

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func request(account string, side model.Side, qty, notional string) admission.RiskRequest {
	return admission.RiskRequest{
		AccountID: account,
		TenantID:  "t1",
		Pair:      ethusd,
		Side:      side,
		Quantity:  d(qty),
		Notional:  d(notional),
	}
}

func TestManager_OrderLimits(t *testing.T) {
	cfg := NewConfig(d("10000"), d("5"))
	m := NewManager(cfg, NewPositionTracker(), zaptest.NewLogger(t))
	ctx := context.Background()

	dec, err := m.Check(ctx, request("a", model.SideBuy, "5", "10000"))
	require.NoError(t, err)
	assert.True(t, dec.Approved)

	dec, err = m.Check(ctx, request("a", model.SideBuy, "5.1", "100"))
	require.NoError(t, err)
	assert.False(t, dec.Approved)
	assert.Contains(t, dec.Reason, "quantity")

	dec, err = m.Check(ctx, request("a", model.SideBuy, "1", "10000.01"))
	require.NoError(t, err)
	assert.False(t, dec.Approved)
	assert.Contains(t, dec.Reason, "notional")

	cfg.AddExemptAccount("a")
	dec, err = m.Check(ctx, request("a", model.SideBuy, "50", "1e9"))
	require.NoError(t, err)
	assert.True(t, dec.Approved)

	cfg.RemoveExemptAccount("a")
	assert.False(t, cfg.IsExempt("a"))
}

func TestManager_PositionLimit(t *testing.T) {
	cfg := NewConfig(decimal.Zero, decimal.Zero)
	cfg.SetPositionLimit(ethusd, d("3"))
	positions := NewPositionTracker()
	m := NewManager(cfg, positions, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, positions.Publish(ctx, []events.Event{
		{Type: events.TypeFill, Fill: &model.Fill{
			Pair: ethusd, TakerAccountID: "a", MakerAccountID: "b",
			TakerSide: model.SideBuy, Quantity: d("2"), Price: d("100"),
		}},
		{Type: events.TypeOrderAccepted},
	}))
	assert.True(t, positions.Position("a", ethusd).Equal(d("2")))
	assert.True(t, positions.Position("b", ethusd).Equal(d("-2")))

	dec, err := m.Check(ctx, request("a", model.SideBuy, "1", "0"))
	require.NoError(t, err)
	assert.True(t, dec.Approved)

	dec, err = m.Check(ctx, request("a", model.SideBuy, "1.5", "0"))
	require.NoError(t, err)
	assert.False(t, dec.Approved)

	// Selling reduces the long.
	dec, err = m.Check(ctx, request("a", model.SideSell, "5", "0"))
	require.NoError(t, err)
	assert.True(t, dec.Approved)

	dec, err = m.Check(ctx, request("b", model.SideSell, "1.5", "0"))
	require.NoError(t, err)
	assert.False(t, dec.Approved)

	cfg.SetPositionLimit(ethusd, decimal.Zero)
	_, ok := cfg.PositionLimit(ethusd)
	assert.False(t, ok)
}
