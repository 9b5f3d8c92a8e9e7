package engine

import (
	"testing"
	"time"

	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFeeEngine_Rates(t *testing.T) {
	now := t0
	fe := NewFeeEngine(zaptest.NewLogger(t), DefaultFeeEngineConfig(), func() time.Time { return now })
	other := model.NewPair("Q", "Z")
	require.NoError(t, fe.SetPairRates(PairFeeConfig{Pair: other, MakerFee: dec("0"), TakerFee: dec("0.0005")}))

	o := &model.Order{AccountID: "A", Pair: pairXY, Side: model.SideBuy}
	assert.True(t, fe.Rate(o, true).Equal(dec("0.001")))
	assert.True(t, fe.Rate(o, false).Equal(dec("0.002")))

	o.Pair = other
	assert.True(t, fe.Rate(o, true).IsZero())
	assert.True(t, fe.Rate(o, false).Equal(dec("0.0005")))

	// Order overrides beat the pair default.
	o.TakerFeeRate = decimal.NewNullDecimal(dec("0.01"))
	assert.True(t, fe.Rate(o, false).Equal(dec("0.01")))
}

func TestFeeEngine_AccountDiscount(t *testing.T) {
	now := t0
	fe := NewFeeEngine(zaptest.NewLogger(t), DefaultFeeEngineConfig(), func() time.Time { return now })
	until := t0.Add(time.Hour)
	require.NoError(t, fe.SetAccountDiscount(AccountDiscount{
		AccountID: "A", DiscountPct: dec("50"), ValidFrom: t0, ValidTo: &until,
	}))

	o := &model.Order{AccountID: "A", Pair: pairXY}
	assert.True(t, fe.Rate(o, false).Equal(dec("0.001")))

	now = until.Add(time.Second)
	assert.True(t, fe.Rate(o, false).Equal(dec("0.002")))

	assert.Error(t, fe.SetAccountDiscount(AccountDiscount{AccountID: "A", DiscountPct: dec("101")}))
	assert.Error(t, fe.SetAccountDiscount(AccountDiscount{DiscountPct: dec("1")}))
	assert.Error(t, fe.SetPairRates(PairFeeConfig{Pair: pairXY, MakerFee: dec("-0.1")}))
}

func TestFeeEngine_Rounding(t *testing.T) {
	cfg := DefaultFeeEngineConfig()
	cfg.Precision = 2
	fe := NewFeeEngine(zaptest.NewLogger(t), cfg, nil)

	assert.Equal(t, "0.34", fe.Notional(model.SideBuy, dec("0.333"), dec("1.01")).String())
	assert.Equal(t, "0.33", fe.Notional(model.SideSell, dec("0.333"), dec("1.01")).String())

	maker := &model.Order{AccountID: "A", Pair: pairXY, Side: model.SideSell}
	taker := &model.Order{AccountID: "B", Pair: pairXY, Side: model.SideBuy}
	fees := fe.Price(maker, taker, dec("3"), dec("10.01"))
	// 30.03 * 0.001 = 0.03003 and 30.03 * 0.002 = 0.06006, both rounded up
	assert.Equal(t, "0.04", fees.MakerFee.String())
	assert.Equal(t, "0.07", fees.TakerFee.String())
}
