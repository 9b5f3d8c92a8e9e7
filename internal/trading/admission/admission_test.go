package admission

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var pair = model.NewPair("BTC", "USDT")

type stubView struct {
	mid, last, sweep decimal.Decimal
}

func opt(d decimal.Decimal) (decimal.Decimal, bool) { return d, !d.IsZero() }

func (v stubView) Mid() (decimal.Decimal, bool)       { return opt(v.mid) }
func (v stubView) LastPrice() (decimal.Decimal, bool) { return opt(v.last) }
func (v stubView) SweepPrice(model.Side, decimal.Decimal) (decimal.Decimal, bool) {
	return opt(v.sweep)
}

type seqIDs struct{ n int }

func (g *seqIDs) NewOrderID() string {
	g.n++
	return fmt.Sprintf("o%d", g.n)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newAdmitter(risk RiskChecker) (*Admitter, *ManualClock) {
	clock := NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	rules := PairRules{Pair: pair, PriceTick: d("0.01"), QuantityStep: d("0.001"), MaxSlippage: d("0.05")}
	return New(rules, risk, nil, clock, &seqIDs{}, zap.NewNop()), clock
}

func limitReq(side model.Side, qty, price string) *model.OrderRequest {
	return &model.OrderRequest{
		AccountID: "A", TenantID: "t1", Pair: pair, Side: side,
		Type: model.OrderTypeLimit, Quantity: d(qty), Price: d(price),
	}
}

func TestAdmit_LimitAssignsSequence(t *testing.T) {
	a, clock := newAdmitter(nil)
	first, err := a.Admit(context.Background(), limitReq(model.SideBuy, "1", "100"), stubView{})
	require.NoError(t, err)
	second, err := a.Admit(context.Background(), limitReq(model.SideBuy, "1", "100"), stubView{})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.Order.Sequence)
	assert.Equal(t, uint64(2), second.Order.Sequence)
	assert.Equal(t, model.TimeInForceGTC, first.Order.TimeInForce)
	assert.Equal(t, model.OrderStatusActive, first.Order.Status)
	assert.Equal(t, clock.Now(), first.Order.CreatedAt)
	assert.NotEqual(t, first.Order.ID, second.Order.ID)
}

func TestAdmit_RejectionsDoNotConsumeSequence(t *testing.T) {
	a, _ := newAdmitter(nil)
	_, err := a.Admit(context.Background(), limitReq(model.SideBuy, "0", "100"), stubView{})
	require.Error(t, err)
	adm, err := a.Admit(context.Background(), limitReq(model.SideBuy, "1", "100"), stubView{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), adm.Order.Sequence)
}

func TestValidate_RejectionKinds(t *testing.T) {
	a, clock := newAdmitter(nil)
	past := clock.Now().Add(-time.Second)

	cases := []struct {
		name string
		mut  func(r *model.OrderRequest)
		kind model.RejectKind
	}{
		{"unknown pair", func(r *model.OrderRequest) { r.Pair = model.NewPair("ETH", "USDT") }, model.RejectUnknownPair},
		{"zero quantity", func(r *model.OrderRequest) { r.Quantity = decimal.Zero }, model.RejectInvalidQuantity},
		{"negative quantity", func(r *model.OrderRequest) { r.Quantity = d("-1") }, model.RejectInvalidQuantity},
		{"quantity off step", func(r *model.OrderRequest) { r.Quantity = d("0.0005") }, model.RejectInvalidQuantity},
		{"zero price", func(r *model.OrderRequest) { r.Price = decimal.Zero }, model.RejectInvalidPrice},
		{"price off tick", func(r *model.OrderRequest) { r.Price = d("100.005") }, model.RejectInvalidPrice},
		{"stop missing", func(r *model.OrderRequest) { r.Type = model.OrderTypeStop }, model.RejectMissingStopPrice},
		{"stop limit missing stop", func(r *model.OrderRequest) { r.Type = model.OrderTypeStopLimit }, model.RejectMissingStopPrice},
		{"iceberg visible too large", func(r *model.OrderRequest) {
			r.Type = model.OrderTypeIceberg
			r.VisibleSize = r.Quantity
		}, model.RejectBadIceberg},
		{"iceberg visible zero", func(r *model.OrderRequest) { r.Type = model.OrderTypeIceberg }, model.RejectBadIceberg},
		{"iceberg ioc", func(r *model.OrderRequest) {
			r.Type = model.OrderTypeIceberg
			r.VisibleSize = d("0.5")
			r.TimeInForce = model.TimeInForceIOC
		}, model.RejectBadIceberg},
		{"oco one leg", func(r *model.OrderRequest) {
			r.Type = model.OrderTypeOCO
			r.Legs = []model.LegRequest{{Type: model.OrderTypeLimit, Price: d("110")}}
		}, model.RejectBadOCO},
		{"oco two limits", func(r *model.OrderRequest) {
			r.Type = model.OrderTypeOCO
			r.Legs = []model.LegRequest{{Type: model.OrderTypeLimit, Price: d("110")}, {Type: model.OrderTypeLimit, Price: d("90")}}
		}, model.RejectBadOCO},
		{"trailing without params", func(r *model.OrderRequest) { r.Type = model.OrderTypeTrailingStop }, model.RejectBadTrailing},
		{"trailing rate too big", func(r *model.OrderRequest) {
			r.Type = model.OrderTypeTrailingStop
			r.CallbackRate = d("1")
		}, model.RejectBadTrailing},
		{"gtx market", func(r *model.OrderRequest) {
			r.Type = model.OrderTypeMarket
			r.TimeInForce = model.TimeInForceGTX
		}, model.RejectInvalidPrice},
		{"expired", func(r *model.OrderRequest) { r.ExpiresAt = &past }, model.RejectInvalidOrder},
		{"no account", func(r *model.OrderRequest) { r.AccountID = "" }, model.RejectInvalidOrder},
		{"bad side", func(r *model.OrderRequest) { r.Side = "HOLD" }, model.RejectInvalidOrder},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := limitReq(model.SideSell, "1", "100")
			tc.mut(req)
			_, err := a.Admit(context.Background(), req, stubView{})
			require.Error(t, err)
			assert.True(t, model.IsRejection(err, tc.kind), "got %v", err)
		})
	}
}

func TestAdmit_SingleStepQuantityAccepted(t *testing.T) {
	a, _ := newAdmitter(nil)
	_, err := a.Admit(context.Background(), limitReq(model.SideBuy, "0.001", "100"), stubView{})
	assert.NoError(t, err)
}

func TestAdmit_SlippageGuard(t *testing.T) {
	a, _ := newAdmitter(nil)
	market := func(price string) *model.OrderRequest {
		r := &model.OrderRequest{AccountID: "A", Pair: pair, Side: model.SideBuy, Type: model.OrderTypeMarket, Quantity: d("1")}
		if price != "" {
			r.Price = d(price)
		}
		return r
	}

	_, err := a.Admit(context.Background(), market("106"), stubView{mid: d("100")})
	assert.True(t, model.IsRejection(err, model.RejectSlippageGuard))

	_, err = a.Admit(context.Background(), market("105"), stubView{mid: d("100")})
	assert.NoError(t, err)

	// Without a book mid the last trade is the reference.
	_, err = a.Admit(context.Background(), market("110"), stubView{last: d("100")})
	assert.True(t, model.IsRejection(err, model.RejectSlippageGuard))

	// Without an explicit price the sweep price is checked.
	_, err = a.Admit(context.Background(), market(""), stubView{mid: d("100"), sweep: d("120")})
	assert.True(t, model.IsRejection(err, model.RejectSlippageGuard))

	// No reference at all: guard is skipped.
	_, err = a.Admit(context.Background(), market("500"), stubView{})
	assert.NoError(t, err)
}

type fixedOracle decimal.Decimal

func (o fixedOracle) Mid(context.Context, model.Pair) (decimal.Decimal, bool) {
	return decimal.Decimal(o), true
}

func TestAdmit_SlippageFallsBackToOracle(t *testing.T) {
	rules := PairRules{Pair: pair, MaxSlippage: d("0.01")}
	a := New(rules, nil, fixedOracle(d("100")), nil, nil, zap.NewNop())
	req := &model.OrderRequest{AccountID: "A", Pair: pair, Side: model.SideSell, Type: model.OrderTypeMarket, Quantity: d("1"), Price: d("95")}
	_, err := a.Admit(context.Background(), req, stubView{})
	assert.True(t, model.IsRejection(err, model.RejectSlippageGuard))
}

func TestAdmit_RiskChecker(t *testing.T) {
	var seen RiskRequest
	risk := RiskCheckerFunc(func(_ context.Context, req RiskRequest) (RiskDecision, error) {
		seen = req
		if req.Notional.GreaterThan(d("1000")) {
			return RiskDecision{Reason: "notional cap"}, nil
		}
		return RiskDecision{Approved: true}, nil
	})
	a, _ := newAdmitter(risk)

	_, err := a.Admit(context.Background(), limitReq(model.SideBuy, "2", "100"), stubView{})
	require.NoError(t, err)
	assert.True(t, seen.Notional.Equal(d("200")))
	assert.Equal(t, "A", seen.AccountID)
	assert.Equal(t, "t1", seen.TenantID)

	_, err = a.Admit(context.Background(), limitReq(model.SideBuy, "20", "100"), stubView{})
	assert.True(t, model.IsRejection(err, model.RejectRiskExceeded))
	assert.Contains(t, err.Error(), "notional cap")

	failing := RiskCheckerFunc(func(context.Context, RiskRequest) (RiskDecision, error) {
		return RiskDecision{}, errors.New("risk service down")
	})
	b, _ := newAdmitter(failing)
	_, err = b.Admit(context.Background(), limitReq(model.SideBuy, "1", "100"), stubView{})
	assert.True(t, model.IsRejection(err, model.RejectRiskExceeded))
}

func TestAdmit_OCOBuildsLinkedLegs(t *testing.T) {
	a, _ := newAdmitter(nil)
	req := &model.OrderRequest{
		AccountID: "A", Pair: pair, Side: model.SideSell, Type: model.OrderTypeOCO, Quantity: d("1"),
		Legs: []model.LegRequest{
			{Type: model.OrderTypeStop, StopPrice: d("90")},
			{Type: model.OrderTypeLimit, Price: d("110")},
		},
	}
	adm, err := a.Admit(context.Background(), req, stubView{})
	require.NoError(t, err)
	require.Len(t, adm.Legs, 2)

	limit, stop := adm.Legs[0], adm.Legs[1]
	assert.Equal(t, model.OrderTypeLimit, limit.Type)
	assert.Equal(t, model.OrderTypeStop, stop.Type)
	assert.Equal(t, model.OrderStatusActive, limit.Status)
	assert.Equal(t, model.OrderStatusPending, stop.Status)
	assert.Equal(t, stop.ID, limit.OCOSiblingID)
	assert.Equal(t, limit.ID, stop.OCOSiblingID)
	assert.Equal(t, adm.Order.ID, limit.ParentID)
	assert.Equal(t, []string{limit.ID, stop.ID}, adm.Order.LegIDs)
	assert.Equal(t, adm.Order.Sequence, limit.Sequence)
}

func TestAdmit_StopsAreParkedAndTrailingSeedsPeak(t *testing.T) {
	a, _ := newAdmitter(nil)
	stop := limitReq(model.SideSell, "1", "0")
	stop.Type = model.OrderTypeStop
	stop.StopPrice = d("90")
	adm, err := a.Admit(context.Background(), stop, stubView{})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, adm.Order.Status)
	assert.Equal(t, model.TimeInForceIOC, adm.Order.TimeInForce)

	trail := limitReq(model.SideSell, "1", "0")
	trail.Type = model.OrderTypeTrailingStop
	trail.TrailingOffset = d("5")
	adm, err = a.Admit(context.Background(), trail, stubView{last: d("101")})
	require.NoError(t, err)
	assert.True(t, adm.Order.PeakPrice.Equal(d("101")))
}

func TestReactivate(t *testing.T) {
	a, _ := newAdmitter(nil)
	o := &model.Order{Type: model.OrderTypeStopLimit, Price: d("95"), Status: model.OrderStatusPending, Sequence: 0}
	a.Reactivate(o)
	assert.Equal(t, model.OrderTypeLimit, o.Type)
	assert.True(t, o.Price.Equal(d("95")))
	assert.True(t, o.Activated)
	assert.Equal(t, model.OrderStatusActive, o.Status)
	assert.Equal(t, uint64(1), o.Sequence)

	s := &model.Order{Type: model.OrderTypeTrailingStop, Status: model.OrderStatusPending}
	a.Reactivate(s)
	assert.Equal(t, model.OrderTypeMarket, s.Type)
	assert.Equal(t, uint64(2), s.Sequence)
}

func TestAlignPrice(t *testing.T) {
	tick := d("0.5")
	assert.True(t, AlignPrice(d("100.2"), tick, model.SideBuy).Equal(d("100.5")))
	assert.True(t, AlignPrice(d("100.2"), tick, model.SideSell).Equal(d("100")))
	assert.True(t, AlignPrice(d("100.5"), tick, model.SideBuy).Equal(d("100.5")))
	assert.True(t, AlignQuantity(d("1.2345"), d("0.01")).Equal(d("1.23")))
}
