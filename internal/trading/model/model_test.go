package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePair(t *testing.T) {
	p, err := ParsePair(" btc/usdt")
	require.NoError(t, err)
	assert.Equal(t, Pair{Base: "BTC", Quote: "USDT"}, p)
	assert.Equal(t, "BTC/USDT", p.String())

	for _, bad := range []string{"", "BTC", "/USDT", "BTC/"} {
		_, err := ParsePair(bad)
		assert.Error(t, err, bad)
	}
}

func TestOrderCrosses(t *testing.T) {
	buy := &Order{Side: SideBuy, Price: decimal.NewFromInt(100)}
	assert.True(t, buy.Crosses(decimal.NewFromInt(100)))
	assert.True(t, buy.Crosses(decimal.NewFromInt(99)))
	assert.False(t, buy.Crosses(decimal.NewFromInt(101)))

	sell := &Order{Side: SideSell, Price: decimal.NewFromInt(100)}
	assert.True(t, sell.Crosses(decimal.NewFromInt(100)))
	assert.False(t, sell.Crosses(decimal.NewFromInt(99)))

	market := &Order{Side: SideBuy}
	assert.True(t, market.Crosses(decimal.NewFromInt(1_000_000)))
}

func TestOrderCloneIsDeep(t *testing.T) {
	o := &Order{ID: "a", LegIDs: []string{"x", "y"}, Quantity: decimal.NewFromInt(3)}
	c := o.Clone()
	c.LegIDs[0] = "z"
	c.FilledQuantity = decimal.NewFromInt(1)
	assert.Equal(t, "x", o.LegIDs[0])
	assert.True(t, o.FilledQuantity.IsZero())
	assert.True(t, c.Remaining().Equal(decimal.NewFromInt(2)))
}

func TestStatusClassification(t *testing.T) {
	assert.True(t, OrderStatusFilled.IsTerminal())
	assert.True(t, OrderStatusExpired.IsTerminal())
	assert.False(t, OrderStatusPending.IsTerminal())
	assert.True(t, OrderStatusPartiallyFilled.IsResting())
	assert.False(t, OrderStatusPending.IsResting())
}

func TestRejectionKind(t *testing.T) {
	err := fmt.Errorf("submit: %w", Reject(RejectBreakerOpen, "pair %s", "BTC/USDT"))
	assert.True(t, IsRejection(err, RejectBreakerOpen))
	assert.False(t, IsRejection(err, RejectOverloaded))
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, RejectBreakerOpen, kind)
	assert.Equal(t, "breaker-open: pair BTC/USDT", errors.Unwrap(err).Error())

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}
