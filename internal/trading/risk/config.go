package risk

import (
	"sync"

	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
)

// Config holds the pre-trade limits and exemptions. Zero limits are
// disabled.
type Config struct {
	MaxOrderNotional decimal.Decimal
	MaxOrderQuantity decimal.Decimal

	positionLimits map[model.Pair]decimal.Decimal // absolute base position per account
	exempt         map[string]struct{}
	mu             sync.RWMutex
}

// NewConfig creates a config with order-level limits.
func NewConfig(maxNotional, maxQuantity decimal.Decimal) *Config {
	return &Config{
		MaxOrderNotional: maxNotional,
		MaxOrderQuantity: maxQuantity,
		positionLimits:   make(map[model.Pair]decimal.Decimal),
		exempt:           make(map[string]struct{}),
	}
}

func (c *Config) SetPositionLimit(pair model.Pair, max decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if max.IsZero() {
		delete(c.positionLimits, pair)
		return
	}
	c.positionLimits[pair] = max.Abs()
}

func (c *Config) PositionLimit(pair model.Pair) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	max, ok := c.positionLimits[pair]
	return max, ok
}

func (c *Config) AddExemptAccount(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exempt[accountID] = struct{}{}
}

func (c *Config) RemoveExemptAccount(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.exempt, accountID)
}

func (c *Config) IsExempt(accountID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.exempt[accountID]
	return ok
}
