package engine

import (
	"fmt"
	"time"

	"github.com/pincex/tradingcore/internal/trading/breaker"
	"github.com/pincex/tradingcore/internal/trading/events"
	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
)

// PairConfig is the static configuration of one market.
type PairConfig struct {
	Pair         model.Pair
	PriceTick    decimal.Decimal
	QuantityStep decimal.Decimal
	MakerFee     decimal.NullDecimal // unset falls back to the engine default
	TakerFee     decimal.NullDecimal
	Algorithm    model.Algorithm // empty uses Config.DefaultAlgorithm
	MaxSlippage  decimal.Decimal // zero disables the market-order guard
}

// Config holds engine-wide settings.
type Config struct {
	TickInterval      time.Duration // expiry sweep and breaker cooldown check
	TerminalRetention int           // terminal orders remembered per pair
	DepthLevels       int           // levels kept in the published depth view
	CommandBuffer     int
	DefaultAlgorithm  model.Algorithm
	Breaker           breaker.Config
	Outbox            events.OutboxConfig
	Fees              FeeEngineConfig
	Pairs             []PairConfig
}

// DefaultConfig returns the engine defaults without any pair.
func DefaultConfig() Config {
	return Config{
		TickInterval:      time.Second,
		TerminalRetention: 10000,
		DepthLevels:       50,
		CommandBuffer:     1024,
		DefaultAlgorithm:  model.AlgorithmPriceTime,
		Breaker:           breaker.DefaultConfig(),
		Outbox:            events.DefaultOutboxConfig(),
		Fees:              DefaultFeeEngineConfig(),
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.TerminalRetention <= 0 {
		c.TerminalRetention = def.TerminalRetention
	}
	if c.DepthLevels <= 0 {
		c.DepthLevels = def.DepthLevels
	}
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = def.CommandBuffer
	}
	if c.DefaultAlgorithm == "" {
		c.DefaultAlgorithm = def.DefaultAlgorithm
	}
	if c.Breaker.Threshold.IsZero() && c.Breaker.Cooldown == 0 {
		c.Breaker = def.Breaker
	}
	if c.Fees.Precision <= 0 {
		c.Fees.Precision = def.Fees.Precision
	}
}

// Validate checks the engine configuration
func (c *Config) Validate() error {
	if len(c.Pairs) == 0 {
		return fmt.Errorf("no trading pairs configured")
	}
	if !c.DefaultAlgorithm.Valid() {
		return fmt.Errorf("invalid default algorithm %q", c.DefaultAlgorithm)
	}
	seen := make(map[model.Pair]bool, len(c.Pairs))
	for _, p := range c.Pairs {
		if p.Pair.IsZero() {
			return fmt.Errorf("pair symbol cannot be empty")
		}
		if seen[p.Pair] {
			return fmt.Errorf("pair %s configured twice", p.Pair)
		}
		seen[p.Pair] = true
		if !p.PriceTick.IsPositive() {
			return fmt.Errorf("price tick must be positive for pair %s", p.Pair)
		}
		if !p.QuantityStep.IsPositive() {
			return fmt.Errorf("quantity step must be positive for pair %s", p.Pair)
		}
		if p.Algorithm != "" && !p.Algorithm.Valid() {
			return fmt.Errorf("invalid algorithm %q for pair %s", p.Algorithm, p.Pair)
		}
		if p.MaxSlippage.IsNegative() {
			return fmt.Errorf("max slippage must not be negative for pair %s", p.Pair)
		}
	}
	return nil
}
