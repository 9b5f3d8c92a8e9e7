package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FeeEngine resolves maker/taker rates and prices the fees of a fill.
// Rate resolution: order override, then the pair default with the account
// discount applied, then the engine default with the discount applied.
type FeeEngine struct {
	mu     sync.RWMutex
	logger *zap.Logger
	clock  func() time.Time

	config           FeeEngineConfig
	pairRates        map[model.Pair]PairFeeConfig
	accountDiscounts map[string]AccountDiscount
}

// FeeEngineConfig holds the engine-wide fee defaults.
type FeeEngineConfig struct {
	DefaultMakerFee decimal.Decimal `yaml:"default_maker_fee"`
	DefaultTakerFee decimal.Decimal `yaml:"default_taker_fee"`
	// Precision is the number of quote decimals fees and notionals are
	// rounded to.
	Precision int32 `yaml:"precision"`
}

// PairFeeConfig is the per-pair default.
type PairFeeConfig struct {
	Pair     model.Pair      `json:"pair"`
	MakerFee decimal.Decimal `json:"maker_fee"`
	TakerFee decimal.Decimal `json:"taker_fee"`
}

// AccountDiscount reduces the resolved default rate of one account.
type AccountDiscount struct {
	AccountID   string          `json:"account_id"`
	DiscountPct decimal.Decimal `json:"discount_pct"` // 0..100
	ValidFrom   time.Time       `json:"valid_from"`
	ValidTo     *time.Time      `json:"valid_to,omitempty"`
}

// FillFees is the priced outcome of one fill.
type FillFees struct {
	MakerRate decimal.Decimal
	TakerRate decimal.Decimal
	MakerFee  decimal.Decimal
	TakerFee  decimal.Decimal
}

// DefaultFeeEngineConfig charges 0.1% maker and 0.2% taker.
func DefaultFeeEngineConfig() FeeEngineConfig {
	return FeeEngineConfig{
		DefaultMakerFee: decimal.NewFromFloat(0.001),
		DefaultTakerFee: decimal.NewFromFloat(0.002),
		Precision:       8,
	}
}

// NewFeeEngine creates a fee engine. clock may be nil.
func NewFeeEngine(logger *zap.Logger, config FeeEngineConfig, clock func() time.Time) *FeeEngine {
	if config.Precision <= 0 {
		config.Precision = DefaultFeeEngineConfig().Precision
	}
	if clock == nil {
		clock = time.Now
	}
	return &FeeEngine{
		logger:           logger,
		clock:            clock,
		config:           config,
		pairRates:        make(map[model.Pair]PairFeeConfig),
		accountDiscounts: make(map[string]AccountDiscount),
	}
}

// SetPairRates installs the default rates of a pair.
func (fe *FeeEngine) SetPairRates(cfg PairFeeConfig) error {
	if cfg.MakerFee.IsNegative() || cfg.TakerFee.IsNegative() {
		return fmt.Errorf("negative fee rate for pair %s", cfg.Pair)
	}
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.pairRates[cfg.Pair] = cfg
	return nil
}

// SetAccountDiscount adds or updates an account-level discount
func (fe *FeeEngine) SetAccountDiscount(discount AccountDiscount) error {
	if discount.AccountID == "" {
		return fmt.Errorf("account discount without account")
	}
	if discount.DiscountPct.IsNegative() || discount.DiscountPct.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("discount %s out of range", discount.DiscountPct)
	}
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.accountDiscounts[discount.AccountID] = discount
	fe.logger.Info("Account discount updated",
		zap.String("account_id", discount.AccountID),
		zap.String("discount_pct", discount.DiscountPct.String()))
	return nil
}

// Rate returns the rate charged to o in the maker or taker role.
func (fe *FeeEngine) Rate(o *model.Order, maker bool) decimal.Decimal {
	override := o.TakerFeeRate
	if maker {
		override = o.MakerFeeRate
	}
	if override.Valid {
		return override.Decimal
	}

	fe.mu.RLock()
	defer fe.mu.RUnlock()
	rate := fe.config.DefaultTakerFee
	if maker {
		rate = fe.config.DefaultMakerFee
	}
	if p, ok := fe.pairRates[o.Pair]; ok {
		rate = p.TakerFee
		if maker {
			rate = p.MakerFee
		}
	}
	return fe.applyAccountDiscount(o.AccountID, rate)
}

// Price computes the fees of a fill between maker and taker.
func (fe *FeeEngine) Price(maker, taker *model.Order, qty, price decimal.Decimal) FillFees {
	makerRate := fe.Rate(maker, true)
	takerRate := fe.Rate(taker, false)
	return FillFees{
		MakerRate: makerRate,
		TakerRate: takerRate,
		MakerFee:  fe.fee(fe.Notional(maker.Side, qty, price), makerRate),
		TakerFee:  fe.fee(fe.Notional(taker.Side, qty, price), takerRate),
	}
}

// Notional rounds qty*price at the fee precision: a buyer's cost rounds up,
// a seller's proceeds are truncated.
func (fe *FeeEngine) Notional(side model.Side, qty, price decimal.Decimal) decimal.Decimal {
	n := qty.Mul(price)
	if side == model.SideBuy {
		return n.RoundCeil(fe.config.Precision)
	}
	return n.Truncate(fe.config.Precision)
}

// fee rounds up; fees are a cost to the payer.
func (fe *FeeEngine) fee(notional, rate decimal.Decimal) decimal.Decimal {
	if !rate.IsPositive() {
		return decimal.Zero
	}
	return notional.Mul(rate).RoundCeil(fe.config.Precision)
}

func (fe *FeeEngine) applyAccountDiscount(accountID string, rate decimal.Decimal) decimal.Decimal {
	discount, ok := fe.accountDiscounts[accountID]
	if !ok || !fe.isDiscountValid(discount) {
		return rate
	}
	off := rate.Mul(discount.DiscountPct).Div(decimal.NewFromInt(100))
	return rate.Sub(off)
}

func (fe *FeeEngine) isDiscountValid(discount AccountDiscount) bool {
	now := fe.clock()
	if now.Before(discount.ValidFrom) {
		return false
	}
	if discount.ValidTo != nil && now.After(*discount.ValidTo) {
		return false
	}
	return true
}
