// Package config loads the trading core configuration from YAML and
// TRADINGCORE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pincex/tradingcore/internal/trading/breaker"
	"github.com/pincex/tradingcore/internal/trading/engine"
	"github.com/pincex/tradingcore/internal/trading/events"
	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/pincex/tradingcore/internal/trading/risk"
	"github.com/pincex/tradingcore/pkg/logger"
	"github.com/pincex/tradingcore/pkg/telemetry"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// TRADINGCORE_AUDIT_DRIVER=badger.
const EnvPrefix = "TRADINGCORE"

// Config is the root of the configuration tree.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Fees     FeesConfig     `mapstructure:"fees"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Slippage SlippageConfig `mapstructure:"slippage"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Pairs    []PairConfig   `mapstructure:"pairs" validate:"required,min=1,dive"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter" validate:"oneof=stdout none"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
	PrettyPrint bool    `mapstructure:"pretty_print"`
}

type EngineConfig struct {
	TickInterval      time.Duration `mapstructure:"tick_interval" validate:"gt=0"`
	OutboxCapacity    int           `mapstructure:"outbox_capacity" validate:"gt=0"`
	TerminalRetention int           `mapstructure:"terminal_retention" validate:"gt=0"`
	DepthLevels       int           `mapstructure:"depth_levels" validate:"gt=0,lte=1000"`
	DefaultAlgorithm  string        `mapstructure:"default_algorithm" validate:"oneof=ptp pro_rata"`
}

type BreakerConfig struct {
	Threshold      string        `mapstructure:"threshold" validate:"required,decimal_gt0"`
	WindowSize     int           `mapstructure:"window_size" validate:"gt=1"`
	WindowDuration time.Duration `mapstructure:"window_duration" validate:"gte=0"`
	Cooldown       time.Duration `mapstructure:"cooldown" validate:"gt=0"`
}

type FeesConfig struct {
	DefaultMaker     string            `mapstructure:"default_maker" validate:"required,decimal_gte0"`
	DefaultTaker     string            `mapstructure:"default_taker" validate:"required,decimal_gte0"`
	Precision        int32             `mapstructure:"precision" validate:"gt=0,lte=18"`
	AccountDiscounts []AccountDiscount `mapstructure:"account_discounts" validate:"dive"`
}

type AccountDiscount struct {
	AccountID   string `mapstructure:"account_id" validate:"required"`
	DiscountPct string `mapstructure:"discount_pct" validate:"required,decimal_gte0"`
	ValidFrom   string `mapstructure:"valid_from" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	ValidTo     string `mapstructure:"valid_to" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type RiskConfig struct {
	MaxOrderNotional string            `mapstructure:"max_order_notional" validate:"omitempty,decimal_gte0"`
	MaxOrderQuantity string            `mapstructure:"max_order_quantity" validate:"omitempty,decimal_gte0"`
	PositionLimits   map[string]string `mapstructure:"position_limits" validate:"dive,decimal_gte0"`
	ExemptAccounts   []string          `mapstructure:"exempt_accounts"`
}

type SlippageConfig struct {
	Max string `mapstructure:"max" validate:"omitempty,decimal_gte0"`
}

type PairConfig struct {
	Base         string `mapstructure:"base" validate:"required,alphanum"`
	Quote        string `mapstructure:"quote" validate:"required,alphanum,nefield=Base"`
	PriceTick    string `mapstructure:"price_tick" validate:"required,decimal_gt0"`
	QuantityStep string `mapstructure:"quantity_step" validate:"required,decimal_gt0"`
	MakerFee     string `mapstructure:"maker_fee" validate:"omitempty,decimal_gte0"`
	TakerFee     string `mapstructure:"taker_fee" validate:"omitempty,decimal_gte0"`
	Algorithm    string `mapstructure:"algorithm" validate:"omitempty,oneof=ptp pro_rata"`
	MaxSlippage  string `mapstructure:"max_slippage" validate:"omitempty,decimal_gte0"`
}

// Pair returns the configured pair.
func (p PairConfig) Pair() model.Pair {
	return model.NewPair(p.Base, p.Quote)
}

// Load reads path (optional) and the environment, applies defaults and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := engine.DefaultConfig()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("engine.tick_interval", def.TickInterval)
	v.SetDefault("engine.outbox_capacity", def.Outbox.Limit)
	v.SetDefault("engine.terminal_retention", def.TerminalRetention)
	v.SetDefault("engine.depth_levels", def.DepthLevels)
	v.SetDefault("engine.default_algorithm", string(def.DefaultAlgorithm))

	v.SetDefault("breaker.threshold", def.Breaker.Threshold.String())
	v.SetDefault("breaker.window_size", def.Breaker.WindowSize)
	v.SetDefault("breaker.window_duration", def.Breaker.WindowDuration)
	v.SetDefault("breaker.cooldown", def.Breaker.Cooldown)

	v.SetDefault("fees.default_maker", def.Fees.DefaultMakerFee.String())
	v.SetDefault("fees.default_taker", def.Fees.DefaultTakerFee.String())
	v.SetDefault("fees.precision", def.Fees.Precision)

	v.SetDefault("risk.max_order_notional", "")
	v.SetDefault("risk.max_order_quantity", "")
	v.SetDefault("slippage.max", "")

	v.SetDefault("audit.driver", "memory")
	v.SetDefault("audit.dsn", "")
	v.SetDefault("audit.path", "")
	v.SetDefault("audit.fsync", true)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "tradingcore.")
	v.SetDefault("kafka.compression", "snappy")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel_prefix", "tradingcore:")
	v.SetDefault("redis.depth_levels", 20)
	v.SetDefault("redis.interval", 100*time.Millisecond)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", telemetry.ExporterStdout)
	v.SetDefault("tracing.service_name", "tradingcore")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.pretty_print", false)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("decimal_gt0", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && d.IsPositive()
	})
	_ = v.RegisterValidation("decimal_gte0", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && !d.IsNegative()
	})
	return v
}

// Validate checks struct tags and the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	seen := make(map[model.Pair]bool, len(c.Pairs))
	for _, p := range c.Pairs {
		if seen[p.Pair()] {
			return fmt.Errorf("pair %s configured twice", p.Pair())
		}
		seen[p.Pair()] = true
	}
	for symbol := range c.Risk.PositionLimits {
		if _, err := model.ParsePair(symbol); err != nil {
			return fmt.Errorf("risk position limit: %w", err)
		}
	}
	if err := c.Audit.validate(); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled without brokers")
	}
	return nil
}

// ToEngineConfig converts the tree into the engine's typed config.
func (c *Config) ToEngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.TickInterval = c.Engine.TickInterval
	cfg.TerminalRetention = c.Engine.TerminalRetention
	cfg.DepthLevels = c.Engine.DepthLevels
	cfg.DefaultAlgorithm = model.Algorithm(c.Engine.DefaultAlgorithm)
	cfg.Outbox = events.DefaultOutboxConfig()
	cfg.Outbox.Limit = c.Engine.OutboxCapacity
	cfg.Breaker = breaker.Config{
		Threshold:      decimal.RequireFromString(c.Breaker.Threshold),
		WindowSize:     c.Breaker.WindowSize,
		WindowDuration: c.Breaker.WindowDuration,
		Cooldown:       c.Breaker.Cooldown,
	}
	cfg.Fees = engine.FeeEngineConfig{
		DefaultMakerFee: decimal.RequireFromString(c.Fees.DefaultMaker),
		DefaultTakerFee: decimal.RequireFromString(c.Fees.DefaultTaker),
		Precision:       c.Fees.Precision,
	}
	slippage := optional(c.Slippage.Max)
	for _, p := range c.Pairs {
		pc := engine.PairConfig{
			Pair:         p.Pair(),
			PriceTick:    decimal.RequireFromString(p.PriceTick),
			QuantityStep: decimal.RequireFromString(p.QuantityStep),
			MakerFee:     nullable(p.MakerFee),
			TakerFee:     nullable(p.TakerFee),
			Algorithm:    model.Algorithm(p.Algorithm),
			MaxSlippage:  slippage,
		}
		if p.MaxSlippage != "" {
			pc.MaxSlippage = decimal.RequireFromString(p.MaxSlippage)
		}
		cfg.Pairs = append(cfg.Pairs, pc)
	}
	return cfg
}

// AccountDiscounts returns the configured fee discounts.
func (c *Config) AccountDiscounts() ([]engine.AccountDiscount, error) {
	out := make([]engine.AccountDiscount, 0, len(c.Fees.AccountDiscounts))
	for _, d := range c.Fees.AccountDiscounts {
		disc := engine.AccountDiscount{
			AccountID:   d.AccountID,
			DiscountPct: decimal.RequireFromString(d.DiscountPct),
		}
		if d.ValidFrom != "" {
			t, err := time.Parse(time.RFC3339, d.ValidFrom)
			if err != nil {
				return nil, fmt.Errorf("discount of %s: %w", d.AccountID, err)
			}
			disc.ValidFrom = t
		}
		if d.ValidTo != "" {
			t, err := time.Parse(time.RFC3339, d.ValidTo)
			if err != nil {
				return nil, fmt.Errorf("discount of %s: %w", d.AccountID, err)
			}
			disc.ValidTo = &t
		}
		out = append(out, disc)
	}
	return out, nil
}

// RiskLimits builds the pre-trade risk config.
func (c *Config) RiskLimits() *risk.Config {
	rc := risk.NewConfig(optional(c.Risk.MaxOrderNotional), optional(c.Risk.MaxOrderQuantity))
	for symbol, limit := range c.Risk.PositionLimits {
		pair, err := model.ParsePair(symbol)
		if err != nil {
			continue
		}
		rc.SetPositionLimit(pair, decimal.RequireFromString(limit))
	}
	for _, acc := range c.Risk.ExemptAccounts {
		rc.AddExemptAccount(acc)
	}
	return rc
}

// LoggerConfig maps the log section onto pkg/logger.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Log.Level,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// TelemetryConfig maps the tracing section onto pkg/telemetry.
func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:     c.Tracing.Enabled,
		Exporter:    c.Tracing.Exporter,
		ServiceName: c.Tracing.ServiceName,
		SampleRatio: c.Tracing.SampleRatio,
		PrettyPrint: c.Tracing.PrettyPrint,
	}
}

func optional(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	return decimal.RequireFromString(s)
}

func nullable(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}
