package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
log:
  level: debug
engine:
  tick_interval: 250ms
  outbox_capacity: 128
breaker:
  threshold: "0.1"
  window_size: 50
  cooldown: 1m
fees:
  default_maker: "0.0005"
  default_taker: "0.001"
  account_discounts:
    - account_id: vip
      discount_pct: "25"
      valid_from: "2024-01-01T00:00:00Z"
risk:
  max_order_notional: "1000000"
  position_limits:
    BTC/USD: "50"
  exempt_accounts: [mm-1]
slippage:
  max: "0.02"
audit:
  driver: sqlite
  dsn: "file::memory:"
kafka:
  enabled: true
  brokers: ["localhost:9092"]
pairs:
  - base: btc
    quote: usd
    price_tick: "0.01"
    quantity_step: "0.0001"
    taker_fee: "0.002"
    algorithm: pro_rata
  - base: ETH
    quote: USD
    price_tick: "0.01"
    quantity_step: "0.001"
    max_slippage: "0.05"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.TickInterval)
	assert.Equal(t, "ptp", cfg.Engine.DefaultAlgorithm)
	assert.Equal(t, AuditSQLite, cfg.Audit.Driver)

	ec := cfg.ToEngineConfig()
	assert.Equal(t, 128, ec.Outbox.Limit)
	assert.True(t, ec.Breaker.Threshold.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, time.Minute, ec.Breaker.Cooldown)
	assert.True(t, ec.Fees.DefaultMakerFee.Equal(decimal.RequireFromString("0.0005")))
	require.Len(t, ec.Pairs, 2)

	btc := ec.Pairs[0]
	assert.Equal(t, model.NewPair("BTC", "USD"), btc.Pair)
	assert.Equal(t, model.AlgorithmProRata, btc.Algorithm)
	assert.False(t, btc.MakerFee.Valid)
	assert.True(t, btc.TakerFee.Valid)
	assert.True(t, btc.MaxSlippage.Equal(decimal.RequireFromString("0.02")))
	assert.True(t, ec.Pairs[1].MaxSlippage.Equal(decimal.RequireFromString("0.05")))

	discounts, err := cfg.AccountDiscounts()
	require.NoError(t, err)
	require.Len(t, discounts, 1)
	assert.Equal(t, "vip", discounts[0].AccountID)
	assert.Nil(t, discounts[0].ValidTo)

	rl := cfg.RiskLimits()
	limit, ok := rl.PositionLimit(model.NewPair("BTC", "USD"))
	require.True(t, ok)
	assert.True(t, limit.Equal(decimal.NewFromInt(50)))
	assert.True(t, rl.IsExempt("mm-1"))

	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Publisher().Brokers)

	tc := cfg.TelemetryConfig()
	assert.False(t, tc.Enabled)
	assert.Equal(t, "stdout", tc.Exporter)
	assert.Equal(t, 1.0, tc.SampleRatio)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TRADINGCORE_AUDIT_DRIVER", "badger")
	t.Setenv("TRADINGCORE_AUDIT_PATH", "/tmp/audit")
	t.Setenv("TRADINGCORE_LOG_LEVEL", "warn")
	t.Setenv("TRADINGCORE_TRACING_ENABLED", "true")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, AuditBadger, cfg.Audit.Driver)
	assert.Equal(t, "/tmp/audit", cfg.Audit.Path)
	assert.Equal(t, "warn", cfg.LoggerConfig().Level)
	assert.True(t, cfg.TelemetryConfig().Enabled)
}

func TestLoad_Invalid(t *testing.T) {
	minimal := `
pairs:
  - base: BTC
    quote: USD
    price_tick: "0.01"
    quantity_step: "0.001"
`
	_, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)

	tests := []struct {
		name string
		yaml string
	}{
		{"no pairs", "log:\n  level: info\n"},
		{"zero tick", `
pairs:
  - {base: BTC, quote: USD, price_tick: "0", quantity_step: "0.001"}
`},
		{"not a decimal", `
pairs:
  - {base: BTC, quote: USD, price_tick: "abc", quantity_step: "0.001"}
`},
		{"same currency", `
pairs:
  - {base: BTC, quote: BTC, price_tick: "0.01", quantity_step: "0.001"}
`},
		{"duplicate pair", `
pairs:
  - {base: BTC, quote: USD, price_tick: "0.01", quantity_step: "0.001"}
  - {base: btc, quote: usd, price_tick: "0.01", quantity_step: "0.001"}
`},
		{"postgres without dsn", minimal + "audit:\n  driver: postgres\n"},
		{"unknown driver", minimal + "audit:\n  driver: mongo\n"},
		{"kafka without brokers", minimal + "kafka:\n  enabled: true\n"},
		{"bad algorithm", minimal + "engine:\n  default_algorithm: fifo\n"},
		{"unknown exporter", minimal + "tracing:\n  exporter: jaeger\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
