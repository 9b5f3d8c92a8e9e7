package config

import (
	"fmt"
	"time"

	"github.com/pincex/tradingcore/internal/trading/marketdata"
	"github.com/pincex/tradingcore/internal/trading/messaging"
	"github.com/redis/go-redis/v9"
)

// Audit sink drivers.
const (
	AuditMemory   = "memory"
	AuditFile     = "file"
	AuditBadger   = "badger"
	AuditPostgres = "postgres"
	AuditSQLite   = "sqlite"
)

// AuditConfig selects the audit sink.
type AuditConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory file badger postgres sqlite"`
	DSN    string `mapstructure:"dsn"`  // postgres and sqlite
	Path   string `mapstructure:"path"` // file and badger
	FSync  bool   `mapstructure:"fsync"`
}

func (a AuditConfig) validate() error {
	switch a.Driver {
	case AuditPostgres, AuditSQLite:
		if a.DSN == "" {
			return fmt.Errorf("audit driver %s requires audit.dsn", a.Driver)
		}
	case AuditFile, AuditBadger:
		if a.Path == "" {
			return fmt.Errorf("audit driver %s requires audit.path", a.Driver)
		}
	}
	return nil
}

// KafkaConfig holds the settlement transport settings.
type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers" validate:"dive,hostname_port"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Compression string   `mapstructure:"compression" validate:"omitempty,oneof=none gzip snappy lz4 zstd"`
}

// Publisher returns the kafka-go publisher settings.
func (k KafkaConfig) Publisher() messaging.KafkaConfig {
	cfg := messaging.DefaultKafkaConfig()
	cfg.Brokers = k.Brokers
	cfg.TopicPrefix = k.TopicPrefix
	if k.Compression != "" {
		cfg.Compression = k.Compression
	}
	return cfg
}

// RedisConfig holds the depth feed settings.
type RedisConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Addr          string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db" validate:"gte=0"`
	ChannelPrefix string        `mapstructure:"channel_prefix"`
	DepthLevels   int           `mapstructure:"depth_levels" validate:"gte=0,lte=1000"`
	Interval      time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// Options returns the go-redis client options.
func (r RedisConfig) Options() *redis.Options {
	return &redis.Options{Addr: r.Addr, Password: r.Password, DB: r.DB}
}

// Feed returns the depth publisher settings.
func (r RedisConfig) Feed() marketdata.Config {
	cfg := marketdata.DefaultConfig()
	cfg.Prefix = r.ChannelPrefix
	if r.DepthLevels > 0 {
		cfg.Levels = r.DepthLevels
	}
	if r.Interval > 0 {
		cfg.Interval = r.Interval
	}
	return cfg
}
