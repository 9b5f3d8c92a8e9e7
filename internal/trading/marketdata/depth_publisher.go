package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pincex/tradingcore/internal/trading/breaker"
	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/pincex/tradingcore/internal/trading/orderbook"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DepthSource is the read side of the engine the publisher polls.
type DepthSource interface {
	Pairs() []model.Pair
	SnapshotDepth(pair model.Pair, levels int) (orderbook.Depth, error)
	BreakerState(pair model.Pair) (breaker.Status, error)
}

// redisWriter is the subset of redis.Cmdable used here.
type redisWriter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// DepthMessage is the payload stored under the depth key and broadcast on
// the depth channel.
type DepthMessage struct {
	orderbook.Depth
	Breaker breaker.Status `json:"breaker"`
}

// Config controls the depth feed.
type Config struct {
	Prefix   string        // key and channel prefix, e.g. "tradingcore:"
	Levels   int           // levels per side
	Interval time.Duration // poll interval
	TTL      time.Duration // expiry of the depth key, zero keeps it
}

// DefaultConfig returns the feed defaults.
func DefaultConfig() Config {
	return Config{
		Prefix:   "tradingcore:",
		Levels:   20,
		Interval: 100 * time.Millisecond,
		TTL:      time.Minute,
	}
}

// DepthPublisher mirrors the published depth of every pair into Redis. A
// pair is written only when its event sequence or breaker state moved.
type DepthPublisher struct {
	source DepthSource
	client redisWriter
	config Config
	logger *zap.Logger
	last   map[model.Pair]published
}

type published struct {
	seq   uint64
	state breaker.State
}

// NewDepthPublisher creates a publisher. client is usually a *redis.Client.
func NewDepthPublisher(source DepthSource, client redisWriter, cfg Config, logger *zap.Logger) *DepthPublisher {
	def := DefaultConfig()
	if cfg.Levels <= 0 {
		cfg.Levels = def.Levels
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	return &DepthPublisher{
		source: source,
		client: client,
		config: cfg,
		logger: logger.Named("depth"),
		last:   make(map[model.Pair]published),
	}
}

// DepthKey is the key holding the latest snapshot of pair.
func (p *DepthPublisher) DepthKey(pair model.Pair) string {
	return fmt.Sprintf("%sdepth:%s", p.config.Prefix, pair)
}

// Channel is the pub/sub channel depth updates of pair are sent on.
func (p *DepthPublisher) Channel(pair model.Pair) string {
	return fmt.Sprintf("%sdepth-updates:%s", p.config.Prefix, pair)
}

// Run polls until ctx is cancelled.
func (p *DepthPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()
	for {
		if _, err := p.PublishOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("Depth publish failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PublishOnce writes every changed pair and returns how many were written.
// A failing pair is retried on the next call.
func (p *DepthPublisher) PublishOnce(ctx context.Context) (int, error) {
	var written int
	var firstErr error
	for _, pair := range p.source.Pairs() {
		ok, err := p.publishPair(ctx, pair)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			written++
		}
	}
	return written, firstErr
}

func (p *DepthPublisher) publishPair(ctx context.Context, pair model.Pair) (bool, error) {
	depth, err := p.source.SnapshotDepth(pair, p.config.Levels)
	if err != nil {
		return false, err
	}
	status, err := p.source.BreakerState(pair)
	if err != nil {
		return false, err
	}
	cur := published{seq: depth.Sequence, state: status.State}
	if prev, ok := p.last[pair]; ok && prev == cur {
		return false, nil
	}

	payload, err := json.Marshal(DepthMessage{Depth: depth, Breaker: status})
	if err != nil {
		return false, fmt.Errorf("encode depth of %s: %w", pair, err)
	}
	if err := p.client.Set(ctx, p.DepthKey(pair), payload, p.config.TTL).Err(); err != nil {
		return false, fmt.Errorf("store depth of %s: %w", pair, err)
	}
	if err := p.client.Publish(ctx, p.Channel(pair), payload).Err(); err != nil {
		return false, fmt.Errorf("broadcast depth of %s: %w", pair, err)
	}
	p.last[pair] = cur
	p.logger.Debug("Depth published",
		zap.String("pair", pair.String()),
		zap.Uint64("sequence", depth.Sequence),
		zap.String("breaker", string(status.State)))
	return true, nil
}
