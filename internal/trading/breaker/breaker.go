// Package breaker implements the per-pair volatility circuit breaker and
// the copy-on-write snapshots readers use for breaker state and depth.
package breaker

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// State is the breaker position.
type State string

const (
	StateClosed State = "closed"
	StateOpen   State = "open"
)

// Reason strings carried by transitions.
const (
	ReasonVolatility  = "volatility"
	ReasonCooldown    = "cooldown-elapsed"
	ReasonAdminClose  = "admin-close"
	ReasonAdminOpen   = "admin-open"
	ReasonRestoreOpen = "restored"
)

// Config controls when the breaker trips.
type Config struct {
	Threshold      decimal.Decimal // relative move that trips, e.g. 0.05
	WindowSize     int
	WindowDuration time.Duration // zero disables the time bound
	Cooldown       time.Duration
}

// DefaultConfig trips on a 5% move over the last 100 trades and cools down
// for five minutes.
func DefaultConfig() Config {
	return Config{
		Threshold:  decimal.NewFromFloat(0.05),
		WindowSize: 100,
		Cooldown:   5 * time.Minute,
	}
}

// Status is the reader-visible breaker state.
type Status struct {
	Pair          model.Pair `json:"pair"`
	State         State      `json:"state"`
	OpenedAt      time.Time  `json:"opened_at,omitempty"`
	TriggerReason string     `json:"trigger_reason,omitempty"`
	CooldownUntil time.Time  `json:"cooldown_until,omitempty"`
	// Forced opens stay open until an admin closes them.
	Forced bool `json:"forced,omitempty"`
}

// Open reports whether submissions must be refused.
func (s Status) Open() bool {
	return s.State == StateOpen
}

// Transition describes a state change.
type Transition struct {
	From   State
	To     State
	Reason string
	Status Status
}

// Breaker is owned by one pair actor. Status may be read concurrently.
type Breaker struct {
	cfg    Config
	window *Window
	status Status
	snap   atomic.Pointer[Status]
	logger *zap.Logger
}

// New creates a closed breaker.
func New(pair model.Pair, cfg Config, logger *zap.Logger) *Breaker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	b := &Breaker{
		cfg:    cfg,
		window: NewWindow(cfg.WindowSize, cfg.WindowDuration),
		status: Status{Pair: pair, State: StateClosed},
		logger: logger.With(zap.String("pair", pair.String())),
	}
	b.publish()
	return b
}

// Status returns the last published state. Safe for concurrent use.
func (b *Breaker) Status() Status {
	return *b.snap.Load()
}

// IsOpen reports the owner's view of the state.
func (b *Breaker) IsOpen() bool {
	return b.status.State == StateOpen
}

// Window exposes the volatility window.
func (b *Breaker) Window() *Window {
	return b.window
}

// Observe records a trade and trips the breaker when the window moved more
// than the threshold. It returns nil when nothing changed.
func (b *Breaker) Observe(t Trade) *Transition {
	if b.IsOpen() {
		return nil
	}
	b.window.Add(t)
	change, ok := b.window.Change()
	if !ok || !b.cfg.Threshold.IsPositive() || change.Abs().LessThanOrEqual(b.cfg.Threshold) {
		return nil
	}
	reason := fmt.Sprintf("%s: price moved %s%% over %d trades",
		ReasonVolatility, change.Mul(decimal.NewFromInt(100)).StringFixed(2), b.window.Len())
	return b.open(t.At, reason, false)
}

// Tick closes an automatically opened breaker once its cooldown elapsed.
func (b *Breaker) Tick(now time.Time) *Transition {
	if !b.IsOpen() || b.status.Forced || now.Before(b.status.CooldownUntil) {
		return nil
	}
	return b.close(ReasonCooldown)
}

// ForceOpen opens the breaker until an admin closes it.
func (b *Breaker) ForceOpen(now time.Time, reason string) *Transition {
	if reason == "" {
		reason = ReasonAdminOpen
	}
	if b.IsOpen() {
		b.status.Forced = true
		b.status.TriggerReason = reason
		b.publish()
		return nil
	}
	return b.open(now, reason, true)
}

// ForceClose closes the breaker regardless of cooldown.
func (b *Breaker) ForceClose() *Transition {
	if !b.IsOpen() {
		return nil
	}
	return b.close(ReasonAdminClose)
}

// Restore installs a state read back from the audit stream.
func (b *Breaker) Restore(st Status) {
	st.Pair = b.status.Pair
	b.status = st
	b.window.Reset()
	b.publish()
}

func (b *Breaker) open(now time.Time, reason string, forced bool) *Transition {
	from := b.status.State
	b.status.State = StateOpen
	b.status.OpenedAt = now
	b.status.TriggerReason = reason
	b.status.Forced = forced
	if forced {
		b.status.CooldownUntil = time.Time{}
	} else {
		b.status.CooldownUntil = now.Add(b.cfg.Cooldown)
	}
	b.publish()
	b.logger.Warn("Circuit breaker opened",
		zap.String("reason", reason),
		zap.Bool("forced", forced),
		zap.Time("cooldown_until", b.status.CooldownUntil))
	return &Transition{From: from, To: StateOpen, Reason: reason, Status: b.status}
}

func (b *Breaker) close(reason string) *Transition {
	from := b.status.State
	b.status = Status{Pair: b.status.Pair, State: StateClosed}
	b.window.Reset()
	b.publish()
	b.logger.Warn("Circuit breaker closed", zap.String("reason", reason))
	return &Transition{From: from, To: StateClosed, Reason: reason, Status: b.status}
}

func (b *Breaker) publish() {
	st := b.status
	b.snap.Store(&st)
}
