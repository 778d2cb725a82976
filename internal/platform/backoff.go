package platform

import (
	"sync"
	"time"
)

// BackoffConfig holds tunables for the global throttle backoff.
type BackoffConfig struct {
	BaseDelay    time.Duration // delay at severity 1, doubled per level
	MaxDelay     time.Duration // hard cap on the computed wait
	HealInterval time.Duration // quiet time before severity decays one step
}

// DefaultBackoffConfig provides sensible defaults.
var DefaultBackoffConfig = BackoffConfig{
	BaseDelay:    500 * time.Millisecond,
	MaxDelay:     60 * time.Second,
	HealInterval: 60 * time.Second,
}

// Backoff tracks how hard the platform is currently throttling us. One
// instance exists per Client; every outbound attempt consults it before
// dispatch, so a throttled period cools the whole pipeline down, not just
// the request that tripped it.
type Backoff struct {
	cfg BackoffConfig

	mu           sync.Mutex
	severity     int
	lastThrottle time.Time

	now func() time.Time
}

// NewBackoff creates a Backoff with the given config, filling zero fields
// from DefaultBackoffConfig.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBackoffConfig.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultBackoffConfig.MaxDelay
	}
	if cfg.HealInterval <= 0 {
		cfg.HealInterval = DefaultBackoffConfig.HealInterval
	}
	return &Backoff{cfg: cfg, now: time.Now}
}

// OnThrottle records a throttle verdict from the classifier.
func (b *Backoff) OnThrottle() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.severity++
	b.lastThrottle = b.now()
	throttleSeverity.Set(float64(b.severity))
}

// OnSuccess heals quickly after a clean round trip: severity halves.
func (b *Backoff) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.severity > 0 {
		b.severity /= 2
		throttleSeverity.Set(float64(b.severity))
	}
}

// WaitDuration returns how long the next attempt must wait before dispatch.
// Severity decays one step per quiet HealInterval, so the controller
// self-heals even without successes.
func (b *Backoff) WaitDuration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.severity > 0 && now.Sub(b.lastThrottle) >= b.cfg.HealInterval {
		b.severity--
		b.lastThrottle = now
		throttleSeverity.Set(float64(b.severity))
	}
	if b.severity == 0 {
		return 0
	}

	delay := b.cfg.BaseDelay << uint(b.severity)
	if delay > b.cfg.MaxDelay || delay <= 0 {
		delay = b.cfg.MaxDelay
	}
	return delay
}

// Severity reports the current throttle severity for status surfaces.
func (b *Backoff) Severity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.severity
}
