package feed

import (
	"time"

	"feedstream/internal/domain"
	"feedstream/internal/services/cache"
	"feedstream/internal/services/prefetch"
)

// Config holds the tuning parameters of a feed instance.
type Config struct {
	CacheCapacity    int // loaded URLs tracked by the ledger (default 20)
	EvictionDistance int // players further than this from current are unloaded (default 5)

	Prefetch         prefetch.Window
	PrefetchJobDelay time.Duration // pause between background loads (default 50ms)

	ViewablePercent    float64       // share of an item that must be visible to become current (default 40)
	FastScrollVelocity float64       // px per ms above which prefetching is suppressed
	FastScrollDebounce time.Duration // quiet time that ends a scroll (default 150ms)

	TransitionTimeout   time.Duration // overlay safety timer (default 500ms)
	SettleGrace         time.Duration // viewport updates ignored after a jump settles (default 100ms)
	FallbackSettleDelay time.Duration // wait after an estimated-offset scroll

	RetryDelay           time.Duration
	PositionSaveInterval time.Duration
	UnloadTimeout        time.Duration

	Priority domain.PlaybackPriority
}

// DefaultConfig returns the default feed tuning.
func DefaultConfig() Config {
	return Config{
		CacheCapacity:        cache.DefaultCapacity,
		EvictionDistance:     5,
		Prefetch:             prefetch.DefaultWindow(),
		PrefetchJobDelay:     50 * time.Millisecond,
		ViewablePercent:      40,
		FastScrollVelocity:   4,
		FastScrollDebounce:   150 * time.Millisecond,
		TransitionTimeout:    500 * time.Millisecond,
		SettleGrace:          100 * time.Millisecond,
		FallbackSettleDelay:  50 * time.Millisecond,
		RetryDelay:           300 * time.Millisecond,
		PositionSaveInterval: time.Second,
		UnloadTimeout:        5 * time.Second,
		Priority:             domain.PriorityFeed,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = d.CacheCapacity
	}
	if c.EvictionDistance <= 0 {
		c.EvictionDistance = d.EvictionDistance
	}
	if c.Prefetch.Wifi <= 0 && c.Prefetch.Cellular <= 0 {
		c.Prefetch = d.Prefetch
	}
	if c.PrefetchJobDelay <= 0 {
		c.PrefetchJobDelay = d.PrefetchJobDelay
	}
	if c.ViewablePercent <= 0 || c.ViewablePercent > 100 {
		c.ViewablePercent = d.ViewablePercent
	}
	if c.FastScrollVelocity <= 0 {
		c.FastScrollVelocity = d.FastScrollVelocity
	}
	if c.FastScrollDebounce <= 0 {
		c.FastScrollDebounce = d.FastScrollDebounce
	}
	if c.TransitionTimeout <= 0 {
		c.TransitionTimeout = d.TransitionTimeout
	}
	if c.SettleGrace <= 0 {
		c.SettleGrace = d.SettleGrace
	}
	if c.FallbackSettleDelay <= 0 {
		c.FallbackSettleDelay = d.FallbackSettleDelay
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.PositionSaveInterval <= 0 {
		c.PositionSaveInterval = d.PositionSaveInterval
	}
	if c.UnloadTimeout <= 0 {
		c.UnloadTimeout = d.UnloadTimeout
	}
	if c.Priority == domain.PriorityNone {
		c.Priority = d.Priority
	}
	return c
}
