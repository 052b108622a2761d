// Package counter keeps the displayed member count. An optimistic Bump pins
// the displayed value for a pause window so that polling the chain cannot
// revert it before the join has landed.
package counter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gear-foundation/one-of-us/internal/clock"
	"github.com/gear-foundation/one-of-us/internal/pending"
)

// Defaults.
const (
	DefaultPause        = 30 * time.Second
	DefaultPollInterval = 10 * time.Second
)

// Source is the authoritative count, usually a chain.CountReader.
type Source interface {
	Count(ctx context.Context) uint32
}

// Cache is the displayed member count.
type Cache struct {
	source   Source
	clock    clock.Clock
	pause    time.Duration
	interval time.Duration
	logger   zerolog.Logger

	mu          sync.RWMutex
	value       uint32
	fetchedAt   time.Time
	pausedUntil time.Time
	loaded      bool
	onChange    func(uint32)
}

// Config configures a Cache.
type Config struct {
	Source       Source
	Clock        clock.Clock
	Pause        time.Duration
	PollInterval time.Duration
	Logger       zerolog.Logger
	// OnChange is called outside the lock whenever the displayed value changes.
	OnChange func(uint32)
}

// New creates a Cache.
func New(cfg Config) *Cache {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Pause <= 0 {
		cfg.Pause = DefaultPause
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Cache{
		source:   cfg.Source,
		clock:    cfg.Clock,
		pause:    cfg.Pause,
		interval: cfg.PollInterval,
		logger:   cfg.Logger.With().Str("component", "member_count").Logger(),
		onChange: cfg.OnChange,
	}
}

// Seed restores the optimistic count of an in-flight join after a restart.
// It applies only while the join's pause window has not elapsed, and pins the
// value until Timestamp+pause.
func (c *Cache) Seed(j *pending.Join) bool {
	if j == nil {
		return false
	}
	until := j.Timestamp.Add(c.pause)
	if !c.clock.Now().Before(until) {
		return false
	}

	c.mu.Lock()
	changed := c.value != j.MemberCountAtJoin
	c.value = j.MemberCountAtJoin
	c.loaded = true
	if until.After(c.pausedUntil) {
		c.pausedUntil = until
	}
	c.mu.Unlock()

	if changed {
		c.notify(j.MemberCountAtJoin)
	}
	return true
}

// Count returns the displayed value.
func (c *Cache) Count() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Loaded reports whether any value has been displayed yet.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Paused reports whether authoritative refreshes are currently dropped.
func (c *Cache) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clock.Now().Before(c.pausedUntil)
}

// Bump sets the displayed value and starts or extends the pause window.
func (c *Cache) Bump(n uint32) {
	now := c.clock.Now()

	c.mu.Lock()
	changed := c.value != n
	c.value = n
	c.loaded = true
	c.pausedUntil = now.Add(c.pause)
	c.mu.Unlock()

	c.logger.Debug().Uint32("count", n).Time("paused_until", now.Add(c.pause)).Msg("count bumped")
	if changed {
		c.notify(n)
	}
}

// Refresh polls the source and applies the result unless paused. It reports
// whether the value was applied. A result that arrives after a Bump made
// during the fetch is dropped as well.
func (c *Cache) Refresh(ctx context.Context) bool {
	if c.source == nil || c.Paused() {
		return false
	}

	n := c.source.Count(ctx)
	now := c.clock.Now()

	c.mu.Lock()
	if now.Before(c.pausedUntil) {
		c.mu.Unlock()
		return false
	}
	changed := c.value != n
	c.value = n
	c.fetchedAt = now
	c.loaded = true
	c.mu.Unlock()

	if changed {
		c.notify(n)
	}
	return true
}

// Run refreshes immediately and then every poll interval until ctx is done.
func (c *Cache) Run(ctx context.Context) {
	c.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(c.interval):
			c.Refresh(ctx)
		}
	}
}

func (c *Cache) notify(n uint32) {
	if c.onChange != nil {
		c.onChange(n)
	}
}
