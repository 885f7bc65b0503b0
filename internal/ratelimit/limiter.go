// Package ratelimit implements a minimum-interval limiter that spaces
// successive calls to a rate-sensitive external dependency.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagesift/pagesift/internal/metrics"
	"github.com/pagesift/pagesift/internal/scrape"
)

// Config holds interval limiter configuration.
type Config struct {
	// MinInterval is the smallest allowed gap between two invocations of the
	// guarded dependency. Zero or negative disables waiting.
	MinInterval time.Duration
	// Dependency names the guarded dependency in logs and metrics.
	Dependency string
}

// Limiter serializes callers onto one monotonically-advancing schedule. All
// state is a single timestamp guarded by a single mutex; concurrent callers
// reserve consecutive slots spaced MinInterval apart, in lock-acquisition
// order, then sleep outside the lock until their slot arrives.
type Limiter struct {
	mu   sync.Mutex
	next time.Time

	interval time.Duration
	name     string
	clock    scrape.Clock
	logger   *zap.Logger
}

// New creates a Limiter.
func New(cfg Config, clock scrape.Clock, logger *zap.Logger) *Limiter {
	name := cfg.Dependency
	if name == "" {
		name = "external"
	}
	return &Limiter{
		interval: cfg.MinInterval,
		name:     name,
		clock:    clock,
		logger:   logger.Named("ratelimit").With(zap.String("dependency", name)),
	}
}

// Wait blocks until the caller's reserved slot arrives or ctx ends. A slot
// is reserved before sleeping, so a caller canceled mid-wait still consumes
// its gap; the limiter cannot fail, only delay.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.interval <= 0 {
		return nil
	}

	now := l.clock.Now()
	l.mu.Lock()
	slot := now
	if slot.Before(l.next) {
		slot = l.next
	}
	l.next = slot.Add(l.interval)
	l.mu.Unlock()

	delay := slot.Sub(now)
	if delay <= 0 {
		return nil
	}

	l.logger.Debug("throttling call", zap.Duration("delay", delay))
	metrics.ObserveRateLimitDelay(l.name, delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
