// Package governor bounds how many missions execute at once and throttles
// launches from sampled system load.
package governor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	DefaultCapacity         = 2
	DefaultWatchdogInterval = 60 * time.Second
	DefaultStartupStagger   = 30 * time.Second
	DefaultWatchdogStagger  = 10 * time.Second
	DefaultStartupBatch     = 20
)

// Config holds the governor limits.
type Config struct {
	Capacity         int           `validate:"gte=1"`
	WatchdogInterval time.Duration `validate:"gte=1s"`
	StartupStagger   time.Duration `validate:"gte=0"`
	WatchdogStagger  time.Duration `validate:"gte=0"`
	StartupBatch     int           `validate:"gte=1"`
}

func DefaultConfig() Config {
	return Config{
		Capacity:         DefaultCapacity,
		WatchdogInterval: DefaultWatchdogInterval,
		StartupStagger:   DefaultStartupStagger,
		WatchdogStagger:  DefaultWatchdogStagger,
		StartupBatch:     DefaultStartupBatch,
	}
}

// Governor is a FIFO counting semaphore around the mission execution
// section. It never inspects mission content.
type Governor struct {
	config  Config
	sem     *semaphore.Weighted
	active  atomic.Int64
	metrics *Metrics
}

// Option customizes a Governor.
type Option func(*Governor)

func WithMetrics(metrics *Metrics) Option {
	return func(g *Governor) {
		g.metrics = metrics
	}
}

func New(config Config, opts ...Option) *Governor {
	if config.Capacity < 1 {
		config.Capacity = DefaultCapacity
	}

	if config.StartupBatch < 1 {
		config.StartupBatch = DefaultStartupBatch
	}

	g := &Governor{
		config: config,
		sem:    semaphore.NewWeighted(int64(config.Capacity)),
	}

	for _, opt := range opts {
		opt(g)
	}

	g.metrics.setCapacity(config.Capacity)

	return g
}

// Acquire blocks until a slot is free or ctx is done. Waiters are served in
// arrival order. The returned release func must be called exactly once.
func (g *Governor) Acquire(ctx context.Context) (func(), error) {
	started := time.Now()

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire mission slot: %w", err)
	}

	g.metrics.observeWait(time.Since(started))
	g.metrics.setActive(int(g.active.Add(1)))

	var released atomic.Bool

	return func() {
		if !released.CompareAndSwap(false, true) {
			return
		}

		g.metrics.setActive(int(g.active.Add(-1)))
		g.sem.Release(1)
	}, nil
}

// Active is the number of missions holding a slot.
func (g *Governor) Active() int {
	return int(g.active.Load())
}

func (g *Governor) Capacity() int {
	return g.config.Capacity
}

func (g *Governor) Config() Config {
	return g.config
}
