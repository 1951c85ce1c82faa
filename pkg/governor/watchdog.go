package governor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/sortie/pkg/log"
	"github.com/robfig/cron/v3"
)

// Resumer lists and relaunches paused missions.
type Resumer interface {
	Resumable(ctx context.Context) ([]string, error)
	Running() int
	Launch(ctx context.Context, missionID string) (bool, error)
}

// PassResult reports what one resume pass did.
type PassResult struct {
	Plan     Plan     `json:"plan"`
	Load     Load     `json:"load"`
	Pending  int      `json:"pending"`
	Launched []string `json:"launched"`
	Deferred string   `json:"deferred,omitempty"`
}

// Watchdog periodically resumes paused missions within the governor's limits.
type Watchdog struct {
	governor *Governor
	sampler  Sampler
	resumer  Resumer
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	startup chan struct{}
}

// WatchdogOption customizes a Watchdog.
type WatchdogOption func(*Watchdog)

// WithStaggerSleep replaces the wait between launches.
func WithStaggerSleep(sleep func(ctx context.Context, d time.Duration) error) WatchdogOption {
	return func(w *Watchdog) {
		w.sleep = sleep
	}
}

func NewWatchdog(governor *Governor, sampler Sampler, resumer Resumer, logger *slog.Logger, opts ...WatchdogOption) *Watchdog {
	w := &Watchdog{
		governor: governor,
		sampler:  sampler,
		resumer:  resumer,
		logger:   logger.With("module", "watchdog"),
		sleep:    sleepContext,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Start runs a startup pass in the background and schedules watchdog passes
// every WatchdogInterval until Stop.
func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cron != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	interval := w.governor.Config().WatchdogInterval

	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}

	cronLogger := log.NewCronLogger(w.logger)
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(
			cron.SkipIfStillRunning(cronLogger),
			cron.Recover(cronLogger),
		),
	)

	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if ctx.Err() != nil {
			return
		}

		if _, err := w.Pass(ctx, ModeWatchdog); err != nil {
			w.logger.WarnContext(ctx, "Watchdog pass failed", "error", err)
		}
	})
	if err != nil {
		cancel()

		return fmt.Errorf("failed to schedule watchdog: %w", err)
	}

	startup := make(chan struct{})

	w.cron = c
	w.cancel = cancel
	w.startup = startup

	go func() {
		defer close(startup)

		if _, err := w.Pass(ctx, ModeStartup); err != nil {
			w.logger.WarnContext(ctx, "Startup resume pass failed", "error", err)
		}

		w.mu.Lock()
		defer w.mu.Unlock()

		// Stop may have run during the startup pass.
		if w.cron != c || ctx.Err() != nil {
			return
		}

		c.Start()
	}()

	w.logger.InfoContext(ctx, "Watchdog started", "interval", interval, "capacity", w.governor.Capacity())

	return nil
}

// Stop cancels running passes, waits for the startup pass and for scheduled
// jobs to finish. No pass starts after Stop returns.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	c, cancel, startup := w.cron, w.cancel, w.startup
	w.cron, w.cancel, w.startup = nil, nil, nil
	w.mu.Unlock()

	if c == nil {
		return
	}

	cancel()
	<-startup
	<-c.Stop().Done()

	w.logger.Info("Watchdog stopped")
}

// Pass samples the load, plans and launches paused missions. A red zone or
// a failed sample defers the whole pass to the next cycle.
func (w *Watchdog) Pass(ctx context.Context, mode Mode) (PassResult, error) {
	var result PassResult

	load, err := w.sampler.Sample(ctx)
	if err != nil {
		w.governor.metrics.deferred("sample_error")
		result.Deferred = "sample_error"

		return result, err
	}

	result.Load = load
	w.governor.metrics.observeLoad(load)

	pending, err := w.resumer.Resumable(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list resumable missions: %w", err)
	}

	result.Pending = len(pending)
	result.Plan = w.governor.Plan(load, mode, len(pending), w.resumer.Running())

	logger := w.logger.With("mode", mode, "zone", result.Plan.Zone, "cpu", load.CPU, "ram", load.RAM)

	if result.Plan.Launch == 0 {
		switch {
		case len(pending) == 0:
			result.Deferred = "nothing_pending"
		case result.Plan.Zone == ZoneRed:
			result.Deferred = "red_zone"
		default:
			result.Deferred = "no_free_slots"
		}

		w.governor.metrics.deferred(result.Deferred)
		logger.DebugContext(ctx, "Resume pass deferred", "reason", result.Deferred, "pending", len(pending))

		return result, nil
	}

	logger.InfoContext(ctx, "Resuming paused missions", "pending", len(pending), "launch", result.Plan.Launch, "stagger", result.Plan.Stagger)

	for i, id := range pending[:result.Plan.Launch] {
		if i > 0 {
			if err := w.sleep(ctx, result.Plan.Stagger); err != nil {
				return result, err
			}
		}

		launched, err := w.resumer.Launch(ctx, id)
		if err != nil {
			logger.WarnContext(ctx, "Failed to resume mission", "mission_id", id, "error", err)

			continue
		}

		if launched {
			result.Launched = append(result.Launched, id)
			w.governor.metrics.launched(mode)
		}
	}

	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
