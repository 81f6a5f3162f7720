package schedule

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is how often the runner polls the clock.
const DefaultInterval = time.Second

// Runner calls tick with the current time on a fixed interval until its
// context is cancelled.
type Runner struct {
	interval time.Duration
	now      func() time.Time
	tick     func(now time.Time)
	done     chan struct{}
	log      *slog.Logger
}

// NewRunner creates a runner. A nil clock means time.Now.
func NewRunner(interval time.Duration, clock func() time.Time, tick func(now time.Time)) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = time.Now
	}
	return &Runner{
		interval: interval,
		now:      clock,
		tick:     tick,
		done:     make(chan struct{}),
		log:      slog.With("component", "scheduler"),
	}
}

// Start begins the tick loop in a background goroutine.
func (r *Runner) Start(ctx context.Context) {
	r.log.Debug("scheduler started", "interval", r.interval)

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		defer close(r.done)

		// Run once immediately on start
		r.tick(r.now())

		for {
			select {
			case <-ticker.C:
				r.tick(r.now())
			case <-ctx.Done():
				r.log.Debug("scheduler stopping")
				return
			}
		}
	}()
}

// Wait blocks until the runner has fully stopped.
func (r *Runner) Wait() {
	<-r.done
}
