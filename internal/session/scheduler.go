package session

import (
	"context"
	"time"
)

// Poller drives the store with non-overlapping ticks. The timer is re-armed
// only after a full pass (fetches included) has completed, so a slow source
// stretches the cycle instead of stacking passes.
type Poller struct {
	store    *Store
	interval time.Duration
}

// NewPoller creates a poller. A non-positive interval falls back to the
// store's tuned poll interval.
func NewPoller(store *Store, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = store.tuning.PollInterval
	}
	return &Poller{store: store, interval: interval}
}

// Run blocks until ctx is cancelled, ticking the store once per interval.
func (p *Poller) Run(ctx context.Context) error {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			p.store.Tick(ctx, time.Now())
			timer.Reset(p.interval)
		}
	}
}
