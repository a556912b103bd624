// File: internal/dispatch/driver.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Driver invokes a tick function on a fixed interval until stopped.
// It replaces a per-frame update hook: the embedding application decides
// whether ticks come from here or from its own schedule.

package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultInterval is the auto-polling cadence.
const DefaultInterval = 10 * time.Millisecond

// Driver runs tick every interval on a dedicated goroutine.
type Driver struct {
	tick     func() int
	interval time.Duration
	clk      clock.Clock
	log      *zap.Logger

	mu     sync.Mutex
	quitCh chan struct{}
	doneCh chan struct{}

	// inTick is set while tick runs on the driver goroutine.
	inTick atomic.Bool
}

// NewDriver creates a stopped driver. A nil clk uses the wall clock.
func NewDriver(tick func() int, interval time.Duration, clk clock.Clock, log *zap.Logger) *Driver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{tick: tick, interval: interval, clk: clk, log: log}
}

// Interval returns the tick cadence.
func (d *Driver) Interval() time.Duration { return d.interval }

// Running reports whether the driver goroutine is active.
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.quitCh != nil
}

// Start launches the driver. It stops on Stop or when ctx is done.
// Calling Start on a running driver has no effect.
func (d *Driver) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.quitCh != nil {
		return
	}
	d.quitCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	go d.run(ctx, d.quitCh, d.doneCh)
	d.log.Debug("auto-polling started", zap.Duration("interval", d.interval))
}

// Stop signals the goroutine to exit and waits for it. Idempotent.
// While a tick is running Stop does not wait: the caller may be a listener
// on the driver goroutine itself, and the goroutine exits once that tick
// returns.
func (d *Driver) Stop() {
	d.mu.Lock()
	quit, done := d.quitCh, d.doneCh
	d.quitCh, d.doneCh = nil, nil
	d.mu.Unlock()
	if quit == nil {
		return
	}
	close(quit)
	if !d.inTick.Load() {
		<-done
	}
	d.log.Debug("auto-polling stopped")
}

func (d *Driver) run(ctx context.Context, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := d.clk.Ticker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ctx.Done():
			d.mu.Lock()
			if d.quitCh == quit {
				d.quitCh, d.doneCh = nil, nil
			}
			d.mu.Unlock()
			return
		case <-ticker.C:
			d.inTick.Store(true)
			d.tick()
			d.inTick.Store(false)
		}
	}
}
