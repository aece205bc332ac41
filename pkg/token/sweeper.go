package token

import (
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/skygate-io/skygate/pkg/clock"
)

// Sweeper periodically evicts stale tokens so the store does not grow
// unbounded. Abandoned links and quotes are reclaimed here; there is no
// explicit cancel operation.
type Sweeper struct {
	store    *Store
	clock    clock.Clock
	logger   pslog.Logger
	interval time.Duration
	grace    time.Duration

	done chan struct{}
	wg   sync.WaitGroup
}

// NewSweeper creates a Sweeper that runs every interval and retains
// redeemed tokens for grace before pruning them.
func NewSweeper(store *Store, clk clock.Clock, logger pslog.Logger, interval, grace time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		clock:    clk,
		logger:   logger,
		interval: interval,
		grace:    grace,
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (sw *Sweeper) Start() {
	sw.wg.Add(1)
	go sw.loop()
}

// Close stops the loop and waits for it to exit.
func (sw *Sweeper) Close() {
	close(sw.done)
	sw.wg.Wait()
}

func (sw *Sweeper) loop() {
	defer sw.wg.Done()
	for {
		select {
		case <-sw.done:
			return
		case now := <-sw.clock.After(sw.interval):
			if n := sw.store.Sweep(now, sw.grace); n > 0 {
				sw.logger.Debug("token.sweep",
					"evicted", n,
					"remaining", sw.store.Len(),
				)
			}
		}
	}
}
