// Package watchdog supervises long-running loops. A supervised loop calls
// Beat on every iteration; the watchdog checks the last beat on an interval
// and invokes the restart callback when the loop has gone stale.
package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Watchdog supervises one loop.
type Watchdog struct {
	name       string
	checkEvery time.Duration
	staleAfter time.Duration
	restart    func()
	log        *slog.Logger

	lastBeat atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
}

// New builds a watchdog. checkEvery is the ping interval; a loop whose last
// beat is older than staleAfter is considered stuck and restarted.
func New(name string, checkEvery, staleAfter time.Duration, restart func()) *Watchdog {
	w := &Watchdog{
		name:       name,
		checkEvery: checkEvery,
		staleAfter: staleAfter,
		restart:    restart,
		log:        slog.With("component", "watchdog", "loop", name),
		stop:       make(chan struct{}),
	}
	w.Beat()
	return w
}

// Beat records liveness of the supervised loop.
func (w *Watchdog) Beat() {
	w.lastBeat.Store(time.Now().UnixNano())
}

// Start launches the supervision loop. It runs until Stop is called or the
// context is cancelled.
func (w *Watchdog) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.checkEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				last := time.Unix(0, w.lastBeat.Load())
				if stalled := time.Since(last); stalled > w.staleAfter {
					w.log.Error("Loop stalled, restarting",
						"last_beat", last.UTC(), "stalled_for", stalled)
					w.Beat()
					w.restart()
				}
			case <-w.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends supervision. Safe to call more than once.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}
