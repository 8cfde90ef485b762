// Package dynamic implements the dynamic group updater: a periodic task
// that re-resolves the one designated ring_domain label and reconciles it
// against the registry. Grounded on the ring-domain goroutine in the
// original source's main.rs (tokio::time::interval loop calling
// resolve_ring_domain then update_dynamic_backends every 60 seconds),
// restructured into the health.Monitor Start/Stop lifecycle shape.
package dynamic

import (
	"context"
	"sync"
	"time"

	"sidelb/internal/logging"
	"sidelb/internal/registry"
	"sidelb/internal/resolver"
)

// DefaultInterval is spec.md §4.5's fixed re-resolution period.
const DefaultInterval = 60 * time.Second

// Updater periodically re-resolves Label and reconciles it into Registry.
type Updater struct {
	Registry *registry.Registry
	Label    string
	Proto    registry.Protocol
	Interval time.Duration

	reload chan time.Duration
	cancel chan struct{}
	wg     sync.WaitGroup
}

// Start runs an immediate resolution followed by one re-resolution per
// Interval, forever, until Stop is called. It never terminates on a
// resolution failure — an empty or errored result is logged and retried
// next cycle.
func (u *Updater) Start() {
	if u.Interval <= 0 {
		u.Interval = DefaultInterval
	}
	u.cancel = make(chan struct{})
	u.reload = make(chan time.Duration, 1)

	u.runCycle() // initial resolution, before the first tick

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		ticker := time.NewTicker(u.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				u.runCycle()
			case d := <-u.reload:
				ticker.Reset(d)
			case <-u.cancel:
				return
			}
		}
	}()
}

// Stop shuts down the background goroutine and waits for it to exit.
func (u *Updater) Stop() {
	if u.cancel != nil {
		close(u.cancel)
	}
	u.wg.Wait()
}

// SetInterval changes the re-resolution period of a running Updater, taking
// effect on its next tick — the mechanism operational tunables hot-reload
// through.
func (u *Updater) SetInterval(d time.Duration) {
	select {
	case <-u.reload:
	default:
	}
	u.reload <- d
}

func (u *Updater) runCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), resolver.ResolveTimeout)
	defer cancel()

	endpoints, err := resolver.Resolve(ctx, u.Label, u.Proto)
	if err != nil || len(endpoints) == 0 {
		logging.Warnf("dynamic: re-resolution of %q yielded no backends: %v", u.Label, err)
	}
	u.Registry.UpdateDynamic(u.Label, endpoints)
}
