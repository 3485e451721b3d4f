package feed

import (
	"context"
	"time"

	plog "fsmarket.sim/internal/persistence/log"
	"fsmarket.sim/internal/sim/engine"
)

// Play publishes the tick log of runDir into h, one record per interval.
// A zero interval publishes as fast as possible.
func Play(ctx context.Context, h *Hub, runDir string, interval time.Duration) (int, error) {
	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}
	n := 0
	err := plog.ScanTicks(runDir, func(rec engine.TickRecord) error {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		h.ObserveTick(rec)
		n++
		return nil
	})
	return n, err
}
