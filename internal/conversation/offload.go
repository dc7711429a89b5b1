package conversation

import (
	"context"
	"log/slog"
	"time"
)

const offloadInterval = time.Minute

// StartOffloadWorker periodically persists and drops sessions that have
// been idle for longer than idle. Sessions never expire: an offloaded
// session is reloaded from the store on its next turn. Without a store the
// worker does nothing.
func (r *Registry) StartOffloadWorker(ctx context.Context, idle time.Duration) {
	if r.store == nil || idle <= 0 {
		return
	}
	interval := offloadInterval
	if idle < interval {
		interval = idle
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session offload worker started", "interval", interval, "idle", idle)

		for {
			select {
			case <-ticker.C:
				r.offloadIdle(ctx, idle)
			case <-ctx.Done():
				slog.Info("Session offload worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (r *Registry) offloadIdle(ctx context.Context, idle time.Duration) int {
	keys := r.idle(r.now().Add(-idle))
	if len(keys) == 0 {
		return 0
	}

	offloaded := 0
	for _, key := range keys {
		if r.Evict(ctx, key) {
			offloaded++
		}
	}
	r.logger.Info("Session offload completed", "candidates", len(keys), "offloaded", offloaded)
	return offloaded
}
