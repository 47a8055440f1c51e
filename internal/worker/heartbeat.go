package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/assetworks/asset-processing-service/internal/assetapi"
	"github.com/assetworks/asset-processing-service/internal/metrics"
)

// heartbeat is the companion task that keeps a job's lastHeartBeat fresh
// while a worker holds it. Its lifetime is strictly contained in the
// worker's processing of that job.
type heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startHeartbeat spawns the companion loop for the given job. Patch
// failures are logged and the loop continues; the heartbeat is best-effort
// and the server's clock comparison is the authoritative liveness signal.
func startHeartbeat(ctx context.Context, client assetapi.Client, jobID string, interval time.Duration, logger *slog.Logger) *heartbeat {
	hbCtx, cancel := context.WithCancel(ctx)
	h := &heartbeat{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		for {
			if err := client.Heartbeat(hbCtx, jobID); err != nil {
				if hbCtx.Err() != nil {
					return
				}
				metrics.HeartbeatFailuresTotal.Inc()
				logger.Warn("heartbeat update failed",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}

			select {
			case <-hbCtx.Done():
				return
			case <-time.After(interval):
			}
		}
	}()

	return h
}

// stop cancels the companion and waits for it to exit. Callers rely on this
// to guarantee no heartbeat patch arrives after the terminal status write.
func (h *heartbeat) stop() {
	h.cancel()
	<-h.done
}
