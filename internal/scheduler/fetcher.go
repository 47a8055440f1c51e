// Package scheduler polls the Asset API, classifies every observed job and
// feeds eligible ones to the worker pool. It also promotes jobs whose worker
// stopped heartbeating and bounds retries.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/assetworks/asset-processing-service/internal/assetapi"
	"github.com/assetworks/asset-processing-service/internal/job"
	"github.com/assetworks/asset-processing-service/internal/metrics"
	"github.com/assetworks/asset-processing-service/internal/queue"
)

const (
	// stuckMessage is the error message patched onto reclaimed jobs.
	stuckMessage = "Job is stuck"
	// maxAttemptsMessage is the error message patched onto exhausted jobs.
	maxAttemptsMessage = "Max attempts exceeded"

	defaultPollInterval = 1 * time.Second
	defaultYield        = 3 * time.Second
	defaultErrorBackoff = 3 * time.Second
)

// Fetcher is the single long-running polling task.
type Fetcher struct {
	client         assetapi.Client
	queue          *queue.Queue
	maxAttempts    int
	stuckThreshold time.Duration
	logger         *slog.Logger

	pollInterval time.Duration
	yield        time.Duration
	errorBackoff time.Duration
	now          func() time.Time
}

// NewFetcher creates a Fetcher. maxAttempts bounds retries; stuckThreshold
// is the heartbeat age beyond which an in_progress job counts as abandoned.
func NewFetcher(client assetapi.Client, q *queue.Queue, maxAttempts int, stuckThreshold time.Duration, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:         client,
		queue:          q,
		maxAttempts:    maxAttempts,
		stuckThreshold: stuckThreshold,
		logger:         logger,
		pollInterval:   defaultPollInterval,
		yield:          defaultYield,
		errorBackoff:   defaultErrorBackoff,
		now:            time.Now,
	}
}

// Run polls until the context is cancelled. Poll failures are logged and
// retried after a backoff; they never stop the loop.
func (f *Fetcher) Run(ctx context.Context) error {
	for {
		if !sleep(ctx, f.pollInterval) {
			return ctx.Err()
		}

		jobs, err := f.client.ListJobs(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Error("job poll failed",
				slog.String("error", err.Error()),
			)
			if !sleep(ctx, f.errorBackoff) {
				return ctx.Err()
			}
			continue
		}

		f.logger.Debug("fetched jobs", slog.Int("count", len(jobs)))

		for _, j := range jobs {
			if err := f.classify(ctx, j); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				f.logger.Error("job classification failed",
					slog.String("job_id", j.ID),
					slog.String("status", string(j.Status)),
					slog.String("error", err.Error()),
				)
			}
			// Yield between jobs to avoid bursty API load.
			if !sleep(ctx, f.yield) {
				return ctx.Err()
			}
		}

		metrics.QueueDepth.Set(float64(f.queue.Depth()))
	}
}

// classify maps one observed job to its scheduling action. All patches are
// idempotent with respect to the server: repeating them targets the same
// state.
func (f *Fetcher) classify(ctx context.Context, j job.Job) error {
	switch j.Status {
	case job.StatusInProgress:
		switch {
		case j.Attempts >= f.maxAttempts:
			return f.markMaxAttemptsExceeded(ctx, j)
		case f.isStale(j):
			return f.reclaimStuck(ctx, j)
		default:
			// A live worker owns it, here or elsewhere.
			return nil
		}

	case job.StatusCreated, job.StatusFailed, job.StatusStuck:
		if j.Attempts >= f.maxAttempts {
			return f.markMaxAttemptsExceeded(ctx, j)
		}
		enqueued, err := f.queue.Offer(ctx, j)
		if err != nil {
			return err
		}
		if enqueued {
			f.logger.Info("job enqueued",
				slog.String("job_id", j.ID),
				slog.String("status", string(j.Status)),
				slog.Int("attempts", j.Attempts),
			)
		}
		return nil

	case job.StatusMaxAttemptsExceeded:
		f.queue.Forget(j.ID)
		return nil

	case job.StatusCompleted:
		return nil

	default:
		f.logger.Warn("ignoring job with unknown status",
			slog.String("job_id", j.ID),
			slog.String("status", string(j.Status)),
		)
		return nil
	}
}

// reclaimStuck removes the job from the local in-flight set and patches it
// to stuck with a bumped attempt count so it re-enters the eligible pool.
func (f *Fetcher) reclaimStuck(ctx context.Context, j job.Job) error {
	f.queue.Forget(j.ID)

	f.logger.Warn("reclaiming stuck job",
		slog.String("job_id", j.ID),
		slog.Int("attempts", j.Attempts),
	)

	err := f.client.UpdateJob(ctx, j.ID, assetapi.JobUpdate{
		Status:        assetapi.Ptr(job.StatusStuck),
		Attempts:      assetapi.Ptr(j.Attempts + 1),
		LastHeartBeat: assetapi.Ptr(f.now()),
		ErrorMessage:  assetapi.Ptr(stuckMessage),
	})
	if err != nil {
		return err
	}

	metrics.JobsStuckTotal.Inc()
	return nil
}

// markMaxAttemptsExceeded patches the terminal retry-bound state.
func (f *Fetcher) markMaxAttemptsExceeded(ctx context.Context, j job.Job) error {
	f.logger.Warn("job exceeded max attempts",
		slog.String("job_id", j.ID),
		slog.Int("attempts", j.Attempts),
	)

	err := f.client.UpdateJob(ctx, j.ID, assetapi.JobUpdate{
		Status:       assetapi.Ptr(job.StatusMaxAttemptsExceeded),
		Attempts:     assetapi.Ptr(j.Attempts),
		ErrorMessage: assetapi.Ptr(maxAttemptsMessage),
	})
	if err != nil {
		return err
	}

	metrics.JobsMaxAttemptsTotal.Inc()
	return nil
}

// isStale reports whether the job's heartbeat is older than the threshold.
// An in_progress job without any heartbeat counts as stale.
func (f *Fetcher) isStale(j job.Job) bool {
	if j.LastHeartBeat == nil {
		return true
	}
	age := f.now().Sub(*j.LastHeartBeat)
	if age < 0 {
		age = -age
	}
	return age > f.stuckThreshold
}

// sleep waits for d or until ctx is cancelled, reporting whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
