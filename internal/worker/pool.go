package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/assetworks/asset-processing-service/internal/assetapi"
	"github.com/assetworks/asset-processing-service/internal/job"
	"github.com/assetworks/asset-processing-service/internal/metrics"
	"github.com/assetworks/asset-processing-service/internal/queue"
)

// defaultFailureBackoff is the pause after a failed-status patch cannot be
// delivered, keeping a broken API from being hammered in a tight loop.
const defaultFailureBackoff = 3 * time.Second

// JobProcessor runs one job to completion or failure.
type JobProcessor interface {
	Process(ctx context.Context, j job.Job) error
}

// Pool drains the queue with a fixed number of workers. Each worker holds
// the per-job lock for the duration of processing so a job ID is never
// worked on by two goroutines at once.
type Pool struct {
	queue          *queue.Queue
	processor      JobProcessor
	client         assetapi.Client
	size           int
	logger         *slog.Logger
	failureBackoff time.Duration
}

// NewPool creates a Pool with the given number of workers.
func NewPool(q *queue.Queue, processor JobProcessor, client assetapi.Client, size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:          q,
		processor:      processor,
		client:         client,
		size:           size,
		logger:         logger,
		failureBackoff: defaultFailureBackoff,
	}
}

// Run blocks until ctx is cancelled and every worker has drained out.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) work(ctx context.Context, id int) {
	logger := p.logger.With(slog.Int("worker", id))
	logger.Debug("worker started")
	for {
		j, err := p.queue.Dequeue(ctx)
		if err != nil {
			logger.Debug("worker stopping")
			return
		}
		p.handle(ctx, j, logger)
	}
}

// handle processes one job under its lock and releases all queue state for
// the ID afterwards, making the job eligible for future re-observation.
func (p *Pool) handle(ctx context.Context, j job.Job, logger *slog.Logger) {
	lock := p.queue.Lock(j.ID)
	lock.Lock()
	defer func() {
		lock.Unlock()
		p.queue.ReleaseLock(j.ID)
		p.queue.Forget(j.ID)
		metrics.QueueDepth.Set(float64(p.queue.Depth()))
	}()

	err := p.processor.Process(ctx, j)
	if err == nil {
		metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()
		return
	}

	metrics.JobsProcessedTotal.WithLabelValues("failed").Inc()
	logger.Error("job failed",
		slog.String("job_id", j.ID),
		slog.String("error", err.Error()),
	)

	// The heartbeat companion has already been stopped inside Process, so
	// this patch is the last write for the run.
	if uerr := p.client.UpdateJob(ctx, j.ID, assetapi.JobUpdate{
		Status:       assetapi.Ptr(job.StatusFailed),
		ErrorMessage: assetapi.Ptr(err.Error()),
		Attempts:     assetapi.Ptr(j.Attempts + 1),
	}); uerr != nil {
		logger.Error("failed to report job failure",
			slog.String("job_id", j.ID),
			slog.String("error", uerr.Error()),
		)
		sleep(ctx, p.failureBackoff)
	}
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
