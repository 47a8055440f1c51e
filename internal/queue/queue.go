// Package queue provides the process-wide job registry: a bounded FIFO of
// jobs awaiting a worker, the in-flight id set guarding against duplicate
// dispatch, and per-job mutexes enforcing exclusive execution.
package queue

import (
	"context"
	"sync"

	"github.com/assetworks/asset-processing-service/internal/job"
)

// DefaultCapacity bounds the FIFO when no capacity is configured.
const DefaultCapacity = 128

// Queue is the in-memory job registry shared by the fetcher and the worker
// pool. All state is per-process and intentionally lost on restart; the
// server's job status is the source of truth.
type Queue struct {
	jobs chan job.Job

	mu       sync.Mutex
	inFlight map[string]struct{}
	locks    map[string]*sync.Mutex
}

// New creates a Queue with the given FIFO capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		jobs:     make(chan job.Job, capacity),
		inFlight: make(map[string]struct{}),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Offer marks the job in flight and enqueues it. It returns false without
// enqueuing when the id is already in flight, so re-listing jobs with no
// state change produces no new queue entries.
func (q *Queue) Offer(ctx context.Context, j job.Job) (bool, error) {
	q.mu.Lock()
	if _, ok := q.inFlight[j.ID]; ok {
		q.mu.Unlock()
		return false, nil
	}
	q.inFlight[j.ID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.jobs <- j:
		return true, nil
	case <-ctx.Done():
		// Undo the reservation so the job stays eligible next poll.
		q.Forget(j.ID)
		return false, ctx.Err()
	}
}

// Dequeue blocks until a job is available or the context is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (job.Job, error) {
	select {
	case j := <-q.jobs:
		return j, nil
	case <-ctx.Done():
		return job.Job{}, ctx.Err()
	}
}

// InFlight reports whether the id is currently enqueued or executing.
func (q *Queue) InFlight(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.inFlight[id]
	return ok
}

// Forget removes the id from the in-flight set, making the job eligible for
// dispatch again on the next observation.
func (q *Queue) Forget(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, id)
}

// Lock returns the mutex for the given job id, creating it if absent. At
// most one worker may execute a job id at a time within this process; a
// second dispatch blocks until the first run releases the lock.
func (q *Queue) Lock(id string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.locks[id]
	if !ok {
		l = &sync.Mutex{}
		q.locks[id] = l
	}
	return l
}

// ReleaseLock drops the mutex for the given job id. The caller must hold no
// reference it intends to lock again.
func (q *Queue) ReleaseLock(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.locks, id)
}

// Depth returns the number of jobs waiting in the FIFO.
func (q *Queue) Depth() int {
	return len(q.jobs)
}
