package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// item is one queued job. enqueuedAt drives FIFO order inside a
// priority band; readyAt delays retried jobs until their backoff
// elapses.
type item struct {
	job        *types.Job
	enqueuedAt time.Time
	readyAt    time.Time
	seq        uint64
	index      int
}

// Queue is the in-memory pending-job queue. Jobs come out highest
// priority first, oldest first within a priority. The queue holds no
// durable state; the caller persists job status transitions.
type Queue struct {
	mu    sync.Mutex
	items jobHeap
	byID  map[string]*item
	seq   uint64
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{byID: make(map[string]*item)}
}

// Submit enqueues a job at the back of its priority band.
func (q *Queue) Submit(job *types.Job) error {
	return q.push(job, time.Now(), time.Time{})
}

// SubmitAfter enqueues a job that only becomes claimable at readyAt.
// Used for retry backoff.
func (q *Queue) SubmitAfter(job *types.Job, readyAt time.Time) error {
	return q.push(job, time.Now(), readyAt)
}

// PushFront returns a job to the queue without losing its position:
// the original enqueue time is preserved, so it sorts ahead of jobs
// submitted after it. Used when a dispatch attempt fails.
func (q *Queue) PushFront(job *types.Job, enqueuedAt time.Time) error {
	return q.push(job, enqueuedAt, time.Time{})
}

func (q *Queue) push(job *types.Job, enqueuedAt, readyAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.byID[job.ID]; ok {
		return errdefs.Newf(errdefs.KindConflict, "job already queued: %s", job.ID)
	}
	q.seq++
	it := &item{job: job, enqueuedAt: enqueuedAt, readyAt: readyAt, seq: q.seq}
	q.byID[job.ID] = it
	heap.Push(&q.items, it)
	return nil
}

// Claim removes and returns the highest-priority claimable job, along
// with the time it was originally enqueued (for PushFront on dispatch
// failure). Returns false when nothing is claimable.
func (q *Queue) Claim(now time.Time) (*types.Job, time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Jobs still inside their retry backoff are skipped, not reordered.
	var deferred []*item
	defer func() {
		for _, it := range deferred {
			heap.Push(&q.items, it)
		}
	}()

	for q.items.Len() > 0 {
		it := heap.Pop(&q.items).(*item)
		if it.readyAt.After(now) {
			deferred = append(deferred, it)
			continue
		}
		delete(q.byID, it.job.ID)
		return it.job, it.enqueuedAt, true
	}
	return nil, time.Time{}, false
}

// Remove drops a queued job, typically on cancellation.
func (q *Queue) Remove(jobID string) (*types.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byID[jobID]
	if !ok {
		return nil, errdefs.Newf(errdefs.KindNotFound, "job not queued: %s", jobID)
	}
	delete(q.byID, jobID)
	heap.Remove(&q.items, it.index)
	return it.job, nil
}

// Contains reports whether the job is currently queued.
func (q *Queue) Contains(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byID[jobID]
	return ok
}

// Len returns the number of queued jobs, claimable or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// NextReady returns the earliest readyAt among deferred jobs, so the
// scheduler can size its idle sleep. ok is false when the queue has no
// deferred jobs.
func (q *Queue) NextReady(now time.Time) (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var next time.Time
	for _, it := range q.items {
		if it.readyAt.After(now) && (next.IsZero() || it.readyAt.Before(next)) {
			next = it.readyAt
		}
	}
	return next, !next.IsZero()
}

// jobHeap orders by priority descending, then enqueue time ascending,
// then insertion order.
type jobHeap []*item

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	if !h[i].enqueuedAt.Equal(h[j].enqueuedAt) {
		return h[i].enqueuedAt.Before(h[j].enqueuedAt)
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
