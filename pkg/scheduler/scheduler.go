package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/lifecycle"
	"github.com/Rubentxu/hodei-pipelines/pkg/log"
	"github.com/Rubentxu/hodei-pipelines/pkg/metrics"
	"github.com/Rubentxu/hodei-pipelines/pkg/pool"
	"github.com/Rubentxu/hodei-pipelines/pkg/queue"
	"github.com/Rubentxu/hodei-pipelines/pkg/quota"
	"github.com/Rubentxu/hodei-pipelines/pkg/registry"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// Dispatcher ships an assigned job to its worker. Satisfied by the
// transport server. An error means the hand-off never started; once
// Dispatch returns nil the dispatcher owns the execution's dispatch
// outcome, including arming the dispatch window.
type Dispatcher interface {
	Dispatch(job *types.Job, exec *types.Execution) error
}

// maxIdleSleep bounds how long the loop sleeps with no wake signal, so
// deferred retries and freed capacity are noticed promptly.
const maxIdleSleep = time.Second

// quotaBackoff is how far a quota-blocked job moves back in time, so
// other namespaces behind it are not starved.
const quotaBackoff = 5 * time.Second

// Pool scoring weights: free CPU dominates, free memory breaks the
// balance.
const (
	cpuWeight = 0.6
	memWeight = 0.4
)

// Scheduler assigns queued jobs to workers. All assignment decisions
// happen on one goroutine; everything else only nudges it through Wake.
type Scheduler struct {
	queue      *queue.Queue
	pools      *pool.Manager
	registry   *registry.Registry
	quotas     *quota.Manager
	lifecycle  *lifecycle.Manager
	dispatcher Dispatcher
	logger     zerolog.Logger

	wakeCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New wires the scheduler.
func New(q *queue.Queue, pools *pool.Manager, reg *registry.Registry,
	quotas *quota.Manager, lm *lifecycle.Manager, d Dispatcher) *Scheduler {
	return &Scheduler{
		queue:      q,
		pools:      pools,
		registry:   reg,
		quotas:     quotas,
		lifecycle:  lm,
		dispatcher: d,
		logger:     log.WithComponent("scheduler"),
		wakeCh:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the scheduling loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop terminates the loop.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Wake nudges the loop. Never blocks; coalesces with pending nudges.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.wakeCh:
		case <-time.After(s.idleSleep()):
		}
		s.drain()
	}
}

// drain dispatches until the queue is empty or nothing can be placed.
func (s *Scheduler) drain() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		if !s.dispatchOne() {
			return
		}
	}
}

// idleSleep sizes the sleep between passes: shorter when a deferred
// retry comes due before the cap.
func (s *Scheduler) idleSleep() time.Duration {
	now := time.Now()
	if next, ok := s.queue.NextReady(now); ok {
		if d := next.Sub(now); d < maxIdleSleep {
			if d < time.Millisecond {
				d = time.Millisecond
			}
			return d
		}
	}
	return maxIdleSleep
}

// dispatchOne claims and places a single job. Returns false when the
// loop should go back to sleep.
func (s *Scheduler) dispatchOne() bool {
	job, enqueuedAt, ok := s.queue.Claim(time.Now())
	if !ok {
		return false
	}

	resources := job.Resources.AsResources()
	poolID, workerID, ok := s.pick(resources, job.RequiredCapabilities)
	if !ok {
		// Nothing fits right now; keep the job's queue position.
		s.pushFront(job, enqueuedAt)
		return false
	}

	if err := s.pools.Reserve(poolID, resources); err != nil {
		// Raced with another reservation; retry shortly.
		s.pushFront(job, enqueuedAt)
		return false
	}

	if err := s.quotas.AdmitDispatch(job.Namespace, resources); err != nil {
		s.pools.Release(poolID, resources)
		if errdefs.IsQuotaExceeded(err) {
			metrics.QuotaRejections.Inc()
			// Push the blocked job back without holding up other
			// namespaces queued behind it.
			s.logger.Debug().Str("job_id", job.ID).Str("namespace", job.Namespace).
				Msg("dispatch blocked by quota")
			if err := s.queue.SubmitAfter(job, time.Now().Add(quotaBackoff)); err != nil {
				s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to requeue job")
			}
			return true
		}
		s.pushFront(job, enqueuedAt)
		return false
	}

	exec, err := s.lifecycle.Create(job, poolID, workerID, enqueuedAt)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to create execution")
		s.unwind(job, enqueuedAt, poolID, resources)
		return true
	}

	// Workers report BUSY with the execution they hold, so the bind
	// happens before the job leaves the control plane.
	if err := s.registry.MarkBusy(workerID, exec.ID); err != nil {
		// Worker vanished between pick and bind; the execution exists,
		// so the lifecycle owns the failure path.
		_ = s.lifecycle.HandleStatus(exec.ID, types.ExecutionStatusFailed, -1, "worker unavailable")
		return true
	}

	if err := s.dispatcher.Dispatch(job, exec); err != nil {
		s.logger.Warn().Err(err).
			Str("job_id", job.ID).
			Str("worker_id", workerID).
			Msg("dispatch failed")
		// The execution exists, so the lifecycle owns the failure path:
		// fail it and let the retry policy decide what happens next.
		_ = s.lifecycle.HandleStatus(exec.ID, types.ExecutionStatusFailed, -1, err.Error())
		return true
	}
	metrics.DispatchLatency.Observe(time.Since(enqueuedAt).Seconds())

	s.logger.Info().
		Str("job_id", job.ID).
		Str("execution_id", exec.ID).
		Str("pool_id", poolID).
		Str("worker_id", workerID).
		Msg("job assigned")
	return true
}

func (s *Scheduler) pushFront(job *types.Job, enqueuedAt time.Time) {
	if err := s.queue.PushFront(job, enqueuedAt); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to requeue job")
	}
}

func (s *Scheduler) unwind(job *types.Job, enqueuedAt time.Time, poolID string, resources types.Resources) {
	s.pools.Release(poolID, resources)
	s.quotas.ReleaseDispatch(job.Namespace, resources)
	s.pushFront(job, enqueuedAt)
}

// pick chooses the pool with the most free headroom and its least
// recently used idle worker that fits the request.
func (s *Scheduler) pick(resources types.Resources, capabilities map[string]string) (poolID, workerID string, ok bool) {
	bestScore := -1.0

	for _, p := range s.pools.List() {
		if !s.pools.Dispatchable(p.ID) {
			continue
		}
		if p.Capacity == nil || !p.Capacity.Available.Fits(resources) {
			continue
		}
		w, found := s.pickWorker(p.ID, resources, capabilities)
		if !found {
			continue
		}
		if score := poolScore(p.Capacity); score > bestScore {
			bestScore = score
			poolID = p.ID
			workerID = w
			ok = true
		}
	}
	return poolID, workerID, ok
}

// pickWorker prefers the idle worker with the oldest heartbeat so load
// spreads across the pool. Workers missing a required capability never
// match.
func (s *Scheduler) pickWorker(poolID string, resources types.Resources, capabilities map[string]string) (string, bool) {
	var (
		best   string
		oldest time.Time
		found  bool
	)
	for _, w := range s.registry.ListByPool(poolID) {
		if w.Status != types.WorkerStatusIdle || !w.Resources.Fits(resources) {
			continue
		}
		if !w.HasCapabilities(capabilities) {
			continue
		}
		if !found || w.LastHeartbeat.Before(oldest) {
			best = w.ID
			oldest = w.LastHeartbeat
			found = true
		}
	}
	return best, found
}

// poolScore ranks pools by free capacity fraction.
func poolScore(cap *types.PoolCapacity) float64 {
	score := 0.0
	if cap.Total.CPUCores > 0 {
		score += cpuWeight * (cap.Available.CPUCores / cap.Total.CPUCores)
	}
	if cap.Total.MemoryMB > 0 {
		score += memWeight * (float64(cap.Available.MemoryMB) / float64(cap.Total.MemoryMB))
	}
	return score
}
