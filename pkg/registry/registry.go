package registry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/events"
	"github.com/Rubentxu/hodei-pipelines/pkg/log"
	"github.com/Rubentxu/hodei-pipelines/pkg/storage"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// AdmissionFunc decides whether a pool accepts another worker. It is
// wired to the pool manager so the registry stays free of capacity
// bookkeeping.
type AdmissionFunc func(poolID string) error

// ExpiredFunc is invoked when the liveness sweep declares a worker dead.
type ExpiredFunc func(worker *types.Worker)

// RegistrationResult is handed back to a successfully registered worker.
type RegistrationResult struct {
	SessionToken      string
	HeartbeatInterval time.Duration
}

// Registry tracks workers independently of their active executions. It
// is the in-memory authority over worker state; every mutation is
// written through to the store.
type Registry struct {
	store     storage.Store
	broker    *events.Broker
	interval  time.Duration
	missed    int
	admission AdmissionFunc
	onExpired ExpiredFunc

	mu      sync.RWMutex
	workers map[string]*types.Worker

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Config for a Registry. Zero values take the documented defaults.
type Config struct {
	HeartbeatInterval time.Duration
	MissedBeforeError int
	Admission         AdmissionFunc
	OnExpired         ExpiredFunc
}

// New creates a Registry. Call Load before Start on a restarted server.
func New(store storage.Store, broker *events.Broker, cfg Config) *Registry {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = types.DefaultHeartbeatInterval
	}
	if cfg.MissedBeforeError <= 0 {
		cfg.MissedBeforeError = types.DefaultMissedHeartbeatsToError
	}
	return &Registry{
		store:     store,
		broker:    broker,
		interval:  cfg.HeartbeatInterval,
		missed:    cfg.MissedBeforeError,
		admission: cfg.Admission,
		onExpired: cfg.OnExpired,
		workers:   make(map[string]*types.Worker),
		stopCh:    make(chan struct{}),
	}
}

// Load restores workers from the repository. Workers that were alive at
// shutdown come back in error state until they re-register.
func (r *Registry) Load() error {
	workers, err := r.store.ListWorkers()
	if err != nil {
		return fmt.Errorf("failed to load workers: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range workers {
		if !w.Status.Terminated() {
			w.Status = types.WorkerStatusError
		}
		r.workers[w.ID] = w
	}
	return nil
}

// Start launches the liveness sweep.
func (r *Registry) Start() {
	go r.sweepLoop()
}

// Stop stops the liveness sweep.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// HeartbeatInterval returns the interval workers must honor.
func (r *Registry) HeartbeatInterval() time.Duration {
	return r.interval
}

// Register admits a worker. Re-registration of a known worker rotates
// the session token, invalidating the previous one.
func (r *Registry) Register(workerID, name, poolID string, capabilities map[string]string, resources types.Resources) (*RegistrationResult, error) {
	if workerID == "" {
		return nil, errdefs.New(errdefs.KindValidationFailed, "worker id is required")
	}
	if r.admission != nil {
		if err := r.admission(poolID); err != nil {
			return nil, errdefs.Wrap(errdefs.KindRegistrationRejected,
				fmt.Sprintf("pool %s rejected worker %s", poolID, workerID), err)
		}
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	worker := &types.Worker{
		ID:            workerID,
		Name:          name,
		PoolID:        poolID,
		Status:        types.WorkerStatusIdle,
		Capabilities:  capabilities,
		Resources:     resources,
		SessionToken:  token,
		LastHeartbeat: now,
		RegisteredAt:  now,
	}

	r.mu.Lock()
	r.workers[workerID] = worker
	r.mu.Unlock()

	if err := r.store.CreateWorker(worker); err != nil {
		return nil, fmt.Errorf("failed to persist worker: %w", err)
	}

	r.broker.Publish(&types.Event{
		Type:     types.EventWorkerRegistered,
		WorkerID: workerID,
		PoolID:   poolID,
		Message:  name,
	})

	return &RegistrationResult{
		SessionToken:      token,
		HeartbeatInterval: r.interval,
	}, nil
}

// Unregister removes a worker permanently.
func (r *Registry) Unregister(workerID string) error {
	r.mu.Lock()
	worker, ok := r.workers[workerID]
	if !ok {
		r.mu.Unlock()
		return errdefs.Newf(errdefs.KindNotFound, "worker not found: %s", workerID)
	}
	worker.Status = types.WorkerStatusTerminated
	worker.SessionToken = ""
	r.mu.Unlock()

	if err := r.store.UpdateWorker(worker); err != nil {
		return err
	}
	r.broker.Publish(&types.Event{
		Type:     types.EventWorkerTerminated,
		WorkerID: workerID,
		PoolID:   worker.PoolID,
	})
	return nil
}

// Heartbeat records a liveness report. The token must match the current
// registration; a mismatch rejects the message and marks the worker in
// error because a stale or forged session is talking to us.
func (r *Registry) Heartbeat(workerID, token string, activeExecutions []string) error {
	r.mu.Lock()
	worker, ok := r.workers[workerID]
	if !ok {
		r.mu.Unlock()
		return errdefs.Newf(errdefs.KindNotFound, "worker not found: %s", workerID)
	}
	if worker.SessionToken == "" || worker.SessionToken != token {
		worker.Status = types.WorkerStatusError
		r.mu.Unlock()
		_ = r.store.UpdateWorker(worker)
		return errdefs.Newf(errdefs.KindInvalidSession, "session token mismatch for worker %s", workerID)
	}

	worker.LastHeartbeat = time.Now()
	if worker.Status == types.WorkerStatusError {
		// A live heartbeat with a valid session recovers the worker.
		if len(activeExecutions) > 0 {
			worker.Status = types.WorkerStatusBusy
		} else {
			worker.Status = types.WorkerStatusIdle
		}
	}
	snapshot := *worker
	r.mu.Unlock()

	return r.store.UpdateWorker(&snapshot)
}

// ValidateSession reports whether token is the worker's current session.
func (r *Registry) ValidateSession(workerID, token string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	worker, ok := r.workers[workerID]
	if !ok {
		return errdefs.Newf(errdefs.KindNotFound, "worker not found: %s", workerID)
	}
	if worker.SessionToken == "" || worker.SessionToken != token {
		return errdefs.Newf(errdefs.KindInvalidSession, "session token mismatch for worker %s", workerID)
	}
	return nil
}

// Get returns a copy of the worker.
func (r *Registry) Get(workerID string) (*types.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	worker, ok := r.workers[workerID]
	if !ok {
		return nil, errdefs.Newf(errdefs.KindNotFound, "worker not found: %s", workerID)
	}
	snapshot := *worker
	return &snapshot, nil
}

// List returns copies of all workers.
func (r *Registry) List() []*types.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		snapshot := *w
		out = append(out, &snapshot)
	}
	return out
}

// ListByPool returns copies of the pool's workers.
func (r *Registry) ListByPool(poolID string) []*types.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.Worker
	for _, w := range r.workers {
		if w.PoolID == poolID {
			snapshot := *w
			out = append(out, &snapshot)
		}
	}
	return out
}

// MarkBusy binds a worker to an execution. Fails unless the worker is
// currently idle.
func (r *Registry) MarkBusy(workerID, executionID string) error {
	r.mu.Lock()
	worker, ok := r.workers[workerID]
	if !ok {
		r.mu.Unlock()
		return errdefs.Newf(errdefs.KindNotFound, "worker not found: %s", workerID)
	}
	if worker.Status != types.WorkerStatusIdle {
		r.mu.Unlock()
		return errdefs.Newf(errdefs.KindConflict, "worker %s is %s, not idle", workerID, worker.Status)
	}
	worker.Status = types.WorkerStatusBusy
	worker.CurrentExecutionID = executionID
	snapshot := *worker
	r.mu.Unlock()

	return r.store.UpdateWorker(&snapshot)
}

// MarkIdle releases a worker after its execution finished.
func (r *Registry) MarkIdle(workerID string) error {
	r.mu.Lock()
	worker, ok := r.workers[workerID]
	if !ok {
		r.mu.Unlock()
		return errdefs.Newf(errdefs.KindNotFound, "worker not found: %s", workerID)
	}
	worker.CurrentExecutionID = ""
	if worker.Status == types.WorkerStatusBusy {
		worker.Status = types.WorkerStatusIdle
	}
	snapshot := *worker
	r.mu.Unlock()

	return r.store.UpdateWorker(&snapshot)
}

// MarkError flags a worker as unhealthy and detaches its execution.
func (r *Registry) MarkError(workerID, reason string) {
	r.mu.Lock()
	worker, ok := r.workers[workerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	worker.Status = types.WorkerStatusError
	worker.CurrentExecutionID = ""
	snapshot := *worker
	r.mu.Unlock()

	_ = r.store.UpdateWorker(&snapshot)
	r.broker.Publish(&types.Event{
		Type:     types.EventWorkerLost,
		WorkerID: workerID,
		PoolID:   snapshot.PoolID,
		Message:  reason,
	})
}

// sweepLoop runs the liveness sweep every interval/2.
func (r *Registry) sweepLoop() {
	logger := log.WithComponent("registry")
	ticker := time.NewTicker(r.interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, w := range r.Sweep(time.Now()) {
				logger.Warn().
					Str("worker_id", w.ID).
					Time("last_heartbeat", w.LastHeartbeat).
					Msg("worker missed heartbeats, marked error")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Sweep marks every worker silent for missed*interval as of now in
// error state and returns the expired workers. Exposed for tests and
// called periodically by the sweep loop.
func (r *Registry) Sweep(now time.Time) []*types.Worker {
	deadline := now.Add(-time.Duration(r.missed) * r.interval)

	var expired []*types.Worker
	r.mu.Lock()
	for _, w := range r.workers {
		if w.Status == types.WorkerStatusIdle || w.Status == types.WorkerStatusBusy || w.Status == types.WorkerStatusDraining {
			if w.LastHeartbeat.Before(deadline) {
				w.Status = types.WorkerStatusError
				snapshot := *w
				expired = append(expired, &snapshot)
			}
		}
	}
	r.mu.Unlock()

	for _, w := range expired {
		_ = r.store.UpdateWorker(w)
		r.broker.Publish(&types.Event{
			Type:     types.EventWorkerLost,
			WorkerID: w.ID,
			PoolID:   w.PoolID,
			Message:  "heartbeat timeout",
		})
		if r.onExpired != nil {
			r.onExpired(w)
		}
	}
	return expired
}

// newSessionToken returns 32 random bytes hex-encoded.
func newSessionToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
