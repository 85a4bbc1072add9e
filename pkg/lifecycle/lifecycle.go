package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/events"
	"github.com/Rubentxu/hodei-pipelines/pkg/log"
	"github.com/Rubentxu/hodei-pipelines/pkg/pool"
	"github.com/Rubentxu/hodei-pipelines/pkg/queue"
	"github.com/Rubentxu/hodei-pipelines/pkg/quota"
	"github.com/Rubentxu/hodei-pipelines/pkg/registry"
	"github.com/Rubentxu/hodei-pipelines/pkg/storage"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// WorkerControl is the slice of the transport the lifecycle needs: the
// ability to tell a worker to stop an execution.
type WorkerControl interface {
	CancelExecution(workerID, executionID string, force bool, reason string) error
}

// legal execution state transitions. Terminal states admit none.
var transitions = map[types.ExecutionStatus][]types.ExecutionStatus{
	types.ExecutionStatusPending: {
		types.ExecutionStatusRunning,
		types.ExecutionStatusFailed,
		types.ExecutionStatusCancelled,
	},
	types.ExecutionStatusRunning: {
		types.ExecutionStatusSuccess,
		types.ExecutionStatusFailed,
		types.ExecutionStatusCancelled,
	},
}

func canTransition(from, to types.ExecutionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Config tunes the lifecycle timers. Zero values take the defaults.
type Config struct {
	DispatchTimeout time.Duration
	CancelGrace     time.Duration
	LogRetention    time.Duration
}

// Manager drives executions from creation to their terminal state and
// folds the outcome back into the owning job: capacity and quota
// release, retry scheduling and event publication all happen here.
type Manager struct {
	store    storage.Store
	broker   *events.Broker
	queue    *queue.Queue
	quotas   *quota.Manager
	pools    *pool.Manager
	registry *registry.Registry
	control  WorkerControl
	wake     func()
	logger   zerolog.Logger

	dispatchTimeout time.Duration
	cancelGrace     time.Duration
	logRetention    time.Duration

	mu     sync.Mutex
	active map[string]*activeExecution
	logs   *logStore
}

// activeExecution is the in-flight bookkeeping for one execution.
type activeExecution struct {
	exec       *types.Execution
	job        *types.Job
	enqueuedAt time.Time

	dispatchTimer *time.Timer
	timeoutTimer  *time.Timer
	cancelTimer   *time.Timer

	cancelReason string
	timedOut     bool
}

// NewManager wires the lifecycle against its collaborators. The worker
// control is attached later with SetWorkerControl because the transport
// is constructed after the lifecycle.
func NewManager(store storage.Store, broker *events.Broker, q *queue.Queue,
	quotas *quota.Manager, pools *pool.Manager, reg *registry.Registry, cfg Config) *Manager {

	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = types.DefaultDispatchTimeout
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = types.DefaultCancelGrace
	}
	if cfg.LogRetention <= 0 {
		cfg.LogRetention = types.DefaultLogRetention
	}
	return &Manager{
		store:           store,
		broker:          broker,
		queue:           q,
		quotas:          quotas,
		pools:           pools,
		registry:        reg,
		logger:          log.WithComponent("lifecycle"),
		dispatchTimeout: cfg.DispatchTimeout,
		cancelGrace:     cfg.CancelGrace,
		logRetention:    cfg.LogRetention,
		active:          make(map[string]*activeExecution),
		logs:            newLogStore(cfg.LogRetention),
	}
}

// SetWorkerControl attaches the transport-side cancel path.
func (m *Manager) SetWorkerControl(c WorkerControl) { m.control = c }

// SetWaker attaches the scheduler nudge used after requeues.
func (m *Manager) SetWaker(wake func()) { m.wake = wake }

func (m *Manager) nudge() {
	if m.wake != nil {
		m.wake()
	}
}

// Create starts tracking a new execution for a claimed job. Pool
// capacity and quota must already be reserved; the lifecycle releases
// both on the terminal transition.
func (m *Manager) Create(job *types.Job, poolID, workerID string, enqueuedAt time.Time) (*types.Execution, error) {
	exec := &types.Execution{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		PoolID:    poolID,
		WorkerID:  workerID,
		Status:    types.ExecutionStatusPending,
		CreatedAt: time.Now(),
	}
	if err := m.store.CreateExecution(exec); err != nil {
		return nil, fmt.Errorf("failed to persist execution: %w", err)
	}

	job.Status = types.JobStatusPending
	job.Attempts++
	job.UpdatedAt = time.Now()
	if err := m.store.UpdateJob(job); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	m.mu.Lock()
	m.active[exec.ID] = &activeExecution{exec: exec, job: job, enqueuedAt: enqueuedAt}
	m.mu.Unlock()
	m.logs.open(exec.ID)

	m.broker.Publish(&types.Event{
		Type:        types.EventExecutionCreated,
		JobID:       job.ID,
		ExecutionID: exec.ID,
		WorkerID:    workerID,
		PoolID:      poolID,
	})
	return exec, nil
}

// Dispatched arms the dispatch window: the worker must report the
// execution running before it expires, or the attempt is abandoned and
// the job goes back to the front of the queue.
func (m *Manager) Dispatched(executionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ae, ok := m.active[executionID]
	if !ok || ae.exec.Status != types.ExecutionStatusPending {
		return
	}
	ae.dispatchTimer = time.AfterFunc(m.dispatchTimeout, func() {
		m.dispatchExpired(executionID)
	})
}

func (m *Manager) dispatchExpired(executionID string) {
	m.mu.Lock()
	ae, ok := m.active[executionID]
	if !ok || ae.exec.Status != types.ExecutionStatusPending {
		m.mu.Unlock()
		return
	}
	ae.exec.Status = types.ExecutionStatusFailed
	ae.exec.FinishedAt = time.Now()
	ae.exec.Error = &types.ExecutionError{
		Kind:    string(errdefs.KindDispatchTimeout),
		Message: fmt.Sprintf("worker did not start execution within %s", m.dispatchTimeout),
	}
	m.stopTimersLocked(ae)
	delete(m.active, executionID)
	m.mu.Unlock()

	m.logger.Warn().
		Str("execution_id", executionID).
		Str("worker_id", ae.exec.WorkerID).
		Msg("dispatch window expired")

	_ = m.store.UpdateExecution(ae.exec)
	m.releaseReservations(ae)
	m.registry.MarkError(ae.exec.WorkerID, "dispatch timeout")
	m.broker.Publish(&types.Event{
		Type:        types.EventExecutionFailed,
		JobID:       ae.job.ID,
		ExecutionID: executionID,
		WorkerID:    ae.exec.WorkerID,
		Message:     ae.exec.Error.Message,
	})
	m.logs.finish(executionID)

	// A dispatch failure is the orchestrator's fault, not the job's: the
	// attempt is not consumed and the job keeps its queue position.
	ae.job.Status = types.JobStatusQueued
	ae.job.Attempts--
	ae.job.UpdatedAt = time.Now()
	_ = m.store.UpdateJob(ae.job)
	if err := m.queue.PushFront(ae.job, ae.enqueuedAt); err != nil {
		m.logger.Error().Err(err).Str("job_id", ae.job.ID).Msg("failed to requeue job")
	}
	m.nudge()
}

// HandleStatus applies a status report from the worker. Illegal
// transitions are rejected; duplicates of a terminal state are ignored.
func (m *Manager) HandleStatus(executionID string, status types.ExecutionStatus, exitCode int, message string) error {
	m.mu.Lock()
	ae, ok := m.active[executionID]
	if !ok {
		m.mu.Unlock()
		// Late report for an already finalized execution.
		return nil
	}
	from := ae.exec.Status
	if from == status {
		m.mu.Unlock()
		return nil
	}
	if !canTransition(from, status) {
		m.mu.Unlock()
		return errdefs.Newf(errdefs.KindConflict,
			"illegal execution transition %s -> %s", from, status)
	}

	switch status {
	case types.ExecutionStatusRunning:
		ae.exec.Status = types.ExecutionStatusRunning
		ae.exec.StartedAt = time.Now()
		if ae.dispatchTimer != nil {
			ae.dispatchTimer.Stop()
		}
		timeout := types.ClampJobTimeout(ae.job.Timeout)
		ae.timeoutTimer = time.AfterFunc(timeout, func() {
			m.timeoutExpired(executionID)
		})
		ae.job.Status = types.JobStatusRunning
		ae.job.UpdatedAt = time.Now()
		snapshot := *ae.exec
		jobSnapshot := *ae.job
		m.mu.Unlock()

		if err := m.store.UpdateExecution(&snapshot); err != nil {
			return err
		}
		_ = m.store.UpdateJob(&jobSnapshot)
		m.broker.Publish(&types.Event{
			Type:        types.EventExecutionStarted,
			JobID:       jobSnapshot.ID,
			ExecutionID: executionID,
			WorkerID:    snapshot.WorkerID,
		})
		return nil

	default:
		// Terminal report from the worker.
		m.finalizeLocked(ae, status, exitCode, message)
		return nil
	}
}

// Cancel requests cancellation. Pending executions cancel immediately;
// running ones get a cancel sent to the worker and a grace window
// before the orchestrator finalizes on its own. Cancelling an already
// terminal execution is a no-op.
func (m *Manager) Cancel(executionID string, force bool, reason string) error {
	m.mu.Lock()
	ae, ok := m.active[executionID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if reason == "" {
		reason = "cancelled by user"
	}

	switch ae.exec.Status {
	case types.ExecutionStatusPending:
		m.finalizeLocked(ae, types.ExecutionStatusCancelled, 0, reason)
		return nil

	case types.ExecutionStatusRunning:
		if ae.cancelTimer != nil && !force {
			m.mu.Unlock()
			return nil // cancel already in flight
		}
		ae.cancelReason = reason
		workerID := ae.exec.WorkerID
		if force {
			m.finalizeLocked(ae, types.ExecutionStatusCancelled, 0, reason)
			if m.control != nil {
				_ = m.control.CancelExecution(workerID, executionID, true, reason)
			}
			return nil
		}
		ae.cancelTimer = time.AfterFunc(m.cancelGrace, func() {
			m.cancelExpired(executionID)
		})
		m.mu.Unlock()

		if m.control != nil {
			if err := m.control.CancelExecution(workerID, executionID, false, reason); err != nil {
				return err
			}
		}
		return nil

	default:
		m.mu.Unlock()
		return nil
	}
}

func (m *Manager) cancelExpired(executionID string) {
	m.mu.Lock()
	ae, ok := m.active[executionID]
	if !ok || ae.exec.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	reason := ae.cancelReason
	workerID := ae.exec.WorkerID
	m.finalizeLocked(ae, types.ExecutionStatusCancelled, 0, reason+" (grace period expired)")

	// The worker ignored the cancel; stop trusting it.
	m.registry.MarkError(workerID, "cancel grace period expired")
	if m.control != nil {
		_ = m.control.CancelExecution(workerID, executionID, true, reason)
	}
}

func (m *Manager) timeoutExpired(executionID string) {
	m.mu.Lock()
	ae, ok := m.active[executionID]
	if !ok || ae.exec.Status != types.ExecutionStatusRunning {
		m.mu.Unlock()
		return
	}
	ae.timedOut = true
	ae.cancelReason = fmt.Sprintf("job timeout %s exceeded", types.ClampJobTimeout(ae.job.Timeout))
	workerID := ae.exec.WorkerID
	ae.cancelTimer = time.AfterFunc(m.cancelGrace, func() {
		m.cancelExpired(executionID)
	})
	m.mu.Unlock()

	m.logger.Warn().
		Str("execution_id", executionID).
		Str("job_id", ae.job.ID).
		Msg("job timeout exceeded, cancelling execution")
	if m.control != nil {
		_ = m.control.CancelExecution(workerID, executionID, false, ae.cancelReason)
	}
}

// WorkerLost fails every execution assigned to the worker. Called by
// the registry sweep and by the transport on connection loss.
func (m *Manager) WorkerLost(workerID string) {
	m.mu.Lock()
	var lost []*activeExecution
	for _, ae := range m.active {
		if ae.exec.WorkerID == workerID && !ae.exec.Status.Terminal() {
			lost = append(lost, ae)
		}
	}
	m.mu.Unlock()

	for _, ae := range lost {
		m.mu.Lock()
		if ae.exec.Status.Terminal() {
			m.mu.Unlock()
			continue
		}
		ae.exec.Error = &types.ExecutionError{
			Kind:    string(errdefs.KindWorkerDisconnected),
			Message: "worker connection lost",
		}
		m.finalizeLocked(ae, types.ExecutionStatusFailed, -1, "worker connection lost")
	}
}

// finalizeLocked applies a terminal transition and its side effects.
// Called with m.mu held; releases it.
func (m *Manager) finalizeLocked(ae *activeExecution, status types.ExecutionStatus, exitCode int, message string) {
	executionID := ae.exec.ID

	// A cancel that originated from the job timeout is a failure of the
	// job, so retries still apply.
	if status == types.ExecutionStatusCancelled && ae.timedOut {
		status = types.ExecutionStatusFailed
		message = ae.cancelReason
	}

	ae.exec.Status = status
	ae.exec.FinishedAt = time.Now()
	switch status {
	case types.ExecutionStatusSuccess:
		ae.exec.Result = &types.ExecutionResult{ExitCode: exitCode, Message: message}
	case types.ExecutionStatusFailed:
		if ae.exec.Error == nil {
			ae.exec.Error = &types.ExecutionError{
				Kind:    string(errdefs.KindInternal),
				Message: message,
			}
		}
		ae.exec.Result = &types.ExecutionResult{ExitCode: exitCode, Message: message}
	case types.ExecutionStatusCancelled:
		ae.exec.Result = &types.ExecutionResult{ExitCode: exitCode, Message: message}
	}
	m.stopTimersLocked(ae)
	delete(m.active, executionID)
	m.mu.Unlock()

	_ = m.store.UpdateExecution(ae.exec)
	m.releaseReservations(ae)
	_ = m.registry.MarkIdle(ae.exec.WorkerID)
	m.logs.finish(executionID)

	eventType := map[types.ExecutionStatus]types.EventType{
		types.ExecutionStatusSuccess:   types.EventExecutionCompleted,
		types.ExecutionStatusFailed:    types.EventExecutionFailed,
		types.ExecutionStatusCancelled: types.EventExecutionCancelled,
	}[status]
	m.broker.Publish(&types.Event{
		Type:        eventType,
		JobID:       ae.job.ID,
		ExecutionID: executionID,
		WorkerID:    ae.exec.WorkerID,
		PoolID:      ae.exec.PoolID,
		Message:     message,
	})

	m.foldJob(ae, status)
}

// foldJob maps the execution outcome onto the owning job, scheduling a
// retry when the policy allows one.
func (m *Manager) foldJob(ae *activeExecution, status types.ExecutionStatus) {
	job := ae.job
	now := time.Now()
	job.UpdatedAt = now

	switch status {
	case types.ExecutionStatusSuccess:
		job.Status = types.JobStatusCompleted
		_ = m.store.UpdateJob(job)
		m.broker.Publish(&types.Event{Type: types.EventJobCompleted, JobID: job.ID})

	case types.ExecutionStatusCancelled:
		job.Status = types.JobStatusCancelled
		_ = m.store.UpdateJob(job)
		m.broker.Publish(&types.Event{Type: types.EventJobCancelled, JobID: job.ID})

	case types.ExecutionStatusFailed:
		retry := job.Retry
		if retry != nil && job.Attempts <= retry.MaxRetries {
			delay := retry.Delay(job.Attempts - 1)
			job.Status = types.JobStatusQueued
			_ = m.store.UpdateJob(job)
			if err := m.queue.SubmitAfter(job, now.Add(delay)); err != nil {
				m.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to requeue job for retry")
				return
			}
			m.broker.Publish(&types.Event{
				Type:    types.EventJobRetried,
				JobID:   job.ID,
				Message: fmt.Sprintf("retry %d of %d in %s", job.Attempts, retry.MaxRetries, delay),
			})
			m.nudge()
			return
		}
		job.Status = types.JobStatusFailed
		_ = m.store.UpdateJob(job)
		m.broker.Publish(&types.Event{Type: types.EventJobFailed, JobID: job.ID})
	}
}

func (m *Manager) releaseReservations(ae *activeExecution) {
	resources := ae.job.Resources.AsResources()
	m.pools.Release(ae.exec.PoolID, resources)
	m.quotas.ReleaseDispatch(ae.job.Namespace, resources)
}

func (m *Manager) stopTimersLocked(ae *activeExecution) {
	for _, t := range []*time.Timer{ae.dispatchTimer, ae.timeoutTimer, ae.cancelTimer} {
		if t != nil {
			t.Stop()
		}
	}
}

// ActiveByJob returns the live execution for a job, if any.
func (m *Manager) ActiveByJob(jobID string) (*types.Execution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ae := range m.active {
		if ae.job.ID == jobID {
			snapshot := *ae.exec
			return &snapshot, true
		}
	}
	return nil, false
}

// ActiveCount returns the number of executions in flight.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// AppendLog records a log chunk streamed from a worker.
func (m *Manager) AppendLog(entry types.LogEntry) {
	m.logs.append(entry)
}

// Logs returns the buffered log entries for an execution.
func (m *Manager) Logs(executionID string) []types.LogEntry {
	return m.logs.entries(executionID)
}

// FollowLogs opens a live log stream replaying buffered entries first.
func (m *Manager) FollowLogs(executionID string) *LogSubscription {
	return m.logs.subscribe(executionID)
}

// Events opens a replayable event stream for an execution.
func (m *Manager) Events(executionID string, from time.Time) *events.ExecutionSubscription {
	return m.broker.SubscribeExecution(executionID, from)
}
