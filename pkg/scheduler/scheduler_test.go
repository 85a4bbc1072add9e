package scheduler

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rubentxu/hodei-pipelines/pkg/events"
	"github.com/Rubentxu/hodei-pipelines/pkg/lifecycle"
	"github.com/Rubentxu/hodei-pipelines/pkg/pool"
	"github.com/Rubentxu/hodei-pipelines/pkg/queue"
	"github.com/Rubentxu/hodei-pipelines/pkg/quota"
	"github.com/Rubentxu/hodei-pipelines/pkg/registry"
	"github.com/Rubentxu/hodei-pipelines/pkg/storage"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []string // job IDs in dispatch order
	fail       bool
}

func (f *fakeDispatcher) Dispatch(job *types.Job, exec *types.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.dispatched = append(f.dispatched, job.ID)
	return nil
}

func (f *fakeDispatcher) jobs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.dispatched))
	copy(out, f.dispatched)
	return out
}

type fixture struct {
	store      storage.Store
	queue      *queue.Queue
	registry   *registry.Registry
	pools      *pool.Manager
	quotas     *quota.Manager
	lifecycle  *lifecycle.Manager
	dispatcher *fakeDispatcher
	scheduler  *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker(0)
	broker.Start()
	t.Cleanup(broker.Stop)

	q := queue.New()
	quotas := quota.NewManager(store, broker)
	reg := registry.New(store, broker, registry.Config{})
	pools := pool.NewManager(store, broker, reg)
	lm := lifecycle.NewManager(store, broker, q, quotas, pools, reg, lifecycle.Config{})
	d := &fakeDispatcher{}
	s := New(q, pools, reg, quotas, lm, d)
	lm.SetWaker(s.Wake)

	return &fixture{
		store: store, queue: q, registry: reg, pools: pools,
		quotas: quotas, lifecycle: lm, dispatcher: d, scheduler: s,
	}
}

func (f *fixture) addWorker(t *testing.T, workerID, poolID string, res types.Resources) {
	t.Helper()
	_, err := f.registry.Register(workerID, workerID, poolID, nil, res)
	require.NoError(t, err)
}

func (f *fixture) submit(t *testing.T, job *types.Job) {
	t.Helper()
	job.Status = types.JobStatusQueued
	require.NoError(t, f.store.CreateJob(job))
	require.NoError(t, f.queue.Submit(job))
}

func testJob(id string, p types.Priority) *types.Job {
	return &types.Job{
		ID:       id,
		Name:     id,
		Priority: p,
		Content:  &types.JobContent{Commands: []string{"true"}},
		Resources: &types.ResourceRequest{
			CPUCores: 1,
			MemoryMB: 1024,
		},
	}
}

func TestAssignsByPriority(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pools.Create(&types.Pool{ID: "pool-1", Name: "build"}))
	f.addWorker(t, "w1", "pool-1", types.Resources{CPUCores: 8, MemoryMB: 16384, DiskGB: 100})
	f.addWorker(t, "w2", "pool-1", types.Resources{CPUCores: 8, MemoryMB: 16384, DiskGB: 100})

	f.submit(t, testJob("low", types.PriorityLow))
	f.submit(t, testJob("critical", types.PriorityCritical))

	require.True(t, f.scheduler.dispatchOne())
	require.True(t, f.scheduler.dispatchOne())

	assert.Equal(t, []string{"critical", "low"}, f.dispatcher.jobs())
	assert.Equal(t, 2, f.lifecycle.ActiveCount())
}

func TestDispatchBindsExecutionToWorker(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pools.Create(&types.Pool{ID: "pool-1", Name: "build"}))
	f.addWorker(t, "w1", "pool-1", types.Resources{CPUCores: 8, MemoryMB: 16384, DiskGB: 100})

	f.submit(t, testJob("job-1", types.PriorityNormal))
	require.True(t, f.scheduler.dispatchOne())

	exec, ok := f.lifecycle.ActiveByJob("job-1")
	require.True(t, ok)

	w, err := f.registry.Get("w1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusBusy, w.Status)
	assert.Equal(t, exec.ID, w.CurrentExecutionID)
}

func TestNoWorkerKeepsJobQueued(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pools.Create(&types.Pool{ID: "pool-1", Name: "build"}))

	f.submit(t, testJob("job-1", types.PriorityNormal))

	assert.False(t, f.scheduler.dispatchOne())
	assert.True(t, f.queue.Contains("job-1"))
	assert.Empty(t, f.dispatcher.jobs())
}

func TestCapabilityMismatchSkipsWorker(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pools.Create(&types.Pool{ID: "pool-1", Name: "build"}))
	f.addWorker(t, "plain", "pool-1", types.Resources{CPUCores: 8, MemoryMB: 16384, DiskGB: 100})

	job := testJob("needs-gpu", types.PriorityNormal)
	job.RequiredCapabilities = map[string]string{"gpu": "a100"}
	f.submit(t, job)

	assert.False(t, f.scheduler.dispatchOne())
	assert.True(t, f.queue.Contains("needs-gpu"))

	// A worker declaring the capability picks the job up.
	_, err := f.registry.Register("gpu-1", "gpu-1", "pool-1",
		map[string]string{"gpu": "a100", "os": "linux"},
		types.Resources{CPUCores: 8, MemoryMB: 16384, DiskGB: 100})
	require.NoError(t, err)

	require.True(t, f.scheduler.dispatchOne())
	exec, ok := f.lifecycle.ActiveByJob("needs-gpu")
	require.True(t, ok)
	assert.Equal(t, "gpu-1", exec.WorkerID)
}

func TestWorkerTooSmallIsSkipped(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pools.Create(&types.Pool{ID: "pool-1", Name: "build"}))
	f.addWorker(t, "w1", "pool-1", types.Resources{CPUCores: 0.5, MemoryMB: 256, DiskGB: 10})

	f.submit(t, testJob("job-1", types.PriorityNormal))

	assert.False(t, f.scheduler.dispatchOne())
	assert.True(t, f.queue.Contains("job-1"))
}

func TestPrefersPoolWithMoreHeadroom(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pools.Create(&types.Pool{ID: "pool-a", Name: "a"}))
	require.NoError(t, f.pools.Create(&types.Pool{ID: "pool-b", Name: "b"}))
	f.addWorker(t, "wa", "pool-a", types.Resources{CPUCores: 8, MemoryMB: 16384, DiskGB: 100})
	f.addWorker(t, "wb", "pool-b", types.Resources{CPUCores: 8, MemoryMB: 16384, DiskGB: 100})

	// Load pool-a so pool-b scores higher.
	require.NoError(t, f.pools.Reserve("pool-a", types.Resources{CPUCores: 6, MemoryMB: 12288}))

	poolID, workerID, ok := f.scheduler.pick(types.Resources{CPUCores: 1, MemoryMB: 1024}, nil)
	require.True(t, ok)
	assert.Equal(t, "pool-b", poolID)
	assert.Equal(t, "wb", workerID)
}

func TestDrainingPoolNotUsed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pools.Create(&types.Pool{ID: "pool-1", Name: "build"}))
	f.addWorker(t, "w1", "pool-1", types.Resources{CPUCores: 8, MemoryMB: 16384, DiskGB: 100})
	require.NoError(t, f.pools.Drain("pool-1", "rollout"))

	f.submit(t, testJob("job-1", types.PriorityNormal))

	assert.False(t, f.scheduler.dispatchOne())
	assert.True(t, f.queue.Contains("job-1"))
}

func TestQuotaBlockedJobDoesNotStarveOthers(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pools.Create(&types.Pool{ID: "pool-1", Name: "build"}))
	f.addWorker(t, "w1", "pool-1", types.Resources{CPUCores: 8, MemoryMB: 16384, DiskGB: 100})
	f.addWorker(t, "w2", "pool-1", types.Resources{CPUCores: 8, MemoryMB: 16384, DiskGB: 100})

	require.NoError(t, f.quotas.Create(&types.Quota{
		ID: "q1", Namespace: "team-a",
		Policy: types.QuotaPolicyEnforce,
		Limits: types.QuotaLimits{MaxConcurrentJobs: 1},
	}))
	// team-a's only slot is already in use.
	require.NoError(t, f.quotas.AdmitDispatch("team-a", types.Resources{CPUCores: 1}))

	blocked := testJob("blocked", types.PriorityHigh)
	blocked.Namespace = "team-a"
	f.submit(t, blocked)

	free := testJob("free", types.PriorityLow)
	free.Namespace = "team-b"
	f.submit(t, free)

	// First pass hits the blocked job, defers it, and keeps going.
	require.True(t, f.scheduler.dispatchOne())
	assert.Empty(t, f.dispatcher.jobs())
	require.True(t, f.scheduler.dispatchOne())
	assert.Equal(t, []string{"free"}, f.dispatcher.jobs())

	// The blocked job is still queued, deferred into its backoff.
	assert.True(t, f.queue.Contains("blocked"))
}

func TestDispatchWindowDefersBurst(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pools.Create(&types.Pool{ID: "pool-1", Name: "build"}))
	f.addWorker(t, "w1", "pool-1", types.Resources{CPUCores: 8, MemoryMB: 16384, DiskGB: 100})
	f.addWorker(t, "w2", "pool-1", types.Resources{CPUCores: 8, MemoryMB: 16384, DiskGB: 100})

	// 60 jobs/hour gives team-a one dispatch per 60-second window.
	require.NoError(t, f.quotas.Create(&types.Quota{
		ID: "q1", Namespace: "team-a",
		Policy: types.QuotaPolicyEnforce,
		Limits: types.QuotaLimits{MaxJobsPerHour: 60},
	}))

	for _, id := range []string{"first", "second"} {
		j := testJob(id, types.PriorityNormal)
		j.Namespace = "team-a"
		f.submit(t, j)
	}

	require.True(t, f.scheduler.dispatchOne())
	require.True(t, f.scheduler.dispatchOne())

	// Only the first fits the window; the burst job is deferred, not
	// dropped and not dispatched.
	assert.Equal(t, []string{"first"}, f.dispatcher.jobs())
	assert.True(t, f.queue.Contains("second"))
}

func TestDispatchFailureFailsExecution(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pools.Create(&types.Pool{ID: "pool-1", Name: "build"}))
	f.addWorker(t, "w1", "pool-1", types.Resources{CPUCores: 8, MemoryMB: 16384, DiskGB: 100})

	f.dispatcher.fail = true
	job := testJob("job-1", types.PriorityNormal)
	f.submit(t, job)

	require.True(t, f.scheduler.dispatchOne())

	stored, err := f.store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, stored.Status)

	execs, err := f.store.ListExecutionsByJob("job-1")
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, types.ExecutionStatusFailed, execs[0].Status)
}

func TestMaxConcurrentQuotaOneAtATime(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pools.Create(&types.Pool{ID: "pool-1", Name: "build"}))
	f.addWorker(t, "w1", "pool-1", types.Resources{CPUCores: 8, MemoryMB: 16384, DiskGB: 100})
	f.addWorker(t, "w2", "pool-1", types.Resources{CPUCores: 8, MemoryMB: 16384, DiskGB: 100})

	require.NoError(t, f.quotas.Create(&types.Quota{
		ID: "q1", Namespace: "team-a",
		Policy: types.QuotaPolicyEnforce,
		Limits: types.QuotaLimits{MaxConcurrentJobs: 1},
	}))

	for _, id := range []string{"first", "second"} {
		j := testJob(id, types.PriorityNormal)
		j.Namespace = "team-a"
		f.submit(t, j)
	}

	require.True(t, f.scheduler.dispatchOne())
	require.True(t, f.scheduler.dispatchOne())
	assert.Equal(t, []string{"first"}, f.dispatcher.jobs())

	// Finishing the first frees the quota slot; the deferred second
	// becomes claimable after its backoff.
	exec, ok := f.lifecycle.ActiveByJob("first")
	require.True(t, ok)
	require.NoError(t, f.lifecycle.HandleStatus(exec.ID, types.ExecutionStatusRunning, 0, ""))
	require.NoError(t, f.lifecycle.HandleStatus(exec.ID, types.ExecutionStatusSuccess, 0, ""))

	deadline := time.Now().Add(6 * time.Second)
	for time.Now().Before(deadline) {
		if f.scheduler.dispatchOne() && len(f.dispatcher.jobs()) == 2 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	assert.Equal(t, []string{"first", "second"}, f.dispatcher.jobs())
}
