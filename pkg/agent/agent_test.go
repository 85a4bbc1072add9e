package agent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rubentxu/hodei-pipelines/pkg/artifact"
	"github.com/Rubentxu/hodei-pipelines/pkg/events"
	"github.com/Rubentxu/hodei-pipelines/pkg/lifecycle"
	"github.com/Rubentxu/hodei-pipelines/pkg/pool"
	"github.com/Rubentxu/hodei-pipelines/pkg/queue"
	"github.com/Rubentxu/hodei-pipelines/pkg/quota"
	"github.com/Rubentxu/hodei-pipelines/pkg/registry"
	"github.com/Rubentxu/hodei-pipelines/pkg/storage"
	"github.com/Rubentxu/hodei-pipelines/pkg/transport"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

type controlPlane struct {
	store     storage.Store
	registry  *registry.Registry
	lifecycle *lifecycle.Manager
	server    *transport.Server
	cache     *artifact.Cache
}

func newControlPlane(t *testing.T) *controlPlane {
	t.Helper()

	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker(0)
	broker.Start()
	t.Cleanup(broker.Stop)

	cache, err := artifact.NewCache(t.TempDir())
	require.NoError(t, err)

	q := queue.New()
	quotas := quota.NewManager(store, broker)
	reg := registry.New(store, broker, registry.Config{HeartbeatInterval: time.Second})
	pools := pool.NewManager(store, broker, reg)
	lm := lifecycle.NewManager(store, broker, q, quotas, pools, reg, lifecycle.Config{})

	srv := transport.NewServer(transport.Config{Addr: "127.0.0.1:0", TransferTimeout: 2 * time.Second},
		reg, lm, cache)
	lm.SetWorkerControl(srv)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	return &controlPlane{store: store, registry: reg, lifecycle: lm, server: srv, cache: cache}
}

func startAgent(t *testing.T, cp *controlPlane) *Agent {
	t.Helper()

	a, err := New(Config{
		ServerAddr: cp.server.Addr(),
		WorkerID:   "agent-1",
		PoolID:     "pool-1",
		Resources:  types.Resources{CPUCores: 2, MemoryMB: 2048, DiskGB: 10},
		CacheDir:   t.TempDir(),
		WorkDir:    t.TempDir(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = a.Run(ctx) }()

	require.Eventually(t, func() bool {
		w, err := cp.registry.Get("agent-1")
		return err == nil && w.Status == types.WorkerStatusIdle
	}, 5*time.Second, 20*time.Millisecond)
	return a
}

func TestAgentExecutesDispatchedJob(t *testing.T) {
	cp := newControlPlane(t)
	startAgent(t, cp)

	job := &types.Job{
		ID:      "job-1",
		Name:    "hello",
		Status:  types.JobStatusQueued,
		Content: &types.JobContent{Commands: []string{"echo from-the-agent"}},
	}
	require.NoError(t, cp.store.CreateJob(job))
	exec, err := cp.lifecycle.Create(job, "pool-1", "agent-1", time.Now())
	require.NoError(t, err)
	require.NoError(t, cp.server.Dispatch(job, exec))
	cp.lifecycle.Dispatched(exec.ID)

	require.Eventually(t, func() bool {
		stored, err := cp.store.GetExecution(exec.ID)
		return err == nil && stored.Status == types.ExecutionStatusSuccess
	}, 10*time.Second, 50*time.Millisecond)

	var lines []string
	for _, e := range cp.lifecycle.Logs(exec.ID) {
		lines = append(lines, e.Line)
	}
	assert.Contains(t, lines, "from-the-agent\n")

	stored, err := cp.store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, stored.Status)
}

func TestAgentReceivesArtifacts(t *testing.T) {
	cp := newControlPlane(t)
	startAgent(t, cp)

	payload := []byte("artifact payload shipped over the wire")
	id, err := cp.cache.Put(payload)
	require.NoError(t, err)

	job := &types.Job{
		ID:     "job-1",
		Name:   "with-inputs",
		Status: types.JobStatusQueued,
		Content: &types.JobContent{
			// The input is materialized under inputs/<hash>.
			Commands:    []string{"cat inputs/" + id},
			ArtifactIDs: []string{id},
		},
	}
	require.NoError(t, cp.store.CreateJob(job))
	exec, err := cp.lifecycle.Create(job, "pool-1", "agent-1", time.Now())
	require.NoError(t, err)
	require.NoError(t, cp.server.Dispatch(job, exec))
	cp.lifecycle.Dispatched(exec.ID)

	require.Eventually(t, func() bool {
		stored, err := cp.store.GetExecution(exec.ID)
		return err == nil && stored.Status == types.ExecutionStatusSuccess
	}, 10*time.Second, 50*time.Millisecond)

	var lines []string
	for _, e := range cp.lifecycle.Logs(exec.ID) {
		lines = append(lines, e.Line)
	}
	assert.Contains(t, lines, string(payload)+"\n")
}

func TestAgentCancelsRunningJob(t *testing.T) {
	cp := newControlPlane(t)
	startAgent(t, cp)

	job := &types.Job{
		ID:      "job-1",
		Name:    "long",
		Status:  types.JobStatusQueued,
		Content: &types.JobContent{Commands: []string{"sleep 60"}},
	}
	require.NoError(t, cp.store.CreateJob(job))
	exec, err := cp.lifecycle.Create(job, "pool-1", "agent-1", time.Now())
	require.NoError(t, err)
	require.NoError(t, cp.server.Dispatch(job, exec))
	cp.lifecycle.Dispatched(exec.ID)

	require.Eventually(t, func() bool {
		stored, err := cp.store.GetExecution(exec.ID)
		return err == nil && stored.Status == types.ExecutionStatusRunning
	}, 10*time.Second, 50*time.Millisecond)

	require.NoError(t, cp.lifecycle.Cancel(exec.ID, false, "test cancel"))

	require.Eventually(t, func() bool {
		stored, err := cp.store.GetExecution(exec.ID)
		return err == nil && stored.Status == types.ExecutionStatusCancelled
	}, 10*time.Second, 50*time.Millisecond)
}
