package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewBoltStoreCreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(filepath.Join(dir, "hodei.db"))
	require.NoError(t, err)
}

func TestJobRoundTrip(t *testing.T) {
	store := newTestStore(t)

	job := &types.Job{
		ID:       "job-1",
		Name:     "build",
		Priority: types.PriorityHigh,
		Status:   types.JobStatusQueued,
		Content: &types.JobContent{
			Commands: []string{"echo ok"},
			Env:      map[string]string{"CI": "true"},
		},
		Retry:     &types.RetryPolicy{MaxRetries: 2, BaseDelay: time.Second, Multiplier: 2},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateJob(job))

	got, err := store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, "build", got.Name)
	assert.Equal(t, types.PriorityHigh, got.Priority)
	assert.Equal(t, []string{"echo ok"}, got.Content.Commands)

	got.Status = types.JobStatusRunning
	require.NoError(t, store.UpdateJob(got))

	updated, err := store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRunning, updated.Status)

	require.NoError(t, store.DeleteJob("job-1"))
	_, err = store.GetJob("job-1")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestGetMissingJobIsNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetJob("nope")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestListExecutionsByJob(t *testing.T) {
	store := newTestStore(t)

	for _, e := range []*types.Execution{
		{ID: "exec-1", JobID: "job-a", Status: types.ExecutionStatusFailed},
		{ID: "exec-2", JobID: "job-a", Status: types.ExecutionStatusSuccess},
		{ID: "exec-3", JobID: "job-b", Status: types.ExecutionStatusRunning},
	} {
		require.NoError(t, store.CreateExecution(e))
	}

	execs, err := store.ListExecutionsByJob("job-a")
	require.NoError(t, err)
	assert.Len(t, execs, 2)

	execs, err = store.ListExecutionsByJob("job-c")
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestListWorkersByPool(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateWorker(&types.Worker{ID: "w1", PoolID: "p1", Status: types.WorkerStatusIdle}))
	require.NoError(t, store.CreateWorker(&types.Worker{ID: "w2", PoolID: "p2", Status: types.WorkerStatusBusy}))
	require.NoError(t, store.CreateWorker(&types.Worker{ID: "w3", PoolID: "p1", Status: types.WorkerStatusIdle}))

	workers, err := store.ListWorkersByPool("p1")
	require.NoError(t, err)
	assert.Len(t, workers, 2)
}

func TestQuotaByNamespace(t *testing.T) {
	store := newTestStore(t)

	quota := &types.Quota{
		ID:        "q1",
		Namespace: "team-a",
		Policy:    types.QuotaPolicyEnforce,
		Limits:    types.QuotaLimits{MaxConcurrentJobs: 3},
	}
	require.NoError(t, store.CreateQuota(quota))

	got, err := store.GetQuotaByNamespace("team-a")
	require.NoError(t, err)
	assert.Equal(t, "q1", got.ID)

	_, err = store.GetQuotaByNamespace("team-b")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestTemplateByName(t *testing.T) {
	store := newTestStore(t)

	tpl := &types.JobTemplate{
		ID:   "tpl-1",
		Name: "nightly-build",
		Content: &types.JobContent{
			Commands:   []string{"make {{target}}"},
			Parameters: map[string]string{"target": "all"},
		},
	}
	require.NoError(t, store.CreateTemplate(tpl))

	got, err := store.GetTemplateByName("nightly-build")
	require.NoError(t, err)
	assert.Equal(t, "tpl-1", got.ID)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.CreatePool(&types.Pool{
		ID:     "pool-1",
		Name:   "default",
		Type:   types.PoolTypeLocal,
		Status: types.PoolStatusActive,
	}))
	require.NoError(t, store.Close())

	store, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer store.Close()

	pool, err := store.GetPool("pool-1")
	require.NoError(t, err)
	assert.Equal(t, types.PoolStatusActive, pool.Status)
}
