package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rubentxu/hodei-pipelines/pkg/agent"
	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

func newOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()

	o, err := New(Config{
		DataDir:    t.TempDir(),
		ListenAddr: "127.0.0.1:0",
	})
	require.NoError(t, err)
	require.NoError(t, o.Start())
	t.Cleanup(o.Stop)
	return o
}

func TestNewCreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	o, err := New(Config{DataDir: dir, ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	defer o.store.Close()

	_, err = os.Stat(filepath.Join(dir, "hodei.db"))
	require.NoError(t, err)
}

func newPool(t *testing.T, o *Orchestrator) *types.Pool {
	t.Helper()

	pl := &types.Pool{Name: "default", Type: types.PoolTypeLocal}
	require.NoError(t, o.Pools().Create(pl))
	return pl
}

func startAgent(t *testing.T, o *Orchestrator, poolID string) {
	startAgentFor(t, o, poolID, "worker-1")
}

func TestSubmitJobRunsToCompletion(t *testing.T) {
	o := newOrchestrator(t)
	pl := newPool(t, o)
	startAgent(t, o, pl.ID)

	job, err := o.SubmitJob(&types.Job{
		Name:      "hello",
		Namespace: "team-a",
		Content:   &types.JobContent{Commands: []string{"echo done"}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	require.Eventually(t, func() bool {
		stored, err := o.GetJob(job.ID)
		return err == nil && stored.Status == types.JobStatusCompleted
	}, 10*time.Second, 50*time.Millisecond)

	execs, err := o.ListExecutions(job.ID)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, types.ExecutionStatusSuccess, execs[0].Status)

	var lines []string
	for _, e := range o.ExecutionLogs(execs[0].ID) {
		lines = append(lines, e.Line)
	}
	assert.Contains(t, lines, "done\n")
}

func TestSubmitJobValidation(t *testing.T) {
	o := newOrchestrator(t)

	_, err := o.SubmitJob(&types.Job{Content: &types.JobContent{Commands: []string{"true"}}})
	assert.True(t, errdefs.IsValidation(err))

	_, err = o.SubmitJob(&types.Job{Name: "empty"})
	assert.True(t, errdefs.IsValidation(err))

	_, err = o.SubmitJob(&types.Job{
		Name:    "missing-input",
		Content: &types.JobContent{Commands: []string{"true"}, ArtifactIDs: []string{"deadbeef"}},
	})
	assert.True(t, errdefs.IsNotFound(err))
}

func TestSubmitFromTemplate(t *testing.T) {
	o := newOrchestrator(t)

	require.NoError(t, o.CreateTemplate(&types.JobTemplate{
		Name: "greet",
		Content: &types.JobContent{
			Commands: []string{"echo hello ${who}"},
			Env:      map[string]string{"TARGET": "${who}"},
		},
		Priority: types.PriorityHigh,
	}))

	job, err := o.SubmitFromTemplate("greet", map[string]string{"who": "world"}, "team-a", "tester")
	require.NoError(t, err)

	assert.Equal(t, []string{"echo hello world"}, job.Content.Commands)
	assert.Equal(t, "world", job.Content.Env["TARGET"])
	assert.Equal(t, types.PriorityHigh, job.Priority)
	assert.Equal(t, "team-a", job.Namespace)
}

func TestCancelQueuedJob(t *testing.T) {
	o := newOrchestrator(t)

	// No pool and no workers, so the job stays queued.
	job, err := o.SubmitJob(&types.Job{
		Name:    "stuck",
		Content: &types.JobContent{Commands: []string{"true"}},
	})
	require.NoError(t, err)

	require.NoError(t, o.CancelJob(job.ID, false, "not needed"))

	stored, err := o.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, stored.Status)

	// Cancelling a terminal job is a no-op.
	require.NoError(t, o.CancelJob(job.ID, false, "again"))
}

func TestRetryJob(t *testing.T) {
	o := newOrchestrator(t)

	job, err := o.SubmitJob(&types.Job{
		Name:    "to-retry",
		Content: &types.JobContent{Commands: []string{"true"}},
	})
	require.NoError(t, err)

	_, err = o.RetryJob(job.ID)
	assert.True(t, errdefs.IsConflict(err), "queued jobs cannot be retried")

	require.NoError(t, o.CancelJob(job.ID, false, ""))

	retried, err := o.RetryJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusQueued, retried.Status)
	assert.Equal(t, 0, retried.Attempts)
}

func TestQueuedJobsSurviveRestart(t *testing.T) {
	dir := t.TempDir()

	o, err := New(Config{DataDir: dir, ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	require.NoError(t, o.Start())

	job, err := o.SubmitJob(&types.Job{
		Name:    "persistent",
		Content: &types.JobContent{Commands: []string{"echo hi"}},
	})
	require.NoError(t, err)
	o.Stop()

	o2, err := New(Config{DataDir: dir, ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	require.NoError(t, o2.Start())
	defer o2.Stop()

	stored, err := o2.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusQueued, stored.Status)

	// The requeued job dispatches once a worker appears.
	pl := newPool(t, o2)
	startAgentFor(t, o2, pl.ID, "worker-r")
	require.Eventually(t, func() bool {
		stored, err := o2.GetJob(job.ID)
		return err == nil && stored.Status == types.JobStatusCompleted
	}, 10*time.Second, 50*time.Millisecond)
}

func startAgentFor(t *testing.T, o *Orchestrator, poolID, workerID string) {
	t.Helper()

	a, err := agent.New(agent.Config{
		ServerAddr: o.Addr(),
		WorkerID:   workerID,
		PoolID:     poolID,
		Resources:  types.Resources{CPUCores: 2, MemoryMB: 2048, DiskGB: 10},
		CacheDir:   t.TempDir(),
		WorkDir:    t.TempDir(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = a.Run(ctx) }()

	require.Eventually(t, func() bool {
		w, err := o.GetWorker(workerID)
		return err == nil && w.Status == types.WorkerStatusIdle
	}, 5*time.Second, 20*time.Millisecond)
}

// startLongJob submits a job that keeps its worker busy and waits
// until the execution is reported running.
func startLongJob(t *testing.T, o *Orchestrator) (jobID, execID string) {
	t.Helper()

	job, err := o.SubmitJob(&types.Job{
		Name:      "long",
		Namespace: "team-a",
		Content:   &types.JobContent{Commands: []string{"sleep 30"}},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		execs, err := o.ListExecutions(job.ID)
		if err != nil || len(execs) != 1 || execs[0].Status != types.ExecutionStatusRunning {
			return false
		}
		execID = execs[0].ID
		return true
	}, 10*time.Second, 50*time.Millisecond)
	return job.ID, execID
}

func TestForceDrainCancelsRunningExecutions(t *testing.T) {
	o := newOrchestrator(t)
	pl := newPool(t, o)
	startAgent(t, o, pl.ID)

	_, execID := startLongJob(t, o)

	// A busy worker carries the execution it holds.
	w, err := o.GetWorker("worker-1")
	require.NoError(t, err)
	require.Equal(t, types.WorkerStatusBusy, w.Status)
	assert.Equal(t, execID, w.CurrentExecutionID)

	require.NoError(t, o.Pools().Drain(pl.ID, "rollout", 0, true))

	require.Eventually(t, func() bool {
		exec, err := o.GetExecution(execID)
		return err == nil && exec.Status == types.ExecutionStatusCancelled
	}, 10*time.Second, 50*time.Millisecond)
}

func TestForceDrainWaitsForTimeout(t *testing.T) {
	o := newOrchestrator(t)
	pl := newPool(t, o)
	startAgent(t, o, pl.ID)

	_, execID := startLongJob(t, o)

	require.NoError(t, o.Pools().Drain(pl.ID, "rollout", 500*time.Millisecond, true))

	// Inside the grace period the execution is left alone.
	exec, err := o.GetExecution(execID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusRunning, exec.Status)

	require.Eventually(t, func() bool {
		exec, err := o.GetExecution(execID)
		return err == nil && exec.Status == types.ExecutionStatusCancelled
	}, 10*time.Second, 50*time.Millisecond)
}

func TestArtifactRoundTrip(t *testing.T) {
	o := newOrchestrator(t)

	id, err := o.PutArtifact([]byte("blob"))
	require.NoError(t, err)
	assert.True(t, o.HasArtifact(id))

	data, err := o.GetArtifact(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), data)
}
