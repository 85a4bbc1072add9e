package client

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rubentxu/hodei-pipelines/pkg/api"
	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/orchestrator"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

func newClient(t *testing.T) *Client {
	t.Helper()

	orch, err := orchestrator.New(orchestrator.Config{
		DataDir:    t.TempDir(),
		ListenAddr: "127.0.0.1:0",
	})
	require.NoError(t, err)
	require.NoError(t, orch.Start())
	t.Cleanup(orch.Stop)

	srv := httptest.NewServer(api.NewServer(api.Config{}, orch).Handler())
	t.Cleanup(srv.Close)

	return New(srv.URL, "")
}

func TestSubmitAndListJobs(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	job, err := c.SubmitJob(ctx, SubmitJobRequest{
		Name:      "build",
		Commands:  []string{"make"},
		Namespace: "team-a",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)

	jobs, err := c.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "build", jobs[0].Name)

	jobs, err = c.ListJobs(ctx, JobFilter{Namespace: "team-b"})
	require.NoError(t, err)
	assert.Empty(t, jobs)

	jobs, err = c.ListJobs(ctx, JobFilter{Status: "queued", Namespace: "team-a", Limit: 5})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestErrorKindsRoundTrip(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	_, err := c.GetJob(ctx, "missing")
	assert.True(t, errdefs.IsNotFound(err))

	_, err = c.SubmitJob(ctx, SubmitJobRequest{Name: "no-content"})
	assert.True(t, errdefs.IsValidation(err))
}

func TestCancelJob(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	job, err := c.SubmitJob(ctx, SubmitJobRequest{Name: "stuck", Commands: []string{"true"}})
	require.NoError(t, err)

	require.NoError(t, c.CancelJob(ctx, job.ID, false, "test"))

	got, err := c.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, got.Status)
}

func TestArtifactRoundTrip(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	id, err := c.UploadArtifact(ctx, []byte("artifact bytes"))
	require.NoError(t, err)

	data, err := c.DownloadArtifact(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("artifact bytes"), data)
}

func TestPoolAndQuotaRoundTrip(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	pool, err := c.CreatePool(ctx, CreatePoolRequest{Name: "builders", Type: types.PoolTypeLocal})
	require.NoError(t, err)
	assert.Equal(t, types.PoolStatusActive, pool.Status)

	_, err = c.CreateQuota(ctx, QuotaRequest{
		Namespace: "team-a",
		Policy:    types.QuotaPolicyEnforce,
		Limits:    types.QuotaLimits{MaxConcurrentJobs: 2},
	})
	require.NoError(t, err)

	quotas, err := c.ListQuotas(ctx)
	require.NoError(t, err)
	require.Len(t, quotas, 1)
	assert.Equal(t, "team-a", quotas[0].Namespace)
}
