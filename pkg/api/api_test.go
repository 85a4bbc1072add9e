package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rubentxu/hodei-pipelines/pkg/orchestrator"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	orch, err := orchestrator.New(orchestrator.Config{
		DataDir:    t.TempDir(),
		ListenAddr: "127.0.0.1:0",
	})
	require.NoError(t, err)
	require.NoError(t, orch.Start())
	t.Cleanup(orch.Stop)

	return NewServer(Config{}, orch)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echoHeaderContentType, "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func TestSubmitAndGetJob(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/jobs", submitJobRequest{
		Name:      "build",
		Commands:  []string{"make"},
		Namespace: "team-a",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var job types.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, types.JobStatusQueued, job.Status)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitJobValidationError(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/jobs", submitJobRequest{Name: "empty"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation_failed", body.Kind)
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelQueuedJobViaAPI(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/jobs", submitJobRequest{
		Name:     "stuck",
		Commands: []string{"true"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var job types.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	rec = doJSON(t, s, http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", cancelRequest{Reason: "test"})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	var got types.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, types.JobStatusCancelled, got.Status)
}

func TestPoolLifecycleViaAPI(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/pools", createPoolRequest{
		Name: "builders",
		Type: types.PoolTypeLocal,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var pool types.Pool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pool))
	assert.NotEmpty(t, pool.ID)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/pools", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/pools/"+pool.ID+"/drain", drainRequest{Reason: "upgrade"})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/pools/"+pool.ID+"/resume", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/pools/"+pool.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestQuotaCRUDViaAPI(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/quotas", quotaRequest{
		Namespace: "team-a",
		Policy:    types.QuotaPolicyEnforce,
		Limits:    types.QuotaLimits{MaxConcurrentJobs: 5},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, s, http.MethodGet, "/api/v1/quotas/team-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var q types.Quota
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, 5, q.Limits.MaxConcurrentJobs)

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/quotas/team-a", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/quotas/team-a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArtifactUploadDownload(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/artifacts", strings.NewReader("payload"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		ID   string `json:"id"`
		Size int    `json:"size"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, 7, created.Size)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/artifacts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payload", rec.Body.String())
}

func TestTemplateSubmitViaAPI(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/templates", map[string]any{
		"name": "greet",
		"content": map[string]any{
			"commands": []string{"echo ${who}"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, s, http.MethodPost, "/api/v1/templates/greet/submit", submitTemplateRequest{
		Parameters: map[string]string{"who": "world"},
		Namespace:  "team-a",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var job types.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, []string{"echo world"}, job.Content.Commands)
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hodei_jobs_submitted_total")
}
