package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// Client talks to the control plane's REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the given server URL. The token, when set,
// is sent as a bearer credential.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError rebuilds a kinded error from the API's error envelope.
func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return errdefs.Newf(errdefs.KindInternal, "server returned %s: %s",
			resp.Status, strings.TrimSpace(string(data)))
	}
	kind := errdefs.Kind(body.Kind)
	if kind == "" {
		kind = errdefs.KindInternal
	}
	return errdefs.New(kind, body.Error)
}

// SubmitJobRequest is the job submission payload.
type SubmitJobRequest struct {
	Name         string                 `json:"name"`
	Priority     types.Priority         `json:"priority"`
	Commands     []string               `json:"commands,omitempty"`
	Script       string                 `json:"script,omitempty"`
	Env          map[string]string      `json:"env,omitempty"`
	Parameters   map[string]string      `json:"parameters,omitempty"`
	Artifacts    []string               `json:"artifacts,omitempty"`
	Resources    *types.ResourceRequest `json:"resources,omitempty"`
	Capabilities map[string]string      `json:"capabilities,omitempty"`
	Retry        *types.RetryPolicy     `json:"retry,omitempty"`
	Timeout      time.Duration          `json:"timeout,omitempty"`
	Namespace    string                 `json:"namespace,omitempty"`
	CreatedBy    string                 `json:"created_by,omitempty"`
}

func (c *Client) SubmitJob(ctx context.Context, req SubmitJobRequest) (*types.Job, error) {
	var job types.Job
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) GetJob(ctx context.Context, id string) (*types.Job, error) {
	var job types.Job
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+id, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// JobFilter narrows ListJobs. Zero values match everything.
type JobFilter struct {
	Status    string
	Namespace string
	Limit     int
}

func (c *Client) ListJobs(ctx context.Context, filter JobFilter) ([]*types.Job, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.Namespace != "" {
		q.Set("namespace", filter.Namespace)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/api/v1/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var jobs []*types.Job
	if err := c.do(ctx, http.MethodGet, path, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (c *Client) CancelJob(ctx context.Context, id string, force bool, reason string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/jobs/"+id+"/cancel",
		map[string]any{"force": force, "reason": reason}, nil)
}

func (c *Client) RetryJob(ctx context.Context, id string) (*types.Job, error) {
	var job types.Job
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+id+"/retry", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) ListExecutions(ctx context.Context, jobID string) ([]*types.Execution, error) {
	var execs []*types.Execution
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+jobID+"/executions", nil, &execs); err != nil {
		return nil, err
	}
	return execs, nil
}

// LogLine is one record of an execution's log stream.
type LogLine struct {
	Stream    string    `json:"stream"`
	Timestamp time.Time `json:"timestamp"`
	Line      string    `json:"line"`
	Lagged    bool      `json:"lagged,omitempty"`
}

func (c *Client) ExecutionLogs(ctx context.Context, executionID string) ([]LogLine, error) {
	var lines []LogLine
	if err := c.do(ctx, http.MethodGet, "/api/v1/executions/"+executionID+"/logs", nil, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// FollowLogs streams an execution's logs, invoking fn per line until
// the stream ends or ctx is cancelled.
func (c *Client) FollowLogs(ctx context.Context, executionID string, fn func(LogLine)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/executions/"+executionID+"/logs?follow=true", nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	// Streams have no overall deadline.
	httpc := &http.Client{}
	resp, err := httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var line LogLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return fmt.Errorf("malformed log record: %w", err)
		}
		fn(line)
	}
	return scanner.Err()
}

// Pools

type CreatePoolRequest struct {
	Name    string               `json:"name"`
	Type    types.PoolType       `json:"type"`
	Scaling *types.ScalingPolicy `json:"scaling,omitempty"`
	Labels  map[string]string    `json:"labels,omitempty"`
}

func (c *Client) CreatePool(ctx context.Context, req CreatePoolRequest) (*types.Pool, error) {
	var pool types.Pool
	if err := c.do(ctx, http.MethodPost, "/api/v1/pools", req, &pool); err != nil {
		return nil, err
	}
	return &pool, nil
}

func (c *Client) ListPools(ctx context.Context) ([]*types.Pool, error) {
	var pools []*types.Pool
	if err := c.do(ctx, http.MethodGet, "/api/v1/pools", nil, &pools); err != nil {
		return nil, err
	}
	return pools, nil
}

func (c *Client) GetPool(ctx context.Context, id string) (*types.Pool, error) {
	var pool types.Pool
	if err := c.do(ctx, http.MethodGet, "/api/v1/pools/"+id, nil, &pool); err != nil {
		return nil, err
	}
	return &pool, nil
}

func (c *Client) DeletePool(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/pools/"+id, nil, nil)
}

func (c *Client) DrainPool(ctx context.Context, id, reason string, timeout time.Duration, force bool) error {
	return c.do(ctx, http.MethodPost, "/api/v1/pools/"+id+"/drain",
		map[string]any{"reason": reason, "timeout": timeout, "force": force}, nil)
}

func (c *Client) ResumePool(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/pools/"+id+"/resume", nil, nil)
}

func (c *Client) ScalePool(ctx context.Context, id string, count int) ([]string, error) {
	var out struct {
		Workers []string `json:"workers"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/pools/"+id+"/scale",
		map[string]int{"count": count}, &out); err != nil {
		return nil, err
	}
	return out.Workers, nil
}

// Quotas

type QuotaRequest struct {
	Namespace string            `json:"namespace"`
	Policy    types.QuotaPolicy `json:"policy"`
	Limits    types.QuotaLimits `json:"limits"`
}

func (c *Client) CreateQuota(ctx context.Context, req QuotaRequest) (*types.Quota, error) {
	var q types.Quota
	if err := c.do(ctx, http.MethodPost, "/api/v1/quotas", req, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (c *Client) ListQuotas(ctx context.Context) ([]*types.Quota, error) {
	var quotas []*types.Quota
	if err := c.do(ctx, http.MethodGet, "/api/v1/quotas", nil, &quotas); err != nil {
		return nil, err
	}
	return quotas, nil
}

func (c *Client) GetQuota(ctx context.Context, namespace string) (*types.Quota, error) {
	var q types.Quota
	if err := c.do(ctx, http.MethodGet, "/api/v1/quotas/"+namespace, nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (c *Client) DeleteQuota(ctx context.Context, namespace string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/quotas/"+namespace, nil, nil)
}

// Workers

func (c *Client) ListWorkers(ctx context.Context) ([]*types.Worker, error) {
	var workers []*types.Worker
	if err := c.do(ctx, http.MethodGet, "/api/v1/workers", nil, &workers); err != nil {
		return nil, err
	}
	return workers, nil
}

func (c *Client) ShutdownWorker(ctx context.Context, id, reason string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/workers/"+id+"/shutdown",
		map[string]string{"reason": reason}, nil)
}

// Artifacts

// UploadArtifact ships raw bytes and returns the content-addressed ID.
func (c *Client) UploadArtifact(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/artifacts", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", decodeError(resp)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) DownloadArtifact(ctx context.Context, id string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/artifacts/"+id, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, decodeError(resp)
	}
	return io.ReadAll(resp.Body)
}

// Templates

func (c *Client) CreateTemplate(ctx context.Context, tpl *types.JobTemplate) (*types.JobTemplate, error) {
	var out types.JobTemplate
	if err := c.do(ctx, http.MethodPost, "/api/v1/templates", tpl, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListTemplates(ctx context.Context) ([]*types.JobTemplate, error) {
	var tpls []*types.JobTemplate
	if err := c.do(ctx, http.MethodGet, "/api/v1/templates", nil, &tpls); err != nil {
		return nil, err
	}
	return tpls, nil
}

func (c *Client) SubmitFromTemplate(ctx context.Context, name string, params map[string]string, namespace string) (*types.Job, error) {
	var job types.Job
	if err := c.do(ctx, http.MethodPost, "/api/v1/templates/"+name+"/submit",
		map[string]any{"parameters": params, "namespace": namespace}, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
