package orchestrator

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/events"
	"github.com/Rubentxu/hodei-pipelines/pkg/lifecycle"
	"github.com/Rubentxu/hodei-pipelines/pkg/quota"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// SubmitJob validates, persists and enqueues a job. Defaults are
// applied to retry policy and timeout; the job starts counting against
// its namespace's submission quota immediately.
func (o *Orchestrator) SubmitJob(job *types.Job) (*types.Job, error) {
	if job.Name == "" {
		return nil, errdefs.New(errdefs.KindValidationFailed, "job name is required")
	}
	if job.Content == nil || (len(job.Content.Commands) == 0 && job.Content.Script == "") {
		return nil, errdefs.New(errdefs.KindValidationFailed, "job has no commands or script")
	}
	for _, id := range job.Content.ArtifactIDs {
		if !o.cache.Contains(id) {
			return nil, errdefs.Newf(errdefs.KindNotFound, "input artifact not in cache: %s", id)
		}
	}

	if err := o.quotas.AdmitSubmission(job.Namespace); err != nil {
		return nil, err
	}

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Retry == nil {
		job.Retry = types.DefaultRetryPolicy()
	}
	job.Timeout = types.ClampJobTimeout(job.Timeout)
	job.Status = types.JobStatusQueued
	job.Attempts = 0
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := o.store.CreateJob(job); err != nil {
		return nil, err
	}
	if err := o.queue.Submit(job); err != nil {
		return nil, err
	}

	o.broker.Publish(&types.Event{Type: types.EventJobCreated, JobID: job.ID, Message: job.Name})
	o.scheduler.Wake()
	return job, nil
}

// SubmitFromTemplate instantiates a template with the given parameters
// and submits the result.
func (o *Orchestrator) SubmitFromTemplate(templateName string, params map[string]string, namespace, createdBy string) (*types.Job, error) {
	tpl, err := o.store.GetTemplateByName(templateName)
	if err != nil {
		return nil, err
	}

	content := renderContent(tpl.Content, params)
	job := &types.Job{
		Name:                 tpl.Name,
		TemplateID:           tpl.ID,
		Priority:             tpl.Priority,
		Content:              content,
		Resources:            tpl.Resources,
		RequiredCapabilities: tpl.RequiredCapabilities,
		Retry:                tpl.Retry,
		Namespace:            namespace,
		CreatedBy:            createdBy,
	}
	return o.SubmitJob(job)
}

// renderContent substitutes ${name} placeholders with parameter values.
func renderContent(c *types.JobContent, params map[string]string) *types.JobContent {
	expand := func(s string) string {
		for k, v := range params {
			s = strings.ReplaceAll(s, "${"+k+"}", v)
		}
		return s
	}

	out := &types.JobContent{
		Script:      expand(c.Script),
		Env:         make(map[string]string, len(c.Env)),
		Parameters:  params,
		ArtifactIDs: append([]string(nil), c.ArtifactIDs...),
	}
	for _, cmd := range c.Commands {
		out.Commands = append(out.Commands, expand(cmd))
	}
	for k, v := range c.Env {
		out.Env[k] = expand(v)
	}
	return out
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(jobID string) (*types.Job, error) {
	return o.store.GetJob(jobID)
}

// JobFilter narrows a job listing. Zero values match everything.
type JobFilter struct {
	Status    types.JobStatus
	Namespace string
	Limit     int
}

// ListJobs returns jobs matching the filter, newest first.
func (o *Orchestrator) ListJobs(filter JobFilter) ([]*types.Job, error) {
	jobs, err := o.store.ListJobs()
	if err != nil {
		return nil, err
	}
	matched := jobs[:0]
	for _, job := range jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Namespace != "" && job.Namespace != filter.Namespace {
			continue
		}
		matched = append(matched, job)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// CancelJob cancels a job wherever it currently is: queued jobs leave
// the queue, in-flight executions get a cancel. Cancelling a terminal
// job is a no-op.
func (o *Orchestrator) CancelJob(jobID string, force bool, reason string) error {
	job, err := o.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	if _, err := o.queue.Remove(jobID); err == nil {
		job.Status = types.JobStatusCancelled
		job.UpdatedAt = time.Now()
		if err := o.store.UpdateJob(job); err != nil {
			return err
		}
		o.broker.Publish(&types.Event{Type: types.EventJobCancelled, JobID: jobID, Message: reason})
		return nil
	}

	if exec, ok := o.lifecycle.ActiveByJob(jobID); ok {
		return o.lifecycle.Cancel(exec.ID, force, reason)
	}

	// Not queued, not active: the job is between states; mark it
	// cancelled directly.
	job.Status = types.JobStatusCancelled
	job.UpdatedAt = time.Now()
	if err := o.store.UpdateJob(job); err != nil {
		return err
	}
	o.broker.Publish(&types.Event{Type: types.EventJobCancelled, JobID: jobID, Message: reason})
	return nil
}

// RetryJob requeues a failed or cancelled job with a fresh attempt
// budget.
func (o *Orchestrator) RetryJob(jobID string) (*types.Job, error) {
	job, err := o.store.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != types.JobStatusFailed && job.Status != types.JobStatusCancelled {
		return nil, errdefs.Newf(errdefs.KindConflict, "job %s is %s, only failed or cancelled jobs can be retried", jobID, job.Status)
	}

	job.Status = types.JobStatusQueued
	job.Attempts = 0
	job.UpdatedAt = time.Now()
	if err := o.store.UpdateJob(job); err != nil {
		return nil, err
	}
	if err := o.queue.Submit(job); err != nil {
		return nil, err
	}
	o.broker.Publish(&types.Event{Type: types.EventJobRetried, JobID: jobID, Message: "manual retry"})
	o.scheduler.Wake()
	return job, nil
}

// GetExecution returns an execution by ID.
func (o *Orchestrator) GetExecution(executionID string) (*types.Execution, error) {
	return o.store.GetExecution(executionID)
}

// ListExecutions returns a job's executions, oldest first.
func (o *Orchestrator) ListExecutions(jobID string) ([]*types.Execution, error) {
	execs, err := o.store.ListExecutionsByJob(jobID)
	if err != nil {
		return nil, err
	}
	sort.Slice(execs, func(i, j int) bool { return execs[i].CreatedAt.Before(execs[j].CreatedAt) })
	return execs, nil
}

// ExecutionLogs returns the buffered logs of an execution.
func (o *Orchestrator) ExecutionLogs(executionID string) []types.LogEntry {
	return o.lifecycle.Logs(executionID)
}

// FollowExecutionLogs opens a live log stream.
func (o *Orchestrator) FollowExecutionLogs(executionID string) *lifecycle.LogSubscription {
	return o.lifecycle.FollowLogs(executionID)
}

// ExecutionEvents opens a replayable event stream for an execution.
func (o *Orchestrator) ExecutionEvents(executionID string, from time.Time) *events.ExecutionSubscription {
	return o.lifecycle.Events(executionID, from)
}

// CancelExecution cancels a single execution.
func (o *Orchestrator) CancelExecution(executionID string, force bool, reason string) error {
	return o.lifecycle.Cancel(executionID, force, reason)
}

// Pools exposes pool management.
func (o *Orchestrator) Pools() *PoolOps { return &PoolOps{o: o} }

// PoolOps groups pool operations on the facade.
type PoolOps struct{ o *Orchestrator }

func (p *PoolOps) Create(pl *types.Pool) error        { return p.o.pools.Create(pl) }
func (p *PoolOps) Get(id string) (*types.Pool, error) { return p.o.pools.Get(id) }
func (p *PoolOps) List() []*types.Pool                { return p.o.pools.List() }
func (p *PoolOps) Update(pl *types.Pool) error        { return p.o.pools.Update(pl) }
func (p *PoolOps) Delete(id string) error             { return p.o.pools.Delete(id) }
func (p *PoolOps) Resume(id string) error {
	if err := p.o.pools.Resume(id); err != nil {
		return err
	}
	p.o.scheduler.Wake()
	return nil
}

func (p *PoolOps) SetMaintenance(id, reason string, allowNewJobs bool) error {
	return p.o.pools.SetMaintenance(id, reason, allowNewJobs)
}

// Drain stops dispatches to the pool and lets running executions
// finish. With force set, executions still running once the timeout
// elapses are cancelled; a zero timeout cancels immediately.
func (p *PoolOps) Drain(id, reason string, timeout time.Duration, force bool) error {
	if err := p.o.pools.Drain(id, reason); err != nil {
		return err
	}
	if force {
		if timeout <= 0 {
			p.o.cancelPoolExecutions(id)
		} else {
			o := p.o
			time.AfterFunc(timeout, func() {
				pl, err := o.pools.Get(id)
				if err != nil || pl.Status != types.PoolStatusDraining {
					// Resumed or already drained in the meantime.
					return
				}
				o.cancelPoolExecutions(id)
				_, _ = o.pools.CheckDrained(id)
			})
		}
	}
	_, err := p.o.pools.CheckDrained(id)
	return err
}

// cancelPoolExecutions force-cancels every execution running on the
// pool's workers.
func (o *Orchestrator) cancelPoolExecutions(poolID string) {
	for _, w := range o.registry.ListByPool(poolID) {
		if w.Status == types.WorkerStatusBusy && w.CurrentExecutionID != "" {
			_ = o.lifecycle.Cancel(w.CurrentExecutionID, true, "pool drained with force")
		}
	}
}

// Quotas exposes quota management.
func (o *Orchestrator) Quotas() *quota.Manager { return o.quotas }

// ListWorkers returns all known workers.
func (o *Orchestrator) ListWorkers() []*types.Worker { return o.registry.List() }

// GetWorker returns a worker by ID.
func (o *Orchestrator) GetWorker(workerID string) (*types.Worker, error) {
	return o.registry.Get(workerID)
}

// ShutdownWorker drains a worker and removes its registration.
func (o *Orchestrator) ShutdownWorker(workerID, reason string) error {
	if err := o.transport.ShutdownWorker(workerID, reason); err != nil && !errdefs.IsNotFound(err) {
		o.logger.Warn().Err(err).Str("worker_id", workerID).Msg("shutdown frame not delivered")
	}
	return o.registry.Unregister(workerID)
}

// PutArtifact stores a blob in the content-addressed cache and returns
// its ID.
func (o *Orchestrator) PutArtifact(data []byte) (string, error) {
	return o.cache.Put(data)
}

// GetArtifact returns an artifact's bytes.
func (o *Orchestrator) GetArtifact(id string) ([]byte, error) {
	return o.cache.Get(id)
}

// HasArtifact reports whether the cache holds the artifact.
func (o *Orchestrator) HasArtifact(id string) bool {
	return o.cache.Contains(id)
}

// CreateTemplate persists a job template.
func (o *Orchestrator) CreateTemplate(tpl *types.JobTemplate) error {
	if tpl.Name == "" {
		return errdefs.New(errdefs.KindValidationFailed, "template name is required")
	}
	if tpl.ID == "" {
		tpl.ID = uuid.New().String()
	}
	now := time.Now()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now
	return o.store.CreateTemplate(tpl)
}

// GetTemplate returns a template by ID.
func (o *Orchestrator) GetTemplate(id string) (*types.JobTemplate, error) {
	return o.store.GetTemplate(id)
}

// ListTemplates returns all templates.
func (o *Orchestrator) ListTemplates() ([]*types.JobTemplate, error) {
	return o.store.ListTemplates()
}

// DeleteTemplate removes a template.
func (o *Orchestrator) DeleteTemplate(id string) error {
	return o.store.DeleteTemplate(id)
}
