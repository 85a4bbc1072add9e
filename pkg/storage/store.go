package storage

import (
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// Store is the pluggable repository behind the control plane. Every
// entity kind supports durable save/load/delete plus a list used by the
// load-all pass at startup. Writes are write-through: components mutate
// in-memory state first and persist immediately after.
type Store interface {
	// Jobs
	CreateJob(job *types.Job) error
	GetJob(id string) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	UpdateJob(job *types.Job) error
	DeleteJob(id string) error

	// Executions
	CreateExecution(exec *types.Execution) error
	GetExecution(id string) (*types.Execution, error)
	ListExecutions() ([]*types.Execution, error)
	ListExecutionsByJob(jobID string) ([]*types.Execution, error)
	UpdateExecution(exec *types.Execution) error

	// Pools
	CreatePool(pool *types.Pool) error
	GetPool(id string) (*types.Pool, error)
	ListPools() ([]*types.Pool, error)
	UpdatePool(pool *types.Pool) error
	DeletePool(id string) error

	// Workers
	CreateWorker(worker *types.Worker) error
	GetWorker(id string) (*types.Worker, error)
	ListWorkers() ([]*types.Worker, error)
	ListWorkersByPool(poolID string) ([]*types.Worker, error)
	UpdateWorker(worker *types.Worker) error
	DeleteWorker(id string) error

	// Quotas
	CreateQuota(quota *types.Quota) error
	GetQuota(id string) (*types.Quota, error)
	GetQuotaByNamespace(namespace string) (*types.Quota, error)
	ListQuotas() ([]*types.Quota, error)
	UpdateQuota(quota *types.Quota) error
	DeleteQuota(id string) error

	// Templates
	CreateTemplate(tpl *types.JobTemplate) error
	GetTemplate(id string) (*types.JobTemplate, error)
	GetTemplateByName(name string) (*types.JobTemplate, error)
	ListTemplates() ([]*types.JobTemplate, error)
	UpdateTemplate(tpl *types.JobTemplate) error
	DeleteTemplate(id string) error

	Close() error
}
