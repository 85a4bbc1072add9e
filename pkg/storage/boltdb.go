package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketJobs       = []byte("jobs")
	bucketExecutions = []byte("executions")
	bucketPools      = []byte("pools")
	bucketWorkers    = []byte("workers")
	bucketQuotas     = []byte("quotas")
	bucketTemplates  = []byte("templates")
)

// BoltStore implements Store using BoltDB, one bucket per entity kind
// with JSON-encoded values keyed by ID.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "hodei.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketJobs,
			bucketExecutions,
			bucketPools,
			bucketWorkers,
			bucketQuotas,
			bucketTemplates,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) put(bucket []byte, id string, v any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

func (s *BoltStore) get(bucket []byte, id string, v any, kind string) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data := b.Get([]byte(id))
		if data == nil {
			return errdefs.Newf(errdefs.KindNotFound, "%s not found: %s", kind, id)
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) delete(bucket []byte, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(id))
	})
}

// Job operations

func (s *BoltStore) CreateJob(job *types.Job) error {
	return s.put(bucketJobs, job.ID, job)
}

func (s *BoltStore) GetJob(id string) (*types.Job, error) {
	var job types.Job
	if err := s.get(bucketJobs, id, &job, "job"); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) ListJobs() ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) UpdateJob(job *types.Job) error {
	return s.CreateJob(job) // Upsert
}

func (s *BoltStore) DeleteJob(id string) error {
	return s.delete(bucketJobs, id)
}

// Execution operations

func (s *BoltStore) CreateExecution(exec *types.Execution) error {
	return s.put(bucketExecutions, exec.ID, exec)
}

func (s *BoltStore) GetExecution(id string) (*types.Execution, error) {
	var exec types.Execution
	if err := s.get(bucketExecutions, id, &exec, "execution"); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (s *BoltStore) ListExecutions() ([]*types.Execution, error) {
	var execs []*types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExecutions).ForEach(func(k, v []byte) error {
			var exec types.Execution
			if err := json.Unmarshal(v, &exec); err != nil {
				return err
			}
			execs = append(execs, &exec)
			return nil
		})
	})
	return execs, err
}

func (s *BoltStore) ListExecutionsByJob(jobID string) ([]*types.Execution, error) {
	execs, err := s.ListExecutions()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Execution
	for _, exec := range execs {
		if exec.JobID == jobID {
			filtered = append(filtered, exec)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateExecution(exec *types.Execution) error {
	return s.CreateExecution(exec)
}

// Pool operations

func (s *BoltStore) CreatePool(pool *types.Pool) error {
	return s.put(bucketPools, pool.ID, pool)
}

func (s *BoltStore) GetPool(id string) (*types.Pool, error) {
	var pool types.Pool
	if err := s.get(bucketPools, id, &pool, "pool"); err != nil {
		return nil, err
	}
	return &pool, nil
}

func (s *BoltStore) ListPools() ([]*types.Pool, error) {
	var pools []*types.Pool
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPools).ForEach(func(k, v []byte) error {
			var pool types.Pool
			if err := json.Unmarshal(v, &pool); err != nil {
				return err
			}
			pools = append(pools, &pool)
			return nil
		})
	})
	return pools, err
}

func (s *BoltStore) UpdatePool(pool *types.Pool) error {
	return s.CreatePool(pool)
}

func (s *BoltStore) DeletePool(id string) error {
	return s.delete(bucketPools, id)
}

// Worker operations

func (s *BoltStore) CreateWorker(worker *types.Worker) error {
	return s.put(bucketWorkers, worker.ID, worker)
}

func (s *BoltStore) GetWorker(id string) (*types.Worker, error) {
	var worker types.Worker
	if err := s.get(bucketWorkers, id, &worker, "worker"); err != nil {
		return nil, err
	}
	return &worker, nil
}

func (s *BoltStore) ListWorkers() ([]*types.Worker, error) {
	var workers []*types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).ForEach(func(k, v []byte) error {
			var worker types.Worker
			if err := json.Unmarshal(v, &worker); err != nil {
				return err
			}
			workers = append(workers, &worker)
			return nil
		})
	})
	return workers, err
}

func (s *BoltStore) ListWorkersByPool(poolID string) ([]*types.Worker, error) {
	workers, err := s.ListWorkers()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Worker
	for _, worker := range workers {
		if worker.PoolID == poolID {
			filtered = append(filtered, worker)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateWorker(worker *types.Worker) error {
	return s.CreateWorker(worker)
}

func (s *BoltStore) DeleteWorker(id string) error {
	return s.delete(bucketWorkers, id)
}

// Quota operations

func (s *BoltStore) CreateQuota(quota *types.Quota) error {
	return s.put(bucketQuotas, quota.ID, quota)
}

func (s *BoltStore) GetQuota(id string) (*types.Quota, error) {
	var quota types.Quota
	if err := s.get(bucketQuotas, id, &quota, "quota"); err != nil {
		return nil, err
	}
	return &quota, nil
}

func (s *BoltStore) GetQuotaByNamespace(namespace string) (*types.Quota, error) {
	var found *types.Quota
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQuotas).ForEach(func(k, v []byte) error {
			var quota types.Quota
			if err := json.Unmarshal(v, &quota); err != nil {
				return err
			}
			if quota.Namespace == namespace {
				found = &quota
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errdefs.Newf(errdefs.KindNotFound, "quota not found for namespace: %s", namespace)
	}
	return found, nil
}

func (s *BoltStore) ListQuotas() ([]*types.Quota, error) {
	var quotas []*types.Quota
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQuotas).ForEach(func(k, v []byte) error {
			var quota types.Quota
			if err := json.Unmarshal(v, &quota); err != nil {
				return err
			}
			quotas = append(quotas, &quota)
			return nil
		})
	})
	return quotas, err
}

func (s *BoltStore) UpdateQuota(quota *types.Quota) error {
	return s.CreateQuota(quota)
}

func (s *BoltStore) DeleteQuota(id string) error {
	return s.delete(bucketQuotas, id)
}

// Template operations

func (s *BoltStore) CreateTemplate(tpl *types.JobTemplate) error {
	return s.put(bucketTemplates, tpl.ID, tpl)
}

func (s *BoltStore) GetTemplate(id string) (*types.JobTemplate, error) {
	var tpl types.JobTemplate
	if err := s.get(bucketTemplates, id, &tpl, "template"); err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (s *BoltStore) GetTemplateByName(name string) (*types.JobTemplate, error) {
	var found *types.JobTemplate
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTemplates).ForEach(func(k, v []byte) error {
			var tpl types.JobTemplate
			if err := json.Unmarshal(v, &tpl); err != nil {
				return err
			}
			if tpl.Name == name {
				found = &tpl
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errdefs.Newf(errdefs.KindNotFound, "template not found: %s", name)
	}
	return found, nil
}

func (s *BoltStore) ListTemplates() ([]*types.JobTemplate, error) {
	var tpls []*types.JobTemplate
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTemplates).ForEach(func(k, v []byte) error {
			var tpl types.JobTemplate
			if err := json.Unmarshal(v, &tpl); err != nil {
				return err
			}
			tpls = append(tpls, &tpl)
			return nil
		})
	})
	return tpls, err
}

func (s *BoltStore) UpdateTemplate(tpl *types.JobTemplate) error {
	return s.CreateTemplate(tpl)
}

func (s *BoltStore) DeleteTemplate(id string) error {
	return s.delete(bucketTemplates, id)
}
