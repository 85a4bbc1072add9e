package orchestrator

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rubentxu/hodei-pipelines/pkg/artifact"
	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/events"
	"github.com/Rubentxu/hodei-pipelines/pkg/lifecycle"
	"github.com/Rubentxu/hodei-pipelines/pkg/log"
	"github.com/Rubentxu/hodei-pipelines/pkg/metrics"
	"github.com/Rubentxu/hodei-pipelines/pkg/pool"
	"github.com/Rubentxu/hodei-pipelines/pkg/provisioner"
	"github.com/Rubentxu/hodei-pipelines/pkg/queue"
	"github.com/Rubentxu/hodei-pipelines/pkg/quota"
	"github.com/Rubentxu/hodei-pipelines/pkg/registry"
	"github.com/Rubentxu/hodei-pipelines/pkg/scheduler"
	"github.com/Rubentxu/hodei-pipelines/pkg/storage"
	"github.com/Rubentxu/hodei-pipelines/pkg/transport"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// Config tunes the control plane. Zero values take the documented
// defaults.
type Config struct {
	DataDir           string
	ListenAddr        string
	HeartbeatInterval time.Duration
	DispatchTimeout   time.Duration
	CancelGrace       time.Duration
	ArtifactChunkSize int
	ArtifactCompress  bool
	LogRetention      time.Duration
	EventRetention    time.Duration
}

// Orchestrator is the control plane: it owns the store, the queue, the
// scheduler, the worker transport and every manager around them, and is
// the single surface the API and CLI talk to.
type Orchestrator struct {
	cfg    Config
	logger zerolog.Logger

	store     storage.Store
	broker    *events.Broker
	cache     *artifact.Cache
	queue     *queue.Queue
	quotas    *quota.Manager
	registry  *registry.Registry
	pools     *pool.Manager
	lifecycle *lifecycle.Manager
	scheduler *scheduler.Scheduler
	transport *transport.Server
	backends  *provisioner.Factory

	collector *metrics.Collector
	eventsSub events.Subscriber
}

// New builds a fully wired orchestrator rooted at cfg.DataDir.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":7233"
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	cache, err := artifact.NewCache(cfg.DataDir + "/artifacts")
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:      cfg,
		logger:   log.WithComponent("orchestrator"),
		store:    store,
		broker:   events.NewBroker(cfg.EventRetention),
		cache:    cache,
		queue:    queue.New(),
		backends: provisioner.NewFactory(),
	}

	o.quotas = quota.NewManager(store, o.broker)
	o.registry = registry.New(store, o.broker, registry.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		Admission:         func(poolID string) error { return o.pools.Admission(poolID) },
		OnExpired:         func(w *types.Worker) { o.lifecycle.WorkerLost(w.ID) },
	})
	o.pools = pool.NewManager(store, o.broker, o.registry)
	o.lifecycle = lifecycle.NewManager(store, o.broker, o.queue, o.quotas, o.pools, o.registry, lifecycle.Config{
		DispatchTimeout: cfg.DispatchTimeout,
		CancelGrace:     cfg.CancelGrace,
		LogRetention:    cfg.LogRetention,
	})

	compression := types.CompressionNone
	if cfg.ArtifactCompress {
		compression = types.CompressionGzip
	}
	o.transport = transport.NewServer(transport.Config{
		Addr:        cfg.ListenAddr,
		ChunkBytes:  cfg.ArtifactChunkSize,
		Compression: compression,
	}, o.registry, o.lifecycle, cache)
	o.lifecycle.SetWorkerControl(o.transport)

	o.scheduler = scheduler.New(o.queue, o.pools, o.registry, o.quotas, o.lifecycle, o.transport)
	o.lifecycle.SetWaker(o.scheduler.Wake)

	return o, nil
}

// Start recovers persisted state and brings every component up.
func (o *Orchestrator) Start() error {
	o.broker.Start()

	if err := o.quotas.Load(); err != nil {
		return err
	}
	if err := o.pools.Load(); err != nil {
		return err
	}
	if err := o.registry.Load(); err != nil {
		return err
	}
	if err := o.recover(); err != nil {
		return err
	}

	if err := o.transport.Start(); err != nil {
		return err
	}
	o.registry.Start()
	o.scheduler.Start()

	o.eventsSub = o.broker.Subscribe()
	o.collector = metrics.NewCollector(o, o.eventsSub)
	o.collector.Start()

	metrics.RegisterComponent("store", true, "")
	metrics.RegisterComponent("transport", true, "")
	metrics.RegisterComponent("scheduler", true, "")

	o.logger.Info().Str("addr", o.transport.Addr()).Msg("orchestrator started")
	return nil
}

// Stop shuts the control plane down.
func (o *Orchestrator) Stop() {
	if o.collector != nil {
		o.collector.Stop()
		o.broker.Unsubscribe(o.eventsSub)
	}
	o.scheduler.Stop()
	o.registry.Stop()
	o.transport.Stop()
	o.broker.Stop()
	_ = o.store.Close()
	o.logger.Info().Msg("orchestrator stopped")
}

// recover reconciles persisted state after a restart: in-flight
// executions are failed (their worker sessions are gone) and their
// jobs requeued, queued jobs go back into the queue.
func (o *Orchestrator) recover() error {
	execs, err := o.store.ListExecutions()
	if err != nil {
		return err
	}
	for _, e := range execs {
		if e.Status.Terminal() {
			continue
		}
		e.Status = types.ExecutionStatusFailed
		e.FinishedAt = time.Now()
		e.Error = &types.ExecutionError{
			Kind:    string(errdefs.KindWorkerDisconnected),
			Message: "orchestrator restarted while execution was in flight",
		}
		if err := o.store.UpdateExecution(e); err != nil {
			return err
		}
	}

	jobs, err := o.store.ListJobs()
	if err != nil {
		return err
	}
	requeued := 0
	for _, j := range jobs {
		switch j.Status {
		case types.JobStatusQueued:
			if err := o.queue.Submit(j); err != nil {
				return err
			}
			requeued++
		case types.JobStatusPending, types.JobStatusRunning:
			// The execution died with the previous process; give the job
			// back to the queue regardless of retry budget.
			j.Status = types.JobStatusQueued
			j.UpdatedAt = time.Now()
			if err := o.store.UpdateJob(j); err != nil {
				return err
			}
			if err := o.queue.Submit(j); err != nil {
				return err
			}
			requeued++
		}
	}
	if requeued > 0 {
		o.logger.Info().Int("jobs", requeued).Msg("requeued jobs from previous run")
	}
	return nil
}

// Addr returns the worker transport's listen address.
func (o *Orchestrator) Addr() string { return o.transport.Addr() }

// Broker exposes the event bus for API streaming.
func (o *Orchestrator) Broker() *events.Broker { return o.broker }
