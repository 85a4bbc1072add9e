package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/provisioner"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// ScaleUp provisions count new workers into the pool through its
// backend. Workers register themselves once their agent connects, so
// this returns as soon as the instances are launched.
func (p *PoolOps) ScaleUp(ctx context.Context, poolID string, count int) ([]string, error) {
	pl, err := p.o.pools.Get(poolID)
	if err != nil {
		return nil, err
	}
	if pl.Scaling != nil && pl.Scaling.MaxWorkers > 0 {
		existing := len(p.o.registry.ListByPool(poolID))
		if existing+count > pl.Scaling.MaxWorkers {
			return nil, errdefs.Newf(errdefs.KindCapacityExhausted,
				"pool %s allows %d workers, has %d", poolID, pl.Scaling.MaxWorkers, existing)
		}
	}

	backend, err := p.o.backends.For(pl.Type)
	if err != nil {
		return nil, err
	}

	var launched []string
	for i := 0; i < count; i++ {
		workerID := uuid.New().String()
		spec := provisioner.WorkerSpec{
			WorkerID:   workerID,
			Name:       fmt.Sprintf("%s-%s", pl.Name, workerID[:8]),
			PoolID:     poolID,
			ServerAddr: p.o.transport.Addr(),
			Labels:     pl.Labels,
		}
		if _, err := backend.Provision(ctx, spec); err != nil {
			return launched, err
		}
		launched = append(launched, workerID)
	}
	p.o.logger.Info().Str("pool_id", poolID).Int("count", len(launched)).Msg("workers provisioned")
	return launched, nil
}

// EnsureMinWorkers tops the pool up to its scaling policy's minimum.
func (p *PoolOps) EnsureMinWorkers(ctx context.Context, poolID string) error {
	pl, err := p.o.pools.Get(poolID)
	if err != nil {
		return err
	}
	if pl.Scaling == nil || pl.Scaling.MinWorkers == 0 {
		return nil
	}
	alive := 0
	for _, w := range p.o.registry.ListByPool(poolID) {
		if w.Status != types.WorkerStatusTerminated && w.Status != types.WorkerStatusError {
			alive++
		}
	}
	if alive >= pl.Scaling.MinWorkers {
		return nil
	}
	_, err = p.ScaleUp(ctx, poolID, pl.Scaling.MinWorkers-alive)
	return err
}

// TerminateInstance tears a provisioned worker instance down.
func (p *PoolOps) TerminateInstance(ctx context.Context, poolID, instanceID string) error {
	pl, err := p.o.pools.Get(poolID)
	if err != nil {
		return err
	}
	backend, err := p.o.backends.For(pl.Type)
	if err != nil {
		return err
	}
	return backend.Terminate(ctx, instanceID)
}

// Instances lists the backend's live instances for the pool.
func (p *PoolOps) Instances(ctx context.Context, poolID string) ([]provisioner.Instance, error) {
	pl, err := p.o.pools.Get(poolID)
	if err != nil {
		return nil, err
	}
	backend, err := p.o.backends.For(pl.Type)
	if err != nil {
		return nil, err
	}
	return backend.List(ctx, poolID)
}
