package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/events"
	"github.com/Rubentxu/hodei-pipelines/pkg/storage"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// WorkerSource exposes the live worker view the manager aggregates
// capacity from. Satisfied by the registry.
type WorkerSource interface {
	ListByPool(poolID string) []*types.Worker
}

// Manager owns worker pools: their lifecycle, capacity accounting and
// admission of new workers. Execution-side reservations go through
// Reserve and Release so a pool never promises more than its workers
// hold.
type Manager struct {
	store   storage.Store
	broker  *events.Broker
	workers WorkerSource

	mu       sync.Mutex
	pools    map[string]*types.Pool
	reserved map[string]types.Resources // live execution reservations per pool
	slots    map[string]int
}

// NewManager creates a pool manager. Call Load on a restarted server.
func NewManager(store storage.Store, broker *events.Broker, workers WorkerSource) *Manager {
	return &Manager{
		store:    store,
		broker:   broker,
		workers:  workers,
		pools:    make(map[string]*types.Pool),
		reserved: make(map[string]types.Resources),
		slots:    make(map[string]int),
	}
}

// Load restores pools from the repository. Reservations reset; the
// lifecycle layer re-reserves for executions still running.
func (m *Manager) Load() error {
	pools, err := m.store.ListPools()
	if err != nil {
		return fmt.Errorf("failed to load pools: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pools {
		m.pools[p.ID] = p
	}
	return nil
}

// Create registers a new pool.
func (m *Manager) Create(p *types.Pool) error {
	if p.Name == "" {
		return errdefs.New(errdefs.KindValidationFailed, "pool name is required")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = types.PoolStatusActive
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	m.mu.Lock()
	if _, ok := m.pools[p.ID]; ok {
		m.mu.Unlock()
		return errdefs.Newf(errdefs.KindConflict, "pool already exists: %s", p.ID)
	}
	m.pools[p.ID] = p
	m.mu.Unlock()

	if err := m.store.CreatePool(p); err != nil {
		return err
	}
	m.broker.Publish(&types.Event{Type: types.EventPoolCreated, PoolID: p.ID, Message: p.Name})
	return nil
}

// Get returns a copy of the pool with capacity recomputed from the
// current worker set.
func (m *Manager) Get(poolID string) (*types.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[poolID]
	if !ok {
		return nil, errdefs.Newf(errdefs.KindNotFound, "pool not found: %s", poolID)
	}
	snapshot := *p
	snapshot.Capacity = m.capacityLocked(p)
	return &snapshot, nil
}

// List returns copies of all pools with live capacity.
func (m *Manager) List() []*types.Pool {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*types.Pool, 0, len(m.pools))
	for _, p := range m.pools {
		snapshot := *p
		snapshot.Capacity = m.capacityLocked(p)
		out = append(out, &snapshot)
	}
	return out
}

// Update applies mutable pool fields.
func (m *Manager) Update(p *types.Pool) error {
	m.mu.Lock()
	existing, ok := m.pools[p.ID]
	if !ok {
		m.mu.Unlock()
		return errdefs.Newf(errdefs.KindNotFound, "pool not found: %s", p.ID)
	}
	if p.Name != "" {
		existing.Name = p.Name
	}
	if p.Scaling != nil {
		existing.Scaling = p.Scaling
	}
	if p.Labels != nil {
		existing.Labels = p.Labels
	}
	existing.UpdatedAt = time.Now()
	snapshot := *existing
	m.mu.Unlock()

	return m.store.UpdatePool(&snapshot)
}

// Delete removes a pool that has no workers left.
func (m *Manager) Delete(poolID string) error {
	m.mu.Lock()
	_, ok := m.pools[poolID]
	if !ok {
		m.mu.Unlock()
		return errdefs.Newf(errdefs.KindNotFound, "pool not found: %s", poolID)
	}
	for _, w := range m.workers.ListByPool(poolID) {
		if !w.Status.Terminated() {
			m.mu.Unlock()
			return errdefs.Newf(errdefs.KindConflict, "pool %s still has workers", poolID)
		}
	}
	delete(m.pools, poolID)
	delete(m.reserved, poolID)
	delete(m.slots, poolID)
	m.mu.Unlock()

	return m.store.DeletePool(poolID)
}

// Admission decides whether the pool accepts another worker. Wired into
// the registry.
func (m *Manager) Admission(poolID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[poolID]
	if !ok {
		return errdefs.Newf(errdefs.KindNotFound, "pool not found: %s", poolID)
	}
	switch p.Status {
	case types.PoolStatusActive:
	case types.PoolStatusMaintenance:
		return errdefs.Newf(errdefs.KindConflict, "pool %s is under maintenance", poolID)
	default:
		return errdefs.Newf(errdefs.KindConflict, "pool %s is %s", poolID, p.Status)
	}

	if p.Scaling != nil && p.Scaling.MaxWorkers > 0 {
		active := 0
		for _, w := range m.workers.ListByPool(poolID) {
			if !w.Status.Terminated() && w.Status != types.WorkerStatusError {
				active++
			}
		}
		if active >= p.Scaling.MaxWorkers {
			return errdefs.Newf(errdefs.KindCapacityExhausted,
				"pool %s at max workers (%d)", poolID, p.Scaling.MaxWorkers)
		}
	}
	return nil
}

// Dispatchable reports whether the pool currently accepts new
// executions.
func (m *Manager) Dispatchable(poolID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[poolID]
	if !ok {
		return false
	}
	switch p.Status {
	case types.PoolStatusActive:
		return true
	case types.PoolStatusMaintenance:
		return p.Maintenance != nil && p.Maintenance.AllowNewJobs
	default:
		return false
	}
}

// Reserve claims resources from the pool for an execution. Fails with
// CapacityExhausted when the free capacity cannot fit the request.
func (m *Manager) Reserve(poolID string, req types.Resources) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[poolID]
	if !ok {
		return errdefs.Newf(errdefs.KindNotFound, "pool not found: %s", poolID)
	}
	cap := m.capacityLocked(p)
	if !cap.Available.Fits(req) {
		return errdefs.Newf(errdefs.KindCapacityExhausted,
			"pool %s cannot fit request (%.1f cores, %d MB)", poolID, req.CPUCores, req.MemoryMB)
	}
	m.reserved[poolID] = m.reserved[poolID].Add(req)
	m.slots[poolID]++
	return nil
}

// Release returns an execution's reservation to the pool.
func (m *Manager) Release(poolID string, req types.Resources) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pools[poolID]; !ok {
		return
	}
	m.reserved[poolID] = m.reserved[poolID].Sub(req)
	if m.slots[poolID] > 0 {
		m.slots[poolID]--
	}
}

// Drain stops new dispatches to the pool. Running executions finish
// unless force is set, in which case the caller is expected to cancel
// them.
func (m *Manager) Drain(poolID, reason string) error {
	m.mu.Lock()
	p, ok := m.pools[poolID]
	if !ok {
		m.mu.Unlock()
		return errdefs.Newf(errdefs.KindNotFound, "pool not found: %s", poolID)
	}
	if p.Status == types.PoolStatusDraining {
		m.mu.Unlock()
		return nil
	}
	p.Status = types.PoolStatusDraining
	p.UpdatedAt = time.Now()
	snapshot := *p
	m.mu.Unlock()

	if err := m.store.UpdatePool(&snapshot); err != nil {
		return err
	}
	m.broker.Publish(&types.Event{Type: types.EventPoolDraining, PoolID: poolID, Message: reason})
	return nil
}

// CheckDrained promotes a draining pool to drained once none of its
// workers is busy. Returns true when the pool is fully drained.
func (m *Manager) CheckDrained(poolID string) (bool, error) {
	m.mu.Lock()
	p, ok := m.pools[poolID]
	if !ok {
		m.mu.Unlock()
		return false, errdefs.Newf(errdefs.KindNotFound, "pool not found: %s", poolID)
	}
	if p.Status != types.PoolStatusDraining {
		status := p.Status
		m.mu.Unlock()
		return status == types.PoolStatusDrained, nil
	}
	for _, w := range m.workers.ListByPool(poolID) {
		if w.Status == types.WorkerStatusBusy {
			m.mu.Unlock()
			return false, nil
		}
	}
	p.Status = types.PoolStatusDrained
	p.UpdatedAt = time.Now()
	snapshot := *p
	m.mu.Unlock()

	return true, m.store.UpdatePool(&snapshot)
}

// Resume reactivates a draining, drained or maintenance pool.
func (m *Manager) Resume(poolID string) error {
	m.mu.Lock()
	p, ok := m.pools[poolID]
	if !ok {
		m.mu.Unlock()
		return errdefs.Newf(errdefs.KindNotFound, "pool not found: %s", poolID)
	}
	p.Status = types.PoolStatusActive
	p.Maintenance = nil
	p.UpdatedAt = time.Now()
	snapshot := *p
	m.mu.Unlock()

	if err := m.store.UpdatePool(&snapshot); err != nil {
		return err
	}
	m.broker.Publish(&types.Event{Type: types.EventPoolResumed, PoolID: poolID})
	return nil
}

// SetMaintenance places the pool under maintenance. AllowNewJobs keeps
// dispatches flowing while operators work on the pool.
func (m *Manager) SetMaintenance(poolID, reason string, allowNewJobs bool) error {
	m.mu.Lock()
	p, ok := m.pools[poolID]
	if !ok {
		m.mu.Unlock()
		return errdefs.Newf(errdefs.KindNotFound, "pool not found: %s", poolID)
	}
	p.Status = types.PoolStatusMaintenance
	p.Maintenance = &types.MaintenanceState{
		Reason:       reason,
		AllowNewJobs: allowNewJobs,
		Since:        time.Now(),
	}
	p.UpdatedAt = time.Now()
	snapshot := *p
	m.mu.Unlock()

	return m.store.UpdatePool(&snapshot)
}

// capacityLocked aggregates worker inventories and subtracts live
// reservations. Must be called with m.mu held.
func (m *Manager) capacityLocked(p *types.Pool) *types.PoolCapacity {
	var total types.Resources
	slots := 0
	for _, w := range m.workers.ListByPool(p.ID) {
		if w.Status.Terminated() || w.Status == types.WorkerStatusError {
			continue
		}
		total = total.Add(w.Resources)
		slots++
	}
	used := m.reserved[p.ID]
	return &types.PoolCapacity{
		Total:      total,
		Used:       used,
		Available:  total.Sub(used),
		TotalSlots: slots,
		UsedSlots:  m.slots[p.ID],
	}
}
