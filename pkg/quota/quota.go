package quota

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/events"
	"github.com/Rubentxu/hodei-pipelines/pkg/storage"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// Manager evaluates namespace quotas. Namespaces without a quota are
// unrestricted. Enforcement depends on the quota's policy: enforce
// blocks, warn allows and publishes a warning event, monitor records
// usage silently.
type Manager struct {
	store  storage.Store
	broker *events.Broker

	mu        sync.Mutex
	quotas    map[string]*types.Quota // keyed by namespace
	hourly    map[string]*rate.Limiter
	dispatch  map[string]*rate.Limiter
	hourStart time.Time
	dayStart  time.Time
}

// NewManager creates a quota manager. Call Load on a restarted server.
func NewManager(store storage.Store, broker *events.Broker) *Manager {
	now := time.Now()
	return &Manager{
		store:     store,
		broker:    broker,
		quotas:    make(map[string]*types.Quota),
		hourly:    make(map[string]*rate.Limiter),
		dispatch:  make(map[string]*rate.Limiter),
		hourStart: now.Truncate(time.Hour),
		dayStart:  startOfDay(now),
	}
}

// Load restores quotas from the repository. Live counters reset; they
// are rebuilt as executions are reconciled.
func (m *Manager) Load() error {
	quotas, err := m.store.ListQuotas()
	if err != nil {
		return fmt.Errorf("failed to load quotas: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range quotas {
		q.Usage = types.QuotaUsage{}
		m.quotas[q.Namespace] = q
		m.hourly[q.Namespace] = newHourlyLimiter(q.Limits.MaxJobsPerHour)
		m.dispatch[q.Namespace] = newDispatchLimiter(q.Limits.MaxJobsPerHour)
	}
	return nil
}

// Create registers a quota for a namespace.
func (m *Manager) Create(q *types.Quota) error {
	if q.Namespace == "" {
		return errdefs.New(errdefs.KindValidationFailed, "quota namespace is required")
	}

	m.mu.Lock()
	if _, ok := m.quotas[q.Namespace]; ok {
		m.mu.Unlock()
		return errdefs.Newf(errdefs.KindConflict, "namespace already has a quota: %s", q.Namespace)
	}
	now := time.Now()
	q.CreatedAt = now
	q.UpdatedAt = now
	m.quotas[q.Namespace] = q
	m.hourly[q.Namespace] = newHourlyLimiter(q.Limits.MaxJobsPerHour)
	m.dispatch[q.Namespace] = newDispatchLimiter(q.Limits.MaxJobsPerHour)
	m.mu.Unlock()

	return m.store.CreateQuota(q)
}

// Update replaces a quota's policy and limits, keeping live usage.
func (m *Manager) Update(q *types.Quota) error {
	m.mu.Lock()
	existing, ok := m.quotas[q.Namespace]
	if !ok {
		m.mu.Unlock()
		return errdefs.Newf(errdefs.KindNotFound, "no quota for namespace: %s", q.Namespace)
	}
	existing.Policy = q.Policy
	existing.Limits = q.Limits
	existing.UpdatedAt = time.Now()
	m.hourly[q.Namespace] = newHourlyLimiter(q.Limits.MaxJobsPerHour)
	m.dispatch[q.Namespace] = newDispatchLimiter(q.Limits.MaxJobsPerHour)
	snapshot := *existing
	m.mu.Unlock()

	return m.store.UpdateQuota(&snapshot)
}

// Delete removes a namespace's quota.
func (m *Manager) Delete(namespace string) error {
	m.mu.Lock()
	q, ok := m.quotas[namespace]
	if !ok {
		m.mu.Unlock()
		return errdefs.Newf(errdefs.KindNotFound, "no quota for namespace: %s", namespace)
	}
	delete(m.quotas, namespace)
	delete(m.hourly, namespace)
	delete(m.dispatch, namespace)
	id := q.ID
	m.mu.Unlock()

	return m.store.DeleteQuota(id)
}

// Get returns a copy of the namespace's quota.
func (m *Manager) Get(namespace string) (*types.Quota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.quotas[namespace]
	if !ok {
		return nil, errdefs.Newf(errdefs.KindNotFound, "no quota for namespace: %s", namespace)
	}
	snapshot := *q
	return &snapshot, nil
}

// List returns copies of all quotas.
func (m *Manager) List() []*types.Quota {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*types.Quota, 0, len(m.quotas))
	for _, q := range m.quotas {
		snapshot := *q
		out = append(out, &snapshot)
	}
	return out
}

// AdmitSubmission checks and records a job submission against the
// namespace's rate limits.
func (m *Manager) AdmitSubmission(namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.quotas[namespace]
	if !ok {
		return nil
	}
	m.rollWindows()

	var violations []string
	if q.Limits.MaxJobsPerHour > 0 {
		if lim := m.hourly[namespace]; lim != nil && !lim.Allow() {
			violations = append(violations, fmt.Sprintf("jobs per hour limit %d reached", q.Limits.MaxJobsPerHour))
		}
	}
	if q.Limits.MaxJobsPerDay > 0 && q.Usage.JobsToday >= q.Limits.MaxJobsPerDay {
		violations = append(violations, fmt.Sprintf("jobs per day limit %d reached", q.Limits.MaxJobsPerDay))
	}

	if err := m.settle(q, violations); err != nil {
		return err
	}
	q.Usage.JobsThisHour++
	q.Usage.JobsToday++
	return nil
}

// AdmitDispatch checks the namespace's sliding dispatch window and
// reserves concurrency and resource headroom for an execution about to
// start. Release the reservation with ReleaseDispatch when the
// execution reaches a terminal state.
func (m *Manager) AdmitDispatch(namespace string, resources types.Resources) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.quotas[namespace]
	if !ok {
		return nil
	}

	var violations []string
	if q.Limits.MaxJobsPerHour > 0 {
		if lim := m.dispatch[namespace]; lim != nil && !lim.Allow() {
			violations = append(violations, fmt.Sprintf("dispatch window for %d jobs/hour exhausted", q.Limits.MaxJobsPerHour))
		}
	}
	if q.Limits.MaxConcurrentJobs > 0 && q.Usage.ConcurrentJobs >= q.Limits.MaxConcurrentJobs {
		violations = append(violations, fmt.Sprintf("concurrent job limit %d reached", q.Limits.MaxConcurrentJobs))
	}
	if q.Limits.MaxCPUCores > 0 && q.Usage.CPUCores+resources.CPUCores > q.Limits.MaxCPUCores {
		violations = append(violations, fmt.Sprintf("cpu limit %.1f cores exceeded", q.Limits.MaxCPUCores))
	}
	if q.Limits.MaxMemoryMB > 0 && q.Usage.MemoryMB+resources.MemoryMB > q.Limits.MaxMemoryMB {
		violations = append(violations, fmt.Sprintf("memory limit %d MB exceeded", q.Limits.MaxMemoryMB))
	}

	if err := m.settle(q, violations); err != nil {
		return err
	}
	q.Usage.ConcurrentJobs++
	q.Usage.CPUCores += resources.CPUCores
	q.Usage.MemoryMB += resources.MemoryMB
	return nil
}

// ReleaseDispatch returns an execution's reservation to the namespace.
func (m *Manager) ReleaseDispatch(namespace string, resources types.Resources) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.quotas[namespace]
	if !ok {
		return
	}
	if q.Usage.ConcurrentJobs > 0 {
		q.Usage.ConcurrentJobs--
	}
	q.Usage.CPUCores -= resources.CPUCores
	if q.Usage.CPUCores < 0 {
		q.Usage.CPUCores = 0
	}
	q.Usage.MemoryMB -= resources.MemoryMB
	if q.Usage.MemoryMB < 0 {
		q.Usage.MemoryMB = 0
	}
}

// settle applies the quota's policy to the detected violations. Must be
// called with m.mu held.
func (m *Manager) settle(q *types.Quota, violations []string) error {
	if len(violations) == 0 {
		return nil
	}
	msg := strings.Join(violations, "; ")

	switch q.Policy {
	case types.QuotaPolicyEnforce:
		return errdefs.Newf(errdefs.KindQuotaExceeded, "namespace %s: %s", q.Namespace, msg)
	case types.QuotaPolicyWarn:
		m.broker.Publish(&types.Event{
			Type:    types.EventQuotaWarning,
			Message: fmt.Sprintf("namespace %s over quota: %s", q.Namespace, msg),
			Payload: map[string]string{"namespace": q.Namespace},
		})
	}
	return nil
}

// rollWindows zeroes the hourly and daily counters when their window
// ends. Must be called with m.mu held.
func (m *Manager) rollWindows() {
	now := time.Now()
	if hour := now.Truncate(time.Hour); hour.After(m.hourStart) {
		m.hourStart = hour
		for _, q := range m.quotas {
			q.Usage.JobsThisHour = 0
		}
	}
	if day := startOfDay(now); day.After(m.dayStart) {
		m.dayStart = day
		for _, q := range m.quotas {
			q.Usage.JobsToday = 0
		}
	}
}

// newHourlyLimiter spreads the hourly budget over the hour while still
// allowing the full budget as a burst.
func newHourlyLimiter(perHour int) *rate.Limiter {
	if perHour <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), perHour)
}

// newDispatchLimiter caps a namespace's dispatches to its per-minute
// share of the hourly budget over a sliding 60-second window. Blocked
// jobs stay queued and retry once the window refills.
func newDispatchLimiter(perHour int) *rate.Limiter {
	if perHour <= 0 {
		return nil
	}
	burst := perHour / 60
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), burst)
}

func startOfDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}
