package quota

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/events"
	"github.com/Rubentxu/hodei-pipelines/pkg/storage"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, *events.Broker) {
	t.Helper()

	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker(0)
	broker.Start()
	t.Cleanup(broker.Stop)

	return NewManager(store, broker), broker
}

func TestUnrestrictedNamespace(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.AdmitSubmission("anything"))
	require.NoError(t, m.AdmitDispatch("anything", types.Resources{CPUCores: 100}))
}

func TestEnforceConcurrentJobs(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Create(&types.Quota{
		ID:        "q1",
		Namespace: "team-a",
		Policy:    types.QuotaPolicyEnforce,
		Limits:    types.QuotaLimits{MaxConcurrentJobs: 2},
	}))

	res := types.Resources{CPUCores: 1, MemoryMB: 512}
	require.NoError(t, m.AdmitDispatch("team-a", res))
	require.NoError(t, m.AdmitDispatch("team-a", res))

	err := m.AdmitDispatch("team-a", res)
	assert.True(t, errdefs.IsQuotaExceeded(err))

	// Releasing frees a slot.
	m.ReleaseDispatch("team-a", res)
	require.NoError(t, m.AdmitDispatch("team-a", res))
}

func TestEnforceResourceCeilings(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Create(&types.Quota{
		ID:        "q1",
		Namespace: "team-a",
		Policy:    types.QuotaPolicyEnforce,
		Limits:    types.QuotaLimits{MaxCPUCores: 4, MaxMemoryMB: 4096},
	}))

	require.NoError(t, m.AdmitDispatch("team-a", types.Resources{CPUCores: 3, MemoryMB: 2048}))

	err := m.AdmitDispatch("team-a", types.Resources{CPUCores: 2, MemoryMB: 1024})
	require.True(t, errdefs.IsQuotaExceeded(err))
	assert.Contains(t, err.Error(), "cpu limit")

	require.NoError(t, m.AdmitDispatch("team-a", types.Resources{CPUCores: 1, MemoryMB: 1024}))
}

func TestWarnPolicyAllowsAndPublishes(t *testing.T) {
	m, broker := newTestManager(t)
	require.NoError(t, m.Create(&types.Quota{
		ID:        "q1",
		Namespace: "team-a",
		Policy:    types.QuotaPolicyWarn,
		Limits:    types.QuotaLimits{MaxConcurrentJobs: 1},
	}))

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	res := types.Resources{CPUCores: 1}
	require.NoError(t, m.AdmitDispatch("team-a", res))
	require.NoError(t, m.AdmitDispatch("team-a", res))

	select {
	case e := <-sub:
		assert.Equal(t, types.EventQuotaWarning, e.Type)
		assert.Equal(t, "team-a", e.Payload["namespace"])
	case <-time.After(time.Second):
		t.Fatal("expected quota warning event")
	}
}

func TestMonitorPolicyOnlyCounts(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Create(&types.Quota{
		ID:        "q1",
		Namespace: "team-a",
		Policy:    types.QuotaPolicyMonitor,
		Limits:    types.QuotaLimits{MaxConcurrentJobs: 1},
	}))

	res := types.Resources{CPUCores: 1}
	require.NoError(t, m.AdmitDispatch("team-a", res))
	require.NoError(t, m.AdmitDispatch("team-a", res))

	q, err := m.Get("team-a")
	require.NoError(t, err)
	assert.Equal(t, 2, q.Usage.ConcurrentJobs)
}

func TestSubmissionRateLimit(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Create(&types.Quota{
		ID:        "q1",
		Namespace: "team-a",
		Policy:    types.QuotaPolicyEnforce,
		Limits:    types.QuotaLimits{MaxJobsPerHour: 3},
	}))

	for i := 0; i < 3; i++ {
		require.NoError(t, m.AdmitSubmission("team-a"))
	}
	err := m.AdmitSubmission("team-a")
	assert.True(t, errdefs.IsQuotaExceeded(err))

	q, err := m.Get("team-a")
	require.NoError(t, err)
	assert.Equal(t, 3, q.Usage.JobsThisHour)
}

func TestDispatchWindowLimitsRate(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Create(&types.Quota{
		ID:        "q1",
		Namespace: "team-a",
		Policy:    types.QuotaPolicyEnforce,
		Limits:    types.QuotaLimits{MaxJobsPerHour: 60},
	}))

	// 60 jobs/hour gives a one-job 60-second window, so the second
	// dispatch in quick succession is deferred.
	res := types.Resources{CPUCores: 1}
	require.NoError(t, m.AdmitDispatch("team-a", res))

	err := m.AdmitDispatch("team-a", res)
	require.True(t, errdefs.IsQuotaExceeded(err))
	assert.Contains(t, err.Error(), "dispatch window")
}

func TestDispatchWindowIgnoresReleases(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Create(&types.Quota{
		ID:        "q1",
		Namespace: "team-a",
		Policy:    types.QuotaPolicyEnforce,
		Limits:    types.QuotaLimits{MaxJobsPerHour: 60},
	}))

	res := types.Resources{CPUCores: 1}
	require.NoError(t, m.AdmitDispatch("team-a", res))
	m.ReleaseDispatch("team-a", res)

	// Finishing an execution returns concurrency headroom, not window
	// budget.
	err := m.AdmitDispatch("team-a", res)
	assert.True(t, errdefs.IsQuotaExceeded(err))
}

func TestCreateDuplicateNamespace(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Create(&types.Quota{ID: "q1", Namespace: "team-a"}))

	err := m.Create(&types.Quota{ID: "q2", Namespace: "team-a"})
	assert.True(t, errdefs.IsConflict(err))
}

func TestUpdateKeepsUsage(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Create(&types.Quota{
		ID:        "q1",
		Namespace: "team-a",
		Policy:    types.QuotaPolicyEnforce,
		Limits:    types.QuotaLimits{MaxConcurrentJobs: 1},
	}))
	require.NoError(t, m.AdmitDispatch("team-a", types.Resources{CPUCores: 1}))

	require.NoError(t, m.Update(&types.Quota{
		Namespace: "team-a",
		Policy:    types.QuotaPolicyEnforce,
		Limits:    types.QuotaLimits{MaxConcurrentJobs: 2},
	}))

	q, err := m.Get("team-a")
	require.NoError(t, err)
	assert.Equal(t, 1, q.Usage.ConcurrentJobs)
	require.NoError(t, m.AdmitDispatch("team-a", types.Resources{CPUCores: 1}))
}
