package registry

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

func newTestRegistry(t *testing.T, cfg Config) (*Registry, *events.Broker) {
	t.Helper()

	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker(0)
	broker.Start()
	t.Cleanup(broker.Stop)

	return New(store, broker, cfg), broker
}

func testResources() types.Resources {
	return types.Resources{CPUCores: 4, MemoryMB: 8192, DiskGB: 100}
}

func TestRegisterIssuesSessionToken(t *testing.T) {
	reg, _ := newTestRegistry(t, Config{})

	res, err := reg.Register("worker-1", "node-a", "pool-1", map[string]string{"os": "linux"}, testResources())
	require.NoError(t, err)
	assert.Len(t, res.SessionToken, 64)
	assert.Equal(t, types.DefaultHeartbeatInterval, res.HeartbeatInterval)

	worker, err := reg.Get("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusIdle, worker.Status)
	assert.Equal(t, "pool-1", worker.PoolID)
}

func TestReRegisterRotatesToken(t *testing.T) {
	reg, _ := newTestRegistry(t, Config{})

	first, err := reg.Register("worker-1", "node-a", "pool-1", nil, testResources())
	require.NoError(t, err)
	second, err := reg.Register("worker-1", "node-a", "pool-1", nil, testResources())
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionToken, second.SessionToken)

	// The old token is no longer honored.
	err = reg.Heartbeat("worker-1", first.SessionToken, nil)
	assert.True(t, errdefs.IsInvalidSession(err))
	require.NoError(t, reg.Heartbeat("worker-1", second.SessionToken, nil))
}

func TestRegisterAdmissionRejected(t *testing.T) {
	reg, _ := newTestRegistry(t, Config{
		Admission: func(poolID string) error {
			return errdefs.Newf(errdefs.KindCapacityExhausted, "pool %s is full", poolID)
		},
	})

	_, err := reg.Register("worker-1", "node-a", "pool-1", nil, testResources())
	assert.Equal(t, errdefs.KindRegistrationRejected, errdefs.KindOf(err))
}

func TestHeartbeatInvalidSessionMarksError(t *testing.T) {
	reg, _ := newTestRegistry(t, Config{})

	_, err := reg.Register("worker-1", "node-a", "pool-1", nil, testResources())
	require.NoError(t, err)

	err = reg.Heartbeat("worker-1", "bogus", nil)
	assert.True(t, errdefs.IsInvalidSession(err))

	worker, err := reg.Get("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusError, worker.Status)
}

func TestHeartbeatRecoversErroredWorker(t *testing.T) {
	reg, _ := newTestRegistry(t, Config{})

	res, err := reg.Register("worker-1", "node-a", "pool-1", nil, testResources())
	require.NoError(t, err)

	reg.MarkError("worker-1", "test")
	require.NoError(t, reg.Heartbeat("worker-1", res.SessionToken, nil))

	worker, err := reg.Get("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusIdle, worker.Status)
}

func TestSweepExpiresSilentWorkers(t *testing.T) {
	var expired []string
	reg, broker := newTestRegistry(t, Config{
		HeartbeatInterval: time.Second,
		OnExpired:         func(w *types.Worker) { expired = append(expired, w.ID) },
	})

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	_, err := reg.Register("worker-1", "node-a", "pool-1", nil, testResources())
	require.NoError(t, err)
	_, err = reg.Register("worker-2", "node-b", "pool-1", nil, testResources())
	require.NoError(t, err)

	// Both workers go silent past three intervals.
	got := reg.Sweep(time.Now().Add(4 * time.Second))
	require.Len(t, got, 2)

	_, err = reg.Register("worker-1", "node-a", "pool-1", nil, testResources())
	require.NoError(t, err)
	got = reg.Sweep(time.Now().Add(time.Second))
	assert.Empty(t, got)

	assert.Contains(t, expired, "worker-2")

	worker, err := reg.Get("worker-2")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusError, worker.Status)
}

func TestMarkBusyRequiresIdle(t *testing.T) {
	reg, _ := newTestRegistry(t, Config{})

	_, err := reg.Register("worker-1", "node-a", "pool-1", nil, testResources())
	require.NoError(t, err)

	require.NoError(t, reg.MarkBusy("worker-1", "exec-1"))
	err = reg.MarkBusy("worker-1", "exec-2")
	assert.True(t, errdefs.IsConflict(err))

	require.NoError(t, reg.MarkIdle("worker-1"))
	require.NoError(t, reg.MarkBusy("worker-1", "exec-2"))
}

func TestUnregisterInvalidatesSession(t *testing.T) {
	reg, _ := newTestRegistry(t, Config{})

	res, err := reg.Register("worker-1", "node-a", "pool-1", nil, testResources())
	require.NoError(t, err)
	require.NoError(t, reg.Unregister("worker-1"))

	err = reg.Heartbeat("worker-1", res.SessionToken, nil)
	assert.True(t, errdefs.IsInvalidSession(err))

	worker, err := reg.Get("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusTerminated, worker.Status)
}

func TestListByPool(t *testing.T) {
	reg, _ := newTestRegistry(t, Config{})

	for _, w := range []struct{ id, pool string }{
		{"worker-1", "pool-a"}, {"worker-2", "pool-a"}, {"worker-3", "pool-b"},
	} {
		_, err := reg.Register(w.id, w.id, w.pool, nil, testResources())
		require.NoError(t, err)
	}

	assert.Len(t, reg.ListByPool("pool-a"), 2)
	assert.Len(t, reg.ListByPool("pool-b"), 1)
	assert.Len(t, reg.List(), 3)
}
