package provisioner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

func TestAgentEnv(t *testing.T) {
	env := agentEnv(WorkerSpec{
		WorkerID:   "w-1",
		Name:       "node-a",
		PoolID:     "pool-1",
		ServerAddr: "orchestrator:7233",
		Env:        map[string]string{"EXTRA": "1"},
	})

	assert.Contains(t, env, "HODEI_SERVER_ADDR=orchestrator:7233")
	assert.Contains(t, env, "HODEI_WORKER_ID=w-1")
	assert.Contains(t, env, "HODEI_POOL_ID=pool-1")
	assert.Contains(t, env, "EXTRA=1")
	assert.IsIncreasing(t, env)
}

func TestFactoryStaticTypes(t *testing.T) {
	f := NewFactory()

	for _, pt := range []types.PoolType{types.PoolTypeVM, types.PoolTypeBareMetal} {
		p, err := f.For(pt)
		require.NoError(t, err)
		_, ok := p.(*Static)
		assert.True(t, ok, "pool type %s should use the static backend", pt)
	}

	p, err := f.For(types.PoolTypeLocal)
	require.NoError(t, err)
	_, ok := p.(*Local)
	assert.True(t, ok)

	_, err = f.For(types.PoolType("floppy"))
	assert.True(t, errdefs.IsValidation(err))
}

func TestStaticRejectsProvisioning(t *testing.T) {
	s := NewStatic()

	_, err := s.Provision(context.Background(), WorkerSpec{WorkerID: "w-1"})
	assert.True(t, errdefs.IsValidation(err))
	assert.True(t, errdefs.IsValidation(s.Terminate(context.Background(), "x")))

	instances, err := s.List(context.Background(), "pool-1")
	require.NoError(t, err)
	assert.Empty(t, instances)
}
