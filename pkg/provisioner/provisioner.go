package provisioner

import (
	"context"
	"fmt"
	"sort"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// WorkerSpec describes the worker instance a backend should bring up.
// The instance runs the agent, which connects back to ServerAddr and
// registers into PoolID.
type WorkerSpec struct {
	WorkerID   string
	Name       string
	PoolID     string
	ServerAddr string
	Image      string
	Resources  types.Resources
	Env        map[string]string
	Labels     map[string]string
}

// Instance is a backend's view of a provisioned worker.
type Instance struct {
	ID       string // backend-native identifier (container ID, pod name, PID)
	WorkerID string
	Running  bool
}

// Provisioner brings worker instances up and down on one backend.
type Provisioner interface {
	// Provision starts a worker instance and returns its backend ID.
	Provision(ctx context.Context, spec WorkerSpec) (string, error)
	// Terminate stops and removes a worker instance.
	Terminate(ctx context.Context, instanceID string) error
	// List returns the instances this backend runs for the pool.
	List(ctx context.Context, poolID string) ([]Instance, error)
}

// Factory builds the provisioner matching a pool's type. vm and
// bare_metal pools use the static backend: their workers are brought up
// out of band and only register themselves.
type Factory struct {
	docker     func() (Provisioner, error)
	kubernetes func() (Provisioner, error)
}

// NewFactory returns a factory with the default backends.
func NewFactory() *Factory {
	return &Factory{
		docker:     func() (Provisioner, error) { return NewDocker() },
		kubernetes: func() (Provisioner, error) { return NewKubernetes("") },
	}
}

// For returns the provisioner for the pool's type.
func (f *Factory) For(poolType types.PoolType) (Provisioner, error) {
	switch poolType {
	case types.PoolTypeDocker:
		return f.docker()
	case types.PoolTypeKubernetes:
		return f.kubernetes()
	case types.PoolTypeLocal:
		return NewLocal(), nil
	case types.PoolTypeVM, types.PoolTypeBareMetal:
		return NewStatic(), nil
	default:
		return nil, errdefs.Newf(errdefs.KindValidationFailed, "unknown pool type: %s", poolType)
	}
}

// agentEnv renders the environment the agent reads on startup, sorted
// for stable output.
func agentEnv(spec WorkerSpec) []string {
	env := map[string]string{
		"HODEI_SERVER_ADDR": spec.ServerAddr,
		"HODEI_WORKER_ID":   spec.WorkerID,
		"HODEI_WORKER_NAME": spec.Name,
		"HODEI_POOL_ID":     spec.PoolID,
	}
	for k, v := range spec.Env {
		env[k] = v
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(out)
	return out
}
