package provisioner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/log"
)

// Local provisions workers as child processes of the server, running
// the server's own binary in agent mode. Intended for development and
// single-host setups.
type Local struct {
	mu        sync.Mutex
	processes map[string]*localProcess // keyed by PID string
}

type localProcess struct {
	cmd      *exec.Cmd
	workerID string
	poolID   string
	done     chan struct{}
}

// NewLocal creates a local process provisioner.
func NewLocal() *Local {
	return &Local{processes: make(map[string]*localProcess)}
}

func (l *Local) Provision(ctx context.Context, spec WorkerSpec) (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to resolve own binary: %w", err)
	}

	cmd := exec.Command(self, "agent",
		"--server", spec.ServerAddr,
		"--worker-id", spec.WorkerID,
		"--name", spec.Name,
		"--pool", spec.PoolID,
	)
	cmd.Env = append(os.Environ(), agentEnv(spec)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start local worker: %w", err)
	}

	proc := &localProcess{cmd: cmd, workerID: spec.WorkerID, poolID: spec.PoolID, done: make(chan struct{})}
	id := strconv.Itoa(cmd.Process.Pid)

	l.mu.Lock()
	l.processes[id] = proc
	l.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		close(proc.done)
		l.mu.Lock()
		delete(l.processes, id)
		l.mu.Unlock()
	}()

	logger := log.WithComponent("provisioner")
	logger.Info().
		Str("worker_id", spec.WorkerID).
		Int("pid", cmd.Process.Pid).
		Msg("local worker started")
	return id, nil
}

func (l *Local) Terminate(ctx context.Context, instanceID string) error {
	l.mu.Lock()
	proc, ok := l.processes[instanceID]
	l.mu.Unlock()
	if !ok {
		return errdefs.Newf(errdefs.KindNotFound, "no local worker with pid %s", instanceID)
	}

	// SIGTERM first; the agent drains and exits on its own.
	if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal local worker: %w", err)
	}
	select {
	case <-proc.done:
		return nil
	case <-ctx.Done():
		_ = proc.cmd.Process.Kill()
		return ctx.Err()
	}
}

func (l *Local) List(ctx context.Context, poolID string) ([]Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Instance
	for id, proc := range l.processes {
		if proc.poolID == poolID {
			out = append(out, Instance{ID: id, WorkerID: proc.workerID, Running: true})
		}
	}
	return out, nil
}
