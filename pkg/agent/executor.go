package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// RunRequest is the work an executor performs: either a command list
// run one process at a time, or a script piped to the shell.
type RunRequest struct {
	ExecutionID string
	Commands    []string
	Script      string
	Env         map[string]string
	Parameters  map[string]string
	WorkDir     string
}

// LogFunc receives one output line as it is produced.
type LogFunc func(stream types.LogStream, line string)

// Executor runs job payloads in local shell processes.
type Executor struct {
	shell string
}

// NewExecutor creates an executor using /bin/sh.
func NewExecutor() *Executor {
	return &Executor{shell: "/bin/sh"}
}

// Run executes the request and returns the final exit code. The context
// cancels the running process; cancellation surfaces as ctx.Err.
// Commands run sequentially and stop at the first failure.
func (e *Executor) Run(ctx context.Context, req RunRequest, onLog LogFunc) (int, error) {
	env := buildEnv(req)

	if req.Script != "" {
		return e.runProcess(ctx, req.WorkDir, env, strings.NewReader(req.Script), onLog, e.shell, "-s")
	}

	for _, command := range req.Commands {
		code, err := e.runProcess(ctx, req.WorkDir, env, nil, onLog, e.shell, "-c", command)
		if err != nil || code != 0 {
			return code, err
		}
	}
	return 0, nil
}

func (e *Executor) runProcess(ctx context.Context, dir string, env []string, stdin io.Reader, onLog LogFunc, name string, args ...string) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdin = stdin

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to start process: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, types.LogStreamStdout, onLog)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, types.LogStreamStderr, onLog)
	}()
	wg.Wait()

	err = cmd.Wait()
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

func scanLines(r io.Reader, stream types.LogStream, onLog LogFunc) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if onLog != nil {
			onLog(stream, scanner.Text())
		}
	}
}

// buildEnv layers the job env and parameters over the process
// environment. Parameters arrive as HODEI_PARAM_<NAME>.
func buildEnv(req RunRequest) []string {
	env := os.Environ()
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}
	for k, v := range req.Parameters {
		env = append(env, "HODEI_PARAM_"+strings.ToUpper(k)+"="+v)
	}
	env = append(env, "HODEI_EXECUTION_ID="+req.ExecutionID)
	return env
}
