package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

type logCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *logCollector) log(stream types.LogStream, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := "out"
	if stream == types.LogStreamStderr {
		prefix = "err"
	}
	c.lines = append(c.lines, prefix+":"+line)
}

func (c *logCollector) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

func TestRunCommands(t *testing.T) {
	e := NewExecutor()
	c := &logCollector{}

	code, err := e.Run(context.Background(), RunRequest{
		ExecutionID: "exec-1",
		Commands:    []string{"echo hello", "echo world 1>&2"},
		WorkDir:     t.TempDir(),
	}, c.log)

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, c.all(), "out:hello")
	assert.Contains(t, c.all(), "err:world")
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	e := NewExecutor()
	c := &logCollector{}

	code, err := e.Run(context.Background(), RunRequest{
		Commands: []string{"echo first", "exit 3", "echo never"},
		WorkDir:  t.TempDir(),
	}, c.log)

	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Contains(t, c.all(), "out:first")
	assert.NotContains(t, c.all(), "out:never")
}

func TestRunScript(t *testing.T) {
	e := NewExecutor()
	c := &logCollector{}

	code, err := e.Run(context.Background(), RunRequest{
		Script:  "for i in 1 2 3; do echo line-$i; done",
		WorkDir: t.TempDir(),
	}, c.log)

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"out:line-1", "out:line-2", "out:line-3"}, c.all())
}

func TestRunEnvAndParameters(t *testing.T) {
	e := NewExecutor()
	c := &logCollector{}

	code, err := e.Run(context.Background(), RunRequest{
		ExecutionID: "exec-42",
		Commands:    []string{"echo $GREETING $HODEI_PARAM_TARGET $HODEI_EXECUTION_ID"},
		Env:         map[string]string{"GREETING": "hola"},
		Parameters:  map[string]string{"target": "mundo"},
		WorkDir:     t.TempDir(),
	}, c.log)

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"out:hola mundo exec-42"}, c.all())
}

func TestRunCancellation(t *testing.T) {
	e := NewExecutor()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := e.Run(ctx, RunRequest{
			Commands: []string{"sleep 30"},
			WorkDir:  t.TempDir(),
		}, nil)
		assert.ErrorIs(t, err, context.Canceled)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not stop the process")
	}
}
