package agent

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rubentxu/hodei-pipelines/pkg/artifact"
	"github.com/Rubentxu/hodei-pipelines/pkg/log"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
	"github.com/Rubentxu/hodei-pipelines/pkg/wire"
)

// reconnectBase is the initial backoff between connection attempts; it
// doubles up to reconnectMax.
const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// Config identifies the worker and where it connects.
type Config struct {
	ServerAddr   string
	WorkerID     string
	Name         string
	PoolID       string
	Capabilities map[string]string
	Resources    types.Resources
	CacheDir     string
	WorkDir      string
}

// Agent is the worker-side process: it keeps one connection to the
// orchestrator, executes dispatched jobs in local shell processes, and
// streams logs and status back.
type Agent struct {
	cfg      Config
	executor *Executor
	cache    *artifact.Cache
	logger   zerolog.Logger

	mu         sync.Mutex
	conn       net.Conn
	sendCh     chan wire.Message
	token      string
	interval   time.Duration
	active     map[string]context.CancelFunc // running executions
	assemblers map[string]*artifact.Assembler
	draining   bool
}

// New creates an agent. Defaults fill in missing identity fields.
func New(cfg Config) (*Agent, error) {
	if cfg.WorkerID == "" {
		host, _ := os.Hostname()
		cfg.WorkerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if cfg.Name == "" {
		cfg.Name = cfg.WorkerID
	}
	if cfg.Resources.CPUCores == 0 {
		cfg.Resources.CPUCores = float64(runtime.NumCPU())
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(os.TempDir(), "hodei-agent-cache")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "hodei-agent-work")
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	cache, err := artifact.NewCache(cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	return &Agent{
		cfg:        cfg,
		executor:   NewExecutor(),
		cache:      cache,
		logger:     log.WithComponent("agent"),
		active:     make(map[string]context.CancelFunc),
		assemblers: make(map[string]*artifact.Assembler),
	}, nil
}

// Run connects and serves until the context is cancelled, reconnecting
// with backoff when the connection drops.
func (a *Agent) Run(ctx context.Context) error {
	backoff := reconnectBase
	for {
		err := a.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.mu.Lock()
		draining := a.draining
		a.mu.Unlock()
		if draining {
			return err
		}
		a.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("connection lost, reconnecting")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		if backoff *= 2; backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// runOnce performs one connect-register-serve cycle.
func (a *Agent) runOnce(ctx context.Context) error {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", a.cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", a.cfg.ServerAddr, err)
	}
	defer conn.Close()

	if err := wire.WriteMessage(conn, &wire.Register{
		WorkerID:     a.cfg.WorkerID,
		Name:         a.cfg.Name,
		PoolID:       a.cfg.PoolID,
		Capabilities: a.cfg.Capabilities,
		CPUCores:     a.cfg.Resources.CPUCores,
		MemoryMB:     a.cfg.Resources.MemoryMB,
		DiskGB:       a.cfg.Resources.DiskGB,
	}); err != nil {
		return fmt.Errorf("failed to send registration: %w", err)
	}

	msg, err := wire.ReadMessage(conn)
	if err != nil {
		return fmt.Errorf("failed to read registration ack: %w", err)
	}
	ack, ok := msg.(*wire.RegisterAck)
	if !ok {
		return fmt.Errorf("expected registration ack, got %s", msg.Tag())
	}
	if !ack.Success {
		return fmt.Errorf("registration rejected: %s", ack.Message)
	}

	a.mu.Lock()
	a.conn = conn
	a.sendCh = make(chan wire.Message, types.DefaultSendBufferMessages)
	a.token = ack.SessionToken
	a.interval = time.Duration(ack.HeartbeatIntervalSeconds) * time.Second
	if a.interval <= 0 {
		a.interval = types.DefaultHeartbeatInterval
	}
	sendCh := a.sendCh
	a.mu.Unlock()

	a.logger.Info().
		Str("worker_id", a.cfg.WorkerID).
		Str("server", a.cfg.ServerAddr).
		Dur("heartbeat_interval", a.interval).
		Msg("registered with orchestrator")

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.writeLoop(sessionCtx, conn, sendCh)
	go a.heartbeatLoop(sessionCtx)

	return a.readLoop(sessionCtx, conn, cancel)
}

func (a *Agent) writeLoop(ctx context.Context, conn net.Conn, sendCh chan wire.Message) {
	for {
		select {
		case msg := <-sendCh:
			if err := wire.WriteMessage(conn, msg); err != nil {
				_ = conn.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) send(msg wire.Message) {
	a.mu.Lock()
	ch := a.sendCh
	a.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- msg:
	default:
		a.logger.Warn().Str("tag", msg.Tag().String()).Msg("send buffer full, frame dropped")
	}
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.mu.Lock()
			executions := make([]string, 0, len(a.active))
			for id := range a.active {
				executions = append(executions, id)
			}
			busy := uint8(0)
			if len(executions) > 0 {
				busy = 1
			}
			token := a.token
			a.mu.Unlock()

			a.send(&wire.Heartbeat{
				WorkerID:           a.cfg.WorkerID,
				SessionToken:       token,
				Status:             busy,
				ActiveExecutionIDs: executions,
				Timestamp:          time.Now(),
			})
		case <-ctx.Done():
			return
		}
	}
}

// readLoop routes server frames until the connection drops or the
// server orders a shutdown.
func (a *Agent) readLoop(ctx context.Context, conn net.Conn, cancel context.CancelFunc) error {
	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			cancel()
			return fmt.Errorf("connection read failed: %w", err)
		}

		switch m := msg.(type) {
		case *wire.JobRequest:
			go a.runJob(ctx, m)
		case *wire.CacheQuery:
			a.handleCacheQuery(m)
		case *wire.ArtifactChunk:
			a.handleChunk(m)
		case *wire.CancelJob:
			a.handleCancel(m)
		case *wire.Shutdown:
			a.logger.Info().Str("reason", m.Reason).Msg("shutdown requested")
			a.mu.Lock()
			a.draining = true
			for _, cancelExec := range a.active {
				cancelExec()
			}
			a.mu.Unlock()
			cancel()
			return nil
		default:
			a.logger.Warn().Str("tag", msg.Tag().String()).Msg("unexpected frame from server")
		}
	}
}

// handleCacheQuery reports which of the job's inputs are already in the
// local cache.
func (a *Agent) handleCacheQuery(q *wire.CacheQuery) {
	has := a.cache.Has(q.ArtifactIDs)
	entries := make([]wire.CacheEntry, 0, len(q.ArtifactIDs))
	for _, id := range q.ArtifactIDs {
		entries = append(entries, wire.CacheEntry{ArtifactID: id, Cached: has[id]})
	}
	a.send(&wire.CacheResponse{JobID: q.JobID, Entries: entries})
}

// handleChunk feeds one transfer chunk into its assembler and commits
// the artifact on the final chunk.
func (a *Agent) handleChunk(c *wire.ArtifactChunk) {
	a.mu.Lock()
	asm, ok := a.assemblers[c.ArtifactID]
	if !ok {
		asm = artifact.NewAssembler(c.ArtifactID)
		a.assemblers[c.ArtifactID] = asm
	}
	a.mu.Unlock()

	done, err := asm.Add(artifact.Chunk{
		ArtifactID:   c.ArtifactID,
		Seq:          c.Seq,
		Data:         c.Data,
		Last:         c.Last,
		Compression:  types.Compression(c.Compression),
		OriginalSize: c.OriginalSize,
	})
	if err != nil {
		a.dropAssembler(c.ArtifactID)
		a.send(&wire.ArtifactAck{ArtifactID: c.ArtifactID, Success: false, Message: err.Error()})
		return
	}
	if !done {
		return
	}

	a.dropAssembler(c.ArtifactID)
	data, err := asm.Bytes()
	if err != nil {
		a.send(&wire.ArtifactAck{ArtifactID: c.ArtifactID, Success: false, Message: err.Error()})
		return
	}
	if _, err := a.cache.Put(data); err != nil {
		a.send(&wire.ArtifactAck{ArtifactID: c.ArtifactID, Success: false, Message: err.Error()})
		return
	}
	a.send(&wire.ArtifactAck{ArtifactID: c.ArtifactID, Success: true})
}

func (a *Agent) dropAssembler(artifactID string) {
	a.mu.Lock()
	delete(a.assemblers, artifactID)
	a.mu.Unlock()
}

func (a *Agent) handleCancel(c *wire.CancelJob) {
	a.mu.Lock()
	cancelExec, ok := a.active[c.ExecutionID]
	a.mu.Unlock()
	if !ok {
		return
	}
	a.logger.Info().
		Str("execution_id", c.ExecutionID).
		Bool("force", c.Force).
		Str("reason", c.Reason).
		Msg("cancelling execution")
	cancelExec()
}

// runJob materializes the workspace and executes the payload, streaming
// status and logs as it goes.
func (a *Agent) runJob(ctx context.Context, req *wire.JobRequest) {
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if req.TimeoutSeconds > 0 {
		execCtx, cancel = context.WithTimeout(execCtx, time.Duration(req.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	a.mu.Lock()
	a.active[req.ExecutionID] = cancel
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.active, req.ExecutionID)
		a.mu.Unlock()
	}()

	workDir, err := a.materialize(req)
	if err != nil {
		a.sendStatus(req.ExecutionID, wire.StatusFailed, -1, err.Error())
		return
	}
	defer os.RemoveAll(workDir)

	a.sendStatus(req.ExecutionID, wire.StatusRunning, 0, "")

	code, err := a.executor.Run(execCtx, RunRequest{
		ExecutionID: req.ExecutionID,
		Commands:    req.Commands,
		Script:      req.Script,
		Env:         req.Env,
		Parameters:  req.Parameters,
		WorkDir:     workDir,
	}, func(stream types.LogStream, line string) {
		a.send(&wire.LogChunk{
			ExecutionID: req.ExecutionID,
			Stream:      uint8(stream),
			Data:        []byte(line + "\n"),
			Timestamp:   time.Now(),
		})
	})

	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		a.sendStatus(req.ExecutionID, wire.StatusFailed, -1, "execution timed out")
	case execCtx.Err() == context.Canceled:
		a.sendStatus(req.ExecutionID, wire.StatusCancelled, -1, "execution cancelled")
	case err != nil:
		a.sendStatus(req.ExecutionID, wire.StatusFailed, -1, err.Error())
	case code != 0:
		a.sendStatus(req.ExecutionID, wire.StatusFailed, int32(code), fmt.Sprintf("exit code %d", code))
	default:
		a.sendStatus(req.ExecutionID, wire.StatusSuccess, 0, "")
	}
}

// materialize creates the execution workspace and copies cached inputs
// into it, named by their content hash.
func (a *Agent) materialize(req *wire.JobRequest) (string, error) {
	workDir := filepath.Join(a.cfg.WorkDir, req.ExecutionID)
	inputDir := filepath.Join(workDir, "inputs")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	for _, id := range req.ArtifactIDs {
		data, err := a.cache.Get(id)
		if err != nil {
			return "", fmt.Errorf("input artifact missing from cache: %w", err)
		}
		if err := os.WriteFile(filepath.Join(inputDir, id), data, 0o644); err != nil {
			return "", fmt.Errorf("failed to write input artifact: %w", err)
		}
	}
	return workDir, nil
}

func (a *Agent) sendStatus(executionID string, status uint8, exitCode int32, message string) {
	a.send(&wire.StatusUpdate{
		ExecutionID: executionID,
		Status:      status,
		ExitCode:    exitCode,
		Message:     message,
		Timestamp:   time.Now(),
	})
}
