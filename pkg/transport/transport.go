package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rubentxu/hodei-pipelines/pkg/artifact"
	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/lifecycle"
	"github.com/Rubentxu/hodei-pipelines/pkg/log"
	"github.com/Rubentxu/hodei-pipelines/pkg/registry"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
	"github.com/Rubentxu/hodei-pipelines/pkg/wire"
)

// registerWindow is how long a fresh connection has to send its
// Register frame before the server hangs up.
const registerWindow = 10 * time.Second

// Config tunes the server. Zero values take the defaults.
type Config struct {
	Addr             string
	ChunkBytes       int
	Compression      types.Compression
	TransferTimeout  time.Duration
	TransferAttempts int
	SendBuffer       int
}

// Server owns the worker-facing TCP listener. Each worker holds one
// connection carrying registration, dispatch, artifact transfer,
// heartbeats, status updates and log streaming.
type Server struct {
	cfg       Config
	registry  *registry.Registry
	lifecycle *lifecycle.Manager
	cache     *artifact.Cache
	logger    zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	sessions map[string]*session
	closed   bool
}

// NewServer wires the transport. Start begins accepting connections.
func NewServer(cfg Config, reg *registry.Registry, lm *lifecycle.Manager, cache *artifact.Cache) *Server {
	cfg.ChunkBytes = types.ClampChunkSize(cfg.ChunkBytes)
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = types.DefaultArtifactTransferTimeout
	}
	if cfg.TransferAttempts <= 0 {
		cfg.TransferAttempts = types.DefaultArtifactTransferAttempts
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = types.DefaultSendBufferMessages
	}
	return &Server{
		cfg:       cfg,
		registry:  reg,
		lifecycle: lm,
		cache:     cache,
		logger:    log.WithComponent("transport"),
		sessions:  make(map[string]*session),
	}
}

// Start binds the listener and serves connections until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("worker transport listening")
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and tells every worker to shut down.
func (s *Server) Stop() {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, sess := range sessions {
		sess.trySend(&wire.Shutdown{Reason: "server shutting down"})
		sess.close()
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error().Err(err).Msg("accept failed")
			continue
		}
		go s.handleConn(conn)
	}
}

// handleConn performs the registration handshake and, on success, runs
// the session until the connection drops.
func (s *Server) handleConn(conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(registerWindow))
	msg, err := wire.ReadMessage(conn)
	if err != nil {
		_ = conn.Close()
		return
	}
	reg, ok := msg.(*wire.Register)
	if !ok {
		s.logger.Warn().Str("tag", msg.Tag().String()).Msg("first frame was not a registration")
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	result, err := s.registry.Register(reg.WorkerID, reg.Name, reg.PoolID, reg.Capabilities,
		types.Resources{CPUCores: reg.CPUCores, MemoryMB: reg.MemoryMB, DiskGB: reg.DiskGB})
	if err != nil {
		_ = wire.WriteMessage(conn, &wire.RegisterAck{Success: false, Message: err.Error()})
		_ = conn.Close()
		return
	}

	sess := newSession(reg.WorkerID, conn, s.cfg.SendBuffer)
	s.mu.Lock()
	old, replaced := s.sessions[reg.WorkerID]
	s.sessions[reg.WorkerID] = sess
	s.mu.Unlock()
	if replaced {
		// Re-registration invalidates the old session: close its
		// connection and fail anything dispatched under the stale
		// token instead of letting it ride out the dispatch window.
		old.close()
		s.lifecycle.WorkerLost(reg.WorkerID)
	}

	if err := wire.WriteMessage(conn, &wire.RegisterAck{
		Success:                  true,
		SessionToken:             result.SessionToken,
		HeartbeatIntervalSeconds: uint32(result.HeartbeatInterval / time.Second),
	}); err != nil {
		s.dropSession(sess, "handshake write failed")
		return
	}

	s.logger.Info().
		Str("worker_id", reg.WorkerID).
		Str("pool_id", reg.PoolID).
		Str("remote", conn.RemoteAddr().String()).
		Msg("worker registered")

	go sess.writeLoop()
	s.readLoop(sess)
}

// readLoop routes inbound frames until the connection drops.
func (s *Server) readLoop(sess *session) {
	for {
		msg, err := wire.ReadMessage(sess.conn)
		if err != nil {
			if !sess.isClosed() && !errors.Is(err, io.EOF) {
				s.logger.Warn().Err(err).Str("worker_id", sess.workerID).Msg("connection read failed")
			}
			s.dropSession(sess, "connection lost")
			return
		}

		switch m := msg.(type) {
		case *wire.Heartbeat:
			if err := s.registry.Heartbeat(m.WorkerID, m.SessionToken, m.ActiveExecutionIDs); err != nil {
				s.logger.Warn().Err(err).Str("worker_id", m.WorkerID).Msg("heartbeat rejected")
				if errdefs.IsInvalidSession(err) {
					s.dropSession(sess, "invalid session")
					return
				}
			}
		case *wire.StatusUpdate:
			status := wire.StatusFromWire(m.Status)
			if err := s.lifecycle.HandleStatus(m.ExecutionID, status, int(m.ExitCode), m.Message); err != nil {
				s.logger.Warn().Err(err).Str("execution_id", m.ExecutionID).Msg("status update rejected")
			}
		case *wire.LogChunk:
			s.lifecycle.AppendLog(types.LogEntry{
				ExecutionID: m.ExecutionID,
				Stream:      types.LogStream(m.Stream),
				Timestamp:   m.Timestamp,
				Line:        string(m.Data),
			})
		case *wire.ArtifactAck:
			sess.resolve(ackKey(m.ArtifactID), m)
		case *wire.CacheResponse:
			sess.resolve(cacheKey(m.JobID), m)
		default:
			s.logger.Warn().Str("tag", msg.Tag().String()).Str("worker_id", sess.workerID).
				Msg("unexpected frame from worker")
		}
	}
}

// dropSession tears the session down and fails its executions.
func (s *Server) dropSession(sess *session, reason string) {
	s.mu.Lock()
	current, ok := s.sessions[sess.workerID]
	if ok && current == sess {
		delete(s.sessions, sess.workerID)
	}
	closed := s.closed
	s.mu.Unlock()

	sess.close()
	if ok && current == sess && !closed {
		s.registry.MarkError(sess.workerID, reason)
		s.lifecycle.WorkerLost(sess.workerID)
	}
}

func (s *Server) session(workerID string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[workerID]
	if !ok {
		return nil, errdefs.Newf(errdefs.KindWorkerDisconnected, "no connection to worker %s", workerID)
	}
	return sess, nil
}

// ConnectedWorkers returns the IDs of workers with a live session.
func (s *Server) ConnectedWorkers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	return out
}

// CancelExecution sends a cancel to the worker running the execution.
// Implements the lifecycle's WorkerControl.
func (s *Server) CancelExecution(workerID, executionID string, force bool, reason string) error {
	sess, err := s.session(workerID)
	if err != nil {
		return err
	}
	if !sess.trySend(&wire.CancelJob{ExecutionID: executionID, Force: force, Reason: reason}) {
		return errdefs.Newf(errdefs.KindWorkerDisconnected, "send buffer full for worker %s", workerID)
	}
	return nil
}

// ShutdownWorker asks a worker to drain and exit.
func (s *Server) ShutdownWorker(workerID, reason string) error {
	sess, err := s.session(workerID)
	if err != nil {
		return err
	}
	sess.trySend(&wire.Shutdown{Reason: reason})
	return nil
}
