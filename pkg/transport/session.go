package transport

import (
	"net"
	"sync"

	"github.com/Rubentxu/hodei-pipelines/pkg/wire"
)

// session is one worker's connection. Outbound frames funnel through a
// bounded send buffer drained by a single writer goroutine, so dispatch,
// artifact transfer and cancels never interleave partial frames.
type session struct {
	workerID string
	conn     net.Conn
	sendCh   chan wire.Message
	done     chan struct{}

	mu      sync.Mutex
	pending map[string]chan wire.Message
	closed  bool
}

func newSession(workerID string, conn net.Conn, sendBuffer int) *session {
	return &session{
		workerID: workerID,
		conn:     conn,
		sendCh:   make(chan wire.Message, sendBuffer),
		done:     make(chan struct{}),
		pending:  make(map[string]chan wire.Message),
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case msg := <-s.sendCh:
			if err := wire.WriteMessage(s.conn, msg); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// trySend enqueues a frame without blocking. False means the buffer is
// full or the session is gone; the caller decides whether that kills
// the session.
func (s *session) trySend(msg wire.Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.sendCh <- msg:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// send enqueues a frame, blocking until there is room or the session
// dies.
func (s *session) send(msg wire.Message) bool {
	select {
	case s.sendCh <- msg:
		return true
	case <-s.done:
		return false
	}
}

// expect registers interest in a reply frame under key. The returned
// channel receives exactly one message; forget must be called when the
// wait is abandoned.
func (s *session) expect(key string) chan wire.Message {
	ch := make(chan wire.Message, 1)
	s.mu.Lock()
	s.pending[key] = ch
	s.mu.Unlock()
	return ch
}

func (s *session) forget(key string) {
	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()
}

// resolve delivers a reply to whoever is waiting on key. Unclaimed
// replies are dropped.
func (s *session) resolve(key string, msg wire.Message) {
	s.mu.Lock()
	ch, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.mu.Unlock()
	if ok {
		ch <- msg
	}
}

func (s *session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	_ = s.conn.Close()
}

func ackKey(artifactID string) string { return "ack:" + artifactID }
func cacheKey(jobID string) string    { return "cache:" + jobID }
