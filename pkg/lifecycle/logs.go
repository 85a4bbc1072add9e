package lifecycle

import (
	"sync"
	"time"

	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// maxLogEntries bounds each execution's in-memory log buffer. Older
// entries fall off the front; followers that missed them observe a
// Lagged marker.
const maxLogEntries = 10000

// LogItem is one delivery on a log stream.
type LogItem struct {
	Entry  types.LogEntry
	Lagged bool
}

// LogSubscription is a live log stream for one execution. Buffered
// entries replay first, then entries arrive as workers stream them.
type LogSubscription struct {
	ch     chan LogItem
	done   chan struct{}
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []types.LogEntry
	lagged bool
	closed bool
	drop   func()
}

// C is the delivery channel. It closes when the execution's buffer is
// released or the subscription is cancelled.
func (s *LogSubscription) C() <-chan LogItem { return s.ch }

// Cancel stops the stream. Idempotent.
func (s *LogSubscription) Cancel() {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return
	default:
	}
	s.closed = true
	close(s.done)
	s.cond.Signal()
	s.mu.Unlock()
	if s.drop != nil {
		s.drop()
	}
}

func (s *LogSubscription) push(e types.LogEntry) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= maxLogEntries {
		s.queue = s.queue[1:]
		s.lagged = true
	}
	s.queue = append(s.queue, e)
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *LogSubscription) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed && len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		lagged := s.lagged
		s.lagged = false
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if lagged {
			select {
			case s.ch <- LogItem{Lagged: true}:
			case <-s.done:
				return
			}
		}
		select {
		case s.ch <- LogItem{Entry: next}:
		case <-s.done:
			return
		}
	}
}

// logBuffer holds one execution's log ring plus its followers.
type logBuffer struct {
	entries    []types.LogEntry
	dropped    bool
	subs       []*LogSubscription
	finishedAt time.Time // zero while the execution is live
}

// logStore keeps per-execution log buffers. Buffers of finished
// executions are retained for the configured duration and then pruned.
type logStore struct {
	mu        sync.Mutex
	buffers   map[string]*logBuffer
	retention time.Duration
}

func newLogStore(retention time.Duration) *logStore {
	return &logStore{
		buffers:   make(map[string]*logBuffer),
		retention: retention,
	}
}

func (ls *logStore) open(executionID string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if _, ok := ls.buffers[executionID]; !ok {
		ls.buffers[executionID] = &logBuffer{}
	}
}

func (ls *logStore) append(entry types.LogEntry) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	buf, ok := ls.buffers[entry.ExecutionID]
	if !ok {
		return
	}
	if len(buf.entries) >= maxLogEntries {
		buf.entries = buf.entries[1:]
		buf.dropped = true
	}
	buf.entries = append(buf.entries, entry)
	for _, sub := range buf.subs {
		sub.push(entry)
	}
}

func (ls *logStore) entries(executionID string) []types.LogEntry {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	buf, ok := ls.buffers[executionID]
	if !ok {
		return nil
	}
	out := make([]types.LogEntry, len(buf.entries))
	copy(out, buf.entries)
	return out
}

// subscribe replays the buffer and follows new entries. When the
// execution already finished, the stream ends after the replay.
func (ls *logStore) subscribe(executionID string) *LogSubscription {
	sub := &LogSubscription{
		ch:   make(chan LogItem),
		done: make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)

	ls.mu.Lock()
	buf, ok := ls.buffers[executionID]
	if !ok {
		ls.mu.Unlock()
		sub.closed = true
		close(sub.done)
		close(sub.ch)
		return sub
	}
	sub.lagged = buf.dropped
	sub.queue = append(sub.queue, buf.entries...)
	finished := !buf.finishedAt.IsZero()
	if !finished {
		buf.subs = append(buf.subs, sub)
		sub.drop = func() { ls.dropSub(executionID, sub) }
	} else {
		// Nothing more will arrive; the pump drains the replay and ends.
		sub.closed = true
	}
	ls.mu.Unlock()

	go sub.pump()
	return sub
}

func (ls *logStore) dropSub(executionID string, target *LogSubscription) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	buf, ok := ls.buffers[executionID]
	if !ok {
		return
	}
	for i, s := range buf.subs {
		if s == target {
			buf.subs = append(buf.subs[:i], buf.subs[i+1:]...)
			return
		}
	}
}

// finish marks the execution's buffer complete, ending live followers
// after they drain.
func (ls *logStore) finish(executionID string) {
	ls.mu.Lock()
	buf, ok := ls.buffers[executionID]
	if !ok {
		ls.mu.Unlock()
		return
	}
	buf.finishedAt = time.Now()
	subs := buf.subs
	buf.subs = nil
	ls.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		sub.closed = true
		sub.cond.Signal()
		sub.mu.Unlock()
	}
	ls.prune()
}

// prune drops buffers whose retention elapsed.
func (ls *logStore) prune() {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	cutoff := time.Now().Add(-ls.retention)
	for id, buf := range ls.buffers {
		if !buf.finishedAt.IsZero() && buf.finishedAt.Before(cutoff) {
			delete(ls.buffers, id)
		}
	}
}
