package events

import (
	"sync"
	"time"

	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// maxPending bounds the per-subscription queue. A subscriber that falls
// further behind loses the oldest entries and observes a Lagged marker.
const maxPending = 1024

// StreamItem is one delivery on an execution event stream. When Lagged
// is set the subscriber missed entries and resumes from the next
// available one; Event is nil on a pure lag marker.
type StreamItem struct {
	Event  *types.Event
	Lagged bool
}

// ExecutionSubscription is an ordered, replayable stream of one
// execution's events. Replayed history is delivered first, then live
// events in publish order.
type ExecutionSubscription struct {
	ch     chan StreamItem
	done   chan struct{}
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*types.Event
	lagged bool
	closed bool
	drop   func()
}

// SubscribeExecution opens an execution event stream replaying retained
// history from the given timestamp before delivering live events. Two
// subscriptions opened at the same instant observe identical sequences.
func (b *Broker) SubscribeExecution(executionID string, from time.Time) *ExecutionSubscription {
	sub := &ExecutionSubscription{
		ch:   make(chan StreamItem),
		done: make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)

	b.mu.Lock()
	// Snapshot history and register under one critical section so no
	// event is missed or duplicated between replay and live delivery.
	for _, e := range b.history[executionID] {
		if !e.Timestamp.Before(from) {
			sub.queue = append(sub.queue, e)
		}
	}
	b.execSubs[executionID] = append(b.execSubs[executionID], sub)
	b.mu.Unlock()

	sub.drop = func() { b.dropExecutionSub(executionID, sub) }
	go sub.pump()
	return sub
}

func (b *Broker) dropExecutionSub(executionID string, target *ExecutionSubscription) {
	b.mu.Lock()
	subs := b.execSubs[executionID]
	for i, s := range subs {
		if s == target {
			b.execSubs[executionID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.execSubs[executionID]) == 0 {
		delete(b.execSubs, executionID)
	}
	b.mu.Unlock()
}

// C is the delivery channel. It is closed after Cancel.
func (s *ExecutionSubscription) C() <-chan StreamItem { return s.ch }

// Cancel stops delivery and closes the channel. Safe to call more than
// once; other subscriptions are unaffected.
func (s *ExecutionSubscription) Cancel() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.cond.Signal()
	s.mu.Unlock()
	s.drop()
}

// push must be called with the broker lock held; it preserves publish
// order per execution.
func (s *ExecutionSubscription) push(e *types.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= maxPending {
		s.queue = s.queue[1:]
		s.lagged = true
	}
	s.queue = append(s.queue, e)
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *ExecutionSubscription) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
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
			case s.ch <- StreamItem{Lagged: true}:
			case <-s.done:
				return
			}
		}
		select {
		case s.ch <- StreamItem{Event: next}:
		case <-s.done:
			return
		}
	}
}
