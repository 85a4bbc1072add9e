package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// Subscriber is a channel that receives every published event.
type Subscriber chan *types.Event

// Broker distributes events to global subscribers and keeps a retained,
// per-execution history so execution event streams can be replayed.
// Per-resource ordering is preserved: history append and live delivery
// happen under one lock in publish order.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	history     map[string][]*types.Event // keyed by execution ID
	execSubs    map[string][]*ExecutionSubscription
	retention   time.Duration
	eventCh     chan *types.Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a broker retaining execution events for the given
// duration (zero means the default 7 days).
func NewBroker(retention time.Duration) *Broker {
	if retention <= 0 {
		retention = types.DefaultEventRetention
	}
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		history:     make(map[string][]*types.Event),
		execSubs:    make(map[string][]*ExecutionSubscription),
		retention:   retention,
		eventCh:     make(chan *types.Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a firehose subscription over all events.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a firehose subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish records and distributes an event. ID and timestamp are filled
// in when absent.
func (b *Broker) Publish(event *types.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if event.ExecutionID != "" {
		b.mu.Lock()
		b.appendHistory(event)
		for _, sub := range b.execSubs[event.ExecutionID] {
			sub.push(event)
		}
		b.mu.Unlock()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// appendHistory must be called with b.mu held.
func (b *Broker) appendHistory(event *types.Event) {
	hist := append(b.history[event.ExecutionID], event)

	// Lazy retention pruning.
	cutoff := time.Now().Add(-b.retention)
	for len(hist) > 0 && hist[0].Timestamp.Before(cutoff) {
		hist = hist[1:]
	}
	b.history[event.ExecutionID] = hist
}

// History returns the retained events for an execution from the given
// timestamp (inclusive), in publish order.
func (b *Broker) History(executionID string, from time.Time) []*types.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*types.Event
	for _, e := range b.history[executionID] {
		if !e.Timestamp.Before(from) {
			out = append(out, e)
		}
	}
	return out
}

// SubscriberCount returns the number of firehose subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}
