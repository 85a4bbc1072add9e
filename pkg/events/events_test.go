package events

import (
	"testing"
	"time"

	"github.com/Rubentxu/hodei-pipelines/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirehoseDelivery(t *testing.T) {
	broker := NewBroker(0)
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&types.Event{Type: types.EventJobCreated, JobID: "job-1"})

	select {
	case e := <-sub:
		assert.Equal(t, types.EventJobCreated, e.Type)
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestExecutionStreamOrder(t *testing.T) {
	broker := NewBroker(0)
	broker.Start()
	defer broker.Stop()

	sub := broker.SubscribeExecution("exec-1", time.Time{})
	defer sub.Cancel()

	sequence := []types.EventType{
		types.EventExecutionCreated,
		types.EventExecutionStarted,
		types.EventExecutionCompleted,
	}
	for _, typ := range sequence {
		broker.Publish(&types.Event{Type: typ, ExecutionID: "exec-1"})
	}

	for _, want := range sequence {
		select {
		case item := <-sub.C():
			require.NotNil(t, item.Event)
			assert.Equal(t, want, item.Event.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing event %s", want)
		}
	}
}

func TestExecutionStreamReplay(t *testing.T) {
	broker := NewBroker(0)
	broker.Start()
	defer broker.Stop()

	broker.Publish(&types.Event{Type: types.EventExecutionCreated, ExecutionID: "exec-1"})
	broker.Publish(&types.Event{Type: types.EventExecutionStarted, ExecutionID: "exec-1"})

	// Subscription opened after the fact still sees the full history.
	sub := broker.SubscribeExecution("exec-1", time.Time{})
	defer sub.Cancel()

	got := []types.EventType{}
	for len(got) < 2 {
		select {
		case item := <-sub.C():
			require.NotNil(t, item.Event)
			got = append(got, item.Event.Type)
		case <-time.After(time.Second):
			t.Fatal("replay incomplete")
		}
	}
	assert.Equal(t, []types.EventType{types.EventExecutionCreated, types.EventExecutionStarted}, got)
}

func TestReplayDeterminism(t *testing.T) {
	broker := NewBroker(0)
	broker.Start()
	defer broker.Stop()

	for i := 0; i < 20; i++ {
		broker.Publish(&types.Event{Type: types.EventExecutionStarted, ExecutionID: "exec-1"})
	}

	collect := func(sub *ExecutionSubscription) []string {
		var ids []string
		for len(ids) < 20 {
			select {
			case item := <-sub.C():
				ids = append(ids, item.Event.ID)
			case <-time.After(time.Second):
				t.Fatal("stream stalled")
			}
		}
		return ids
	}

	a := broker.SubscribeExecution("exec-1", time.Time{})
	b := broker.SubscribeExecution("exec-1", time.Time{})
	defer a.Cancel()
	defer b.Cancel()

	assert.Equal(t, collect(a), collect(b))
}

func TestSubscriptionCancelIsIndependent(t *testing.T) {
	broker := NewBroker(0)
	broker.Start()
	defer broker.Stop()

	a := broker.SubscribeExecution("exec-1", time.Time{})
	b := broker.SubscribeExecution("exec-1", time.Time{})

	a.Cancel()
	a.Cancel() // Idempotent

	broker.Publish(&types.Event{Type: types.EventExecutionStarted, ExecutionID: "exec-1"})

	select {
	case item := <-b.C():
		assert.Equal(t, types.EventExecutionStarted, item.Event.Type)
	case <-time.After(time.Second):
		t.Fatal("surviving subscription starved")
	}
	b.Cancel()

	// Cancelled subscription's channel drains and closes.
	for {
		if _, ok := <-a.C(); !ok {
			break
		}
	}
}

func TestHistoryFromTimestamp(t *testing.T) {
	broker := NewBroker(0)
	broker.Start()
	defer broker.Stop()

	early := time.Now().Add(-time.Hour)
	broker.Publish(&types.Event{Type: types.EventExecutionCreated, ExecutionID: "e", Timestamp: early})
	broker.Publish(&types.Event{Type: types.EventExecutionStarted, ExecutionID: "e"})

	all := broker.History("e", time.Time{})
	require.Len(t, all, 2)

	recent := broker.History("e", time.Now().Add(-time.Minute))
	require.Len(t, recent, 1)
	assert.Equal(t, types.EventExecutionStarted, recent[0].Type)
}
