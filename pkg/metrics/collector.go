package metrics

import (
	"time"

	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// Source exposes the control plane state the collector samples.
type Source interface {
	QueueDepth() int
	ActiveExecutions() int
	WorkersByStatus() map[types.WorkerStatus]int
	PoolsByStatus() map[types.PoolStatus]int
}

// Collector samples gauges from the control plane and folds the event
// stream into counters.
type Collector struct {
	source Source
	events <-chan *types.Event
	stopCh chan struct{}
}

// NewCollector creates a collector over the given source and event
// subscription. The subscription channel closing stops the collector.
func NewCollector(source Source, events <-chan *types.Event) *Collector {
	return &Collector{
		source: source,
		events: events,
		stopCh: make(chan struct{}),
	}
}

// Start begins sampling every 15 seconds and consuming events.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case ev, ok := <-c.events:
				if !ok {
					ticker.Stop()
					return
				}
				c.observe(ev)
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	QueueDepth.Set(float64(c.source.QueueDepth()))
	ExecutionsActive.Set(float64(c.source.ActiveExecutions()))

	workers := c.source.WorkersByStatus()
	for _, status := range []types.WorkerStatus{
		types.WorkerStatusIdle, types.WorkerStatusBusy,
		types.WorkerStatusError, types.WorkerStatusTerminated,
	} {
		WorkersTotal.WithLabelValues(string(status)).Set(float64(workers[status]))
	}

	pools := c.source.PoolsByStatus()
	for _, status := range []types.PoolStatus{
		types.PoolStatusActive, types.PoolStatusDraining,
		types.PoolStatusDrained, types.PoolStatusMaintenance,
	} {
		PoolsTotal.WithLabelValues(string(status)).Set(float64(pools[status]))
	}
}

func (c *Collector) observe(ev *types.Event) {
	switch ev.Type {
	case types.EventJobCreated:
		JobsSubmitted.Inc()
	case types.EventJobCompleted:
		JobsFinished.WithLabelValues("completed").Inc()
	case types.EventJobFailed:
		JobsFinished.WithLabelValues("failed").Inc()
	case types.EventJobCancelled:
		JobsFinished.WithLabelValues("cancelled").Inc()
	case types.EventJobRetried:
		JobsRetried.Inc()
	case types.EventExecutionCreated:
		ExecutionsDispatched.Inc()
	case types.EventWorkerLost:
		WorkersLost.Inc()
	}
}
