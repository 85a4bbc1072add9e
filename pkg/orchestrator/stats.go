package orchestrator

import (
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// QueueDepth reports the number of jobs waiting for dispatch.
func (o *Orchestrator) QueueDepth() int { return o.queue.Len() }

// ActiveExecutions reports the number of in-flight executions.
func (o *Orchestrator) ActiveExecutions() int { return o.lifecycle.ActiveCount() }

// WorkersByStatus counts registered workers per status.
func (o *Orchestrator) WorkersByStatus() map[types.WorkerStatus]int {
	out := make(map[types.WorkerStatus]int)
	for _, w := range o.registry.List() {
		out[w.Status]++
	}
	return out
}

// PoolsByStatus counts pools per status.
func (o *Orchestrator) PoolsByStatus() map[types.PoolStatus]int {
	out := make(map[types.PoolStatus]int)
	for _, p := range o.pools.List() {
		out[p.Status]++
	}
	return out
}
