/*
Package orchestrator wires the control plane together.

The Orchestrator owns the bbolt store, the artifact cache, the job
queue, the quota/pool/registry/lifecycle managers, the scheduler and
the worker transport, and exposes one facade of operations for the API
and CLI: submit, cancel and retry jobs, follow logs and events, manage
pools and quotas, ship artifacts and shut workers down. On Start it
reloads persisted state and requeues jobs that were in flight when the
previous process died.
*/
package orchestrator
