/*
Package types defines the core entities of the Hodei control plane: jobs,
executions, pools, workers, quotas, artifacts and events.

Entities reference each other by ID, never by pointer. The orchestrator
process owns jobs, executions, pools and quotas; workers are remote
processes identified by ID and session token. All mutation goes through
the owning component (queue, lifecycle, pool manager, registry) so that
the types here stay plain data.
*/
package types
