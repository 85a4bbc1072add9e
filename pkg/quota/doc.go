/*
Package quota enforces per-namespace consumption limits.

A namespace may cap concurrent jobs, aggregate CPU and memory of
running executions, and submission rates per hour and day. The quota's
policy decides what a violation means: enforce rejects the operation,
warn lets it through and publishes a warning event, monitor only keeps
the counters.
*/
package quota
