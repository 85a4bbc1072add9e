/*
Package lifecycle drives executions through their state machine.

An execution is created when the scheduler assigns a claimed job to a
worker, becomes running on the worker's first status report, and ends
in success, failed or cancelled. The manager owns every timer around
that path: the dispatch window, the per-job timeout and the cancel
grace period. Terminal transitions release pool capacity and quota,
fold the outcome into the job, and schedule retries per the job's
policy. Log chunks streamed by workers are buffered here with bounded
memory and served as replayable follow streams.
*/
package lifecycle
