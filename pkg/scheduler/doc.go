/*
Package scheduler assigns queued jobs to idle workers.

A single goroutine owns every placement decision: it claims the highest
priority job, scores dispatchable pools by free capacity, reserves pool
capacity and quota, creates the execution and hands it to the transport.
Anything that changes the placement picture (submission, a freed worker,
a retry coming due) nudges the loop through Wake.
*/
package scheduler
