/*
Package queue holds jobs awaiting dispatch.

Ordering is priority first, then submission time within a priority.
Retried jobs can be deferred until their backoff elapses, and jobs
whose dispatch failed go back to the front of their band instead of
losing their place.
*/
package queue
