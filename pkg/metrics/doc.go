/*
Package metrics provides Prometheus metrics and health checks for the
control plane.

Metrics are registered on the default Prometheus registry at package
init and exposed through Handler for scraping. The Collector samples
queue depth, active executions and worker/pool counts from a Source on
a fixed interval, and folds the broker's event stream into job and
worker counters. Health and readiness endpoints report per-component
status registered by the server at startup.
*/
package metrics
