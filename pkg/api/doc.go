/*
Package api is the REST surface of the control plane.

Every route is a thin adapter over the orchestrator facade: JSON in,
facade call, JSON out, with kinded errors mapped to HTTP status codes.
Execution logs and events stream as NDJSON when followed. The server
also exposes /healthz, /readyz, /livez and the Prometheus /metrics
endpoint.
*/
package api
