/*
Package agent is the worker process.

An agent holds one connection to the orchestrator: it registers, then
heartbeats, receives job dispatches and artifact transfers, runs job
payloads in local shell processes, and streams logs and status back on
the same connection. A dropped connection triggers reconnection with
exponential backoff; registration on reconnect issues a fresh session.
*/
package agent
