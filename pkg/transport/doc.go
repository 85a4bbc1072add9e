/*
Package transport speaks the worker protocol over TCP.

A worker opens one connection for its whole life: the first frame must
be a registration, answered with a session token and the heartbeat
interval. After the handshake the same connection carries dispatches,
artifact negotiation and transfer, cancels, heartbeats, status updates
and log streaming. Outbound frames go through a bounded per-session
buffer; a connection that drops takes its executions with it, handing
them to the lifecycle for recovery.
*/
package transport
