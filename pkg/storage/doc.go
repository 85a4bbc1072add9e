/*
Package storage persists control-plane state.

The Store interface is the repository boundary: durable save/load/delete
per entity kind plus list operations used by the orchestrator's load-all
pass at startup. BoltStore is the default implementation, a single
BoltDB file with one bucket per entity kind and JSON-encoded values.
*/
package storage
