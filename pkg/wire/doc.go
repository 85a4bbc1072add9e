/*
Package wire defines the worker channel protocol.

Each frame is a tagged union: a 1-byte tag, a 4-byte big-endian payload
length and a fixed-layout payload. IDs are opaque strings, byte payloads
are length-prefixed, timestamps are 64-bit seconds plus 32-bit nanos and
enums are single bytes. Both directions share the framing; delivery is
strictly FIFO per direction on a single connection.

The first frame on a new connection must be Register; the server answers
RegisterAck. Registration and the job channel are one logical handshake:
if either leg fails, the connection is closed and the worker must start
over.
*/
package wire
