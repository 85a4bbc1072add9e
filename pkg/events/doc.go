/*
Package events is the in-process event bus.

The Broker offers two surfaces: a firehose subscription over every
published event (best-effort, buffered) and per-execution streams that
replay retained history before delivering live events in guaranteed
publish order. Slow execution subscribers lose the oldest entries and
see a Lagged marker instead of blocking publishers.
*/
package events
