/*
Package pool manages worker pools.

A pool groups workers provisioned by one backend and carries the
capacity the scheduler plans against. The manager aggregates capacity
from live worker inventories, tracks execution reservations against it,
and handles the pool lifecycle: draining, maintenance windows and
resumption.
*/
package pool
