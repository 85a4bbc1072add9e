/*
Package registry tracks worker registrations and liveness.

Workers register with their pool, capabilities, and capacity, and get a
session token back that authenticates all subsequent traffic.
Re-registration rotates the token. A background sweep marks workers that
miss three consecutive heartbeats as in error and hands them to the
lifecycle layer for execution recovery.
*/
package registry
