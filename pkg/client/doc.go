// Package client is the Go client for the control plane's REST API,
// used by the CLI. Server-side error kinds round-trip through the JSON
// error envelope, so callers can branch on errdefs kinds.
package client
