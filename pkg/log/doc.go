// Package log wraps zerolog behind a small global logger with helpers
// for the ID fields used across the control plane.
package log
