// Package cliconfig manages the CLI's named server contexts, stored as
// YAML at ~/.hodei/config with owner-only permissions.
package cliconfig
