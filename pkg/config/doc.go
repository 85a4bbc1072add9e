// Package config loads the server's YAML configuration file over a set
// of built-in defaults.
package config
