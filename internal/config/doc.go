// Package config loads, normalizes, and validates the TOML configuration
// shared by the forkful CLI and the forkfuld daemon.
package config
