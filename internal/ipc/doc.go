// Package ipc implements JSON-RPC communication between the CLI and the
// daemon over a Unix domain socket. The server wraps the daemon's control
// surface; the client offers typed wrappers for every call.
package ipc
