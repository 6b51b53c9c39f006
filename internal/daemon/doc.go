// Package daemon coordinates the long-running Forkful process: the backend
// client, the app-lifetime job registry, the read cache, notifications, and
// the optional HTTP status API. It enforces single-instance execution.
package daemon
