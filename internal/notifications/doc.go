// Package notifications delivers extraction-job events via pluggable
// notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Per-event toggles let users pick which job outcomes reach their
// devices without touching the daemon code.
package notifications
