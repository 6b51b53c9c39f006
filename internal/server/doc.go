// Package server is the HTTP client for the extraction backend: submit,
// snapshot fetch, cancellation, recipe mutations, the video fallback
// endpoints, and the per-job server-sent-events subscription.
package server
