// Package syncengine keeps one extraction-job snapshot fresh per job using a
// dual-channel transport: a server-push event stream with a polling fallback
// selected by a consecutive-failure threshold. Completion fires exactly once.
package syncengine
