// Package extraction defines the extraction-job model and the pure state
// machine that reconciles raw server payloads into canonical job snapshots.
package extraction
