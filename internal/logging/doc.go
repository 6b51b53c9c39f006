// Package logging wires slog with the console and JSON handlers used by the
// daemon and CLI, plus shared attribute helpers and field-name constants.
package logging
