// Package logging assembles structured slog loggers and formatting helpers used
// across Photonix.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage and classifier code can
// tag log lines with task IDs, stages, and classifier kinds. A no-op logger is
// provided for tests and wiring code that cannot fail.
package logging
