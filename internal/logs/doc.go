// Package logs tails the daemon log for the CLI.
//
// Tail returns the last N lines or everything after a saved offset, with an
// optional substring filter so a single photo or task can be followed by id.
package logs
