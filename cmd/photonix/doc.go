// Command photonix registers photos, drives the task pipeline and inspects
// the task queue.
//
// Commands work directly against the SQLite database configured in
// config.toml, so they are safe to run while the daemon is polling. "photonix
// daemon" runs the long-lived dispatcher in the foreground.
package main
