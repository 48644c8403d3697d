// Package workflow drives queued photo tasks to completion.
//
// The Dispatcher owns one handler per single-item stage (process_raw,
// generate_thumbnails) and one batch processor per registered classifier
// kind. A sweep reclaims stale work, runs Pending stage tasks with a
// heartbeat, fans out classify_images parents, re-settles parents left
// Started by a crash and drains each classifier queue once.
//
// Two modes sit on top of Sweep. Eager mode (workflow.eager) sweeps
// synchronously after every registered photo until nothing moves, which is
// what tests and one-shot CLI runs use. Polling mode (Start/Stop) runs the
// stage sweep on workflow.poll_interval and keeps every classifier
// processor looping in its own goroutine.
package workflow
