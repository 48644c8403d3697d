// Package queue persists pipeline tasks in SQLite and exposes the operations
// that drive their lifecycle.
//
// A task moves forward only, Pending -> Started -> Completed or Failed, and
// every move is a conditional UPDATE on the current status so concurrent
// workers can race on the same row safely. A partial unique index over
// (type, subject_id) for non-terminal rows makes creation idempotent.
//
// Recovery tooling (stale reclaim, retry of failed tasks, administrative
// reset) is the only path that moves a task backwards.
//
// Schema changes bump schemaVersion in schema.go; users clear the database to
// adopt the new schema.
package queue
