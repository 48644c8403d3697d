// Package batch implements the threaded queue processor for one classifier
// task type. Each cycle claims up to batch_size Pending tasks by conditional
// update and runs them on a bounded pool of thread_count workers. Models
// that implement classify.BatchModel receive one call per worker chunk.
//
// Every task outcome is committed on its own: a failure never rolls back a
// sibling. Each terminal child is settled through the pipeline so its parent
// completes once all siblings are done.
package batch
