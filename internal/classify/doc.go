// Package classify defines the classifier capability shared by the batch
// processor and the pipeline: the Model contract, result shapes, the
// adapters that turn results into catalog tags, and the explicit Registry of
// enabled kinds.
//
// Models never touch the task store. A PhotoRunner loads the photo for a
// task, builds the model Input and records the adapted tags; the batch
// processor owns claiming and status transitions.
package classify
