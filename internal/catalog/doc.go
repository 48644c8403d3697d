// Package catalog stores the libraries, photos, photo files and tags the
// pipeline works on.
//
// Only the pieces the pipeline needs live here: per-library classifier
// flags, photo lookup for stage handlers, and tag attachment for classifier
// results. It shares the SQLite database file with the task store.
package catalog
