// Package sqlitex holds the SQLite plumbing shared by the task store and the
// catalog: connection setup, busy retries, schema versioning and the
// timestamp encoding used by every table.
package sqlitex
