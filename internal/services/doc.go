// Package services defines shared utilities consumed by pipeline stages,
// batch processors and classifier integrations.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, stage names, classifier kinds and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures recorded on
//     tasks carry the stage and operation that produced them.
package services
