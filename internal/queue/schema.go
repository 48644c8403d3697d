package queue

import (
	"context"
	_ "embed"
	"errors"

	"photonix/internal/sqlitex"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("queue schema version mismatch")

func (s *Store) initSchema(ctx context.Context) error {
	return sqlitex.InitSchema(ctx, s.db, "queue_schema_version", schemaSQL, schemaVersion, ErrSchemaMismatch)
}
