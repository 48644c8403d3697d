package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"photonix/internal/sqlitex"
)

// ReclaimStale returns Started tasks whose heartbeat is older than cutoff to
// Pending so the next sweep picks them up again. Tasks that already have
// children are left alone; their progress is tracked through fan-in. When
// types is empty every type is considered.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time, types ...Type) (int64, error) {
	query := `UPDATE tasks
        SET status = ?, started_at = NULL, last_heartbeat = NULL, updated_at = ?
        WHERE status = ?
          AND COALESCE(last_heartbeat, started_at, updated_at) < ?
          AND NOT EXISTS (SELECT 1 FROM tasks c WHERE c.parent_id = tasks.id)`
	args := []any{StatusPending, sqlitex.Now(), StatusStarted, sqlitex.FormatTime(cutoff)}
	if len(types) > 0 {
		query += ` AND type IN (` + sqlitex.Placeholders(len(types)) + `)`
		for _, t := range types {
			args = append(args, t)
		}
	}
	res, err := sqlitex.Exec(ctx, s.db, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale tasks: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed tasks back to Pending. With no ids every failed
// task is retried. Tasks whose subject already has an active task of the same
// type are skipped.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	query := `UPDATE OR IGNORE tasks
        SET status = ?, error_message = NULL, started_at = NULL, finished_at = NULL,
            last_heartbeat = NULL, updated_at = ?
        WHERE status = ?`
	args := []any{StatusPending, sqlitex.Now(), StatusFailed}
	if len(ids) > 0 {
		query += ` AND id IN (` + sqlitex.Placeholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := sqlitex.Exec(ctx, s.db, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed tasks: %w", err)
	}
	return res.RowsAffected()
}

// Reset is the administrative escape hatch: it returns a task in any status
// to Pending and clears its timestamps and error. Normal flow never calls it.
func (s *Store) Reset(ctx context.Context, id string) (*Task, error) {
	res, err := sqlitex.Exec(ctx, s.db,
		`UPDATE OR IGNORE tasks
         SET status = ?, error_message = NULL, started_at = NULL, finished_at = NULL,
             last_heartbeat = NULL, updated_at = ?
         WHERE id = ?`,
		StatusPending, sqlitex.Now(), id)
	if err != nil {
		return nil, fmt.Errorf("reset task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reset task: %w", err)
	}
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return task, fmt.Errorf("%w: another %s task is active for subject %s", ErrDuplicateTask, task.Type, task.SubjectID)
	}
	return task, nil
}

// Remove deletes tasks by id. Children are removed with their parent.
func (s *Store) Remove(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := sqlitex.Exec(ctx, s.db, `DELETE FROM tasks WHERE id IN (`+sqlitex.Placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("remove tasks: %w", err)
	}
	return res.RowsAffected()
}

// ClearCompleted removes completed root tasks and, through the cascade, their
// children.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := sqlitex.Exec(ctx, s.db,
		`DELETE FROM tasks WHERE status = ? AND parent_id IS NULL`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed tasks: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of tasks grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(sqlitex.EnsureContext(ctx), `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// StatsByType returns task counts grouped by type and status.
func (s *Store) StatsByType(ctx context.Context) (map[Type]map[Status]int, error) {
	rows, err := s.db.QueryContext(sqlitex.EnsureContext(ctx),
		`SELECT type, status, COUNT(1) FROM tasks GROUP BY type, status`)
	if err != nil {
		return nil, fmt.Errorf("task stats by type: %w", err)
	}
	defer rows.Close()

	stats := make(map[Type]map[Status]int)
	for rows.Next() {
		var (
			taskType Type
			status   Status
			count    int
		)
		if err := rows.Scan(&taskType, &status, &count); err != nil {
			return nil, err
		}
		if stats[taskType] == nil {
			stats[taskType] = make(map[Status]int)
		}
		stats[taskType][status] = count
	}
	return stats, rows.Err()
}

// Health aggregates task state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusStarted:
			health.Started += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		}
	}
	return health, nil
}

// CheckHealth returns diagnostic information about the task database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("task database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat task database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("task database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(sqlitex.EnsureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping task database: %w", err)
	}
	health.DatabaseReadable = true

	var tables int
	if err := s.db.QueryRowContext(connCtx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = 'tasks'").Scan(&tables); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("query table info: %w", err)
	}
	health.TableExists = tables > 0

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM queue_schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}

	if health.TableExists {
		if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM tasks").Scan(&health.TotalTasks); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count tasks: %w", err)
		}
	}

	var integrity string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrity, "ok")
	return health, nil
}
