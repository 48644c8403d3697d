package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"photonix/internal/config"
	"photonix/internal/sqlitex"
)

// Store manages task persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const taskColumns = "id, type, subject_id, library_id, status, parent_id, error_message, created_at, updated_at, started_at, finished_at, last_heartbeat"

// Open initializes or connects to the task database configured in cfg.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.DatabasePath())
}

// OpenPath opens the task store at an explicit database path.
func OpenPath(path string) (*Store, error) {
	db, err := sqlitex.Open(path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file backing the store.
func (s *Store) Path() string {
	return s.path
}

type rowScanner interface{ Scan(dest ...any) error }

func scanTask(scanner rowScanner) (*Task, error) {
	var (
		id, taskType, subjectID, status  string
		createdRaw, updatedRaw           string
		libraryID, parentID, errMsg      sql.NullString
		startedRaw, finishedRaw, beatRaw sql.NullString
	)
	if err := scanner.Scan(
		&id, &taskType, &subjectID, &libraryID, &status, &parentID, &errMsg,
		&createdRaw, &updatedRaw, &startedRaw, &finishedRaw, &beatRaw,
	); err != nil {
		return nil, err
	}

	task := &Task{
		ID:            id,
		Type:          Type(taskType),
		SubjectID:     subjectID,
		LibraryID:     libraryID.String,
		Status:        Status(status),
		ParentID:      parentID.String,
		ErrorMessage:  errMsg.String,
		StartedAt:     sqlitex.NullableTime(startedRaw),
		FinishedAt:    sqlitex.NullableTime(finishedRaw),
		LastHeartbeat: sqlitex.NullableTime(beatRaw),
	}
	if created, err := sqlitex.ParseTime(createdRaw); err == nil {
		task.CreatedAt = created
	}
	if updated, err := sqlitex.ParseTime(updatedRaw); err == nil {
		task.UpdatedAt = updated
	}
	return task, nil
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*Task, error) {
	rows, err := s.db.QueryContext(sqlitex.EnsureContext(ctx), query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Get fetches a task by identifier. A missing task yields ErrTaskNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(sqlitex.EnsureContext(ctx), `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// Find returns tasks matching the filter, oldest first.
func (s *Store) Find(ctx context.Context, filter Filter) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []any
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, filter.Type)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.LibraryID != "" {
		query += ` AND library_id = ?`
		args = append(args, filter.LibraryID)
	}
	if filter.SubjectID != "" {
		query += ` AND subject_id = ?`
		args = append(args, filter.SubjectID)
	}
	if filter.ParentID != "" {
		query += ` AND parent_id = ?`
		args = append(args, filter.ParentID)
	}
	query += ` ORDER BY created_at, rowid`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	tasks, err := s.queryTasks(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find tasks: %w", err)
	}
	return tasks, nil
}

// Children returns the children of a task in insertion order.
func (s *Store) Children(ctx context.Context, parentID string) ([]*Task, error) {
	tasks, err := s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE parent_id = ? ORDER BY created_at, rowid`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return tasks, nil
}

// ActiveForSubject returns the Pending or Started task of a type for the
// subject, or nil when none exists.
func (s *Store) ActiveForSubject(ctx context.Context, taskType Type, subjectID string) (*Task, error) {
	row := s.db.QueryRowContext(sqlitex.EnsureContext(ctx),
		`SELECT `+taskColumns+` FROM tasks WHERE type = ? AND subject_id = ? AND status IN (?, ?) LIMIT 1`,
		taskType, subjectID, StatusPending, StatusStarted)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active task for subject: %w", err)
	}
	return task, nil
}

// LatestForSubject returns the most recent task of a type for the subject,
// regardless of status, or nil when none exists.
func (s *Store) LatestForSubject(ctx context.Context, taskType Type, subjectID string) (*Task, error) {
	row := s.db.QueryRowContext(sqlitex.EnsureContext(ctx),
		`SELECT `+taskColumns+` FROM tasks WHERE type = ? AND subject_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		taskType, subjectID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest task for subject: %w", err)
	}
	return task, nil
}

// FanInState counts a parent's children by terminal and failed status.
func (s *Store) FanInState(ctx context.Context, parentID string) (FanIn, error) {
	ctx = sqlitex.EnsureContext(ctx)
	var state FanIn
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1),
                COALESCE(SUM(CASE WHEN status IN (?, ?) THEN 1 ELSE 0 END), 0),
                COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
         FROM tasks WHERE parent_id = ?`,
		StatusCompleted, StatusFailed, StatusFailed, parentID,
	).Scan(&state.Total, &state.Terminal, &state.Failed)
	if err != nil {
		return FanIn{}, fmt.Errorf("fan-in state: %w", err)
	}
	if state.Failed == 0 {
		return state, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT type FROM tasks WHERE parent_id = ? AND status = ? ORDER BY created_at, rowid`,
		parentID, StatusFailed)
	if err != nil {
		return FanIn{}, fmt.Errorf("failed children: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var taskType Type
		if err := rows.Scan(&taskType); err != nil {
			return FanIn{}, err
		}
		state.FailedTypes = append(state.FailedTypes, taskType)
	}
	return state, rows.Err()
}
