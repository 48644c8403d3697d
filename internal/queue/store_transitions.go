package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"photonix/internal/sqlitex"
)

// Create inserts a Pending task. When a Pending or Started task of the same
// type already exists for the subject, the existing task is returned together
// with an error wrapping ErrDuplicateTask.
func (s *Store) Create(ctx context.Context, taskType Type, subjectID, libraryID, parentID string) (*Task, error) {
	if !taskType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, taskType)
	}
	if strings.TrimSpace(subjectID) == "" {
		return nil, errors.New("create task: subject id is required")
	}

	// The existing active task can finish between the failed insert and the
	// lookup; one retry covers that window.
	for attempt := 0; attempt < 2; attempt++ {
		id := uuid.NewString()
		now := sqlitex.Now()
		_, err := sqlitex.Exec(ctx, s.db,
			`INSERT INTO tasks (id, type, subject_id, library_id, status, parent_id, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, taskType, subjectID, sqlitex.NullableString(libraryID), StatusPending,
			sqlitex.NullableString(parentID), now, now,
		)
		if err == nil {
			return s.Get(ctx, id)
		}
		if !sqlitex.IsUniqueViolation(err) {
			return nil, fmt.Errorf("insert task: %w", err)
		}
		existing, lookupErr := s.ActiveForSubject(ctx, taskType, subjectID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing != nil {
			return existing, fmt.Errorf("%w: %s already %s for subject %s (task %s)",
				ErrDuplicateTask, taskType, existing.Status, subjectID, existing.ID)
		}
	}
	return nil, fmt.Errorf("insert task: active %s task for subject %s kept conflicting", taskType, subjectID)
}

// CreateChildren inserts one Pending child of parent per type in a single
// transaction, so no sibling can observe a partial fan-out. Types that
// already have an active task for the subject are skipped; any other
// constraint failure aborts the fan-out. Returns every child of parent in
// insertion order.
func (s *Store) CreateChildren(ctx context.Context, parentID string, types []Type) ([]*Task, error) {
	for _, taskType := range types {
		if !taskType.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, taskType)
		}
	}
	parent, err := s.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}
	err = sqlitex.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		now := sqlitex.Now()
		for _, taskType := range types {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tasks (id, type, subject_id, library_id, status, parent_id, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
                 ON CONFLICT (type, subject_id) WHERE status IN ('P', 'S') DO NOTHING`,
				uuid.NewString(), taskType, parent.SubjectID, sqlitex.NullableString(parent.LibraryID),
				StatusPending, parent.ID, now, now,
			); err != nil {
				return fmt.Errorf("insert %s child: %w", taskType, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Children(ctx, parent.ID)
}

// Transition atomically moves a task from expected to next, stamping
// started_at on Started and finished_at on Completed or Failed. Only forward
// edges are accepted. When the task is not in expected, the error wraps
// ErrInvalidTransition (or ErrTaskNotFound).
func (s *Store) Transition(ctx context.Context, id string, expected, next Status, fields Fields) (*Task, error) {
	if !validEdge(expected, next) {
		return nil, fmt.Errorf("%w: %s -> %s is not a forward transition", ErrInvalidTransition, expected, next)
	}

	now := sqlitex.Now()
	set := []string{"status = ?", "updated_at = ?"}
	args := []any{next, now}
	switch next {
	case StatusStarted:
		set = append(set, "started_at = ?", "last_heartbeat = ?")
		args = append(args, now, now)
	case StatusCompleted, StatusFailed:
		set = append(set, "finished_at = ?")
		args = append(args, now)
	}
	if fields.ErrorMessage != "" {
		set = append(set, "error_message = ?")
		args = append(args, fields.ErrorMessage)
	}
	args = append(args, id, expected)

	res, err := sqlitex.Exec(ctx, s.db,
		`UPDATE tasks SET `+strings.Join(set, ", ")+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("transition task %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("transition task %s: %w", id, err)
	}
	if affected == 0 {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: task %s is %s, expected %s", ErrInvalidTransition, id, current.Status, expected)
	}
	return s.Get(ctx, id)
}

// Start moves a Pending task to Started.
func (s *Store) Start(ctx context.Context, id string) (*Task, error) {
	return s.Transition(ctx, id, StatusPending, StatusStarted, Fields{})
}

// Complete moves a Started task to Completed. Parent fan-in is evaluated by
// the caller, not here.
func (s *Store) Complete(ctx context.Context, id string) (*Task, error) {
	return s.Transition(ctx, id, StatusStarted, StatusCompleted, Fields{})
}

// Fail moves a Started task to Failed and records the reason.
func (s *Store) Fail(ctx context.Context, id, reason string) (*Task, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "failed without a reason"
	}
	return s.Transition(ctx, id, StatusStarted, StatusFailed, Fields{ErrorMessage: reason})
}

// ClaimPending claims up to limit Pending tasks of a type, oldest first,
// across all libraries. Each claim is an independent conditional update so
// tasks taken by a concurrent worker are skipped rather than processed twice.
func (s *Store) ClaimPending(ctx context.Context, taskType Type, limit int) ([]*Task, error) {
	if limit <= 0 {
		return nil, nil
	}
	candidates, err := s.Find(ctx, Filter{Type: taskType, Status: StatusPending, Limit: limit})
	if err != nil {
		return nil, err
	}
	claimed := make([]*Task, 0, len(candidates))
	for _, candidate := range candidates {
		task, err := s.Start(ctx, candidate.ID)
		if err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrTaskNotFound) {
				continue
			}
			return claimed, err
		}
		claimed = append(claimed, task)
	}
	return claimed, nil
}

// Touch refreshes the heartbeat of a Started task.
func (s *Store) Touch(ctx context.Context, id string) error {
	now := sqlitex.Now()
	if _, err := sqlitex.Exec(ctx, s.db,
		`UPDATE tasks SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		now, now, id, StatusStarted,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}
