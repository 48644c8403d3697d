package queue

import "errors"

var (
	// ErrDuplicateTask is returned by Create when a Pending or Started task of
	// the same type already exists for the subject. The existing task is
	// returned alongside it; callers treat the pair as success.
	ErrDuplicateTask = errors.New("duplicate task")
	// ErrInvalidTransition is returned when a task is not in the status a
	// transition expects. Under correct claiming it only surfaces on races.
	ErrInvalidTransition = errors.New("invalid task transition")
	// ErrTaskNotFound is returned when the referenced task does not exist.
	ErrTaskNotFound = errors.New("task not found")
	// ErrUnknownType is returned when creating a task with an unrecognized type.
	ErrUnknownType = errors.New("unknown task type")
)
