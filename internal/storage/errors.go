package storage

import "errors"

var (
	// ErrConflictExists is returned when a character already has a
	// non-terminal task.
	ErrConflictExists = errors.New("character already has an active task")

	// ErrTaskNotFound is returned when a task id does not exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned when the requested state is not
	// reachable from the task's current state.
	ErrInvalidTransition = errors.New("invalid task state transition")
)
