package supervisor

import "errors"

var (
	// ErrWorkerNotAllowed is returned when the worker name is not in the
	// allow-list.
	ErrWorkerNotAllowed = errors.New("worker not in allow-list")

	// ErrTooManyArgs is returned when a start request exceeds the
	// argument cap.
	ErrTooManyArgs = errors.New("too many worker arguments")

	// ErrTooManyWorkers is returned when the concurrency ceiling is
	// reached.
	ErrTooManyWorkers = errors.New("maximum concurrent workers reached")

	// ErrWorkerNotFound is returned when a handle matches no known
	// worker.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrNoCharacter is returned when no character name can be derived
	// from the argument list.
	ErrNoCharacter = errors.New("character name missing from arguments")
)
