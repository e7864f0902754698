// Package storage persists task records to SQLite. All operations are atomic
// with respect to a single task id; the create guard runs inside the insert
// transaction so the one-task-per-character invariant holds without
// serializable isolation.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/macomeau/Artifacts-sub001/internal/model"
)

// TaskStore is the durable record of tasks, keyed by id and indexed by
// character and state.
type TaskStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewTaskStore opens (or creates) the task database at dbPath.
func NewTaskStore(logger *zap.Logger, dbPath string) (*TaskStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writes anyway; a single connection avoids
	// SQLITE_BUSY churn under concurrent starts.
	db.SetMaxOpenConns(1)

	store := &TaskStore{
		logger: logger.Named("task-store"),
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the tasks table and its indexes if they don't exist
func (s *TaskStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			character TEXT NOT NULL,
			kind TEXT NOT NULL,
			spec_name TEXT NOT NULL,
			spec_args TEXT NOT NULL,
			state TEXT NOT NULL,
			worker_handle TEXT,
			started_at DATETIME,
			updated_at DATETIME NOT NULL,
			progress TEXT,
			error_text TEXT,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_character ON tasks(character);
		CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *TaskStore) Close() error {
	return s.db.Close()
}

// Create inserts a new pending task for the character. Fails with
// ErrConflictExists when the character already has a non-terminal task.
func (s *TaskStore) Create(ctx context.Context, character string, kind model.TaskKind, spec model.WorkerSpec, progress json.RawMessage) (*model.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var active int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE character = ? AND state IN (?, ?, ?)`,
		character, model.TaskStatePending, model.TaskStateRunning, model.TaskStatePaused,
	).Scan(&active)
	if err != nil {
		return nil, fmt.Errorf("failed to check active tasks: %w", err)
	}
	if active > 0 {
		return nil, ErrConflictExists
	}

	args, err := json.Marshal(spec.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal spec args: %w", err)
	}

	now := time.Now()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (character, kind, spec_name, spec_args, state, updated_at, progress, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		character, kind, spec.Name, string(args), model.TaskStatePending,
		now, nullString(string(progress)), now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read task id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit task: %w", err)
	}

	s.logger.Info("Task created",
		zap.Int64("task_id", id),
		zap.String("character", character),
		zap.String("worker", spec.Name))

	return s.Get(ctx, id)
}

// Patch carries the optional fields a transition may update.
type Patch struct {
	WorkerHandle *string
	StartedAt    *time.Time
	Progress     json.RawMessage
	ErrorText    *string
}

// allowed maps each state to the states reachable from it. Running to
// running covers recovery, which re-records a fresh handle in place.
var allowed = map[model.TaskState][]model.TaskState{
	model.TaskStatePending: {model.TaskStateRunning, model.TaskStateCompleted, model.TaskStateFailed},
	model.TaskStateRunning: {model.TaskStateRunning, model.TaskStatePaused, model.TaskStateCompleted, model.TaskStateFailed},
	model.TaskStatePaused:  {model.TaskStateRunning, model.TaskStateCompleted, model.TaskStateFailed},
}

func reachable(from, to model.TaskState) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves a task to newState, applying the patch. updated_at
// strictly advances on every transition. The worker handle is cleared on any
// state outside {running, paused}.
func (s *TaskStore) Transition(ctx context.Context, id int64, newState model.TaskState, patch Patch) (*model.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := s.getTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !reachable(current.State, newState) {
		return nil, fmt.Errorf("%w: %s -> %s (task %d)", ErrInvalidTransition, current.State, newState, id)
	}

	now := time.Now()
	if !now.After(current.UpdatedAt) {
		now = current.UpdatedAt.Add(time.Millisecond)
	}

	handle := current.WorkerHandle
	if patch.WorkerHandle != nil {
		handle = *patch.WorkerHandle
	}
	if newState != model.TaskStateRunning && newState != model.TaskStatePaused {
		handle = ""
	}

	startedAt := current.StartedAt
	if patch.StartedAt != nil {
		startedAt = patch.StartedAt
	}
	progress := current.Progress
	if patch.Progress != nil {
		progress = patch.Progress
	}
	errorText := current.ErrorText
	if patch.ErrorText != nil {
		errorText = *patch.ErrorText
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET state = ?, worker_handle = ?, started_at = ?, updated_at = ?, progress = ?, error_text = ?
		WHERE id = ?`,
		newState,
		nullString(handle),
		nullTime(startedAt),
		now,
		nullString(string(progress)),
		nullString(errorText),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update task %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	s.logger.Info("Task transitioned",
		zap.Int64("task_id", id),
		zap.String("from", string(current.State)),
		zap.String("to", string(newState)))

	return s.Get(ctx, id)
}

// Get retrieves a task by id.
func (s *TaskStore) Get(ctx context.Context, id int64) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (s *TaskStore) getTx(ctx context.Context, tx *sql.Tx, id int64) (*model.Task, error) {
	row := tx.QueryRowContext(ctx, selectColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// RunningFor returns the single non-terminal task for a character, or nil.
func (s *TaskStore) RunningFor(ctx context.Context, character string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		selectColumns+` FROM tasks WHERE character = ? AND state IN (?, ?, ?)`,
		character, model.TaskStatePending, model.TaskStateRunning, model.TaskStatePaused,
	)
	task, err := scanTask(row)
	if err == ErrTaskNotFound {
		return nil, nil
	}
	return task, err
}

// ListForRecovery returns all non-terminal tasks, newest-updated first.
func (s *TaskStore) ListForRecovery(ctx context.Context) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` FROM tasks WHERE state IN (?, ?, ?) ORDER BY updated_at DESC`,
		model.TaskStatePending, model.TaskStateRunning, model.TaskStatePaused,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recovery tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// LatestPerCharacter returns the most recently updated task for every
// character, feeding the merged listing's storage side.
func (s *TaskStore) LatestPerCharacter(ctx context.Context) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		FROM tasks WHERE id IN (
			SELECT id FROM (SELECT id, MAX(updated_at) FROM tasks GROUP BY character)
		) ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Sweep deletes terminal tasks older than retention, preserving the most
// recent task per character as the last-known record. Returns the number of
// rows deleted.
func (s *TaskStore) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE state IN (?, ?)
		  AND updated_at < ?
		  AND id NOT IN (
			SELECT id FROM (SELECT id, MAX(updated_at) FROM tasks GROUP BY character)
		  )`,
		model.TaskStateCompleted, model.TaskStateFailed, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep tasks: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if deleted > 0 {
		s.logger.Info("Swept old task records",
			zap.Time("cutoff", cutoff),
			zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

const selectColumns = `SELECT id, character, kind, spec_name, spec_args, state, worker_handle, started_at, updated_at, progress, error_text, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var task model.Task
	var specArgs string
	var handle, progress, errorText sql.NullString
	var startedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.Character,
		&task.Kind,
		&task.Spec.Name,
		&specArgs,
		&task.State,
		&handle,
		&startedAt,
		&task.UpdatedAt,
		&progress,
		&errorText,
		&task.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	if err := json.Unmarshal([]byte(specArgs), &task.Spec.Args); err != nil {
		return nil, fmt.Errorf("failed to decode spec args for task %d: %w", task.ID, err)
	}
	if handle.Valid {
		task.WorkerHandle = handle.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		task.StartedAt = &t
	}
	if progress.Valid && progress.String != "" {
		task.Progress = json.RawMessage(progress.String)
	}
	if errorText.Valid {
		task.ErrorText = errorText.String
	}
	return &task, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
