// Package supervisor owns the active worker set: it spawns worker processes
// for task requests, enforces the one-task-per-character invariant together
// with the store, reconciles process exits with task state, and recovers
// interrupted tasks on startup.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/macomeau/Artifacts-sub001/internal/model"
	"github.com/macomeau/Artifacts-sub001/internal/storage"
)

// RecoveryMarker is appended to a worker's arguments when the supervisor
// relaunches it, so the worker can distinguish resumption from a cold start.
const RecoveryMarker = "--recovered"

// Config tunes the supervisor.
type Config struct {
	// WorkerBinary is the executable spawned for every worker. The
	// activity name becomes its first argument.
	WorkerBinary string

	// EnvFile, when set, is forwarded to workers as --env=<path>.
	EnvFile string

	// DefaultCharacter is used when no character can be derived from a
	// start request's arguments.
	DefaultCharacter string

	// AllowedWorkers is the start-request allow-list.
	AllowedWorkers []string

	MaxConcurrentWorkers int           // default 10
	MaxWorkerArgs        int           // default 10
	TerminationGrace     time.Duration // default 1s
	StoppedWorkerTTL     time.Duration // default 5m
	RecoveryPacing       time.Duration // default 500ms

	// CommandBuilder overrides how worker processes are constructed.
	// Tests use it to substitute a harmless command.
	CommandBuilder func(name string, args []string) *exec.Cmd
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrentWorkers <= 0 {
		c.MaxConcurrentWorkers = 10
	}
	if c.MaxWorkerArgs <= 0 {
		c.MaxWorkerArgs = 10
	}
	if c.TerminationGrace <= 0 {
		c.TerminationGrace = 1 * time.Second
	}
	if c.StoppedWorkerTTL <= 0 {
		c.StoppedWorkerTTL = 5 * time.Minute
	}
	if c.RecoveryPacing <= 0 {
		c.RecoveryPacing = 500 * time.Millisecond
	}
}

// EventSink receives task lifecycle events.
type EventSink func(model.TaskEvent)

// StartResult identifies the task and worker a start request produced.
type StartResult struct {
	TaskID int64  `json:"task_id"`
	Handle string `json:"handle"`
}

// Supervisor manages worker processes for one process lifetime. The active
// worker map and cleared-handle set live here and are never recreated per
// request.
type Supervisor struct {
	logger *zap.Logger
	store  *storage.TaskStore
	config Config
	sink   EventSink

	mu      sync.Mutex
	workers map[string]*activeWorker
	cleared map[string]struct{}
}

// New creates a supervisor.
func New(store *storage.TaskStore, config Config, logger *zap.Logger) *Supervisor {
	config.applyDefaults()
	return &Supervisor{
		logger:  logger.Named("supervisor"),
		store:   store,
		config:  config,
		workers: make(map[string]*activeWorker),
		cleared: make(map[string]struct{}),
	}
}

// SetEventSink registers the lifecycle event receiver.
func (s *Supervisor) SetEventSink(sink EventSink) {
	s.sink = sink
}

// Start handles a task-start request: validates the worker name and
// arguments, supersedes any existing task for the character, persists a new
// pending task, spawns the worker, and records the handle.
func (s *Supervisor) Start(ctx context.Context, workerName string, args []string) (*StartResult, error) {
	if !s.allowed(workerName) {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotAllowed, workerName)
	}
	// The recovery marker is exempt from the cap: a restart must never be
	// rejected for an argument list that was accepted the first time.
	counted := len(args)
	if containsArg(args, RecoveryMarker) {
		counted--
	}
	if counted > s.config.MaxWorkerArgs {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyArgs, counted, s.config.MaxWorkerArgs)
	}

	character, args, err := s.deriveCharacter(args)
	if err != nil {
		return nil, err
	}

	if live := s.liveCount(); live >= s.config.MaxConcurrentWorkers {
		return nil, fmt.Errorf("%w: %d", ErrTooManyWorkers, live)
	}

	// Supersede: cancel whatever task the character currently has.
	existing, err := s.store.RunningFor(ctx, character)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Info("Superseding existing task",
			zap.Int64("task_id", existing.ID),
			zap.String("character", character))
		if err := s.cancelTask(ctx, existing, "superseded"); err != nil {
			return nil, fmt.Errorf("failed to supersede task %d: %w", existing.ID, err)
		}
	}

	task, err := s.store.Create(ctx, character, model.KindForWorker(workerName),
		model.WorkerSpec{Name: workerName, Args: args}, nil)
	if err != nil {
		return nil, err
	}
	s.emit(task, model.TaskStatePending, "", false, "")

	return s.launch(ctx, task, false)
}

// launch spawns a worker for the task and transitions it to running. Shared
// between fresh starts and recovery; recovery reuses the task row in place.
func (s *Supervisor) launch(ctx context.Context, task *model.Task, recovered bool) (*StartResult, error) {
	args := task.Spec.Args
	if recovered && !containsArg(args, RecoveryMarker) {
		args = append(append([]string{}, args...), RecoveryMarker)
	}

	handle := handleFor(task.Spec.Name, args)
	cmd := s.buildCommand(task.Spec.Name, args)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, s.failLaunch(ctx, task, fmt.Errorf("failed to open stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, s.failLaunch(ctx, task, fmt.Errorf("failed to open stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return nil, s.failLaunch(ctx, task, fmt.Errorf("failed to spawn worker: %w", err))
	}

	now := time.Now()
	w := &activeWorker{
		handle:    handle,
		taskID:    task.ID,
		character: task.Character,
		runID:     uuid.New().String()[:8],
		cmd:       cmd,
		spawnedAt: now,
		live:      true,
		done:      make(chan struct{}),
	}

	// Drain output from the moment the process is up so it never blocks on
	// a full pipe. Reaping starts later, once the running state is durable.
	pumped := make(chan error, 1)
	go func() { pumped <- w.pump(stdout, stderr) }()

	s.mu.Lock()
	s.workers[handle] = w
	delete(s.cleared, handle)
	s.mu.Unlock()

	updated, err := s.store.Transition(ctx, task.ID, model.TaskStateRunning, storage.Patch{
		WorkerHandle: &handle,
		StartedAt:    &now,
	})
	if err != nil {
		// The process is already up; kill it rather than leave an
		// untracked worker. The reaper still runs so the process is not
		// left a zombie, but it must not reconcile an exit we never
		// recorded as running.
		s.logger.Error("Failed to record running state, terminating worker",
			zap.Int64("task_id", task.ID),
			zap.Error(err))
		go s.wait(w, pumped, false)
		_ = w.terminate(s.config.TerminationGrace)
		return nil, err
	}
	go s.wait(w, pumped, true)

	s.logger.Info("Worker spawned",
		zap.String("handle", handle),
		zap.Int64("task_id", task.ID),
		zap.String("run_id", w.runID),
		zap.Int("pid", w.pid()),
		zap.Bool("recovered", recovered))
	s.emit(updated, model.TaskStateRunning, handle, recovered, "")

	return &StartResult{TaskID: task.ID, Handle: handle}, nil
}

// failLaunch transitions a task to failed after a spawn error.
func (s *Supervisor) failLaunch(ctx context.Context, task *model.Task, cause error) error {
	errText := cause.Error()
	if _, terr := s.store.Transition(ctx, task.ID, model.TaskStateFailed, storage.Patch{
		ErrorText: &errText,
	}); terr != nil {
		s.logger.Error("Failed to record spawn failure",
			zap.Int64("task_id", task.ID),
			zap.Error(terr))
	}
	s.emit(task, model.TaskStateFailed, "", false, errText)
	return cause
}

// wait joins the output pump, reaps the worker process, and reconciles its
// exit code with task state. The pump must finish first: Wait closes the
// pipes, and the last lines a worker prints before dying are usually the
// ones worth keeping.
func (s *Supervisor) wait(w *activeWorker, pumped <-chan error, reconcile bool) {
	if perr := <-pumped; perr != nil {
		s.logger.Debug("Worker output pump closed",
			zap.String("handle", w.handle),
			zap.Error(perr))
	}
	err := w.cmd.Wait()
	exitCode := 0
	if err != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}
	w.markExited(time.Now())
	close(w.done)

	s.logger.Info("Worker exited",
		zap.String("handle", w.handle),
		zap.Int64("task_id", w.taskID),
		zap.Int("exit_code", exitCode))

	if reconcile {
		s.reconcileExit(w, exitCode)
	}
}

// reconcileExit records the exit durably. Tasks already terminal (stopped or
// superseded) or paused (planned shutdown) keep their state.
func (s *Supervisor) reconcileExit(w *activeWorker, exitCode int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	task, err := s.store.Get(ctx, w.taskID)
	if err != nil {
		s.logger.Error("Failed to load task for exit reconciliation",
			zap.Int64("task_id", w.taskID),
			zap.Error(err))
		return
	}
	if task.State.Terminal() || task.State == model.TaskStatePaused {
		return
	}

	progress, _ := json.Marshal(map[string]int{"exit_code": exitCode})
	if exitCode == 0 {
		updated, err := s.store.Transition(ctx, w.taskID, model.TaskStateCompleted, storage.Patch{
			Progress: progress,
		})
		if err != nil {
			s.logger.Error("Failed to record completion",
				zap.Int64("task_id", w.taskID),
				zap.Error(err))
			return
		}
		s.emit(updated, model.TaskStateCompleted, w.handle, false, "")
		return
	}

	errText := fmt.Sprintf("exited with code %d", exitCode)
	updated, err := s.store.Transition(ctx, w.taskID, model.TaskStateFailed, storage.Patch{
		Progress:  progress,
		ErrorText: &errText,
	})
	if err != nil {
		s.logger.Error("Failed to record failure",
			zap.Int64("task_id", w.taskID),
			zap.Error(err))
		return
	}
	s.emit(updated, model.TaskStateFailed, w.handle, false, errText)
}

// Stop terminates the worker and records the task as completed-canceled.
func (s *Supervisor) Stop(ctx context.Context, handle string) error {
	s.mu.Lock()
	w, ok := s.workers[handle]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, handle)
	}
	if !w.isLive() {
		return nil
	}

	task, err := s.store.Get(ctx, w.taskID)
	if err != nil {
		return err
	}
	return s.cancelTask(ctx, task, "stopped")
}

// cancelTask records the cancellation durably, then terminates the worker if
// one is live. The transition happens first so exit reconciliation sees a
// terminal task and leaves it alone.
func (s *Supervisor) cancelTask(ctx context.Context, task *model.Task, reason string) error {
	marker, _ := json.Marshal(model.CancelMarker{Canceled: true, Reason: reason})
	updated, err := s.store.Transition(ctx, task.ID, model.TaskStateCompleted, storage.Patch{
		Progress: marker,
	})
	if err != nil && !errors.Is(err, storage.ErrInvalidTransition) {
		return err
	}
	if updated != nil {
		s.emit(updated, model.TaskStateCompleted, task.WorkerHandle, false, "")
	}

	if task.WorkerHandle == "" {
		return nil
	}
	s.mu.Lock()
	w, ok := s.workers[task.WorkerHandle]
	s.mu.Unlock()
	if !ok || !w.isLive() {
		return nil
	}

	if err := w.terminate(s.config.TerminationGrace); err != nil {
		s.logger.Warn("Failed to terminate worker",
			zap.String("handle", w.handle),
			zap.Error(err))
	}
	return nil
}

// Restart stops the worker if it is live and replays its stored spec and
// arguments with the recovery marker appended.
func (s *Supervisor) Restart(ctx context.Context, handle string) (*StartResult, error) {
	task, err := s.taskForHandle(ctx, handle)
	if err != nil {
		return nil, err
	}

	if task.State.Active() {
		if err := s.cancelTask(ctx, task, "restarted"); err != nil {
			return nil, err
		}
	}

	args := task.Spec.Args
	if !containsArg(args, RecoveryMarker) {
		args = append(append([]string{}, args...), RecoveryMarker)
	}
	return s.Start(ctx, task.Spec.Name, args)
}

// taskForHandle resolves a handle to its task, checking memory first and the
// store's last-known rows second.
func (s *Supervisor) taskForHandle(ctx context.Context, handle string) (*model.Task, error) {
	s.mu.Lock()
	w, ok := s.workers[handle]
	s.mu.Unlock()
	if ok {
		return s.store.Get(ctx, w.taskID)
	}

	latest, err := s.store.LatestPerCharacter(ctx)
	if err != nil {
		return nil, err
	}
	for _, task := range latest {
		if handleFor(task.Spec.Name, task.Spec.Args) == handle || task.WorkerHandle == handle {
			return task, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, handle)
}

// List merges in-memory workers with the last known task per character from
// the store. Cleared and aged-out memory entries are hidden; characters
// already represented in memory are not duplicated from storage.
func (s *Supervisor) List(ctx context.Context) ([]model.WorkerInfo, error) {
	now := time.Now()
	seen := make(map[string]bool)
	var infos []model.WorkerInfo

	s.mu.Lock()
	workers := make([]*activeWorker, 0, len(s.workers))
	for handle, w := range s.workers {
		if _, hidden := s.cleared[handle]; hidden {
			continue
		}
		workers = append(workers, w)
	}
	s.mu.Unlock()

	for _, w := range workers {
		exited := w.exitTime()
		if exited != nil && now.Sub(*exited) > s.config.StoppedWorkerTTL {
			continue
		}
		live := w.isLive() && pidExists(w.pid())
		task, err := s.store.Get(ctx, w.taskID)
		if err != nil {
			s.logger.Warn("Worker references missing task",
				zap.String("handle", w.handle),
				zap.Int64("task_id", w.taskID))
			continue
		}
		seen[w.character] = true
		infos = append(infos, model.WorkerInfo{
			Handle:    w.handle,
			TaskID:    w.taskID,
			Character: w.character,
			Spec:      task.Spec,
			State:     task.State,
			Live:      live,
			PID:       w.pid(),
			SpawnedAt: w.spawnedAt,
			ExitedAt:  exited,
			Source:    model.WorkerSourceMemory,
		})
	}

	latest, err := s.store.LatestPerCharacter(ctx)
	if err != nil {
		return nil, err
	}
	for _, task := range latest {
		if seen[task.Character] {
			continue
		}
		infos = append(infos, model.WorkerInfo{
			Handle:    task.WorkerHandle,
			TaskID:    task.ID,
			Character: task.Character,
			Spec:      task.Spec,
			State:     task.State,
			Source:    model.WorkerSourceStorage,
		})
	}

	return infos, nil
}

// ClearStopped hides all exited workers from listings. The workers stay in
// the map so their logs remain readable and their handles restartable; the
// cleared set is what the listing consults.
func (s *Supervisor) ClearStopped() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := 0
	for handle, w := range s.workers {
		if w.isLive() {
			continue
		}
		if _, already := s.cleared[handle]; already {
			continue
		}
		s.cleared[handle] = struct{}{}
		cleared++
	}
	s.logger.Info("Cleared stopped workers", zap.Int("count", cleared))
	return cleared
}

// Logs returns a copy of the worker's recent output ring.
func (s *Supervisor) Logs(handle string) ([]string, error) {
	s.mu.Lock()
	w, ok := s.workers[handle]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, handle)
	}
	return w.lines(), nil
}

// Shutdown pauses every running task and terminates its worker, so a clean
// restart recovers them as paused rather than abandoned.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	workers := make([]*activeWorker, 0, len(s.workers))
	for _, w := range s.workers {
		if w.isLive() {
			workers = append(workers, w)
		}
	}
	s.mu.Unlock()

	for _, w := range workers {
		if _, err := s.store.Transition(ctx, w.taskID, model.TaskStatePaused, storage.Patch{}); err != nil {
			s.logger.Warn("Failed to pause task on shutdown",
				zap.Int64("task_id", w.taskID),
				zap.Error(err))
		}
		if err := w.terminate(s.config.TerminationGrace); err != nil {
			s.logger.Warn("Failed to terminate worker on shutdown",
				zap.String("handle", w.handle),
				zap.Error(err))
		}
	}
	s.logger.Info("Supervisor shut down", zap.Int("paused", len(workers)))
	return nil
}

func (s *Supervisor) allowed(name string) bool {
	for _, w := range s.config.AllowedWorkers {
		if w == name {
			return true
		}
	}
	return false
}

func (s *Supervisor) liveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, w := range s.workers {
		if w.isLive() {
			count++
		}
	}
	return count
}

// workerForTask finds the in-memory worker for a task id, if any.
func (s *Supervisor) workerForTask(taskID int64) *activeWorker {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workers {
		if w.taskID == taskID {
			return w
		}
	}
	return nil
}

// deriveCharacter extracts the character from the first positional argument,
// falling back to the configured default. The returned args always carry the
// character first.
func (s *Supervisor) deriveCharacter(args []string) (string, []string, error) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "--") {
		return args[0], args, nil
	}
	if s.config.DefaultCharacter != "" {
		return s.config.DefaultCharacter, append([]string{s.config.DefaultCharacter}, args...), nil
	}
	return "", nil, ErrNoCharacter
}

// buildCommand assembles the worker process argv: activity name, then the
// stored arguments, then the env-file flag.
func (s *Supervisor) buildCommand(name string, args []string) *exec.Cmd {
	if s.config.CommandBuilder != nil {
		return s.config.CommandBuilder(name, args)
	}
	argv := append([]string{name}, args...)
	if s.config.EnvFile != "" {
		argv = append(argv, "--env="+s.config.EnvFile)
	}
	cmd := exec.Command(s.config.WorkerBinary, argv...)
	configureCommand(cmd)
	return cmd
}

func (s *Supervisor) emit(task *model.Task, state model.TaskState, handle string, recovered bool, errText string) {
	if s.sink == nil {
		return
	}
	s.sink(model.TaskEvent{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		Character: task.Character,
		State:     state,
		Handle:    handle,
		Recovered: recovered,
		Error:     errText,
		Timestamp: time.Now(),
	})
}

// handleFor derives the stable worker identity from the activity name and
// its full argument list.
func handleFor(name string, args []string) string {
	return name + "|" + strings.Join(args, "|")
}

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func pidExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	return err == nil && exists
}
