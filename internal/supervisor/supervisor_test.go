package supervisor

import (
	"context"
	"encoding/json"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/macomeau/Artifacts-sub001/internal/model"
	"github.com/macomeau/Artifacts-sub001/internal/storage"
)

// scriptBuilder runs every worker as a shell script, keyed by activity name.
func scriptBuilder(scripts map[string]string) func(name string, args []string) *exec.Cmd {
	return func(name string, args []string) *exec.Cmd {
		script, ok := scripts[name]
		if !ok {
			script = "sleep 60"
		}
		cmd := exec.Command("sh", "-c", script)
		configureCommand(cmd)
		return cmd
	}
}

func newTestSupervisor(t *testing.T, scripts map[string]string) (*Supervisor, *storage.TaskStore) {
	t.Helper()
	store, err := storage.NewTaskStore(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sup := New(store, Config{
		AllowedWorkers:   []string{"mine-copper", "fish", "fight-chickens", "exit-zero", "exit-three", "chatty"},
		TerminationGrace: 200 * time.Millisecond,
		RecoveryPacing:   10 * time.Millisecond,
		CommandBuilder:   scriptBuilder(scripts),
	}, zaptest.NewLogger(t))
	t.Cleanup(func() { sup.Shutdown(context.Background()) })
	return sup, store
}

func waitForState(t *testing.T, store *storage.TaskStore, id int64, want model.TaskState) *model.Task {
	t.Helper()
	var task *model.Task
	require.Eventually(t, func() bool {
		var err error
		task, err = store.Get(context.Background(), id)
		return err == nil && task.State == want
	}, 5*time.Second, 20*time.Millisecond, "task %d never reached %s", id, want)
	return task
}

func TestStartRunsWorker(t *testing.T) {
	sup, store := newTestSupervisor(t, map[string]string{"mine-copper": "sleep 60"})

	result, err := sup.Start(context.Background(), "mine-copper", []string{"alice", "(2,0)", "100"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Handle)

	task := waitForState(t, store, result.TaskID, model.TaskStateRunning)
	assert.Equal(t, result.Handle, task.WorkerHandle)
	assert.NotNil(t, task.StartedAt)
	assert.Equal(t, model.TaskKindMining, task.Kind)
}

func TestStartRejections(t *testing.T) {
	sup, _ := newTestSupervisor(t, nil)
	ctx := context.Background()

	_, err := sup.Start(ctx, "rm-rf", []string{"alice"})
	require.ErrorIs(t, err, ErrWorkerNotAllowed)

	tooMany := make([]string, 11)
	for i := range tooMany {
		tooMany[i] = "x"
	}
	tooMany[0] = "alice"
	_, err = sup.Start(ctx, "fish", tooMany)
	require.ErrorIs(t, err, ErrTooManyArgs)

	_, err = sup.Start(ctx, "fish", []string{"--no-recycle"})
	require.ErrorIs(t, err, ErrNoCharacter)
}

func TestRecoveryMarkerExemptFromArgCap(t *testing.T) {
	sup, store := newTestSupervisor(t, nil)
	ctx := context.Background()

	// Exactly at the cap without the marker; appending it on restart must
	// not tip the list over.
	atCap := make([]string, 10)
	for i := range atCap {
		atCap[i] = "x"
	}
	atCap[0] = "alice"

	result, err := sup.Start(ctx, "fish", append(atCap, RecoveryMarker))
	require.NoError(t, err)
	waitForState(t, store, result.TaskID, model.TaskStateRunning)
}

func TestExitZeroCompletes(t *testing.T) {
	sup, store := newTestSupervisor(t, map[string]string{"exit-zero": "exit 0"})

	result, err := sup.Start(context.Background(), "exit-zero", []string{"alice"})
	require.NoError(t, err)

	task := waitForState(t, store, result.TaskID, model.TaskStateCompleted)
	assert.JSONEq(t, `{"exit_code":0}`, string(task.Progress))
	assert.Empty(t, task.WorkerHandle)

	recovery, err := store.ListForRecovery(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recovery)
}

func TestWorkerFinalOutputRetained(t *testing.T) {
	sup, store := newTestSupervisor(t, map[string]string{"exit-zero": "echo final-words; exit 0"})
	ctx := context.Background()

	// Instantly-exiting workers: reaping must not race the running
	// transition, and the last line printed before exit must already be in
	// the ring by the time the task is recorded completed.
	for i := 0; i < 10; i++ {
		result, err := sup.Start(ctx, "exit-zero", []string{"alice"})
		require.NoError(t, err)
		waitForState(t, store, result.TaskID, model.TaskStateCompleted)

		lines, err := sup.Logs(result.Handle)
		require.NoError(t, err)
		assert.Contains(t, lines, "final-words")
	}
}

func TestExitNonzeroFails(t *testing.T) {
	sup, store := newTestSupervisor(t, map[string]string{"exit-three": "exit 3"})

	result, err := sup.Start(context.Background(), "exit-three", []string{"alice"})
	require.NoError(t, err)

	task := waitForState(t, store, result.TaskID, model.TaskStateFailed)
	assert.Equal(t, "exited with code 3", task.ErrorText)
	assert.JSONEq(t, `{"exit_code":3}`, string(task.Progress))
}

func TestSupersedeCancelsExisting(t *testing.T) {
	sup, store := newTestSupervisor(t, map[string]string{"mine-copper": "sleep 60", "fish": "sleep 60"})
	ctx := context.Background()

	first, err := sup.Start(ctx, "mine-copper", []string{"alice", "(2,0)"})
	require.NoError(t, err)
	waitForState(t, store, first.TaskID, model.TaskStateRunning)

	second, err := sup.Start(ctx, "fish", []string{"alice", "(5,1)"})
	require.NoError(t, err)
	require.NotEqual(t, first.TaskID, second.TaskID)

	// First task is terminal with the cancel marker; exactly one active
	// task remains for alice.
	task := waitForState(t, store, first.TaskID, model.TaskStateCompleted)
	var marker model.CancelMarker
	require.NoError(t, json.Unmarshal(task.Progress, &marker))
	assert.True(t, marker.Canceled)

	active, err := store.RunningFor(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.TaskID, active.ID)
}

func TestStopTerminatesAndCancels(t *testing.T) {
	sup, store := newTestSupervisor(t, map[string]string{"mine-copper": "sleep 60"})
	ctx := context.Background()

	result, err := sup.Start(ctx, "mine-copper", []string{"alice"})
	require.NoError(t, err)
	waitForState(t, store, result.TaskID, model.TaskStateRunning)

	require.NoError(t, sup.Stop(ctx, result.Handle))

	task := waitForState(t, store, result.TaskID, model.TaskStateCompleted)
	var marker model.CancelMarker
	require.NoError(t, json.Unmarshal(task.Progress, &marker))
	assert.True(t, marker.Canceled)

	require.Eventually(t, func() bool {
		w := sup.workerForTask(result.TaskID)
		return w != nil && !w.isLive()
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStopUnknownHandle(t *testing.T) {
	sup, _ := newTestSupervisor(t, nil)
	err := sup.Stop(context.Background(), "nope|alice")
	require.ErrorIs(t, err, ErrWorkerNotFound)
}

func TestConcurrencyCeiling(t *testing.T) {
	sup, _ := newTestSupervisor(t, map[string]string{"fish": "sleep 60"})
	sup.config.MaxConcurrentWorkers = 2
	ctx := context.Background()

	_, err := sup.Start(ctx, "fish", []string{"alice"})
	require.NoError(t, err)
	_, err = sup.Start(ctx, "fish", []string{"bob"})
	require.NoError(t, err)

	_, err = sup.Start(ctx, "fish", []string{"carol"})
	require.ErrorIs(t, err, ErrTooManyWorkers)
}

func TestListMergesMemoryAndStorage(t *testing.T) {
	sup, store := newTestSupervisor(t, map[string]string{"mine-copper": "sleep 60"})
	ctx := context.Background()

	result, err := sup.Start(ctx, "mine-copper", []string{"alice"})
	require.NoError(t, err)
	waitForState(t, store, result.TaskID, model.TaskStateRunning)

	// A storage-only record for bob: created and failed before this
	// supervisor existed.
	bob, err := store.Create(ctx, "bob", model.TaskKindFishing, model.WorkerSpec{Name: "fish", Args: []string{"bob"}}, nil)
	require.NoError(t, err)
	errText := "exited with code 1"
	_, err = store.Transition(ctx, bob.ID, model.TaskStateFailed, storage.Patch{ErrorText: &errText})
	require.NoError(t, err)

	infos, err := sup.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	bySource := map[model.WorkerSource]model.WorkerInfo{}
	for _, info := range infos {
		bySource[info.Source] = info
	}
	mem := bySource[model.WorkerSourceMemory]
	assert.Equal(t, "alice", mem.Character)
	assert.True(t, mem.Live)
	assert.NotZero(t, mem.PID)

	st := bySource[model.WorkerSourceStorage]
	assert.Equal(t, "bob", st.Character)
	assert.Equal(t, model.TaskStateFailed, st.State)
}

func TestClearStoppedHidesWorkers(t *testing.T) {
	sup, store := newTestSupervisor(t, map[string]string{"exit-zero": "exit 0"})
	ctx := context.Background()

	result, err := sup.Start(ctx, "exit-zero", []string{"alice"})
	require.NoError(t, err)
	waitForState(t, store, result.TaskID, model.TaskStateCompleted)

	require.Eventually(t, func() bool {
		w := sup.workerForTask(result.TaskID)
		return w != nil && !w.isLive()
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 1, sup.ClearStopped())

	infos, err := sup.List(ctx)
	require.NoError(t, err)
	for _, info := range infos {
		assert.NotEqual(t, model.WorkerSourceMemory, info.Source)
	}

	// Cleared workers stay addressable: logs survive, and clearing again
	// finds nothing new.
	_, err = sup.Logs(result.Handle)
	require.NoError(t, err)
	assert.Equal(t, 0, sup.ClearStopped())
}

func TestLogsRingBuffer(t *testing.T) {
	sup, store := newTestSupervisor(t, map[string]string{"chatty": "echo one; echo two; sleep 60"})
	ctx := context.Background()

	result, err := sup.Start(ctx, "chatty", []string{"alice"})
	require.NoError(t, err)
	waitForState(t, store, result.TaskID, model.TaskStateRunning)

	require.Eventually(t, func() bool {
		lines, err := sup.Logs(result.Handle)
		return err == nil && len(lines) >= 2
	}, 5*time.Second, 20*time.Millisecond)

	lines, err := sup.Logs(result.Handle)
	require.NoError(t, err)
	assert.Contains(t, lines, "one")
	assert.Contains(t, lines, "two")
}

func TestRestartReplaysWithMarker(t *testing.T) {
	sup, store := newTestSupervisor(t, map[string]string{"mine-copper": "sleep 60"})
	ctx := context.Background()

	first, err := sup.Start(ctx, "mine-copper", []string{"alice", "(2,0)"})
	require.NoError(t, err)
	waitForState(t, store, first.TaskID, model.TaskStateRunning)

	second, err := sup.Restart(ctx, first.Handle)
	require.NoError(t, err)
	require.NotEqual(t, first.TaskID, second.TaskID)

	task := waitForState(t, store, second.TaskID, model.TaskStateRunning)
	assert.Contains(t, task.Spec.Args, RecoveryMarker)
	waitForState(t, store, first.TaskID, model.TaskStateCompleted)
}

func TestShutdownPausesRunningTasks(t *testing.T) {
	sup, store := newTestSupervisor(t, map[string]string{"mine-copper": "sleep 60"})
	ctx := context.Background()

	result, err := sup.Start(ctx, "mine-copper", []string{"alice"})
	require.NoError(t, err)
	waitForState(t, store, result.TaskID, model.TaskStateRunning)

	require.NoError(t, sup.Shutdown(ctx))

	task := waitForState(t, store, result.TaskID, model.TaskStatePaused)
	assert.Equal(t, result.Handle, task.WorkerHandle, "paused keeps the handle for recovery")
}
