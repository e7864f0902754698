package supervisor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Recover enumerates non-terminal tasks and relaunches each through the
// normal spawn path with the recovery marker appended. Recoveries run
// sequentially with a pacing delay so a restart does not hammer the remote
// server. A task that fails to spawn is marked failed; the sweep continues.
func (s *Supervisor) Recover(ctx context.Context) error {
	tasks, err := s.store.ListForRecovery(ctx)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		s.logger.Info("No tasks to recover")
		return nil
	}

	s.logger.Info("Recovering interrupted tasks", zap.Int("count", len(tasks)))

	recovered := 0
	for i, task := range tasks {
		// Idempotence: a task whose worker is already live (for
		// example from an earlier Recover call) is left alone.
		if w := s.workerForTask(task.ID); w != nil && w.isLive() {
			s.logger.Debug("Task already has a live worker, skipping",
				zap.Int64("task_id", task.ID))
			continue
		}

		// The stored argument list is replayed verbatim, with the
		// character guaranteed first and the marker appended once.
		args := task.Spec.Args
		if len(args) == 0 || args[0] != task.Character {
			args = append([]string{task.Character}, args...)
		}
		task.Spec.Args = args

		if _, err := s.launch(ctx, task, true); err != nil {
			s.logger.Error("Failed to recover task",
				zap.Int64("task_id", task.ID),
				zap.String("character", task.Character),
				zap.Error(err))
			continue
		}
		recovered++

		if i < len(tasks)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.config.RecoveryPacing):
			}
		}
	}

	s.logger.Info("Recovery complete",
		zap.Int("recovered", recovered),
		zap.Int("skipped", len(tasks)-recovered))
	return nil
}
