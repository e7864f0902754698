package model

import (
	"encoding/json"
	"strings"
	"time"
)

// TaskState represents the lifecycle state of a task
type TaskState string

const (
	TaskStateIdle      TaskState = "idle"
	TaskStatePending   TaskState = "pending"
	TaskStateRunning   TaskState = "running"
	TaskStatePaused    TaskState = "paused"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed
}

// Active reports whether the state counts against the one-task-per-character
// invariant.
func (s TaskState) Active() bool {
	return s == TaskStatePending || s == TaskStateRunning || s == TaskStatePaused
}

// TaskKind categorizes the activity a task performs
type TaskKind string

const (
	TaskKindMining      TaskKind = "mining"
	TaskKindWoodcutting TaskKind = "woodcutting"
	TaskKindFishing     TaskKind = "fishing"
	TaskKindAlchemy     TaskKind = "alchemy"
	TaskKindCombat      TaskKind = "combat"
	TaskKindCrafting    TaskKind = "crafting"
	TaskKindCooking     TaskKind = "cooking"
	TaskKindOther       TaskKind = "other"
)

// KindForWorker maps a worker script name to its task kind.
func KindForWorker(name string) TaskKind {
	switch {
	case hasPrefixAny(name, "mine", "mining"):
		return TaskKindMining
	case hasPrefixAny(name, "chop", "woodcut"):
		return TaskKindWoodcutting
	case hasPrefixAny(name, "fish"):
		return TaskKindFishing
	case hasPrefixAny(name, "alch"):
		return TaskKindAlchemy
	case hasPrefixAny(name, "fight", "hunt", "combat"):
		return TaskKindCombat
	case hasPrefixAny(name, "craft"):
		return TaskKindCrafting
	case hasPrefixAny(name, "cook"):
		return TaskKindCooking
	default:
		return TaskKindOther
	}
}

func hasPrefixAny(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// WorkerSpec names the activity script and its ordered arguments
type WorkerSpec struct {
	Name string   `json:"name"`
	Args []string `json:"args"`
}

// Task is the durable record of a request to run a worker on behalf of a
// character. A task outlives any particular worker process.
type Task struct {
	ID           int64           `json:"id"`
	Character    string          `json:"character"`
	Kind         TaskKind        `json:"kind"`
	Spec         WorkerSpec      `json:"spec"`
	State        TaskState       `json:"state"`
	WorkerHandle string          `json:"worker_handle,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Progress     json.RawMessage `json:"progress,omitempty"`
	ErrorText    string          `json:"error_text,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// CancelMarker is written into progress when a task is canceled. The task
// still transitions to completed so the character frees its active slot.
type CancelMarker struct {
	Canceled bool   `json:"canceled"`
	Reason   string `json:"reason,omitempty"`
}
