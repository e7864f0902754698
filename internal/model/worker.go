package model

import "time"

// WorkerSource tags where a listing entry was found
type WorkerSource string

const (
	WorkerSourceMemory  WorkerSource = "memory"
	WorkerSourceStorage WorkerSource = "storage"
)

// WorkerInfo is the merged listing view of a worker: either a live in-memory
// record or the last known task row for a character.
type WorkerInfo struct {
	Handle    string       `json:"handle"`
	TaskID    int64        `json:"task_id"`
	Character string       `json:"character"`
	Spec      WorkerSpec   `json:"spec"`
	State     TaskState    `json:"state"`
	Live      bool         `json:"live"`
	PID       int          `json:"pid,omitempty"`
	SpawnedAt time.Time    `json:"spawned_at,omitempty"`
	ExitedAt  *time.Time   `json:"exited_at,omitempty"`
	Source    WorkerSource `json:"source"`
}

// TaskEvent is published on the TASK_EVENTS stream for every lifecycle
// transition the supervisor applies.
type TaskEvent struct {
	ID        string    `json:"id"`
	TaskID    int64     `json:"task_id"`
	Character string    `json:"character"`
	State     TaskState `json:"state"`
	Handle    string    `json:"handle,omitempty"`
	Recovered bool      `json:"recovered,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
