package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskState is the lifecycle state of a long-running job.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// Task tracks a background fit or learn job so callers can poll it by ID.
type Task struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	State     TaskState       `json:"state"`
	Progress  float64         `json:"progress"` // percent, 0-100
	Phase     string          `json:"phase"`
	Error     string          `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

var taskTransitions = map[TaskState][]TaskState{
	TaskQueued:  {TaskRunning, TaskFailed},
	TaskRunning: {TaskRunning, TaskCompleted, TaskFailed},
}

// CanTransition reports whether moving from s to next is legal.
func (s TaskState) CanTransition(next TaskState) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Transition moves the task to next, rejecting illegal moves.
func (t *Task) Transition(next TaskState, now time.Time) error {
	if !t.State.CanTransition(next) {
		return fmt.Errorf("%w: task %s cannot move from %s to %s", ErrValidation, t.ID, t.State, next)
	}
	t.State = next
	t.UpdatedAt = now
	return nil
}
