package models

import (
	"fmt"
	"time"
)

// CurrentTaskVersion is the payload format version stamped on new tasks.
const CurrentTaskVersion = 1

// TaskType is the closed set of deferred work kinds. It is fixed at creation.
type TaskType string

const (
	// TaskTypeAPI is a deferred outbound API call.
	TaskTypeAPI TaskType = "API"
)

// IsValid reports whether t is a known task type.
func (t TaskType) IsValid() bool {
	switch t {
	case TaskTypeAPI:
		return true
	default:
		return false
	}
}

// ParseTaskType converts a stored value back into a TaskType.
func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown task type %q", s)
	}
	return t, nil
}

// Task is one persisted unit of deferred work with its retry bookkeeping.
// Nil time pointers and nil byte slices mean the column is unset.
type Task struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Version         int        `json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
	ModifiedAt      *time.Time `json:"modified_at,omitempty"`
	LastAttemptedAt *time.Time `json:"last_attempted_at,omitempty"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	RequestedAt     *time.Time `json:"requested_at,omitempty"`
	Processing      bool       `json:"processing"`
	Failed          bool       `json:"failed"`
	Blocking        bool       `json:"blocking"`
	Data            []byte     `json:"data,omitempty"`
	ErrorInfo       []byte     `json:"error_info,omitempty"`
	Type            TaskType   `json:"task_type"`
	Attempts        int        `json:"attempts"`
}

// TaskOption sets optional fields on a task being created.
type TaskOption func(*Task)

// WithTaskData attaches an opaque payload.
func WithTaskData(data []byte) TaskOption {
	return func(t *Task) { t.Data = data }
}

// WithBlocking marks the task as one consumers must serialize around.
func WithBlocking(blocking bool) TaskOption {
	return func(t *Task) { t.Blocking = blocking }
}

// WithScheduledAt sets the earliest time a consumer should act.
func WithScheduledAt(at time.Time) TaskOption {
	return func(t *Task) { t.ScheduledAt = &at }
}

// WithRequestedAt records when the work was originally requested.
func WithRequestedAt(at time.Time) TaskOption {
	return func(t *Task) { t.RequestedAt = &at }
}

// WithTaskVersion overrides the payload format version.
func WithTaskVersion(v int) TaskOption {
	return func(t *Task) { t.Version = v }
}

// NewTask builds a task with creation defaults: not processing, not failed,
// not blocking, zero attempts, and only CreatedAt set among the timestamps.
func NewTask(id, name string, taskType TaskType, now time.Time, opts ...TaskOption) Task {
	t := Task{
		ID:        id,
		Name:      name,
		Version:   CurrentTaskVersion,
		CreatedAt: now,
		Type:      taskType,
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}
