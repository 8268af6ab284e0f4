package store

import (
	"errors"
	"time"

	"github.com/BTreeMap/SyncKeeper/internal/models"
)

var (
	// ErrStoreUnavailable indicates the storage handle was never opened.
	ErrStoreUnavailable = errors.New("task store unavailable")

	// ErrNotFound indicates no task matches the id.
	ErrNotFound = errors.New("task not found")

	// ErrInvalidTaskType indicates a task type outside the closed set.
	ErrInvalidTaskType = errors.New("invalid task type")
)

// TaskRepo is the durable task table used by the queue producer and consumer.
//
// Field updates are partial writes of one column and report whether a row
// changed. They short-circuit to false when the store is unavailable or the
// table is empty, so an update is only meaningful once a task is known to exist.
// The repo is not internally synchronized; writers must be serialized by the caller.
type TaskRepo interface {
	// Create inserts a new task and returns its id.
	Create(name string, taskType models.TaskType, opts ...models.TaskOption) (string, error)

	// Get returns the task with the given id, or ErrNotFound.
	Get(id string) (*models.Task, error)

	// ListIDs returns every task id in storage order.
	ListIDs() ([]string, error)

	// Count returns the number of tasks, or 0 on a read error.
	Count() int64

	// DeleteAll removes every task.
	DeleteAll() bool

	// Delete removes one task. It returns true whether or not the id existed.
	Delete(id string) bool

	SetModifiedAt(id string, at time.Time) bool
	SetLastAttemptedAt(id string, at time.Time) bool
	SetRequestedAt(id string, at time.Time) bool
	SetScheduledAt(id string, at time.Time) bool
	SetProcessing(id string, processing bool) bool
	SetFailed(id string, failed bool) bool
	SetAttempts(id string, attempts int) bool
	SetErrorInfo(id string, info []byte) bool

	// IncrementAttempts adds one to the attempt counter.
	IncrementAttempts(id string) bool

	Close() error
}
