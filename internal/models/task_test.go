package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask_Defaults(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	task := NewTask("id-1", "sync", TaskTypeAPI, now)

	assert.Equal(t, "id-1", task.ID)
	assert.Equal(t, CurrentTaskVersion, task.Version)
	assert.Equal(t, now, task.CreatedAt)
	assert.Nil(t, task.ModifiedAt)
	assert.Nil(t, task.LastAttemptedAt)
	assert.Nil(t, task.ScheduledAt)
	assert.Nil(t, task.RequestedAt)
	assert.False(t, task.Processing)
	assert.False(t, task.Failed)
	assert.False(t, task.Blocking)
	assert.Nil(t, task.Data)
	assert.Zero(t, task.Attempts)
}

func TestNewTask_Options(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	later := now.Add(time.Hour)
	task := NewTask("id-2", "upload", TaskTypeAPI, now,
		WithTaskData([]byte(`{"k":1}`)),
		WithBlocking(true),
		WithScheduledAt(later),
		WithRequestedAt(now),
		WithTaskVersion(3),
	)

	require.NotNil(t, task.ScheduledAt)
	assert.Equal(t, later, *task.ScheduledAt)
	require.NotNil(t, task.RequestedAt)
	assert.Equal(t, now, *task.RequestedAt)
	assert.True(t, task.Blocking)
	assert.Equal(t, 3, task.Version)
	assert.Equal(t, []byte(`{"k":1}`), task.Data)
}

func TestParseTaskType(t *testing.T) {
	got, err := ParseTaskType("API")
	require.NoError(t, err)
	assert.Equal(t, TaskTypeAPI, got)

	_, err = ParseTaskType("EMAIL")
	assert.Error(t, err)
	assert.False(t, TaskType("").IsValid())
}
