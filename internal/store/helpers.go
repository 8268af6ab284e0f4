package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/SyncKeeper/internal/models"
)

// TimestampFormat is the text layout of every temporal column.
const TimestampFormat = time.RFC3339Nano

const taskColumns = `task_id, name, version, created_at, modified_at, last_attempted_at, scheduled_at, requested_at,
	processing, failed, blocking, data, error_info, task_type, attempts`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask decodes one task row, leaving unset nullable columns nil.
func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var createdAt string
	var modifiedAt, lastAttemptedAt, scheduledAt, requestedAt sql.NullString
	var processing, failed, blocking int
	var taskType string

	err := row.Scan(
		&t.ID, &t.Name, &t.Version, &createdAt, &modifiedAt, &lastAttemptedAt, &scheduledAt, &requestedAt,
		&processing, &failed, &blocking, &t.Data, &t.ErrorInfo, &taskType, &t.Attempts,
	)
	if err != nil {
		return nil, err
	}

	created, err := time.Parse(TimestampFormat, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for task %s: %w", t.ID, err)
	}
	t.CreatedAt = created
	t.ModifiedAt = parseNullableTime(modifiedAt, t.ID, "modified_at")
	t.LastAttemptedAt = parseNullableTime(lastAttemptedAt, t.ID, "last_attempted_at")
	t.ScheduledAt = parseNullableTime(scheduledAt, t.ID, "scheduled_at")
	t.RequestedAt = parseNullableTime(requestedAt, t.ID, "requested_at")
	t.Processing = processing > 0
	t.Failed = failed > 0
	t.Blocking = blocking > 0

	if t.Type, err = models.ParseTaskType(taskType); err != nil {
		return nil, fmt.Errorf("%w: task %s: %v", ErrInvalidTaskType, t.ID, err)
	}
	return &t, nil
}

// formatTime renders t in the fixed column format.
func formatTime(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// formatNullableTime returns nil for an unset time.
func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseNullableTime decodes a nullable text timestamp. Unparseable values are
// logged and treated as unset.
func parseNullableTime(s sql.NullString, id, column string) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(TimestampFormat, s.String)
	if err != nil {
		slog.Warn("TaskStore: unparseable timestamp, treating as unset", "id", id, "column", column, "value", s.String, "error", err)
		return nil
	}
	return &t
}

// nilIfEmpty returns nil for an empty payload so the column stays NULL.
func nilIfEmpty(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// boolToInt converts a bool to 1 (true) or 0 (false).
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebindPostgres rewrites ? placeholders as $1, $2, ...
func rebindPostgres(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
