package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/SyncKeeper/internal/clock"
	"github.com/BTreeMap/SyncKeeper/internal/models"
)

// Compile-time check that TaskStore implements TaskRepo.
var _ TaskRepo = (*TaskStore)(nil)

// TaskStore is the SQL-backed TaskRepo. A TaskStore whose handle never opened
// stays usable: every operation logs and returns its safe default.
type TaskStore struct {
	db     *sql.DB
	driver string
	clock  clock.Clock
}

// Open connects to the backend selected by opts and prepares the task table.
//
// Open always returns a non-nil store. When err is non-nil the store is
// unavailable and degrades every call to its safe default, so callers embedded
// in a larger application may keep running without durable tasks.
func Open(opts ...Option) (*TaskStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	slog.Debug("store.Open invoked", "driver", cfg.Driver, "DSN_set", cfg.DSN != "")

	var db *sql.DB
	var err error
	switch cfg.Driver {
	case DriverPostgres:
		db, err = openPostgres(cfg.DSN)
	case DriverSQLite:
		db, err = openSQLite(cfg.DSN)
	default:
		err = fmt.Errorf("unsupported driver %q", cfg.Driver)
	}

	s := newTaskStore(db, cfg)
	if err != nil {
		slog.Error("store.Open: task store unavailable", "driver", cfg.Driver, "error", err)
		return s, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return s, nil
}

// NewTaskStore wraps an already opened handle whose schema is in place.
// A nil db yields an unavailable store.
func NewTaskStore(db *sql.DB, opts ...Option) *TaskStore {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	return newTaskStore(db, cfg)
}

func newTaskStore(db *sql.DB, cfg Opts) *TaskStore {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &TaskStore{db: db, driver: cfg.Driver, clock: clk}
}

// Available reports whether the storage handle is open.
func (s *TaskStore) Available() bool {
	return s.db != nil
}

// q adapts placeholders to the backend dialect.
func (s *TaskStore) q(query string) string {
	if s.driver == DriverPostgres {
		return rebindPostgres(query)
	}
	return query
}

// Create inserts a new task with a fresh id.
func (s *TaskStore) Create(name string, taskType models.TaskType, opts ...models.TaskOption) (string, error) {
	if s.db == nil {
		slog.Error("TaskStore.Create: database not initialized", "name", name)
		return "", ErrStoreUnavailable
	}
	if !taskType.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTaskType, taskType)
	}

	t := models.NewTask(uuid.NewString(), name, taskType, s.clock.Now(), opts...)
	_, err := s.db.Exec(s.q(`INSERT INTO offline_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.Name, t.Version, formatTime(t.CreatedAt),
		formatNullableTime(t.ModifiedAt), formatNullableTime(t.LastAttemptedAt),
		formatNullableTime(t.ScheduledAt), formatNullableTime(t.RequestedAt),
		boolToInt(t.Processing), boolToInt(t.Failed), boolToInt(t.Blocking),
		nilIfEmpty(t.Data), nilIfEmpty(t.ErrorInfo), string(t.Type), t.Attempts,
	)
	if err != nil {
		slog.Error("TaskStore.Create failed", "error", err, "name", name)
		return "", fmt.Errorf("insert task %q: %w", name, err)
	}
	slog.Debug("TaskStore.Create", "id", t.ID, "name", name, "type", taskType)
	return t.ID, nil
}

// Get returns the task with the given id.
func (s *TaskStore) Get(id string) (*models.Task, error) {
	if s.db == nil {
		slog.Error("TaskStore.Get: database not initialized", "id", id)
		return nil, ErrStoreUnavailable
	}

	row := s.db.QueryRow(s.q(`SELECT `+taskColumns+` FROM offline_tasks WHERE task_id = ?`), id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("TaskStore.Get: no record found", "id", id)
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("TaskStore.Get failed", "error", err, "id", id)
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// ListIDs returns every task id. An empty table yields an empty slice.
func (s *TaskStore) ListIDs() ([]string, error) {
	if s.db == nil {
		slog.Error("TaskStore.ListIDs: database not initialized")
		return nil, ErrStoreUnavailable
	}

	rows, err := s.db.Query(`SELECT task_id FROM offline_tasks`)
	if err != nil {
		slog.Error("TaskStore.ListIDs query failed", "error", err)
		return nil, fmt.Errorf("list task ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task ids: %w", err)
	}
	slog.Debug("TaskStore.ListIDs", "count", len(ids))
	return ids, nil
}

// Count returns the number of tasks. Read errors are logged and reported as 0.
func (s *TaskStore) Count() int64 {
	if s.db == nil {
		return 0
	}
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM offline_tasks`).Scan(&n); err != nil {
		slog.Error("TaskStore.Count: unable to count tasks", "error", err)
		return 0
	}
	return n
}

// DeleteAll removes every task. It returns true even when the table was empty.
func (s *TaskStore) DeleteAll() bool {
	if s.db == nil {
		slog.Error("TaskStore.DeleteAll: database not initialized")
		return false
	}
	res, err := s.db.Exec(`DELETE FROM offline_tasks`)
	if err != nil {
		slog.Error("TaskStore.DeleteAll failed", "error", err)
		return false
	}
	n, _ := res.RowsAffected()
	slog.Debug("TaskStore.DeleteAll", "deleted", n)
	return true
}

// Delete removes the task with the given id. It returns true whether or not the
// id existed; deletion is permanent.
func (s *TaskStore) Delete(id string) bool {
	if s.db == nil {
		slog.Error("TaskStore.Delete: database not initialized", "id", id)
		return false
	}
	res, err := s.db.Exec(s.q(`DELETE FROM offline_tasks WHERE task_id = ?`), id)
	if err != nil {
		slog.Error("TaskStore.Delete failed", "error", err, "id", id)
		return false
	}
	n, _ := res.RowsAffected()
	slog.Debug("TaskStore.Delete", "id", id, "deleted", n)
	return true
}

// SetModifiedAt sets modified_at.
func (s *TaskStore) SetModifiedAt(id string, at time.Time) bool {
	return s.updateColumn(id, "modified_at", formatTime(at))
}

// SetLastAttemptedAt sets last_attempted_at.
func (s *TaskStore) SetLastAttemptedAt(id string, at time.Time) bool {
	return s.updateColumn(id, "last_attempted_at", formatTime(at))
}

// SetRequestedAt sets requested_at.
func (s *TaskStore) SetRequestedAt(id string, at time.Time) bool {
	return s.updateColumn(id, "requested_at", formatTime(at))
}

// SetScheduledAt sets scheduled_at.
func (s *TaskStore) SetScheduledAt(id string, at time.Time) bool {
	return s.updateColumn(id, "scheduled_at", formatTime(at))
}

// SetProcessing sets the processing flag.
func (s *TaskStore) SetProcessing(id string, processing bool) bool {
	return s.updateColumn(id, "processing", boolToInt(processing))
}

// SetFailed sets the terminal failure flag.
func (s *TaskStore) SetFailed(id string, failed bool) bool {
	return s.updateColumn(id, "failed", boolToInt(failed))
}

// SetAttempts overwrites the attempt counter. Negative counts are rejected.
func (s *TaskStore) SetAttempts(id string, attempts int) bool {
	if attempts < 0 {
		slog.Error("TaskStore.SetAttempts: negative attempt count rejected", "id", id, "attempts", attempts)
		return false
	}
	return s.updateColumn(id, "attempts", attempts)
}

// SetErrorInfo stores the last-failure diagnostic. An empty value clears it.
func (s *TaskStore) SetErrorInfo(id string, info []byte) bool {
	return s.updateColumn(id, "error_info", nilIfEmpty(info))
}

// IncrementAttempts adds one to the attempt counter in a single statement, so
// concurrent consumers cannot lose an increment.
func (s *TaskStore) IncrementAttempts(id string) bool {
	if !s.precheck() {
		return false
	}
	res, err := s.db.Exec(s.q(`UPDATE offline_tasks SET attempts = attempts + 1 WHERE task_id = ?`), id)
	return s.updated(res, err, id, "attempts")
}

// updateColumn writes a single column. column is always a package constant.
func (s *TaskStore) updateColumn(id, column string, value any) bool {
	if !s.precheck() {
		return false
	}
	res, err := s.db.Exec(s.q(`UPDATE offline_tasks SET `+column+` = ? WHERE task_id = ?`), value, id)
	return s.updated(res, err, id, column)
}

func (s *TaskStore) updated(res sql.Result, err error, id, column string) bool {
	if err != nil {
		slog.Error("TaskStore: update failed", "error", err, "id", id, "column", column)
		return false
	}
	n, err := res.RowsAffected()
	if err != nil {
		slog.Error("TaskStore: rows affected unavailable", "error", err, "id", id, "column", column)
		return false
	}
	if n == 0 {
		slog.Debug("TaskStore: update matched no task", "id", id, "column", column)
	}
	return n > 0
}

// precheck fails fast when the store is unavailable or holds no tasks. An
// update against an empty table is a silent no-op rather than ErrNotFound.
func (s *TaskStore) precheck() bool {
	if s.db == nil {
		slog.Error("TaskStore: database not initialized")
		return false
	}
	if s.Count() == 0 {
		slog.Debug("TaskStore: no pending offline tasks found")
		return false
	}
	return true
}

// Close closes the database connection.
func (s *TaskStore) Close() error {
	if s.db == nil {
		return nil
	}
	slog.Debug("Closing task store database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close task store database", "error", err)
	}
	return err
}
