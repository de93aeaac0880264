package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vinayprograms/dispatchkit/labels"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	title TEXT NOT NULL,
	intent TEXT,
	description TEXT,
	scope TEXT,
	priority TEXT NOT NULL,
	labels TEXT,
	status TEXT NOT NULL,
	assigned_to TEXT,
	parent_task_id TEXT,
	run_after INTEGER,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 0,
	timeout_seconds INTEGER NOT NULL DEFAULT 0,
	last_started_at INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	completed_at INTEGER,
	result TEXT,
	failure_reason TEXT
);

CREATE TABLE IF NOT EXISTS task_dependencies (
	task_id TEXT NOT NULL,
	depends_on_id TEXT NOT NULL,
	PRIMARY KEY (task_id, depends_on_id),
	FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_task_dependencies_task_id ON task_dependencies(task_id);
CREATE INDEX IF NOT EXISTS idx_task_dependencies_depends_on ON task_dependencies(depends_on_id);
`

// SQLiteRepository is a durable Repository backed by SQLite in WAL mode.
// WithTransaction uses BEGIN IMMEDIATE so concurrent claim attempts
// serialize at the database.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (creating if needed) a SQLite-backed
// repository at the given path. Parent directories are created, WAL
// mode and a busy timeout are enabled.
func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	r := &SQLiteRepository{db: db}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return r, nil
}

// NewSQLiteMemoryRepository opens an in-memory SQLite repository for
// tests. A shared cache keeps all connections on the same database.
func NewSQLiteMemoryRepository(ctx context.Context) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}

	// A single connection keeps the shared-cache database alive.
	db.SetMaxOpenConns(1)

	r := &SQLiteRepository{db: db}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return r, nil
}

// querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Create persists a new task.
func (r *SQLiteRepository) Create(ctx context.Context, task *Task) error {
	return sqliteCreate(ctx, r.db, task)
}

// Get retrieves a task by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Task, error) {
	return sqliteGet(ctx, r.db, id)
}

// Query returns all tasks matching the filter.
func (r *SQLiteRepository) Query(ctx context.Context, filter Filter) ([]*Task, error) {
	return sqliteQuery(ctx, r.db, filter)
}

// Update applies a partial patch to the task.
func (r *SQLiteRepository) Update(ctx context.Context, id string, patch Patch) (*Task, error) {
	return sqliteUpdate(ctx, r.db, id, patch)
}

// WithTransaction runs fn inside a BEGIN IMMEDIATE transaction, taking
// the write lock up front so read-modify-write sequences are atomic.
func (r *SQLiteRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(ctx, &sqliteTx{conn: conn}); err != nil {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// sqliteTx is the transactional view handed to WithTransaction callbacks.
type sqliteTx struct {
	conn *sql.Conn
}

func (tx *sqliteTx) Create(ctx context.Context, task *Task) error {
	return sqliteCreate(ctx, tx.conn, task)
}

func (tx *sqliteTx) Get(ctx context.Context, id string) (*Task, error) {
	return sqliteGet(ctx, tx.conn, id)
}

func (tx *sqliteTx) Query(ctx context.Context, filter Filter) ([]*Task, error) {
	return sqliteQuery(ctx, tx.conn, filter)
}

func (tx *sqliteTx) Update(ctx context.Context, id string, patch Patch) (*Task, error) {
	return sqliteUpdate(ctx, tx.conn, id, patch)
}

// WithTransaction inside a transaction reuses the open transaction.
func (tx *sqliteTx) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	return fn(ctx, tx)
}

func (tx *sqliteTx) Close() error {
	return nil
}

// Shared statement helpers.

func sqliteCreate(ctx context.Context, q querier, task *Task) error {
	if task.ID == "" {
		return ErrInvalidTask
	}

	t := task.Clone()
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	labelsJSON, err := json.Marshal(t.Labels)
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO tasks (id, session_id, title, intent, description, scope,
			priority, labels, status, assigned_to, parent_task_id, run_after,
			retry_count, max_retries, timeout_seconds, last_started_at,
			created_at, updated_at, completed_at, result, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Title, t.Intent, t.Description, t.Scope,
		string(t.Priority), string(labelsJSON), string(t.Status), t.AssignedTo,
		t.ParentTaskID, millisPtr(t.RunAfter), t.RetryCount, t.MaxRetries,
		t.TimeoutSeconds, millisPtr(t.LastStartedAt), t.CreatedAt.UnixMilli(),
		t.UpdatedAt.UnixMilli(), millisPtr(t.CompletedAt), t.Result,
		t.FailureReason)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}

	if err := sqliteReplaceDeps(ctx, q, t.ID, t.Dependencies); err != nil {
		return err
	}

	*task = *t
	return nil
}

func sqliteGet(ctx context.Context, q querier, id string) (*Task, error) {
	rows, err := q.QueryContext(ctx, sqliteSelect+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, ErrTaskNotFound
	}
	if err := sqliteLoadDeps(ctx, q, tasks); err != nil {
		return nil, err
	}
	return tasks[0], nil
}

func sqliteQuery(ctx context.Context, q querier, filter Filter) ([]*Task, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.AssignedTo != "" {
		where = append(where, "assigned_to = ?")
		args = append(args, filter.AssignedTo)
	}
	if filter.ParentTaskID != "" {
		where = append(where, "parent_task_id = ?")
		args = append(args, filter.ParentTaskID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := sqliteSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if err := sqliteLoadDeps(ctx, q, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func sqliteUpdate(ctx context.Context, q querier, id string, patch Patch) (*Task, error) {
	t, err := sqliteGet(ctx, q, id)
	if err != nil {
		return nil, err
	}

	patch.apply(t)
	t.UpdatedAt = time.Now()

	labelsJSON, err := json.Marshal(t.Labels)
	if err != nil {
		return nil, fmt.Errorf("encode labels: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, priority = ?, labels = ?,
			status = ?, assigned_to = ?, run_after = ?, retry_count = ?,
			last_started_at = ?, updated_at = ?, completed_at = ?, result = ?,
			failure_reason = ?
		WHERE id = ?`,
		t.Title, t.Description, string(t.Priority), string(labelsJSON),
		string(t.Status), t.AssignedTo, millisPtr(t.RunAfter), t.RetryCount,
		millisPtr(t.LastStartedAt), t.UpdatedAt.UnixMilli(),
		millisPtr(t.CompletedAt), t.Result, t.FailureReason, id)
	if err != nil {
		return nil, fmt.Errorf("update task %s: %w", id, err)
	}

	if patch.Dependencies != nil {
		if err := sqliteReplaceDeps(ctx, q, id, t.Dependencies); err != nil {
			return nil, err
		}
	}
	return t, nil
}

const sqliteSelect = `
	SELECT id, session_id, title, intent, description, scope, priority,
		labels, status, assigned_to, parent_task_id, run_after, retry_count,
		max_retries, timeout_seconds, last_started_at, created_at, updated_at,
		completed_at, result, failure_reason
	FROM tasks`

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		var (
			t          Task
			priority   string
			labelsJSON sql.NullString
			status     string
			runAfter   sql.NullInt64
			started    sql.NullInt64
			created    int64
			updated    int64
			completed  sql.NullInt64
		)
		err := rows.Scan(&t.ID, &t.SessionID, &t.Title, &t.Intent,
			&t.Description, &t.Scope, &priority, &labelsJSON, &status,
			&t.AssignedTo, &t.ParentTaskID, &runAfter, &t.RetryCount,
			&t.MaxRetries, &t.TimeoutSeconds, &started, &created, &updated,
			&completed, &t.Result, &t.FailureReason)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}

		t.Priority = labels.Priority(priority)
		t.Status = Status(status)
		if labelsJSON.Valid && labelsJSON.String != "" {
			if err := json.Unmarshal([]byte(labelsJSON.String), &t.Labels); err != nil {
				return nil, fmt.Errorf("decode labels for %s: %w", t.ID, err)
			}
		}
		t.RunAfter = timePtr(runAfter)
		t.LastStartedAt = timePtr(started)
		t.CreatedAt = time.UnixMilli(created)
		t.UpdatedAt = time.UnixMilli(updated)
		t.CompletedAt = timePtr(completed)

		out = append(out, &t)
	}
	return out, rows.Err()
}

// sqliteLoadDeps fills Dependencies for every task in one query.
func sqliteLoadDeps(ctx context.Context, q querier, tasks []*Task) error {
	if len(tasks) == 0 {
		return nil
	}

	byID := make(map[string]*Task, len(tasks))
	placeholders := make([]string, len(tasks))
	args := make([]interface{}, len(tasks))
	for i, t := range tasks {
		byID[t.ID] = t
		placeholders[i] = "?"
		args[i] = t.ID
	}

	rows, err := q.QueryContext(ctx,
		"SELECT task_id, depends_on_id FROM task_dependencies WHERE task_id IN ("+
			strings.Join(placeholders, ", ")+") ORDER BY depends_on_id",
		args...)
	if err != nil {
		return fmt.Errorf("load dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskID, depID string
		if err := rows.Scan(&taskID, &depID); err != nil {
			return fmt.Errorf("scan dependency: %w", err)
		}
		if t, ok := byID[taskID]; ok {
			t.Dependencies = append(t.Dependencies, depID)
		}
	}
	return rows.Err()
}

func sqliteReplaceDeps(ctx context.Context, q querier, taskID string, deps []string) error {
	if _, err := q.ExecContext(ctx,
		"DELETE FROM task_dependencies WHERE task_id = ?", taskID); err != nil {
		return fmt.Errorf("clear dependencies for %s: %w", taskID, err)
	}
	for _, dep := range deps {
		if _, err := q.ExecContext(ctx,
			"INSERT INTO task_dependencies (task_id, depends_on_id) VALUES (?, ?)",
			taskID, dep); err != nil {
			return fmt.Errorf("insert dependency %s -> %s: %w", taskID, dep, err)
		}
	}
	return nil
}

func millisPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
