// Package sqlite keeps the task queue in a local SQLite file for single-node
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"go-docspace/internal/model"
	"go-docspace/internal/taskqueue"
)

type Queue struct {
	db *sqlx.DB
}

var _ taskqueue.Queue = (*Queue)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	tenant_id        INTEGER  NOT NULL,
	owner            TEXT     NOT NULL,
	operation        TEXT     NOT NULL,
	input            TEXT     NOT NULL,
	status           TEXT     NOT NULL,
	progress         INTEGER  NOT NULL DEFAULT 0,
	processed        INTEGER  NOT NULL DEFAULT 0,
	total            INTEGER  NOT NULL DEFAULT 0,
	result           TEXT     NOT NULL DEFAULT '',
	error            TEXT     NOT NULL DEFAULT '',
	finished         BOOLEAN  NOT NULL DEFAULT 0,
	hold             BOOLEAN  NOT NULL DEFAULT 0,
	cancel_requested BOOLEAN  NOT NULL DEFAULT 0,
	process_id       TEXT     NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks (tenant_id, owner);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status, created_at);

CREATE TABLE IF NOT EXISTS task_processes (
	process_id TEXT PRIMARY KEY,
	seen_at    DATETIME NOT NULL
);
`

const columns = `id, tenant_id, owner, operation, input, status, progress, processed, total,
	result, error, finished, hold, cancel_requested, process_id, created_at, updated_at`

// row mirrors the tasks table for sqlx scanning.
type row struct {
	ID              string    `db:"id"`
	TenantID        int       `db:"tenant_id"`
	Owner           string    `db:"owner"`
	Operation       string    `db:"operation"`
	Input           string    `db:"input"`
	Status          string    `db:"status"`
	Progress        int       `db:"progress"`
	Processed       int       `db:"processed"`
	Total           int       `db:"total"`
	Result          string    `db:"result"`
	Error           string    `db:"error"`
	Finished        bool      `db:"finished"`
	Hold            bool      `db:"hold"`
	CancelRequested bool      `db:"cancel_requested"`
	ProcessID       string    `db:"process_id"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r row) task() *model.Task {
	return &model.Task{
		ID:              r.ID,
		TenantID:        r.TenantID,
		Owner:           r.Owner,
		Operation:       model.OperationType(r.Operation),
		Input:           r.Input,
		Status:          model.TaskStatus(r.Status),
		Progress:        r.Progress,
		Processed:       r.Processed,
		Total:           r.Total,
		Result:          r.Result,
		Error:           r.Error,
		Finished:        r.Finished,
		Hold:            r.Hold,
		CancelRequested: r.CancelRequested,
		ProcessID:       r.ProcessID,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

// Open connects to the database file at path and creates the schema.
func Open(ctx context.Context, path string) (*Queue, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open task queue: %w", err)
	}
	// one writer keeps claims serialised
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create task queue schema: %w", err)
	}
	return &Queue{db: db}, nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

func (q *Queue) Insert(ctx context.Context, t *model.Task) error {
	now := time.Now().UTC()
	created := t.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO tasks (`+columns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, t.Owner, string(t.Operation), t.Input, string(t.Status),
		t.Progress, t.Processed, t.Total, t.Result, t.Error, t.Finished, t.Hold,
		t.CancelRequested, t.ProcessID, created.UTC(), now)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (q *Queue) Get(ctx context.Context, id string) (*model.Task, error) {
	return get(ctx, q.db, id)
}

func get(ctx context.Context, db sqlx.QueryerContext, id string) (*model.Task, error) {
	var r row
	err := sqlx.GetContext(ctx, db, &r, `SELECT `+columns+` FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return r.task(), nil
}

func (q *Queue) List(ctx context.Context, tenantID int, owner string) ([]*model.Task, error) {
	var rows []row
	err := q.db.SelectContext(ctx, &rows,
		`SELECT `+columns+` FROM tasks WHERE tenant_id = ? AND owner = ? ORDER BY created_at, id`,
		tenantID, owner)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks(rows), nil
}

func (q *Queue) Claim(ctx context.Context, processID string) (*model.Task, error) {
	return q.claim(ctx, processID, func(tx *sqlx.Tx) (string, error) {
		var id string
		err := tx.GetContext(ctx, &id,
			`SELECT id FROM tasks WHERE status = ? ORDER BY created_at, id LIMIT 1`, string(model.TaskQueued))
		return id, err
	})
}

func (q *Queue) ClaimID(ctx context.Context, id, processID string) (*model.Task, error) {
	if _, err := q.Get(ctx, id); err != nil {
		return nil, err
	}
	return q.claim(ctx, processID, func(tx *sqlx.Tx) (string, error) {
		var found string
		err := tx.GetContext(ctx, &found,
			`SELECT id FROM tasks WHERE id = ? AND status = ?`, id, string(model.TaskQueued))
		return found, err
	})
}

// claim picks a queued id inside a transaction and switches it to running.
func (q *Queue) claim(ctx context.Context, processID string, pick func(*sqlx.Tx) (string, error)) (*model.Task, error) {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	defer tx.Rollback()

	id, err := pick(tx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, process_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.TaskRunning), processID, time.Now().UTC(), id, string(model.TaskQueued))
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	t, err := get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return t, nil
}

func (q *Queue) Update(ctx context.Context, t *model.Task) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, progress = ?, processed = ?, total = ?, result = ?,
		  error = ?, finished = ?, updated_at = ?
		 WHERE id = ?`,
		string(t.Status), t.Progress, t.Processed, t.Total, t.Result, t.Error, t.Finished,
		time.Now().UTC(), t.ID)
	if err != nil {
		return false, fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, model.ErrTaskNotFound
	}
	var cancel bool
	if err := q.db.GetContext(ctx, &cancel, `SELECT cancel_requested FROM tasks WHERE id = ?`, t.ID); err != nil {
		return false, fmt.Errorf("update task: %w", err)
	}
	return cancel, nil
}

func (q *Queue) RequestCancel(ctx context.Context, id string) error {
	return q.affect(ctx, "cancel task", `UPDATE tasks SET cancel_requested = 1 WHERE id = ?`, id)
}

func (q *Queue) Delete(ctx context.Context, id string) error {
	return q.affect(ctx, "delete task", `DELETE FROM tasks WHERE id = ?`, id)
}

func (q *Queue) affect(ctx context.Context, op, query string, args ...any) error {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrTaskNotFound
	}
	return nil
}

func (q *Queue) Heartbeat(ctx context.Context, processID string, at time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO task_processes (process_id, seen_at) VALUES (?, ?)
		 ON CONFLICT (process_id) DO UPDATE SET seen_at = excluded.seen_at`,
		processID, at.UTC())
	if err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}
	return nil
}

func (q *Queue) Orphaned(ctx context.Context, before time.Time) ([]*model.Task, error) {
	var rows []row
	err := q.db.SelectContext(ctx, &rows,
		`SELECT `+columns+` FROM tasks t
		 WHERE t.status = ?
		   AND NOT EXISTS (
		     SELECT 1 FROM task_processes p
		     WHERE p.process_id = t.process_id AND p.seen_at >= ?)
		 ORDER BY created_at, id`,
		string(model.TaskRunning), before.UTC())
	if err != nil {
		return nil, fmt.Errorf("list orphaned tasks: %w", err)
	}
	return tasks(rows), nil
}

func tasks(rows []row) []*model.Task {
	out := make([]*model.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.task())
	}
	return out
}
