// Package postgres shares the task queue between every process connected to
// the same database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-docspace/internal/model"
	"go-docspace/internal/taskqueue"
)

type Queue struct {
	pool *pgxpool.Pool
}

var _ taskqueue.Queue = (*Queue)(nil)

func New(pool *pgxpool.Pool) *Queue {
	return &Queue{pool: pool}
}

const columns = `id, tenant_id, owner, operation, input, status, progress, processed, total,
	result, error, finished, hold, cancel_requested, process_id, created_at, updated_at`

func scanTask(row pgx.Row) (*model.Task, error) {
	var t model.Task
	err := row.Scan(&t.ID, &t.TenantID, &t.Owner, &t.Operation, &t.Input, &t.Status,
		&t.Progress, &t.Processed, &t.Total, &t.Result, &t.Error, &t.Finished, &t.Hold,
		&t.CancelRequested, &t.ProcessID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func collect(rows pgx.Rows) ([]*model.Task, error) {
	defer rows.Close()
	out := make([]*model.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *Queue) Insert(ctx context.Context, t *model.Task) error {
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := q.pool.Exec(ctx,
		`INSERT INTO tasks (id, tenant_id, owner, operation, input, status, progress, processed,
		  total, result, error, finished, hold, cancel_requested, process_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now())`,
		t.ID, t.TenantID, t.Owner, t.Operation, t.Input, t.Status, t.Progress, t.Processed,
		t.Total, t.Result, t.Error, t.Finished, t.Hold, t.CancelRequested, t.ProcessID, created)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (q *Queue) Get(ctx context.Context, id string) (*model.Task, error) {
	t, err := scanTask(q.pool.QueryRow(ctx, `SELECT `+columns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (q *Queue) List(ctx context.Context, tenantID int, owner string) ([]*model.Task, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT `+columns+` FROM tasks
		 WHERE tenant_id = $1 AND owner = $2
		 ORDER BY created_at, id`, tenantID, owner)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return collect(rows)
}

// Claim locks the oldest queued row with SKIP LOCKED so concurrent workers
// never pick the same task.
func (q *Queue) Claim(ctx context.Context, processID string) (*model.Task, error) {
	t, err := scanTask(q.pool.QueryRow(ctx,
		`UPDATE tasks SET status = $1, process_id = $2, updated_at = now()
		 WHERE id = (
		   SELECT id FROM tasks WHERE status = $3
		   ORDER BY created_at, id
		   FOR UPDATE SKIP LOCKED
		   LIMIT 1)
		 RETURNING `+columns,
		model.TaskRunning, processID, model.TaskQueued))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return t, nil
}

func (q *Queue) ClaimID(ctx context.Context, id, processID string) (*model.Task, error) {
	t, err := scanTask(q.pool.QueryRow(ctx,
		`UPDATE tasks SET status = $1, process_id = $2, updated_at = now()
		 WHERE id = $3 AND status = $4
		 RETURNING `+columns,
		model.TaskRunning, processID, id, model.TaskQueued))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := q.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return t, nil
}

func (q *Queue) Update(ctx context.Context, t *model.Task) (bool, error) {
	var cancel bool
	err := q.pool.QueryRow(ctx,
		`UPDATE tasks SET status = $2, progress = $3, processed = $4, total = $5,
		  result = $6, error = $7, finished = $8, updated_at = now()
		 WHERE id = $1
		 RETURNING cancel_requested`,
		t.ID, t.Status, t.Progress, t.Processed, t.Total, t.Result, t.Error, t.Finished).
		Scan(&cancel)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, model.ErrTaskNotFound
	}
	if err != nil {
		return false, fmt.Errorf("update task: %w", err)
	}
	return cancel, nil
}

func (q *Queue) RequestCancel(ctx context.Context, id string) error {
	tag, err := q.pool.Exec(ctx, `UPDATE tasks SET cancel_requested = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrTaskNotFound
	}
	return nil
}

func (q *Queue) Delete(ctx context.Context, id string) error {
	tag, err := q.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrTaskNotFound
	}
	return nil
}

func (q *Queue) Heartbeat(ctx context.Context, processID string, at time.Time) error {
	_, err := q.pool.Exec(ctx,
		`INSERT INTO task_processes (process_id, seen_at) VALUES ($1, $2)
		 ON CONFLICT (process_id) DO UPDATE SET seen_at = EXCLUDED.seen_at`,
		processID, at)
	if err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}
	return nil
}

func (q *Queue) Orphaned(ctx context.Context, before time.Time) ([]*model.Task, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT `+columns+` FROM tasks t
		 WHERE t.status = $1
		   AND NOT EXISTS (
		     SELECT 1 FROM task_processes p
		     WHERE p.process_id = t.process_id AND p.seen_at >= $2)
		 ORDER BY created_at, id`,
		model.TaskRunning, before)
	if err != nil {
		return nil, fmt.Errorf("list orphaned tasks: %w", err)
	}
	return collect(rows)
}
