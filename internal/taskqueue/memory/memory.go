// Package memory is a process-local task queue for tests and single-node
// development.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"go-docspace/internal/model"
	"go-docspace/internal/taskqueue"
)

type Queue struct {
	mu        sync.Mutex
	tasks     map[string]*model.Task
	order     []string
	processes map[string]time.Time
}

var _ taskqueue.Queue = (*Queue)(nil)

func New() *Queue {
	return &Queue{
		tasks:     map[string]*model.Task{},
		processes: map[string]time.Time{},
	}
}

func clone(t *model.Task) *model.Task {
	c := *t
	return &c
}

func (q *Queue) Insert(_ context.Context, t *model.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.tasks[t.ID]; ok {
		return &model.FormatError{Value: t.ID, Reason: "task id already exists"}
	}
	now := time.Now().UTC()
	c := clone(t)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	q.tasks[c.ID] = c
	// order stays sorted by creation time
	i := slices.IndexFunc(q.order, func(id string) bool {
		return q.tasks[id].CreatedAt.After(c.CreatedAt)
	})
	if i < 0 {
		i = len(q.order)
	}
	q.order = slices.Insert(q.order, i, c.ID)
	return nil
}

func (q *Queue) Get(_ context.Context, id string) (*model.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return nil, model.ErrTaskNotFound
	}
	return clone(t), nil
}

func (q *Queue) List(_ context.Context, tenantID int, owner string) ([]*model.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*model.Task
	for _, id := range q.order {
		t := q.tasks[id]
		if t.TenantID == tenantID && t.Owner == owner {
			out = append(out, clone(t))
		}
	}
	return out, nil
}

func (q *Queue) Claim(_ context.Context, processID string) (*model.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.order {
		if t := q.tasks[id]; t.Status == model.TaskQueued {
			return q.claim(t, processID), nil
		}
	}
	return nil, nil
}

func (q *Queue) ClaimID(_ context.Context, id, processID string) (*model.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return nil, model.ErrTaskNotFound
	}
	if t.Status != model.TaskQueued {
		return nil, nil
	}
	return q.claim(t, processID), nil
}

func (q *Queue) claim(t *model.Task, processID string) *model.Task {
	t.Status = model.TaskRunning
	t.ProcessID = processID
	t.UpdatedAt = time.Now().UTC()
	return clone(t)
}

func (q *Queue) Update(_ context.Context, t *model.Task) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cur, ok := q.tasks[t.ID]
	if !ok {
		return false, model.ErrTaskNotFound
	}
	cur.Status = t.Status
	cur.Progress = t.Progress
	cur.Processed = t.Processed
	cur.Total = t.Total
	cur.Result = t.Result
	cur.Error = t.Error
	cur.Finished = t.Finished
	cur.UpdatedAt = time.Now().UTC()
	return cur.CancelRequested, nil
}

func (q *Queue) RequestCancel(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return model.ErrTaskNotFound
	}
	t.CancelRequested = true
	return nil
}

func (q *Queue) Delete(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.tasks[id]; !ok {
		return model.ErrTaskNotFound
	}
	delete(q.tasks, id)
	q.order = slices.DeleteFunc(q.order, func(s string) bool { return s == id })
	return nil
}

func (q *Queue) Heartbeat(_ context.Context, processID string, at time.Time) error {
	q.mu.Lock()
	q.processes[processID] = at
	q.mu.Unlock()
	return nil
}

func (q *Queue) Orphaned(_ context.Context, before time.Time) ([]*model.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*model.Task
	for _, id := range q.order {
		t := q.tasks[id]
		if t.Status != model.TaskRunning {
			continue
		}
		seen, ok := q.processes[t.ProcessID]
		if !ok || seen.Before(before) {
			out = append(out, clone(t))
		}
	}
	return out, nil
}
