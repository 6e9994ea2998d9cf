// Package queuetest checks a taskqueue.Queue implementation against the
// behaviour the task service relies on.
package queuetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-docspace/internal/model"
	"go-docspace/internal/taskqueue"
)

func task(id, owner string, op model.OperationType, created time.Time) *model.Task {
	return &model.Task{
		ID:        id,
		TenantID:  1,
		Owner:     owner,
		Operation: op,
		Input:     `{"task_id":"` + id + `"}`,
		Status:    model.TaskQueued,
		CreatedAt: created,
	}
}

// Run exercises a fresh queue from newQueue in every subtest.
func Run(t *testing.T, newQueue func(t *testing.T) taskqueue.Queue) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

	t.Run("insert get list", func(t *testing.T) {
		q := newQueue(t)
		require.NoError(t, q.Insert(ctx, task("b", "u1", model.OperationCopy, base.Add(time.Second))))
		require.NoError(t, q.Insert(ctx, task("a", "u1", model.OperationMove, base)))
		require.NoError(t, q.Insert(ctx, task("c", "u2", model.OperationDelete, base)))

		got, err := q.Get(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, model.OperationCopy, got.Operation)
		assert.Equal(t, model.TaskQueued, got.Status)
		assert.Equal(t, `{"task_id":"b"}`, got.Input)

		list, err := q.List(ctx, 1, "u1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "a", list[0].ID)
		assert.Equal(t, "b", list[1].ID)

		none, err := q.List(ctx, 2, "u1")
		require.NoError(t, err)
		assert.Empty(t, none)

		_, err = q.Get(ctx, "missing")
		assert.ErrorIs(t, err, model.ErrTaskNotFound)
	})

	t.Run("claim oldest once", func(t *testing.T) {
		q := newQueue(t)
		require.NoError(t, q.Insert(ctx, task("late", "u1", model.OperationCopy, base.Add(time.Minute))))
		require.NoError(t, q.Insert(ctx, task("early", "u1", model.OperationCopy, base)))

		first, err := q.Claim(ctx, "p1")
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, "early", first.ID)
		assert.Equal(t, model.TaskRunning, first.Status)
		assert.Equal(t, "p1", first.ProcessID)

		second, err := q.Claim(ctx, "p2")
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Equal(t, "late", second.ID)

		empty, err := q.Claim(ctx, "p1")
		require.NoError(t, err)
		assert.Nil(t, empty)
	})

	t.Run("claim by id", func(t *testing.T) {
		q := newQueue(t)
		require.NoError(t, q.Insert(ctx, task("a", "u1", model.OperationCopy, base)))
		require.NoError(t, q.Insert(ctx, task("b", "u1", model.OperationCopy, base.Add(time.Second))))

		got, err := q.ClaimID(ctx, "b", "p1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "b", got.ID)

		again, err := q.ClaimID(ctx, "b", "p2")
		require.NoError(t, err)
		assert.Nil(t, again)

		_, err = q.ClaimID(ctx, "missing", "p1")
		assert.ErrorIs(t, err, model.ErrTaskNotFound)
	})

	t.Run("update reports cancel requests", func(t *testing.T) {
		q := newQueue(t)
		require.NoError(t, q.Insert(ctx, task("a", "u1", model.OperationDelete, base)))
		running, err := q.Claim(ctx, "p1")
		require.NoError(t, err)

		running.Progress, running.Processed, running.Total = 50, 1, 2
		running.Result = "file_1"
		cancelled, err := q.Update(ctx, running)
		require.NoError(t, err)
		assert.False(t, cancelled)

		require.NoError(t, q.RequestCancel(ctx, "a"))
		running.Progress, running.Processed = 100, 2
		running.Finished = true
		running.Status = model.TaskCancelled
		running.Error = "partial"
		cancelled, err = q.Update(ctx, running)
		require.NoError(t, err)
		assert.True(t, cancelled)

		got, err := q.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 100, got.Progress)
		assert.Equal(t, 2, got.Processed)
		assert.Equal(t, 2, got.Total)
		assert.Equal(t, "file_1", got.Result)
		assert.Equal(t, "partial", got.Error)
		assert.True(t, got.Finished)
		assert.True(t, got.CancelRequested)
		assert.Equal(t, model.TaskCancelled, got.Status)

		_, err = q.Update(ctx, &model.Task{ID: "missing"})
		assert.ErrorIs(t, err, model.ErrTaskNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		q := newQueue(t)
		require.NoError(t, q.Insert(ctx, task("a", "u1", model.OperationDelete, base)))
		require.NoError(t, q.Delete(ctx, "a"))
		_, err := q.Get(ctx, "a")
		assert.ErrorIs(t, err, model.ErrTaskNotFound)
		assert.ErrorIs(t, q.Delete(ctx, "a"), model.ErrTaskNotFound)
	})

	t.Run("orphaned running tasks", func(t *testing.T) {
		q := newQueue(t)
		now := time.Now().UTC()
		require.NoError(t, q.Insert(ctx, task("alive", "u1", model.OperationCopy, base)))
		require.NoError(t, q.Insert(ctx, task("dead", "u1", model.OperationCopy, base.Add(time.Second))))
		require.NoError(t, q.Insert(ctx, task("ghost", "u1", model.OperationCopy, base.Add(2*time.Second))))
		require.NoError(t, q.Insert(ctx, task("queued", "u1", model.OperationCopy, base.Add(3*time.Second))))

		_, err := q.ClaimID(ctx, "alive", "p-alive")
		require.NoError(t, err)
		_, err = q.ClaimID(ctx, "dead", "p-dead")
		require.NoError(t, err)
		_, err = q.ClaimID(ctx, "ghost", "p-never-seen")
		require.NoError(t, err)

		require.NoError(t, q.Heartbeat(ctx, "p-alive", now))
		require.NoError(t, q.Heartbeat(ctx, "p-dead", now.Add(-time.Hour)))

		orphans, err := q.Orphaned(ctx, now.Add(-time.Minute))
		require.NoError(t, err)
		ids := make([]string, 0, len(orphans))
		for _, o := range orphans {
			ids = append(ids, o.ID)
		}
		assert.ElementsMatch(t, []string{"dead", "ghost"}, ids)

		require.NoError(t, q.Heartbeat(ctx, "p-dead", now))
		orphans, err = q.Orphaned(ctx, now.Add(-time.Minute))
		require.NoError(t, err)
		require.Len(t, orphans, 1)
		assert.Equal(t, "ghost", orphans[0].ID)
	})
}
