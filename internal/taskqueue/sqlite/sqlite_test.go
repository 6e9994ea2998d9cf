package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"go-docspace/internal/model"
	"go-docspace/internal/taskqueue"
	"go-docspace/internal/taskqueue/queuetest"
)

func open(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(context.Background(), filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestQueue(t *testing.T) {
	queuetest.Run(t, func(t *testing.T) taskqueue.Queue { return open(t) })
}

func TestTasksSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.db")

	q, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, q.Insert(ctx, &model.Task{
		ID: "t1", TenantID: 1, Owner: "u1", Operation: model.OperationDownload,
		Input: "{}", Status: model.TaskQueued, Hold: true,
	}))
	require.NoError(t, q.Close())

	q, err = Open(ctx, path)
	require.NoError(t, err)
	defer q.Close()
	got, err := q.Claim(ctx, "p2")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "t1", got.ID)
	require.True(t, got.Hold)
}
