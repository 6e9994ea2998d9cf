//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"go-docspace/internal/database"
	"go-docspace/internal/taskqueue"
	"go-docspace/internal/taskqueue/queuetest"
)

func TestQueue(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := database.New(ctx, url, 4, 1)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))

	queuetest.Run(t, func(t *testing.T) taskqueue.Queue {
		_, err := db.Pool.Exec(ctx, `TRUNCATE tasks, task_processes`)
		require.NoError(t, err)
		return New(db.Pool)
	})
}
