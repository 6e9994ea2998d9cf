// Package taskqueue holds the persistence contract of the bulk operation
// queue. The postgres, sqlite and memory subpackages implement it.
package taskqueue

import (
	"context"
	"time"

	"go-docspace/internal/model"
)

// Queue stores tasks and hands queued ones to workers. Get, Update and
// Delete return model.ErrTaskNotFound for unknown ids.
type Queue interface {
	// Insert persists a new task as given.
	Insert(ctx context.Context, t *model.Task) error
	Get(ctx context.Context, id string) (*model.Task, error)
	// List returns the tasks of one owner, oldest first.
	List(ctx context.Context, tenantID int, owner string) ([]*model.Task, error)
	// Claim switches the oldest queued task to running for processID.
	// It returns nil when nothing is queued.
	Claim(ctx context.Context, processID string) (*model.Task, error)
	// ClaimID claims one specific task. It returns nil when the task is no
	// longer queued.
	ClaimID(ctx context.Context, id, processID string) (*model.Task, error)
	// Update writes the progress fields and status of t and reports whether
	// a cancellation was requested meanwhile.
	Update(ctx context.Context, t *model.Task) (cancelRequested bool, err error)
	RequestCancel(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	// Heartbeat records that processID is alive.
	Heartbeat(ctx context.Context, processID string, at time.Time) error
	// Orphaned returns running tasks whose process was last seen before
	// the given time, or never.
	Orphaned(ctx context.Context, before time.Time) ([]*model.Task, error)
}
