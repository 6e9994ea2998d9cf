// Package tasks runs bulk operations as queued background tasks. Requests
// are published into the task queue; workers in any process claim them,
// rebuild the operation from its stored input and report progress back
// through the queue and the event bus.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-docspace/internal/event"
	"go-docspace/internal/lock"
	"go-docspace/internal/model"
	"go-docspace/internal/operations"
	"go-docspace/internal/taskqueue"
)

// Runner is a rebuilt operation.
type Runner interface {
	Run(ctx context.Context, publish func(operations.Status)) operations.Status
}

// BuildFunc rebuilds the operation described by in.
type BuildFunc func(in operations.Input) (Runner, error)

// FromFactory builds runners with the operations factory.
func FromFactory(f *operations.Factory) BuildFunc {
	return func(in operations.Input) (Runner, error) {
		op, err := f.New(in)
		if err != nil {
			return nil, err
		}
		return op, nil
	}
}

type Config struct {
	Workers int
	// PublishInterval is the minimum gap between two persisted progress
	// snapshots of one task. The final snapshot is always written.
	PublishInterval time.Duration
	// HeartbeatTTL is how long a silent process keeps its running tasks.
	HeartbeatTTL  time.Duration
	SweepInterval time.Duration
	// PollInterval is how often an idle worker looks for queued tasks.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HeartbeatTTL <= 0 {
		c.HeartbeatTTL = time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.HeartbeatTTL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

type Service struct {
	queue     taskqueue.Queue
	build     BuildFunc
	locks     lock.Locker
	bus       event.Bus
	cfg       Config
	processID string

	wake chan struct{}

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewService(queue taskqueue.Queue, build BuildFunc, locks lock.Locker, bus event.Bus, cfg Config) *Service {
	return &Service{
		queue:     queue,
		build:     build,
		locks:     locks,
		bus:       bus,
		cfg:       cfg.withDefaults(),
		processID: uuid.NewString(),
		wake:      make(chan struct{}, 1),
		running:   map[string]context.CancelFunc{},
	}
}

// ProcessID identifies this process in the queue's heartbeat table.
func (s *Service) ProcessID() string { return s.processID }

type publishOptions struct {
	hold bool
}

type PublishOption func(*publishOptions)

// WithHold keeps the finished task listed until it is terminated explicitly.
func WithHold() PublishOption {
	return func(o *publishOptions) { o.hold = true }
}

// Publish validates in, stores it as a queued task and returns the task id.
// A second unfinished download of the same actor is rejected.
func (s *Service) Publish(ctx context.Context, in operations.Input, opts ...PublishOption) (string, error) {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := in.Validate(); err != nil {
		return "", err
	}

	in.TaskID = model.NewTaskID()
	raw, err := in.Encode()
	if err != nil {
		return "", err
	}
	t := &model.Task{
		ID:        in.TaskID,
		TenantID:  in.Actor.TenantID,
		Owner:     in.Actor.Key(),
		Operation: in.Operation,
		Input:     raw,
		Status:    model.TaskQueued,
		Hold:      o.hold,
		CreatedAt: time.Now().UTC(),
	}

	insert := func() error { return s.queue.Insert(ctx, t) }
	if in.Operation == model.OperationDownload {
		key := lock.Key(in.Actor.TenantID, "download:"+t.Owner)
		err = lock.Do(ctx, s.locks, key, func() error {
			if err := s.CheckRunning(ctx, in.Actor); err != nil {
				return err
			}
			return insert()
		})
	} else {
		err = insert()
	}
	if err != nil {
		return "", err
	}

	slog.Info("task published", "task_id", t.ID, "operation", t.Operation, "owner", t.Owner)
	s.signal()
	return t.ID, nil
}

// CheckRunning fails with model.ErrTooManyDownloads while the actor has an
// unfinished download.
func (s *Service) CheckRunning(ctx context.Context, actor model.Actor) error {
	list, err := s.queue.List(ctx, actor.TenantID, actor.Key())
	if err != nil {
		return err
	}
	for _, t := range list {
		if t.Operation == model.OperationDownload && !t.Finished {
			return model.ErrTooManyDownloads
		}
	}
	return nil
}

// Enqueue claims the queued task id and runs it in the calling goroutine.
// A task already claimed elsewhere is left alone.
func (s *Service) Enqueue(ctx context.Context, id string) error {
	t, err := s.queue.ClaimID(ctx, id, s.processID)
	if err != nil {
		return err
	}
	if t == nil {
		slog.Debug("task already claimed", "task_id", id)
		return nil
	}
	s.execute(ctx, t)
	return nil
}

// Poll returns the actor's tasks after sweeping abandoned ones. Finished
// tasks that are not held are removed once they have been returned.
func (s *Service) Poll(ctx context.Context, actor model.Actor) ([]model.OperationResult, error) {
	if _, err := s.Sweep(ctx); err != nil {
		slog.Warn("task sweep failed", "error", err)
	}
	list, err := s.queue.List(ctx, actor.TenantID, actor.Key())
	if err != nil {
		return nil, err
	}
	out := make([]model.OperationResult, 0, len(list))
	for _, t := range list {
		out = append(out, t.ToResult())
		if t.Finished && !t.Hold {
			if err := s.queue.Delete(ctx, t.ID); err != nil && !errors.Is(err, model.ErrTaskNotFound) {
				slog.Warn("finished task not removed", "task_id", t.ID, "error", err)
			}
		}
	}
	return out, nil
}

// Cancel stops the actor's unfinished tasks, or only id when it is given.
// Queued tasks end right away; running ones stop at their next progress
// report, on whatever worker they run. Terminating a finished task by id
// removes it from the list.
func (s *Service) Cancel(ctx context.Context, actor model.Actor, id string) ([]model.OperationResult, error) {
	list, err := s.queue.List(ctx, actor.TenantID, actor.Key())
	if err != nil {
		return nil, err
	}
	if id != "" {
		var match []*model.Task
		for _, t := range list {
			if t.ID == id {
				match = append(match, t)
			}
		}
		if len(match) == 0 {
			return nil, model.ErrTaskNotFound
		}
		list = match
	}

	out := make([]model.OperationResult, 0, len(list))
	for _, t := range list {
		if t.Finished {
			if id != "" {
				if err := s.queue.Delete(ctx, t.ID); err != nil && !errors.Is(err, model.ErrTaskNotFound) {
					return nil, err
				}
			}
			out = append(out, t.ToResult())
			continue
		}

		if err := s.queue.RequestCancel(ctx, t.ID); err != nil {
			if errors.Is(err, model.ErrTaskNotFound) {
				continue
			}
			return nil, err
		}
		s.cancelLocal(t.ID)

		// a queued task is claimed here so no worker starts it
		if claimed, err := s.queue.ClaimID(ctx, t.ID, s.processID); err == nil && claimed != nil {
			s.finish(ctx, claimed, time.Now(), true)
			t = claimed
		} else if err != nil && !errors.Is(err, model.ErrTaskNotFound) {
			slog.Warn("queued task not claimed for cancel", "task_id", t.ID, "error", err)
		}
		slog.Info("task cancel requested", "task_id", t.ID, "owner", t.Owner)
		out = append(out, t.ToResult())
	}
	return out, nil
}

// Sweep finishes running tasks whose process stopped sending heartbeats and
// returns how many it finished.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	orphans, err := s.queue.Orphaned(ctx, time.Now().Add(-s.cfg.HeartbeatTTL))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range orphans {
		if s.isLocal(t.ID) {
			continue
		}
		t.Finished = true
		t.Progress = 100
		t.Status = model.TaskFailed
		if t.Error == "" {
			t.Error = "task abandoned by its worker"
		}
		if _, err := s.queue.Update(ctx, t); err != nil {
			if errors.Is(err, model.ErrTaskNotFound) {
				continue
			}
			return n, err
		}
		slog.Warn("abandoned task swept", "task_id", t.ID, "process_id", t.ProcessID)
		n++
	}
	return n, nil
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) track(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.running[id] = cancel
	s.mu.Unlock()
}

func (s *Service) untrack(id string) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}

func (s *Service) isLocal(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

func (s *Service) cancelLocal(id string) {
	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func integrationEvent(op model.OperationType) (event.Type, error) {
	switch op {
	case model.OperationMove, model.OperationCopy:
		return event.TypeMoveOrCopy, nil
	case model.OperationDelete:
		return event.TypeDelete, nil
	case model.OperationEmptyTrash:
		return event.TypeEmptyTrash, nil
	case model.OperationDownload:
		return event.TypeBulkDownload, nil
	case model.OperationMarkAsRead:
		return event.TypeMarkAsRead, nil
	case model.OperationDuplicate:
		return event.TypeDuplicate, nil
	}
	return "", fmt.Errorf("%w: unknown operation %q", model.ErrInvalidInput, op)
}
