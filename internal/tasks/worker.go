package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"go-docspace/internal/event"
	"go-docspace/internal/metrics"
	"go-docspace/internal/model"
	"go-docspace/internal/operations"
)

// Run starts the worker pool with its heartbeat and sweep loops and blocks
// until ctx is done and every worker returned.
func (s *Service) Run(ctx context.Context) error {
	slog.Info("task workers started", "workers", s.cfg.Workers, "process_id", s.processID)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.heartbeat(ctx)
		return nil
	})
	g.Go(func() error {
		s.sweepLoop(ctx)
		return nil
	})
	for range s.cfg.Workers {
		g.Go(func() error {
			s.work(ctx)
			return nil
		})
	}
	err := g.Wait()
	slog.Info("task workers stopped", "process_id", s.processID)
	return err
}

func (s *Service) work(ctx context.Context) {
	for ctx.Err() == nil {
		t, err := s.queue.Claim(ctx, s.processID)
		if err != nil && ctx.Err() == nil {
			slog.Warn("claim task", "error", err)
		}
		if t == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			case <-time.After(s.cfg.PollInterval):
			}
			continue
		}
		s.execute(ctx, t)
	}
}

func (s *Service) heartbeat(ctx context.Context) {
	beat := func() {
		if err := s.queue.Heartbeat(ctx, s.processID, time.Now()); err != nil && ctx.Err() == nil {
			slog.Warn("task heartbeat", "error", err)
		}
	}
	beat()
	ticker := time.NewTicker(max(s.cfg.HeartbeatTTL/3, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}

func (s *Service) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("task sweep failed", "error", err)
			}
		}
	}
}

// execute runs a claimed task to its end and stores the final state.
func (s *Service) execute(ctx context.Context, t *model.Task) {
	started := time.Now()
	if err := s.queue.Heartbeat(ctx, s.processID, started); err != nil {
		slog.Warn("task heartbeat", "error", err)
	}
	if t.CancelRequested {
		s.finish(ctx, t, started, true)
		return
	}

	runner, err := s.rebuild(t)
	if err != nil {
		slog.Warn("task input rejected", "task_id", t.ID, "error", err)
		t.Error = err.Error()
		s.finish(ctx, t, started, false)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// stopped tells a requested cancel apart from the process shutting down
	var stopped atomic.Bool
	stop := func() {
		stopped.Store(true)
		cancel()
	}
	s.track(t.ID, stop)
	defer s.untrack(t.ID)

	metrics.TaskStarted(string(t.Operation))
	slog.Info("task started", "task_id", t.ID, "operation", t.Operation, "owner", t.Owner)

	r := &reporter{
		s:        s,
		ctx:      context.WithoutCancel(ctx),
		task:     t,
		cancel:   stop,
		interval: s.cfg.PublishInterval,
	}
	final, err := runSafely(runCtx, runner, r.publish)
	cancelled := runCtx.Err() != nil

	r.mu.Lock()
	if err != nil {
		slog.Error("task panicked", "task_id", t.ID, "error", err)
		t.Error = err.Error()
	} else {
		apply(t, final)
	}
	r.mu.Unlock()

	if ctx.Err() != nil && !stopped.Load() && s.interrupt(ctx, t) {
		return
	}
	s.finish(ctx, t, started, cancelled)
	metrics.TaskFinished(string(t.Operation), string(t.Status), time.Since(started))
}

func (s *Service) rebuild(t *model.Task) (Runner, error) {
	in, err := operations.DecodeInput(t.Input)
	if err != nil {
		return nil, err
	}
	in.TaskID = t.ID
	return s.build(in)
}

func runSafely(ctx context.Context, r Runner, publish func(operations.Status)) (st operations.Status, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("internal error: %v", rec)
		}
	}()
	return r.Run(ctx, publish), nil
}

// interrupt stores the progress of a task stopped by shutdown and leaves it
// running. Once this process's heartbeat expires the sweep fails it. It
// reports false when a cancel was requested meanwhile, so the caller
// finishes the task as cancelled instead.
func (s *Service) interrupt(ctx context.Context, t *model.Task) bool {
	ctx = context.WithoutCancel(ctx)
	t.Status = model.TaskRunning
	t.Finished = false
	cancelRequested, err := s.queue.Update(ctx, t)
	if err != nil {
		slog.Error("interrupted task state not stored", "task_id", t.ID, "error", err)
		return true
	}
	if cancelRequested {
		return false
	}
	slog.Warn("task interrupted by shutdown",
		"task_id", t.ID,
		"operation", t.Operation,
		"processed", t.Processed,
	)
	return true
}

// finish marks t finished, stores it and announces the outcome.
func (s *Service) finish(ctx context.Context, t *model.Task, started time.Time, cancelled bool) {
	ctx = context.WithoutCancel(ctx)
	t.Finished = true
	t.Progress = 100
	switch {
	case cancelled:
		t.Status = model.TaskCancelled
	case t.Error != "":
		t.Status = model.TaskFailed
	default:
		t.Status = model.TaskSucceeded
	}
	if _, err := s.queue.Update(ctx, t); err != nil {
		slog.Error("final task state not stored", "task_id", t.ID, "error", err)
	}

	slog.Info("task finished",
		"task_id", t.ID,
		"operation", t.Operation,
		"status", t.Status,
		"processed", t.Processed,
		"duration", time.Since(started).String(),
	)

	if s.bus == nil {
		return
	}
	s.bus.Publish(event.New(event.TypeTaskFinished, t.Owner, t.TenantID, t.ToResult()))
	if typ, err := integrationEvent(t.Operation); err == nil {
		s.bus.Publish(event.New(typ, t.Owner, t.TenantID, event.OperationPayload{
			ActorID:  t.Owner,
			TenantID: t.TenantID,
			TaskID:   t.ID,
		}))
	}
}

// reporter persists progress snapshots, at most one per interval, and
// stops the run when a cancellation was requested from any process.
type reporter struct {
	s        *Service
	ctx      context.Context
	cancel   context.CancelFunc
	interval time.Duration

	mu   sync.Mutex
	task *model.Task
	last time.Time
}

func (r *reporter) publish(st operations.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	apply(r.task, st)
	now := time.Now()
	if !st.Finished && !r.last.IsZero() && now.Sub(r.last) < r.interval {
		return
	}
	r.last = now

	cancelRequested, err := r.s.queue.Update(r.ctx, r.task)
	if err != nil {
		slog.Warn("task progress not stored", "task_id", r.task.ID, "error", err)
	} else if cancelRequested {
		r.cancel()
	}
	if r.s.bus != nil {
		r.s.bus.Publish(event.New(event.TypeTaskProgress, r.task.Owner, r.task.TenantID, r.task.ToResult()))
	}
}

// apply copies the counters of st onto t. Status and finished flag are set
// by finish.
func apply(t *model.Task, st operations.Status) {
	if st.Progress > t.Progress {
		t.Progress = st.Progress
	}
	t.Processed = st.Processed
	t.Total = st.Total
	t.Result = st.Result
	t.Error = st.Error
}
