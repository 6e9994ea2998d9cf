package lock

import (
	"context"
	"slices"
	"sync"
)

type queue struct {
	held    bool
	waiters []chan struct{}
}

// Local is a process-wide fair lock table.
type Local struct {
	mu    sync.Mutex
	locks map[string]*queue
}

var _ Locker = (*Local)(nil)

func NewLocal() *Local {
	return &Local{locks: make(map[string]*queue)}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	q, ok := l.locks[key]
	if !ok {
		q = &queue{}
		l.locks[key] = q
	}
	if !q.held {
		q.held = true
		l.mu.Unlock()
		return l.releaser(key), nil
	}
	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return l.releaser(key), nil
	case <-ctx.Done():
		l.mu.Lock()
		i := slices.Index(q.waiters, ch)
		if i >= 0 {
			q.waiters = slices.Delete(q.waiters, i, i+1)
			l.mu.Unlock()
			return nil, ctx.Err()
		}
		l.mu.Unlock()
		// The lock was handed over while we gave up: pass it on.
		l.release(key)
		return nil, ctx.Err()
	}
}

func (l *Local) releaser(key string) func() {
	var once sync.Once
	return func() { once.Do(func() { l.release(key) }) }
}

func (l *Local) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	q, ok := l.locks[key]
	if !ok {
		return
	}
	if len(q.waiters) > 0 {
		next := q.waiters[0]
		q.waiters = q.waiters[1:]
		close(next)
		return
	}
	delete(l.locks, key)
}
