// Package lock provides named, tenant-scoped mutual exclusion. Waiters are
// served in arrival order.
package lock

import (
	"context"
	"fmt"
)

// Locker acquires the lock called key and returns its release function.
// Release is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Key scopes name to a tenant.
func Key(tenantID int, name string) string {
	return fmt.Sprintf("%d:%s", tenantID, name)
}

// Do runs fn while holding key.
func Do(ctx context.Context, l Locker, key string, fn func() error) error {
	unlock, err := l.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	defer unlock()
	return fn()
}
