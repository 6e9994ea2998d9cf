// Package quota guards the number of active rooms a tenant may have.
package quota

import (
	"context"
	"fmt"
	"log/slog"

	"go-docspace/internal/lock"
	"go-docspace/internal/model"
	"go-docspace/internal/store"
)

const (
	RoomsCounter = "rooms"

	quotaLock = "rooms-quota"
	countLock = "rooms-count-check"
)

// Stats receives the new value of a tenant statistic.
type Stats interface {
	PushStat(ctx context.Context, tenantID int, name string, value int64)
}

type Rooms struct {
	counters store.Counters
	locks    lock.Locker
	stats    Stats
	max      int64
}

// NewRooms returns the room quota. max <= 0 means unlimited; stats may be nil.
func NewRooms(counters store.Counters, locks lock.Locker, stats Stats, max int64) *Rooms {
	return &Rooms{counters: counters, locks: locks, stats: stats, max: max}
}

func (r *Rooms) Count(ctx context.Context, tenantID int) (int64, error) {
	return r.counters.GetCounter(ctx, tenantID, RoomsCounter)
}

// Reserve counts one more active room, failing with ErrRoomsQuota when the
// tenant is at its limit. The limit check runs under the tenant quota lock and
// the increment under the count lock.
func (r *Rooms) Reserve(ctx context.Context, tenantID int) error {
	return lock.Do(ctx, r.locks, lock.Key(tenantID, quotaLock), func() error {
		if r.max > 0 {
			n, err := r.Count(ctx, tenantID)
			if err != nil {
				return fmt.Errorf("read rooms count: %w", err)
			}
			if n >= r.max {
				return fmt.Errorf("%w: %d of %d rooms in use", model.ErrRoomsQuota, n, r.max)
			}
		}
		return r.add(ctx, tenantID, 1)
	})
}

// Release counts one room less, e.g. when it is archived.
func (r *Rooms) Release(ctx context.Context, tenantID int) error {
	return r.add(ctx, tenantID, -1)
}

func (r *Rooms) add(ctx context.Context, tenantID int, delta int64) error {
	var value int64
	err := lock.Do(ctx, r.locks, lock.Key(tenantID, countLock), func() error {
		n, err := r.Count(ctx, tenantID)
		if err != nil {
			return err
		}
		value = max(n+delta, 0)
		return r.counters.SetCounter(ctx, tenantID, RoomsCounter, value)
	})
	if err != nil {
		return fmt.Errorf("update rooms count: %w", err)
	}

	slog.Debug("rooms count changed", "tenant_id", tenantID, "count", value)
	if r.stats != nil {
		r.stats.PushStat(ctx, tenantID, RoomsCounter, value)
	}
	return nil
}
