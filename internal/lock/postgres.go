package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres maps keys onto session-level advisory locks, so the lock holds
// across every process sharing the database. Each held lock pins one pooled
// connection until it is released.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Locker = (*Postgres)(nil)

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Lock(ctx context.Context, key string) (func(), error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	// pg_advisory_lock blocks until granted; the context cancels the wait.
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("advisory lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key); err != nil {
				// A broken session drops its advisory locks with it.
				slog.Warn("advisory unlock failed", "key", key, "error", err)
				conn.Conn().Close(ctx)
			}
			conn.Release()
		})
	}, nil
}
