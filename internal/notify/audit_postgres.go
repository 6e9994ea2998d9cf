package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresWriter struct {
	pool *pgxpool.Pool
}

func NewPostgresWriter(pool *pgxpool.Pool) *PostgresWriter {
	return &PostgresWriter{pool: pool}
}

func (w *PostgresWriter) Write(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		var headers []byte
		if len(e.Headers) > 0 {
			var err error
			if headers, err = json.Marshal(e.Headers); err != nil {
				return fmt.Errorf("marshal audit headers: %w", err)
			}
		}
		batch.Queue(
			`INSERT INTO audit_entries (tenant_id, action, actor, target, titles, headers, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.TenantID, string(e.Action), e.Actor, e.Target, strings.Join(e.Titles, "|"), headers, e.OccurredAt)
	}

	br := w.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("log audit entry: %w", err)
		}
	}
	return nil
}
