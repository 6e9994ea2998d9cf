package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"go-docspace/internal/model"
	"go-docspace/internal/store"
)

func (s *Store) GetShares(ctx context.Context, tenantID int, refs ...model.EntryRef) ([]model.Ace, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	keys, types := refArrays(refs)
	rows, err := s.q.Query(ctx,
		`SELECT s.tenant_id, s.entry_key, s.entry_type, s.subject, s.owner, s.share, s.timestamp
		 FROM shares s JOIN unnest($2::text[], $3::int[]) AS r(k, t) ON s.entry_key = r.k AND s.entry_type = r.t
		 WHERE s.tenant_id = $1`, tenantID, keys, types)
	if err != nil {
		return nil, fmt.Errorf("get shares: %w", err)
	}
	defer rows.Close()

	out := make([]model.Ace, 0)
	for rows.Next() {
		var a model.Ace
		if err := rows.Scan(&a.TenantID, &a.Ref.Key, &a.Ref.Type, &a.Subject, &a.Owner, &a.Share, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SetShare(ctx context.Context, ace model.Ace) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO shares (tenant_id, entry_key, entry_type, subject, owner, share)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (tenant_id, entry_key, entry_type, subject)
		 DO UPDATE SET owner = EXCLUDED.owner, share = EXCLUDED.share, timestamp = now()`,
		ace.TenantID, ace.Ref.Key, ace.Ref.Type, ace.Subject, ace.Owner, ace.Share)
	return wrap("set share", err)
}

func (s *Store) DeleteShares(ctx context.Context, tenantID int, refs ...model.EntryRef) error {
	if len(refs) == 0 {
		return nil
	}
	keys, types := refArrays(refs)
	_, err := s.q.Exec(ctx,
		`DELETE FROM shares s USING unnest($2::text[], $3::int[]) AS r(k, t)
		 WHERE s.tenant_id = $1 AND s.entry_key = r.k AND s.entry_type = r.t`, tenantID, keys, types)
	return wrap("delete shares", err)
}

const tagColumns = `id, tenant_id, name, type, owner, entry_key, entry_type, count, create_on`

func scanTags(rows pgx.Rows) ([]model.Tag, error) {
	defer rows.Close()
	out := make([]model.Tag, 0)
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Name, &t.Type, &t.Owner, &t.Ref.Key, &t.Ref.Type, &t.Count, &t.CreateOn); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTags(ctx context.Context, tenantID int, tagType model.TagType, refs ...model.EntryRef) ([]model.Tag, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	keys, types := refArrays(refs)
	rows, err := s.q.Query(ctx,
		`SELECT `+tagColumns+` FROM tags g JOIN unnest($3::text[], $4::int[]) AS r(k, t)
		   ON g.entry_key = r.k AND g.entry_type = r.t
		 WHERE g.tenant_id = $1 AND ($2 = 0 OR g.type = $2)`, tenantID, tagType, keys, types)
	if err != nil {
		return nil, fmt.Errorf("get tags: %w", err)
	}
	return scanTags(rows)
}

func (s *Store) GetOwnerTags(ctx context.Context, tenantID int, owner uuid.UUID, tagType model.TagType) ([]model.Tag, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE tenant_id = $1 AND owner = $2 AND type = $3`, tenantID, owner, tagType)
	if err != nil {
		return nil, fmt.Errorf("get owner tags: %w", err)
	}
	return scanTags(rows)
}

func (s *Store) SaveTag(ctx context.Context, tag model.Tag) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO tags (tenant_id, name, type, owner, entry_key, entry_type, count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tenant_id, type, owner, entry_key, entry_type)
		 DO UPDATE SET name = EXCLUDED.name, count = EXCLUDED.count`,
		tag.TenantID, tag.Name, tag.Type, tag.Owner, tag.Ref.Key, tag.Ref.Type, tag.Count)
	return wrap("save tag", err)
}

func (s *Store) RemoveTag(ctx context.Context, tenantID int, tagType model.TagType, owner uuid.UUID, ref model.EntryRef) error {
	_, err := s.q.Exec(ctx,
		`DELETE FROM tags WHERE tenant_id = $1 AND type = $2 AND owner = $3 AND entry_key = $4 AND entry_type = $5`,
		tenantID, tagType, owner, ref.Key, ref.Type)
	return wrap("remove tag", err)
}

func (s *Store) DeleteTagLinks(ctx context.Context, tenantID int, refs ...model.EntryRef) error {
	if len(refs) == 0 {
		return nil
	}
	keys, types := refArrays(refs)
	_, err := s.q.Exec(ctx,
		`DELETE FROM tags g USING unnest($2::text[], $3::int[]) AS r(k, t)
		 WHERE g.tenant_id = $1 AND g.entry_key = r.k AND g.entry_type = r.t`, tenantID, keys, types)
	return wrap("delete tag links", err)
}

func (s *Store) MapID(ctx context.Context, tenantID int, id string) (string, error) {
	hash := store.HashID(id)
	_, err := s.q.Exec(ctx,
		`INSERT INTO id_mappings (tenant_id, hash, id) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		tenantID, hash, id)
	if err != nil {
		return "", fmt.Errorf("map id: %w", err)
	}
	return hash, nil
}

func (s *Store) ResolveHash(ctx context.Context, tenantID int, hash string) (string, error) {
	var id string
	err := s.q.QueryRow(ctx, `SELECT id FROM id_mappings WHERE tenant_id = $1 AND hash = $2`, tenantID, hash).Scan(&id)
	if err != nil {
		return "", wrap("resolve hash", notFound(err, model.ErrFileNotFound))
	}
	return id, nil
}

func (s *Store) MappedWithPrefix(ctx context.Context, tenantID int, prefix string) ([]string, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id FROM id_mappings WHERE tenant_id = $1 AND starts_with(id, $2) ORDER BY id`, tenantID, prefix)
	if err != nil {
		return nil, fmt.Errorf("mapped with prefix: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("mapped with prefix: %w", err)
	}

	out := ids[:0]
	for _, id := range ids {
		if store.IsNested(id, prefix) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Store) DeleteMappings(ctx context.Context, tenantID int, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	hashes := make([]string, len(ids))
	for i, id := range ids {
		hashes[i] = store.HashID(id)
	}
	_, err := s.q.Exec(ctx, `DELETE FROM id_mappings WHERE tenant_id = $1 AND hash = ANY($2)`, tenantID, hashes)
	return wrap("delete mappings", err)
}

func (s *Store) RewriteID(ctx context.Context, tenantID int, oldID, newID string) error {
	return s.InTx(ctx, func(st store.Store) error {
		tx := st.(*Store)
		if _, err := tx.MapID(ctx, tenantID, oldID); err != nil {
			return err
		}
		nested, err := tx.MappedWithPrefix(ctx, tenantID, oldID)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, id := range nested {
			rewritten := newID + id[len(oldID):]
			oldHash, newHash := store.HashID(id), store.HashID(rewritten)
			batch.Queue(`UPDATE shares SET entry_key = $3 WHERE tenant_id = $1 AND entry_key = $2`, tenantID, oldHash, newHash)
			batch.Queue(`UPDATE tags SET entry_key = $3 WHERE tenant_id = $1 AND entry_key = $2`, tenantID, oldHash, newHash)
			batch.Queue(`DELETE FROM id_mappings WHERE tenant_id = $1 AND hash = $2`, tenantID, oldHash)
			batch.Queue(`INSERT INTO id_mappings (tenant_id, hash, id) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
				tenantID, newHash, rewritten)
		}

		br := tx.q.SendBatch(ctx, batch)
		defer br.Close()
		for range batch.Len() {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("rewrite id %s: %w", oldID, err)
			}
		}
		return nil
	})
}
