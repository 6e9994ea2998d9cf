package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"go-docspace/internal/model"
)

const linkColumns = `id, tenant_id, provider, title, credentials, token, url, folder_id, folder_type, room_type,
	owner, private, has_logo, color, create_on, modified_on`

func scanLink(row pgx.Row) (*model.ProviderLink, error) {
	var l model.ProviderLink
	err := row.Scan(&l.ID, &l.TenantID, &l.Provider, &l.Title, &l.Credentials, &l.Token, &l.URL, &l.FolderID,
		&l.FolderType, &l.RoomType, &l.Owner, &l.Private, &l.HasLogo, &l.Color, &l.CreateOn, &l.ModifiedOn)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) GetLink(ctx context.Context, id int) (*model.ProviderLink, error) {
	l, err := scanLink(s.q.QueryRow(ctx, `SELECT `+linkColumns+` FROM provider_links WHERE id = $1`, id))
	if err != nil {
		return nil, wrap("get link", notFound(err, model.ErrLinkNotFound))
	}
	return l, nil
}

func (s *Store) ListLinks(ctx context.Context, tenantID int, owner uuid.UUID) ([]*model.ProviderLink, error) {
	query := `SELECT ` + linkColumns + ` FROM provider_links WHERE tenant_id = $1`
	args := []any{tenantID}
	if owner != uuid.Nil {
		query += ` AND owner = $2`
		args = append(args, owner)
	}

	rows, err := s.q.Query(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	out := make([]*model.ProviderLink, 0)
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) SaveLink(ctx context.Context, link *model.ProviderLink) (int, error) {
	if link.ID == 0 {
		var id int
		err := s.q.QueryRow(ctx,
			`INSERT INTO provider_links (tenant_id, provider, title, credentials, token, url, folder_id, folder_type,
			  room_type, owner, private, has_logo, color)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			 RETURNING id`,
			link.TenantID, link.Provider, link.Title, link.Credentials, link.Token, link.URL, link.FolderID,
			link.FolderType, link.RoomType, link.Owner, link.Private, link.HasLogo, link.Color).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("insert link: %w", err)
		}
		return id, nil
	}

	tag, err := s.q.Exec(ctx,
		`UPDATE provider_links SET title = $2, credentials = $3, token = $4, url = $5, folder_id = $6,
		  folder_type = $7, room_type = $8, private = $9, has_logo = $10, color = $11, modified_on = now()
		 WHERE id = $1`,
		link.ID, link.Title, link.Credentials, link.Token, link.URL, link.FolderID,
		link.FolderType, link.RoomType, link.Private, link.HasLogo, link.Color)
	if err != nil {
		return 0, fmt.Errorf("update link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, model.ErrLinkNotFound
	}
	return link.ID, nil
}

func (s *Store) UpdateToken(ctx context.Context, id int, token string) error {
	tag, err := s.q.Exec(ctx, `UPDATE provider_links SET token = $2, modified_on = now() WHERE id = $1`, id, token)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrLinkNotFound
	}
	return nil
}

func (s *Store) DeleteLink(ctx context.Context, id int) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM provider_links WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrLinkNotFound
	}
	return nil
}

func (s *Store) GetCounter(ctx context.Context, tenantID int, name string) (int64, error) {
	var v int64
	err := s.q.QueryRow(ctx, `SELECT value FROM tenant_counters WHERE tenant_id = $1 AND name = $2`, tenantID, name).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get counter: %w", err)
	}
	return v, nil
}

func (s *Store) SetCounter(ctx context.Context, tenantID int, name string, value int64) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO tenant_counters (tenant_id, name, value) VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, name) DO UPDATE SET value = EXCLUDED.value`, tenantID, name, value)
	return wrap("set counter", err)
}
