package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"go-docspace/internal/model"
	"go-docspace/internal/store"
)

const fileColumns = `x.id, x.version, x.version_group, x.tenant_id, x.folder_id, x.title, x.content_length,
	x.comment, x.thumbnail_status, x.locked_by, x.converted_type, x.encrypted,
	x.create_by, x.create_on, x.modified_by, x.modified_on,
	f.root_id, f.root_folder_type, f.root_create_by`

const fileFrom = ` FROM files x JOIN folders f ON f.id = x.folder_id`

func scanFile(row pgx.Row) (*model.File[int], error) {
	var x model.File[int]
	err := row.Scan(&x.ID, &x.Version, &x.VersionGroup, &x.TenantID, &x.ParentID, &x.Title, &x.ContentLength,
		&x.Comment, &x.ThumbnailStatus, &x.LockedBy, &x.ConvertedType, &x.Encrypted,
		&x.CreateBy, &x.CreateOn, &x.ModifiedBy, &x.ModifiedOn,
		&x.RootID, &x.RootFolderType, &x.RootCreateBy)
	if err != nil {
		return nil, err
	}
	return &x, nil
}

func (s *Store) GetFile(ctx context.Context, id int) (*model.File[int], error) {
	x, err := scanFile(s.q.QueryRow(ctx, `SELECT `+fileColumns+fileFrom+` WHERE x.id = $1 AND x.current_version`, id))
	if err != nil {
		return nil, wrap("get file", notFound(err, model.ErrFileNotFound))
	}
	return x, nil
}

func (s *Store) GetFileVersion(ctx context.Context, id, version int) (*model.File[int], error) {
	x, err := scanFile(s.q.QueryRow(ctx, `SELECT `+fileColumns+fileFrom+` WHERE x.id = $1 AND x.version = $2`, id, version))
	if err != nil {
		return nil, wrap("get file version", notFound(err, model.ErrFileNotFound))
	}
	return x, nil
}

func (s *Store) FindFile(ctx context.Context, folderID int, title string) (*model.File[int], error) {
	x, err := scanFile(s.q.QueryRow(ctx,
		`SELECT `+fileColumns+fileFrom+` WHERE x.folder_id = $1 AND x.title = $2 AND x.current_version ORDER BY x.id LIMIT 1`,
		folderID, title))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find file: %w", err)
	}
	return x, nil
}

func (s *Store) ListFiles(ctx context.Context, folderID int) ([]*model.File[int], error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+fileColumns+fileFrom+` WHERE x.folder_id = $1 AND x.current_version ORDER BY x.id`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	items := make([]*model.File[int], 0)
	for rows.Next() {
		x, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		items = append(items, x)
	}
	return items, rows.Err()
}

func (s *Store) InsertFile(ctx context.Context, file *model.File[int]) (int, error) {
	var id int
	err := s.q.QueryRow(ctx,
		`INSERT INTO files (id, version, version_group, current_version, tenant_id, folder_id, title,
		  content_length, comment, locked_by, converted_type, encrypted, create_by, modified_by)
		 VALUES (nextval('files_id_seq'), 1, 1, TRUE, $1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 RETURNING id`,
		file.TenantID, file.ParentID, file.Title, file.ContentLength, file.Comment,
		file.LockedBy, file.ConvertedType, file.Encrypted, file.CreateBy).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert file: %w", err)
	}
	return id, nil
}

func (s *Store) InsertVersion(ctx context.Context, file *model.File[int]) error {
	return s.InTx(ctx, func(st store.Store) error {
		tx := st.(*Store)
		tag, err := tx.q.Exec(ctx, `UPDATE files SET current_version = FALSE WHERE id = $1`, file.ID)
		if err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrFileNotFound
		}

		_, err = tx.q.Exec(ctx,
			`INSERT INTO files (id, version, version_group, current_version, tenant_id, folder_id, title,
			  content_length, comment, locked_by, converted_type, encrypted, create_by, create_on, modified_by, modified_on)
			 VALUES ($1, $2, $3, TRUE, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			file.ID, file.Version, file.VersionGroup, file.TenantID, file.ParentID, file.Title,
			file.ContentLength, file.Comment, file.LockedBy, file.ConvertedType, file.Encrypted,
			file.CreateBy, file.CreateOn, file.ModifiedBy, file.ModifiedOn)
		if err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
		return nil
	})
}

func (s *Store) UpdateFile(ctx context.Context, file *model.File[int]) error {
	batch := &pgx.Batch{}
	batch.Queue(`UPDATE files SET folder_id = $2 WHERE id = $1`, file.ID, file.ParentID)
	batch.Queue(
		`UPDATE files SET title = $2, locked_by = $3, comment = $4, modified_by = $5, modified_on = $6, thumbnail_status = $7,
		        content_length = $8
		 WHERE id = $1 AND current_version`,
		file.ID, file.Title, file.LockedBy, file.Comment, file.ModifiedBy, file.ModifiedOn, file.ThumbnailStatus, file.ContentLength)

	br := s.q.SendBatch(ctx, batch)
	defer br.Close()

	for range 2 {
		tag, err := br.Exec()
		if err != nil {
			return fmt.Errorf("update file: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrFileNotFound
		}
	}
	return nil
}

func (s *Store) DeleteFile(ctx context.Context, id int) ([]int, error) {
	rows, err := s.q.Query(ctx, `DELETE FROM files WHERE id = $1 RETURNING version`, id)
	if err != nil {
		return nil, fmt.Errorf("delete file: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("delete file: %w", err)
	}
	if len(versions) == 0 {
		return nil, model.ErrFileNotFound
	}
	return versions, nil
}
