package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"go-docspace/internal/model"
	"go-docspace/internal/store"
)

const folderColumns = `f.id, f.tenant_id, f.parent_id, f.title, f.folder_type, f.root_id, f.root_folder_type,
	f.root_create_by, f.create_by, f.create_on, f.modified_by, f.modified_on,
	f.private, f.pinned, f.has_logo, f.color, f.watermark,
	(SELECT COUNT(*) FROM files x WHERE x.folder_id = f.id AND x.current_version),
	(SELECT COUNT(*) FROM folders y WHERE y.parent_id = f.id)`

func scanFolder(row pgx.Row) (*model.Folder[int], error) {
	var f model.Folder[int]
	err := row.Scan(&f.ID, &f.TenantID, &f.ParentID, &f.Title, &f.FolderType, &f.RootID, &f.RootFolderType,
		&f.RootCreateBy, &f.CreateBy, &f.CreateOn, &f.ModifiedBy, &f.ModifiedOn,
		&f.Private, &f.Pinned, &f.HasLogo, &f.Color, &f.Watermark,
		&f.FilesCount, &f.FoldersCount)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) GetFolder(ctx context.Context, id int) (*model.Folder[int], error) {
	f, err := scanFolder(s.q.QueryRow(ctx, `SELECT `+folderColumns+` FROM folders f WHERE f.id = $1`, id))
	if err != nil {
		return nil, wrap("get folder", notFound(err, model.ErrFolderNotFound))
	}
	return f, nil
}

func (s *Store) FindFolder(ctx context.Context, parentID int, title string) (*model.Folder[int], error) {
	f, err := scanFolder(s.q.QueryRow(ctx,
		`SELECT `+folderColumns+` FROM folders f WHERE f.parent_id = $1 AND f.title = $2 ORDER BY f.id LIMIT 1`,
		parentID, title))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find folder: %w", err)
	}
	return f, nil
}

func (s *Store) ListFolders(ctx context.Context, parentID int) ([]*model.Folder[int], error) {
	rows, err := s.q.Query(ctx, `SELECT `+folderColumns+` FROM folders f WHERE f.parent_id = $1 ORDER BY f.id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	items := make([]*model.Folder[int], 0)
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

func (s *Store) FolderChain(ctx context.Context, id int) ([]int, error) {
	rows, err := s.q.Query(ctx, `
		WITH RECURSIVE up AS (
			SELECT id, parent_id, 0 AS depth FROM folders WHERE id = $1
			UNION ALL
			SELECT f.id, f.parent_id, up.depth + 1 FROM folders f JOIN up ON f.id = up.parent_id
		)
		SELECT id FROM up ORDER BY depth DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("folder chain: %w", err)
	}
	chain, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("folder chain: %w", err)
	}
	if len(chain) == 0 {
		return nil, model.ErrFolderNotFound
	}
	return chain, nil
}

func (s *Store) FindRoot(ctx context.Context, tenantID int, folderType model.FolderType, owner uuid.UUID) (int, error) {
	var id int
	var err error
	if folderType.OwnerScoped() {
		err = s.q.QueryRow(ctx,
			`SELECT id FROM folders WHERE parent_id = 0 AND tenant_id = $1 AND folder_type = $2 AND create_by = $3 LIMIT 1`,
			tenantID, folderType, owner).Scan(&id)
	} else {
		err = s.q.QueryRow(ctx,
			`SELECT id FROM folders WHERE parent_id = 0 AND tenant_id = $1 AND folder_type = $2 LIMIT 1`,
			tenantID, folderType).Scan(&id)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find root: %w", err)
	}
	return id, nil
}

func (s *Store) InsertFolder(ctx context.Context, folder *model.Folder[int]) (int, error) {
	var id int
	err := s.InTx(ctx, func(st store.Store) error {
		tx := st.(*Store)
		rootID, rootType, rootCreateBy := 0, folder.FolderType, folder.CreateBy
		if folder.ParentID != 0 {
			err := tx.q.QueryRow(ctx,
				`SELECT root_id, root_folder_type, root_create_by FROM folders WHERE id = $1`, folder.ParentID).
				Scan(&rootID, &rootType, &rootCreateBy)
			if err != nil {
				return notFound(err, model.ErrFolderNotFound)
			}
		}

		err := tx.q.QueryRow(ctx,
			`INSERT INTO folders (tenant_id, parent_id, title, folder_type, root_id, root_folder_type, root_create_by,
			  create_by, modified_by, private, pinned, has_logo, color, watermark)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9, $10, $11, $12, $13)
			 RETURNING id`,
			folder.TenantID, folder.ParentID, folder.Title, folder.FolderType, rootID, rootType, rootCreateBy,
			folder.CreateBy, folder.Private, folder.Pinned, folder.HasLogo, folder.Color, folder.Watermark).Scan(&id)
		if err != nil {
			return err
		}

		if folder.ParentID == 0 {
			_, err = tx.q.Exec(ctx, `UPDATE folders SET root_id = id WHERE id = $1`, id)
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert folder: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateFolder(ctx context.Context, folder *model.Folder[int]) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE folders SET title = $2, folder_type = $3, modified_by = $4, modified_on = $5,
		  private = $6, pinned = $7, has_logo = $8, color = $9, watermark = $10
		 WHERE id = $1`,
		folder.ID, folder.Title, folder.FolderType, folder.ModifiedBy, folder.ModifiedOn,
		folder.Private, folder.Pinned, folder.HasLogo, folder.Color, folder.Watermark)
	if err != nil {
		return fmt.Errorf("update folder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrFolderNotFound
	}
	return nil
}

func (s *Store) MoveFolder(ctx context.Context, id, toParentID int) error {
	return s.InTx(ctx, func(st store.Store) error {
		tx := st.(*Store)
		var rootID int
		var rootType model.FolderType
		var rootCreateBy uuid.UUID
		err := tx.q.QueryRow(ctx,
			`SELECT root_id, root_folder_type, root_create_by FROM folders WHERE id = $1`, toParentID).
			Scan(&rootID, &rootType, &rootCreateBy)
		if err != nil {
			return fmt.Errorf("move folder: target: %w", notFound(err, model.ErrFolderNotFound))
		}

		tag, err := tx.q.Exec(ctx,
			`UPDATE folders SET parent_id = $2, modified_on = now() WHERE id = $1`, id, toParentID)
		if err != nil {
			return fmt.Errorf("move folder: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrFolderNotFound
		}

		_, err = tx.q.Exec(ctx, `
			WITH RECURSIVE sub AS (
				SELECT id FROM folders WHERE id = $1
				UNION ALL
				SELECT f.id FROM folders f JOIN sub ON f.parent_id = sub.id
			)
			UPDATE folders SET root_id = $2, root_folder_type = $3, root_create_by = $4
			WHERE id IN (SELECT id FROM sub)`,
			id, rootID, rootType, rootCreateBy)
		if err != nil {
			return fmt.Errorf("move folder: restamp root: %w", err)
		}
		return nil
	})
}

func (s *Store) DeleteFolder(ctx context.Context, id int) error {
	tag, err := s.q.Exec(ctx, `
		WITH RECURSIVE sub AS (
			SELECT id FROM folders WHERE id = $1
			UNION ALL
			SELECT f.id FROM folders f JOIN sub ON f.parent_id = sub.id
		)
		DELETE FROM folders WHERE id IN (SELECT id FROM sub)`, id)
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrFolderNotFound
	}
	return nil
}

func (s *Store) Subtree(ctx context.Context, id int) ([]int, []int, error) {
	rows, err := s.q.Query(ctx, `
		WITH RECURSIVE sub AS (
			SELECT id FROM folders WHERE parent_id = $1
			UNION ALL
			SELECT f.id FROM folders f JOIN sub ON f.parent_id = sub.id
		)
		SELECT id FROM sub ORDER BY id`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("subtree folders: %w", err)
	}
	folders, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, nil, fmt.Errorf("subtree folders: %w", err)
	}

	rows, err = s.q.Query(ctx,
		`SELECT id FROM files WHERE current_version AND folder_id = ANY($1) ORDER BY id`,
		append([]int{id}, folders...))
	if err != nil {
		return nil, nil, fmt.Errorf("subtree files: %w", err)
	}
	files, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, nil, fmt.Errorf("subtree files: %w", err)
	}
	return folders, files, nil
}
