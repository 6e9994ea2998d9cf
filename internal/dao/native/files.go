package native

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"go-docspace/internal/dao"
	"go-docspace/internal/model"
	"go-docspace/internal/storage"
	"go-docspace/internal/store"
)

// ContentKey is where version of file id keeps its bytes.
func ContentKey(tenantID, id, version int) string {
	return fmt.Sprintf("files/%d/%d/v%d", tenantID, id, version)
}

func (d *Dao) GetFile(ctx context.Context, id int) (*model.File[int], error) {
	f, err := d.store.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.TenantID != d.tenantID {
		return nil, model.ErrFileNotFound
	}
	return f, nil
}

func (d *Dao) GetFileByTitle(ctx context.Context, folderID int, title string) (*model.File[int], error) {
	return d.store.FindFile(ctx, folderID, title)
}

func (d *Dao) OpenReadStream(ctx context.Context, file *model.File[int], offset int64) (io.ReadCloser, error) {
	rc, _, err := d.content.GetObject(ctx, ContentKey(d.tenantID, file.ID, file.Version), offset)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("content of file %d v%d: %w", file.ID, file.Version, model.ErrFileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open file %d: %w", file.ID, err)
	}
	return rc, nil
}

func (d *Dao) SaveFile(ctx context.Context, file *model.File[int], content io.Reader, size int64) (*model.File[int], error) {
	if file.ID == 0 {
		return d.createFile(ctx, file, content, size)
	}
	return d.saveVersion(ctx, file, content, size)
}

func (d *Dao) createFile(ctx context.Context, file *model.File[int], content io.Reader, size int64) (*model.File[int], error) {
	if strings.TrimSpace(file.Title) == "" {
		return nil, fmt.Errorf("%w: file title is required", model.ErrInvalidInput)
	}
	if _, err := d.GetFolder(ctx, file.ParentID); err != nil {
		return nil, err
	}

	now := d.now()
	row := *file
	row.TenantID = d.tenantID
	row.CreateBy, row.ModifiedBy = d.actor, d.actor
	row.CreateOn, row.ModifiedOn = now, now
	row.ContentLength = max(size, 0)

	id, err := d.store.InsertFile(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("create file %q: %w", file.Title, err)
	}

	counter := &countingReader{r: content}
	if err := d.content.PutObject(ctx, ContentKey(d.tenantID, id, 1), counter, size); err != nil {
		if _, derr := d.store.DeleteFile(ctx, id); derr != nil {
			slog.Warn("rollback of file row failed", "file_id", id, "error", derr)
		}
		return nil, fmt.Errorf("store content of %q: %w", file.Title, err)
	}

	created, err := d.store.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if size < 0 {
		created.ContentLength = counter.n
		if err := d.store.UpdateFile(ctx, created); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// saveVersion stores content as version+1 of file.ID. The id is kept.
func (d *Dao) saveVersion(ctx context.Context, file *model.File[int], content io.Reader, size int64) (*model.File[int], error) {
	cur, err := d.GetFile(ctx, file.ID)
	if err != nil {
		return nil, err
	}

	next := *cur
	next.Version = cur.Version + 1
	next.VersionGroup = cur.VersionGroup + 1
	next.ModifiedBy = d.actor
	next.ModifiedOn = d.now()
	next.ThumbnailStatus = model.ThumbnailWaiting
	if file.ConvertedType != "" {
		next.ConvertedType = file.ConvertedType
	}

	key := ContentKey(d.tenantID, cur.ID, next.Version)
	counter := &countingReader{r: content}
	if err := d.content.PutObject(ctx, key, counter, size); err != nil {
		return nil, fmt.Errorf("store version %d of file %d: %w", next.Version, cur.ID, err)
	}
	next.ContentLength = counter.n

	if err := d.store.InsertVersion(ctx, &next); err != nil {
		if derr := d.content.DeleteObject(ctx, key); derr != nil {
			slog.Warn("rollback of version content failed", "key", key, "error", derr)
		}
		return nil, fmt.Errorf("save version of file %d: %w", cur.ID, err)
	}
	return d.store.GetFile(ctx, cur.ID)
}

func (d *Dao) RenameFile(ctx context.Context, file *model.File[int], title string) (int, error) {
	cur, err := d.GetFile(ctx, file.ID)
	if err != nil {
		return 0, err
	}
	cur.Title = title
	cur.ModifiedBy = d.actor
	cur.ModifiedOn = d.now()
	if err := d.store.UpdateFile(ctx, cur); err != nil {
		return 0, fmt.Errorf("rename file %d: %w", file.ID, err)
	}
	return file.ID, nil
}

func (d *Dao) MoveFile(ctx context.Context, id, toFolderID int) (int, error) {
	cur, err := d.GetFile(ctx, id)
	if err != nil {
		return 0, err
	}
	if _, err := d.GetFolder(ctx, toFolderID); err != nil {
		return 0, err
	}
	cur.ParentID = toFolderID
	cur.ModifiedBy = d.actor
	cur.ModifiedOn = d.now()
	if err := d.store.UpdateFile(ctx, cur); err != nil {
		return 0, fmt.Errorf("move file %d: %w", id, err)
	}
	return id, nil
}

// CopyFile copies the current version server-side in the content backend.
func (d *Dao) CopyFile(ctx context.Context, id, toFolderID int) (*model.File[int], error) {
	src, err := d.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := d.GetFolder(ctx, toFolderID); err != nil {
		return nil, err
	}

	now := d.now()
	row := &model.File[int]{
		Entry: model.Entry[int]{
			ParentID:   toFolderID,
			Title:      src.Title,
			TenantID:   d.tenantID,
			CreateBy:   d.actor,
			CreateOn:   now,
			ModifiedBy: d.actor,
			ModifiedOn: now,
			Encrypted:  src.Encrypted,
		},
		ContentLength: src.ContentLength,
		Comment:       src.Comment,
		ConvertedType: src.ConvertedType,
	}

	newID, err := d.store.InsertFile(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("copy file %d: %w", id, err)
	}
	if err := d.content.CopyObject(ctx, ContentKey(d.tenantID, src.ID, src.Version), ContentKey(d.tenantID, newID, 1)); err != nil {
		if _, derr := d.store.DeleteFile(ctx, newID); derr != nil {
			slog.Warn("rollback of copied file row failed", "file_id", newID, "error", derr)
		}
		return nil, fmt.Errorf("copy content of file %d: %w", id, err)
	}
	return d.store.GetFile(ctx, newID)
}

func (d *Dao) DeleteFile(ctx context.Context, id int) error {
	ref := model.FileRef(strconv.Itoa(id))
	if err := d.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.DeleteShares(ctx, d.tenantID, ref); err != nil {
			return err
		}
		return tx.DeleteTagLinks(ctx, d.tenantID, ref)
	}); err != nil {
		return fmt.Errorf("delete file %d metadata: %w", id, err)
	}

	versions, err := d.store.DeleteFile(ctx, id)
	if err != nil {
		return err
	}
	d.dropContent(ctx, id, versions)
	return nil
}

func (d *Dao) UseTrashForRemoveFile(file *model.File[int]) bool {
	return file.RootFolderType != model.FolderTypeTrash
}

// dropContent removes version objects. Failures leave garbage, not broken
// metadata, so they are only logged.
func (d *Dao) dropContent(ctx context.Context, id int, versions []int) {
	for _, v := range versions {
		key := ContentKey(d.tenantID, id, v)
		if err := d.content.DeleteObject(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			slog.Warn("delete file content failed", "key", key, "error", err)
		}
	}
}

// ── Chunked upload ───────────────────────────────────────────────

func (d *Dao) CreateUploadSession(ctx context.Context, file *model.File[int], contentLength int64) (*dao.UploadSession[int], error) {
	if file.ID == 0 {
		if _, err := d.GetFolder(ctx, file.ParentID); err != nil {
			return nil, err
		}
	}
	return d.uploads.Create(file, contentLength)
}

func (d *Dao) UploadChunk(_ context.Context, session *dao.UploadSession[int], chunk io.Reader, length int64) error {
	return d.uploads.Append(session, chunk, length)
}

func (d *Dao) FinalizeUpload(ctx context.Context, session *dao.UploadSession[int]) (*model.File[int], error) {
	rc, err := d.uploads.Open(session)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	saved, err := d.SaveFile(ctx, session.File, rc, session.ContentLength)
	if err != nil {
		return nil, err
	}
	d.uploads.Remove(session)
	return saved, nil
}

func (d *Dao) AbortUpload(_ context.Context, session *dao.UploadSession[int]) error {
	d.uploads.Remove(session)
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
