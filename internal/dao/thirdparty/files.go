package thirdparty

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go-docspace/internal/dao"
	"go-docspace/internal/model"
	"go-docspace/internal/provider"
	"go-docspace/internal/selector"
)

func (d *Dao) GetFile(ctx context.Context, id string) (*model.File[string], error) {
	t, err := d.open(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.id.IsRoot() {
		return nil, model.ErrFileNotFound
	}
	it, err := t.storage.Get(ctx, t.id.Path)
	if err != nil {
		return nil, fileErr(err)
	}
	if it.Folder {
		return nil, model.ErrFileNotFound
	}
	return d.file(t, it), nil
}

func (d *Dao) GetFileByTitle(ctx context.Context, folderID, title string) (*model.File[string], error) {
	files, err := d.GetFiles(ctx, folderID)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if strings.EqualFold(f.Title, title) {
			return f, nil
		}
	}
	return nil, nil
}

func (d *Dao) OpenReadStream(ctx context.Context, file *model.File[string], offset int64) (io.ReadCloser, error) {
	t, err := d.open(ctx, file.ID)
	if err != nil {
		return nil, err
	}
	rc, err := t.storage.Download(ctx, t.id.Path, offset)
	if err != nil {
		return nil, fileErr(err)
	}
	return rc, nil
}

// SaveFile uploads a new file under file.ParentID when file.ID is empty and
// replaces the content of file.ID otherwise.
func (d *Dao) SaveFile(ctx context.Context, file *model.File[string], content io.Reader, size int64) (*model.File[string], error) {
	if file.ID == "" {
		if strings.TrimSpace(file.Title) == "" {
			return nil, fmt.Errorf("%w: file title is empty", model.ErrInvalidInput)
		}
		t, err := d.open(ctx, file.ParentID)
		if err != nil {
			return nil, err
		}
		it, err := t.storage.Upload(ctx, t.id.Path, file.Title, content, size)
		if err != nil {
			return nil, folderErr(err)
		}
		return d.file(t, it), nil
	}

	t, err := d.open(ctx, file.ID)
	if err != nil {
		return nil, err
	}
	it, err := t.storage.Replace(ctx, t.id.Path, content, size)
	if err != nil {
		return nil, fileErr(err)
	}
	saved := d.file(t, it)
	saved.Version = file.Version + 1
	saved.VersionGroup = file.VersionGroup + 1
	if err := d.rewrite(ctx, t, file.ID, saved.ID); err != nil {
		return nil, err
	}
	return saved, nil
}

func (d *Dao) RenameFile(ctx context.Context, file *model.File[string], title string) (string, error) {
	t, err := d.open(ctx, file.ID)
	if err != nil {
		return "", err
	}
	it, err := t.storage.Rename(ctx, t.id.Path, title)
	if err != nil {
		return "", fileErr(err)
	}
	newID := t.encode(it.ID)
	return newID, d.rewrite(ctx, t, file.ID, newID)
}

func (d *Dao) MoveFile(ctx context.Context, id, toFolderID string) (string, error) {
	if !d.SameStorage(id, toFolderID) {
		return "", fmt.Errorf("%w: move across storages needs a transfer", model.ErrInvalidInput)
	}
	t, err := d.open(ctx, id)
	if err != nil {
		return "", err
	}
	to, err := selector.Decode(toFolderID)
	if err != nil {
		return "", err
	}
	it, err := t.storage.Move(ctx, t.id.Path, to.Path)
	if err != nil {
		return "", fileErr(err)
	}
	newID := t.encode(it.ID)
	return newID, d.rewrite(ctx, t, id, newID)
}

// CopyFile copies server-side when the provider can, and streams the content
// through otherwise.
func (d *Dao) CopyFile(ctx context.Context, id, toFolderID string) (*model.File[string], error) {
	if !d.SameStorage(id, toFolderID) {
		return nil, fmt.Errorf("%w: copy across storages needs a transfer", model.ErrInvalidInput)
	}
	t, err := d.open(ctx, id)
	if err != nil {
		return nil, err
	}
	to, err := selector.Decode(toFolderID)
	if err != nil {
		return nil, err
	}

	if t.caps().ServerCopy {
		it, err := t.storage.Copy(ctx, t.id.Path, to.Path)
		if err != nil {
			return nil, fileErr(err)
		}
		return d.file(t, it), nil
	}

	src, err := t.storage.Get(ctx, t.id.Path)
	if err != nil {
		return nil, fileErr(err)
	}
	rc, err := t.storage.Download(ctx, t.id.Path, 0)
	if err != nil {
		return nil, fileErr(err)
	}
	defer rc.Close()
	it, err := t.storage.Upload(ctx, to.Path, src.Name, rc, src.Size)
	if err != nil {
		return nil, folderErr(err)
	}
	return d.file(t, it), nil
}

// DeleteFile drops the file's metadata, then the provider content.
func (d *Dao) DeleteFile(ctx context.Context, id string) error {
	t, err := d.open(ctx, id)
	if err != nil {
		return err
	}
	if err := d.purge(ctx, id, nil); err != nil {
		return err
	}
	if err := t.storage.Delete(ctx, t.id.Path); err != nil {
		return fileErr(err)
	}
	return nil
}

func (d *Dao) UseTrashForRemoveFile(file *model.File[string]) bool {
	t, err := d.open(context.Background(), file.ID)
	if err != nil {
		return false
	}
	return t.caps().Trash
}

// ── Chunked upload ───────────────────────────────────────────────

// CreateUploadSession runs the provider's resumable upload when it has one
// and buffers chunks locally otherwise.
func (d *Dao) CreateUploadSession(ctx context.Context, file *model.File[string], contentLength int64) (*dao.UploadSession[string], error) {
	t, err := d.open(ctx, file.ParentID)
	if err != nil {
		return nil, err
	}
	up, ok := provider.UploaderOf(t.storage)
	if !ok {
		return d.uploads.Create(file, contentLength)
	}
	if contentLength <= 0 {
		return nil, fmt.Errorf("%w: content length must be positive", model.ErrInvalidInput)
	}
	remote, err := up.StartUpload(ctx, t.id.Path, file.Title, contentLength)
	if err != nil {
		return nil, err
	}
	return d.uploads.CreateRemote(file, contentLength, remote)
}

func (d *Dao) UploadChunk(ctx context.Context, session *dao.UploadSession[string], chunk io.Reader, length int64) error {
	if session.ProviderSession == "" {
		return d.uploads.Append(session, chunk, length)
	}
	up, t, err := d.uploader(ctx, session)
	if err != nil {
		return err
	}
	offset, err := session.Reserve(length)
	if err != nil {
		return err
	}
	if err := up.UploadPart(ctx, session.ProviderSession, offset, chunk, length); err != nil {
		return fmt.Errorf("upload part to %s: %w", t.link.Provider, err)
	}
	session.Commit(length)
	return nil
}

func (d *Dao) FinalizeUpload(ctx context.Context, session *dao.UploadSession[string]) (*model.File[string], error) {
	if session.ProviderSession == "" {
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

	if !session.Complete() {
		return nil, fmt.Errorf("%w: upload incomplete: received %d of %d bytes", model.ErrInvalidInput, session.BytesUploaded, session.ContentLength)
	}
	up, t, err := d.uploader(ctx, session)
	if err != nil {
		return nil, err
	}
	it, err := up.FinishUpload(ctx, session.ProviderSession, t.id.Path, session.File.Title, session.ContentLength)
	if err != nil {
		return nil, err
	}
	d.uploads.Remove(session)
	return d.file(t, it), nil
}

func (d *Dao) AbortUpload(ctx context.Context, session *dao.UploadSession[string]) error {
	defer d.uploads.Remove(session)
	if session.ProviderSession == "" {
		return nil
	}
	up, _, err := d.uploader(ctx, session)
	if err != nil {
		return err
	}
	return up.AbortUpload(ctx, session.ProviderSession)
}

func (d *Dao) uploader(ctx context.Context, session *dao.UploadSession[string]) (provider.ChunkedUploader, *target, error) {
	t, err := d.open(ctx, session.File.ParentID)
	if err != nil {
		return nil, nil, err
	}
	up, ok := provider.UploaderOf(t.storage)
	if !ok {
		return nil, nil, errors.New("provider lost its resumable upload support")
	}
	return up, t, nil
}
