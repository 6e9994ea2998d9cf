// Package native implements dao.Dao over the metadata store and a content
// backend. Native ids are integers and never change.
package native

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-docspace/internal/dao"
	"go-docspace/internal/model"
	"go-docspace/internal/storage"
	"go-docspace/internal/store"
)

type Dao struct {
	store    store.Store
	content  storage.Backend
	uploads  *dao.Uploads[int]
	tenantID int
	actor    uuid.UUID
	now      func() time.Time
}

var _ dao.Dao[int] = (*Dao)(nil)

// New binds the dao to one tenant and the user the writes are stamped with.
func New(st store.Store, content storage.Backend, uploads *dao.Uploads[int], tenantID int, actor uuid.UUID) *Dao {
	return &Dao{
		store:    st,
		content:  content,
		uploads:  uploads,
		tenantID: tenantID,
		actor:    actor,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dao) TenantID() int { return d.tenantID }

func (d *Dao) Key(_ context.Context, id int) (string, error) {
	return strconv.Itoa(id), nil
}

func (d *Dao) SameStorage(_, _ int) bool { return true }

// ── Folders ──────────────────────────────────────────────────────

func (d *Dao) GetFolder(ctx context.Context, id int) (*model.Folder[int], error) {
	f, err := d.store.GetFolder(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.TenantID != d.tenantID {
		return nil, model.ErrFolderNotFound
	}
	return f, nil
}

func (d *Dao) GetFolderByTitle(ctx context.Context, parentID int, title string) (*model.Folder[int], error) {
	return d.store.FindFolder(ctx, parentID, title)
}

func (d *Dao) GetParentFolders(ctx context.Context, id int) ([]*model.Folder[int], error) {
	chain, err := d.store.FolderChain(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Folder[int], 0, len(chain))
	for _, fid := range chain {
		f, err := d.store.GetFolder(ctx, fid)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (d *Dao) GetFolders(ctx context.Context, parentID int) ([]*model.Folder[int], error) {
	return d.store.ListFolders(ctx, parentID)
}

func (d *Dao) GetFiles(ctx context.Context, parentID int) ([]*model.File[int], error) {
	return d.store.ListFiles(ctx, parentID)
}

func (d *Dao) ListChildren(ctx context.Context, parentID int, filter dao.Filter) iter.Seq2[model.FileEntry[int], error] {
	return func(yield func(model.FileEntry[int], error) bool) {
		entries := make([]model.FileEntry[int], 0)
		if filter.Type != dao.FilterFilesOnly {
			folders, err := d.store.ListFolders(ctx, parentID)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, f := range folders {
				entries = append(entries, f)
			}
		}
		if filter.Type != dao.FilterFoldersOnly {
			files, err := d.store.ListFiles(ctx, parentID)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, f := range files {
				entries = append(entries, f)
			}
		}

		for _, e := range dao.Apply(entries, filter) {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (d *Dao) CreateFolder(ctx context.Context, parentID int, title string) (*model.Folder[int], error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: folder title is required", model.ErrInvalidInput)
	}
	if _, err := d.GetFolder(ctx, parentID); err != nil {
		return nil, err
	}

	now := d.now()
	id, err := d.store.InsertFolder(ctx, &model.Folder[int]{
		Entry: model.Entry[int]{
			ParentID:   parentID,
			Title:      title,
			TenantID:   d.tenantID,
			CreateBy:   d.actor,
			CreateOn:   now,
			ModifiedBy: d.actor,
			ModifiedOn: now,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create folder %q: %w", title, err)
	}
	return d.store.GetFolder(ctx, id)
}

func (d *Dao) RenameFolder(ctx context.Context, folder *model.Folder[int], title string) (int, error) {
	updated := *folder
	updated.Title = title
	updated.ModifiedBy = d.actor
	updated.ModifiedOn = d.now()
	if err := d.store.UpdateFolder(ctx, &updated); err != nil {
		return 0, fmt.Errorf("rename folder %d: %w", folder.ID, err)
	}
	return folder.ID, nil
}

func (d *Dao) MoveFolder(ctx context.Context, id, toFolderID int) (int, error) {
	chain, err := d.store.FolderChain(ctx, toFolderID)
	if err != nil {
		return 0, err
	}
	if slices.Contains(chain, id) {
		return 0, model.ErrFolderCopy
	}
	if err := d.store.MoveFolder(ctx, id, toFolderID); err != nil {
		return 0, fmt.Errorf("move folder %d: %w", id, err)
	}
	return id, nil
}

func (d *Dao) CopyFolder(ctx context.Context, id, toFolderID int) (*model.Folder[int], error) {
	src, err := d.GetFolder(ctx, id)
	if err != nil {
		return nil, err
	}

	now := d.now()
	shell := &model.Folder[int]{
		Entry: model.Entry[int]{
			ParentID:   toFolderID,
			Title:      src.Title,
			TenantID:   d.tenantID,
			CreateBy:   d.actor,
			CreateOn:   now,
			ModifiedBy: d.actor,
			ModifiedOn: now,
		},
		FolderType: src.FolderType,
		Private:    src.Private,
		HasLogo:    src.HasLogo,
		Color:      src.Color,
		Watermark:  src.Watermark,
	}
	if src.IsRoot() {
		shell.FolderType = model.FolderTypeDefault
	}

	newID, err := d.store.InsertFolder(ctx, shell)
	if err != nil {
		return nil, fmt.Errorf("copy folder %d: %w", id, err)
	}
	return d.store.GetFolder(ctx, newID)
}

// DeleteFolder drops sharing and tag rows of the whole subtree first, then
// the files with their content, then the folders.
func (d *Dao) DeleteFolder(ctx context.Context, id int) error {
	folders, files, err := d.store.Subtree(ctx, id)
	if err != nil {
		return err
	}

	refs := make([]model.EntryRef, 0, len(folders)+len(files)+1)
	refs = append(refs, model.FolderRef(strconv.Itoa(id)))
	for _, fid := range folders {
		refs = append(refs, model.FolderRef(strconv.Itoa(fid)))
	}
	for _, fid := range files {
		refs = append(refs, model.FileRef(strconv.Itoa(fid)))
	}

	if err := d.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.DeleteShares(ctx, d.tenantID, refs...); err != nil {
			return err
		}
		return tx.DeleteTagLinks(ctx, d.tenantID, refs...)
	}); err != nil {
		return fmt.Errorf("delete folder %d metadata: %w", id, err)
	}

	for _, fid := range files {
		versions, err := d.store.DeleteFile(ctx, fid)
		if err != nil {
			return fmt.Errorf("delete file %d: %w", fid, err)
		}
		d.dropContent(ctx, fid, versions)
	}

	return d.store.DeleteFolder(ctx, id)
}

func (d *Dao) IsEmpty(ctx context.Context, id int) (bool, error) {
	f, err := d.GetFolder(ctx, id)
	if err != nil {
		return false, err
	}
	return f.FilesCount == 0 && f.FoldersCount == 0, nil
}

func (d *Dao) CanCalculateSubitems(int) bool { return true }

func (d *Dao) GetItemsCount(ctx context.Context, id int) (int, error) {
	folders, files, err := d.store.Subtree(ctx, id)
	if err != nil {
		return 0, err
	}
	return len(folders) + len(files), nil
}

// UseTrashForRemoveFolder is false for entries already in Trash and for roots.
func (d *Dao) UseTrashForRemoveFolder(folder *model.Folder[int]) bool {
	return folder.RootFolderType != model.FolderTypeTrash && !folder.IsRoot()
}
