// Package thirdparty implements dao.Dao[string] over provider sessions.
// Entry ids are selector strings; metadata rows key off their stable hash,
// which is rewritten whenever a path-derived id changes.
package thirdparty

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"go-docspace/internal/dao"
	"go-docspace/internal/model"
	"go-docspace/internal/provider"
	"go-docspace/internal/selector"
	"go-docspace/internal/store"
)

// maxDepth bounds parent-chain walks against provider cycles.
const maxDepth = 256

// Sessions is the slice of provider.SessionCache the dao needs.
type Sessions interface {
	Acquire(ctx context.Context, link *model.ProviderLink) (provider.Storage, error)
	Invalidate(sel selector.Selector, linkID int, entityID string, isFile bool)
	Drop(linkID int)
}

type Dao struct {
	store    store.Store
	sessions Sessions
	uploads  *dao.Uploads[string]
	tenantID int

	mu    sync.Mutex
	links map[int]*model.ProviderLink
}

var _ dao.Dao[string] = (*Dao)(nil)

func New(st store.Store, sessions Sessions, uploads *dao.Uploads[string], tenantID int) *Dao {
	return &Dao{
		store:    st,
		sessions: sessions,
		uploads:  uploads,
		tenantID: tenantID,
		links:    make(map[int]*model.ProviderLink),
	}
}

func (d *Dao) TenantID() int { return d.tenantID }

// Key maps id to the hash its sharing and tag rows are stored under.
func (d *Dao) Key(ctx context.Context, id string) (string, error) {
	return d.store.MapID(ctx, d.tenantID, id)
}

// SameStorage holds for ids of one provider link.
func (d *Dao) SameStorage(a, b string) bool {
	x, err := selector.Decode(a)
	if err != nil {
		return false
	}
	y, err := selector.Decode(b)
	if err != nil {
		return false
	}
	return x.Selector == y.Selector && x.LinkID == y.LinkID
}

// ── Resolution ───────────────────────────────────────────────────

// target is a decoded id bound to its link and open session.
type target struct {
	id      selector.ID
	link    *model.ProviderLink
	storage provider.Storage
}

func (t *target) encode(nativeID string) string {
	return selector.Encode(t.id.Selector, t.link.ID, nativeID)
}

func (t *target) caps() provider.Capabilities { return t.storage.Capabilities() }

func (d *Dao) link(ctx context.Context, linkID int) (*model.ProviderLink, error) {
	d.mu.Lock()
	l, ok := d.links[linkID]
	d.mu.Unlock()
	if ok {
		return l, nil
	}

	l, err := d.store.GetLink(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if l.TenantID != d.tenantID {
		return nil, model.ErrLinkNotFound
	}

	d.mu.Lock()
	d.links[linkID] = l
	d.mu.Unlock()
	return l, nil
}

func (d *Dao) forget(linkID int) {
	d.mu.Lock()
	delete(d.links, linkID)
	d.mu.Unlock()
}

func (d *Dao) open(ctx context.Context, raw string) (*target, error) {
	id, err := selector.Decode(raw)
	if err != nil {
		return nil, err
	}
	l, err := d.link(ctx, id.LinkID)
	if err != nil {
		return nil, err
	}
	if sel, ok := selector.For(l.Provider); !ok || sel != id.Selector {
		return nil, &model.FormatError{Value: raw, Reason: "selector does not match the link provider"}
	}
	s, err := d.sessions.Acquire(ctx, l)
	if err != nil {
		return nil, err
	}
	return &target{id: id, link: l, storage: s}, nil
}

// ── Conversion ───────────────────────────────────────────────────

func (d *Dao) entry(t *target, it *provider.Item) model.Entry[string] {
	e := model.Entry[string]{
		ID:             t.encode(it.ID),
		Title:          it.Name,
		TenantID:       d.tenantID,
		RootID:         t.encode(""),
		RootFolderType: t.link.FolderType,
		RootCreateBy:   t.link.Owner,
		CreateBy:       t.link.Owner,
		CreateOn:       it.Created,
		ModifiedBy:     t.link.Owner,
		ModifiedOn:     it.Modified,
		ProviderID:     t.link.ID,
		ProviderKey:    t.link.Provider,
		ProviderEntry:  true,
	}
	if it.ID != "" {
		e.ParentID = t.encode(it.ParentID)
	}
	if e.CreateOn.IsZero() {
		e.CreateOn = t.link.CreateOn
	}
	if e.ModifiedOn.IsZero() {
		e.ModifiedOn = e.CreateOn
	}
	return e
}

func (d *Dao) folder(t *target, it *provider.Item) *model.Folder[string] {
	f := &model.Folder[string]{Entry: d.entry(t, it)}
	if it.ID == "" {
		f.Title = t.link.Title
		f.Private = t.link.Private
		f.HasLogo = t.link.HasLogo
		f.Color = t.link.Color
		if t.link.IsRoom() {
			f.FolderType = t.link.RoomType
		}
	}
	return f
}

func (d *Dao) file(t *target, it *provider.Item) *model.File[string] {
	return &model.File[string]{
		Entry:           d.entry(t, it),
		Version:         1,
		VersionGroup:    1,
		ContentLength:   it.Size,
		ThumbnailStatus: model.ThumbnailNotRequired,
	}
}

func folderErr(err error) error {
	if errors.Is(err, provider.ErrNotFound) {
		return fmt.Errorf("%w: %w", model.ErrFolderNotFound, err)
	}
	return err
}

func fileErr(err error) error {
	if errors.Is(err, provider.ErrNotFound) {
		return fmt.Errorf("%w: %w", model.ErrFileNotFound, err)
	}
	return err
}

// rewrite carries metadata over when a path-derived id changed.
func (d *Dao) rewrite(ctx context.Context, t *target, oldID, newID string) error {
	if oldID == newID || !t.caps().MutableEntityID {
		return nil
	}
	if err := d.store.RewriteID(ctx, d.tenantID, oldID, newID); err != nil {
		return fmt.Errorf("rewrite metadata of %s: %w", oldID, err)
	}
	slog.Debug("third-party id changed", "old_id", oldID, "new_id", newID)
	return nil
}

// ── Folders ──────────────────────────────────────────────────────

func (d *Dao) GetFolder(ctx context.Context, id string) (*model.Folder[string], error) {
	t, err := d.open(ctx, id)
	if err != nil {
		return nil, err
	}
	it, err := t.storage.Get(ctx, t.id.Path)
	if err != nil {
		return nil, folderErr(err)
	}
	if !it.Folder {
		return nil, model.ErrFolderNotFound
	}
	if t.id.IsRoot() {
		it.ID, it.ParentID = "", ""
	}
	return d.folder(t, it), nil
}

func (d *Dao) GetFolderByTitle(ctx context.Context, parentID, title string) (*model.Folder[string], error) {
	folders, err := d.GetFolders(ctx, parentID)
	if err != nil {
		return nil, err
	}
	for _, f := range folders {
		if strings.EqualFold(f.Title, title) {
			return f, nil
		}
	}
	return nil, nil
}

func (d *Dao) GetParentFolders(ctx context.Context, id string) ([]*model.Folder[string], error) {
	t, err := d.open(ctx, id)
	if err != nil {
		return nil, err
	}

	var chain []*model.Folder[string]
	cur := t.id.Path
	for range maxDepth {
		it, err := t.storage.Get(ctx, cur)
		if err != nil {
			return nil, folderErr(err)
		}
		if cur == "" {
			it.ID, it.ParentID = "", ""
		}
		chain = append(chain, d.folder(t, it))
		if cur == "" {
			break
		}
		cur = it.ParentID
	}
	// walked upwards
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func (d *Dao) list(ctx context.Context, parentID string) (*target, []*provider.Item, error) {
	t, err := d.open(ctx, parentID)
	if err != nil {
		return nil, nil, err
	}
	items, err := t.storage.List(ctx, t.id.Path)
	if err != nil {
		return nil, nil, folderErr(err)
	}
	return t, items, nil
}

func (d *Dao) GetFolders(ctx context.Context, parentID string) ([]*model.Folder[string], error) {
	t, items, err := d.list(ctx, parentID)
	if err != nil {
		return nil, err
	}
	var out []*model.Folder[string]
	for _, it := range items {
		if it.Folder {
			out = append(out, d.folder(t, it))
		}
	}
	return out, nil
}

func (d *Dao) GetFiles(ctx context.Context, parentID string) ([]*model.File[string], error) {
	t, items, err := d.list(ctx, parentID)
	if err != nil {
		return nil, err
	}
	var out []*model.File[string]
	for _, it := range items {
		if !it.Folder {
			out = append(out, d.file(t, it))
		}
	}
	return out, nil
}

func (d *Dao) ListChildren(ctx context.Context, parentID string, filter dao.Filter) iter.Seq2[model.FileEntry[string], error] {
	return func(yield func(model.FileEntry[string], error) bool) {
		t, items, err := d.list(ctx, parentID)
		if err != nil {
			yield(nil, err)
			return
		}
		entries := make([]model.FileEntry[string], 0, len(items))
		for _, it := range items {
			if it.Folder {
				entries = append(entries, d.folder(t, it))
			} else {
				entries = append(entries, d.file(t, it))
			}
		}
		for _, e := range dao.Apply(entries, filter) {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (d *Dao) CreateFolder(ctx context.Context, parentID, title string) (*model.Folder[string], error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: folder title is empty", model.ErrInvalidInput)
	}
	t, err := d.open(ctx, parentID)
	if err != nil {
		return nil, err
	}
	it, err := t.storage.CreateFolder(ctx, t.id.Path, title)
	if err != nil {
		return nil, folderErr(err)
	}
	return d.folder(t, it), nil
}

// RenameFolder renames provider content, except for the link root whose
// title lives on the link record.
func (d *Dao) RenameFolder(ctx context.Context, folder *model.Folder[string], title string) (string, error) {
	t, err := d.open(ctx, folder.ID)
	if err != nil {
		return "", err
	}
	if t.id.IsRoot() {
		return folder.ID, d.RenameLink(ctx, t.link.ID, title)
	}

	it, err := t.storage.Rename(ctx, t.id.Path, title)
	if err != nil {
		return "", folderErr(err)
	}
	newID := t.encode(it.ID)
	return newID, d.rewrite(ctx, t, folder.ID, newID)
}

// RenameLink retitles a linked storage or provider-backed room.
func (d *Dao) RenameLink(ctx context.Context, linkID int, title string) error {
	l, err := d.link(ctx, linkID)
	if err != nil {
		return err
	}
	updated := *l
	updated.Title = title
	if _, err := d.store.SaveLink(ctx, &updated); err != nil {
		return fmt.Errorf("rename link %d: %w", linkID, err)
	}
	d.forget(linkID)
	if sel, ok := selector.For(l.Provider); ok {
		d.sessions.Invalidate(sel, linkID, "", false)
	}
	return nil
}

// SetLinkFolderType moves a provider-backed room between VirtualRooms and
// Archive without touching provider content.
func (d *Dao) SetLinkFolderType(ctx context.Context, linkID int, folderType model.FolderType) error {
	l, err := d.link(ctx, linkID)
	if err != nil {
		return err
	}
	updated := *l
	updated.FolderType = folderType
	if _, err := d.store.SaveLink(ctx, &updated); err != nil {
		return fmt.Errorf("update link %d: %w", linkID, err)
	}
	d.forget(linkID)
	return nil
}

func (d *Dao) MoveFolder(ctx context.Context, id, toFolderID string) (string, error) {
	t, err := d.open(ctx, id)
	if err != nil {
		return "", err
	}
	if t.id.IsRoot() {
		return "", model.ErrSystemFolder
	}
	if !d.SameStorage(id, toFolderID) {
		return "", fmt.Errorf("%w: move across storages needs a transfer", model.ErrInvalidInput)
	}
	if err := d.checkCycle(ctx, id, toFolderID); err != nil {
		return "", err
	}
	to, err := selector.Decode(toFolderID)
	if err != nil {
		return "", err
	}

	it, err := t.storage.Move(ctx, t.id.Path, to.Path)
	if err != nil {
		return "", folderErr(err)
	}
	newID := t.encode(it.ID)
	return newID, d.rewrite(ctx, t, id, newID)
}

func (d *Dao) checkCycle(ctx context.Context, id, toFolderID string) error {
	if id == toFolderID || store.IsNested(toFolderID, id) {
		return model.ErrFolderCopy
	}
	chain, err := d.GetParentFolders(ctx, toFolderID)
	if err != nil {
		return err
	}
	for _, f := range chain {
		if f.ID == id {
			return model.ErrFolderCopy
		}
	}
	return nil
}

func (d *Dao) CopyFolder(ctx context.Context, id, toFolderID string) (*model.Folder[string], error) {
	src, err := d.GetFolder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := d.checkCycle(ctx, id, toFolderID); err != nil {
		return nil, err
	}
	return d.CreateFolder(ctx, toFolderID, src.Title)
}

// DeleteFolder clears the subtree's sharing, tags and id mappings before it
// touches provider content. Deleting a link root unlinks the storage.
func (d *Dao) DeleteFolder(ctx context.Context, id string) error {
	t, err := d.open(ctx, id)
	if err != nil {
		return err
	}

	subtree, err := d.subtree(ctx, t, t.id.Path)
	if err != nil {
		return err
	}
	if err := d.purge(ctx, id, subtree); err != nil {
		return err
	}

	if t.id.IsRoot() {
		if err := d.store.DeleteLink(ctx, t.link.ID); err != nil {
			return fmt.Errorf("unlink %d: %w", t.link.ID, err)
		}
		d.forget(t.link.ID)
		d.sessions.Drop(t.link.ID)
		slog.Info("provider link removed", "link_id", t.link.ID, "provider", t.link.Provider)
		return nil
	}

	if t.caps().RecursiveDelete {
		if err := t.storage.Delete(ctx, t.id.Path); err != nil {
			return folderErr(err)
		}
		return nil
	}
	return d.deleteWalk(ctx, t, t.id.Path)
}

// deleteWalk removes files first, then subfolders, then the folder itself.
// The first failure is returned after every sibling was attempted.
func (d *Dao) deleteWalk(ctx context.Context, t *target, nativeID string) error {
	items, err := t.storage.List(ctx, nativeID)
	if err != nil {
		return folderErr(err)
	}

	var first error
	for _, folders := range []bool{false, true} {
		for _, it := range items {
			if it.Folder != folders {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if it.Folder {
				err = d.deleteWalk(ctx, t, it.ID)
			} else {
				err = fileErr(t.storage.Delete(ctx, it.ID))
			}
			if err != nil && first == nil {
				first = err
			}
		}
	}
	if first != nil {
		return first
	}
	return folderErr(t.storage.Delete(ctx, nativeID))
}

// node is one entry below a folder, as an encoded id.
type node struct {
	id     string
	folder bool
}

func (d *Dao) subtree(ctx context.Context, t *target, nativeID string) ([]node, error) {
	var out []node
	var walk func(string, int) error
	walk = func(cur string, depth int) error {
		if depth > maxDepth {
			return nil
		}
		items, err := t.storage.List(ctx, cur)
		if err != nil {
			return folderErr(err)
		}
		for _, it := range items {
			out = append(out, node{id: t.encode(it.ID), folder: it.Folder})
			if it.Folder {
				if err := walk(it.ID, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(nativeID, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// purge removes the metadata of rootID and every listed or mapped id below it.
func (d *Dao) purge(ctx context.Context, rootID string, subtree []node) error {
	ids := []string{rootID}
	for _, n := range subtree {
		ids = append(ids, n.id)
	}
	mapped, err := d.store.MappedWithPrefix(ctx, d.tenantID, rootID)
	if err != nil {
		return err
	}
	ids = append(ids, mapped...)

	refs := make([]model.EntryRef, 0, 2*len(ids))
	for _, id := range ids {
		key := store.HashID(id)
		refs = append(refs, model.FileRef(key), model.FolderRef(key))
	}

	return d.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.DeleteShares(ctx, d.tenantID, refs...); err != nil {
			return fmt.Errorf("delete shares: %w", err)
		}
		if err := tx.DeleteTagLinks(ctx, d.tenantID, refs...); err != nil {
			return fmt.Errorf("delete tags: %w", err)
		}
		if err := tx.DeleteMappings(ctx, d.tenantID, ids...); err != nil {
			return fmt.Errorf("delete id mappings: %w", err)
		}
		return nil
	})
}

func (d *Dao) IsEmpty(ctx context.Context, id string) (bool, error) {
	_, items, err := d.list(ctx, id)
	if err != nil {
		return false, err
	}
	return len(items) == 0, nil
}

// CanCalculateSubitems holds when the provider deletes subtrees itself.
func (d *Dao) CanCalculateSubitems(id string) bool {
	t, err := d.open(context.Background(), id)
	if err != nil {
		return false
	}
	return t.caps().RecursiveDelete
}

func (d *Dao) GetItemsCount(ctx context.Context, id string) (int, error) {
	t, err := d.open(ctx, id)
	if err != nil {
		return 0, err
	}
	nodes, err := d.subtree(ctx, t, t.id.Path)
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

// UseTrashForRemoveFolder is false for link roots and rooms: removing them
// unlinks the storage.
func (d *Dao) UseTrashForRemoveFolder(folder *model.Folder[string]) bool {
	if folder.IsRoom() {
		return false
	}
	t, err := d.open(context.Background(), folder.ID)
	if err != nil || t.id.IsRoot() {
		return false
	}
	return t.caps().Trash
}
