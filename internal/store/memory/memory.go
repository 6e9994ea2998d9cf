// Package memory is an in-process metadata store used in development mode and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-docspace/internal/model"
	"go-docspace/internal/store"
)

type Store struct {
	mu sync.RWMutex

	lastFolder int
	lastFile   int
	lastLink   int
	lastTag    int

	folders  map[int]*model.Folder[int]
	versions map[int]map[int]*model.File[int]
	current  map[int]int
	shares   []model.Ace
	tags     []model.Tag
	mappings map[int]map[string]string
	links    map[int]*model.ProviderLink
	counters map[string]int64
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		folders:  make(map[int]*model.Folder[int]),
		versions: make(map[int]map[int]*model.File[int]),
		current:  make(map[int]int),
		mappings: make(map[int]map[string]string),
		links:    make(map[int]*model.ProviderLink),
		counters: make(map[string]int64),
	}
}

// InTx applies fn directly; writes are visible immediately and not rolled back.
func (s *Store) InTx(ctx context.Context, fn func(store.Store) error) error {
	return fn(s)
}

// ---------------------------------------------------------------------------
// Folders
// ---------------------------------------------------------------------------

func (s *Store) GetFolder(ctx context.Context, id int) (*model.Folder[int], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.folders[id]
	if !ok {
		return nil, model.ErrFolderNotFound
	}
	return s.folderView(f), nil
}

func (s *Store) FindFolder(ctx context.Context, parentID int, title string) (*model.Folder[int], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range s.folders {
		if f.ParentID == parentID && f.Title == title {
			return s.folderView(f), nil
		}
	}
	return nil, nil
}

func (s *Store) ListFolders(ctx context.Context, parentID int) ([]*model.Folder[int], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]*model.Folder[int], 0)
	for _, f := range s.folders {
		if f.ParentID == parentID {
			items = append(items, s.folderView(f))
		}
	}
	slices.SortFunc(items, func(a, b *model.Folder[int]) int { return a.ID - b.ID })
	return items, nil
}

func (s *Store) FolderChain(ctx context.Context, id int) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := make([]int, 0, 8)
	for cur := id; cur != 0; {
		f, ok := s.folders[cur]
		if !ok {
			return nil, model.ErrFolderNotFound
		}
		chain = append(chain, cur)
		cur = f.ParentID
	}
	slices.Reverse(chain)
	return chain, nil
}

func (s *Store) FindRoot(ctx context.Context, tenantID int, folderType model.FolderType, owner uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range s.folders {
		if f.ParentID != 0 || f.TenantID != tenantID || f.FolderType != folderType {
			continue
		}
		if folderType.OwnerScoped() && f.CreateBy != owner {
			continue
		}
		return f.ID, nil
	}
	return 0, nil
}

func (s *Store) InsertFolder(ctx context.Context, folder *model.Folder[int]) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastFolder++
	f := cloneFolder(folder)
	f.ID = s.lastFolder
	if f.CreateOn.IsZero() {
		f.CreateOn = time.Now().UTC()
	}
	if f.ModifiedOn.IsZero() {
		f.ModifiedOn = f.CreateOn
	}

	if f.ParentID == 0 {
		f.RootID = f.ID
		f.RootFolderType = f.FolderType
		f.RootCreateBy = f.CreateBy
	} else {
		parent, ok := s.folders[f.ParentID]
		if !ok {
			s.lastFolder--
			return 0, fmt.Errorf("insert folder: parent %d: %w", f.ParentID, model.ErrFolderNotFound)
		}
		f.RootID = parent.RootID
		f.RootFolderType = parent.RootFolderType
		f.RootCreateBy = parent.RootCreateBy
	}

	s.folders[f.ID] = f
	return f.ID, nil
}

func (s *Store) UpdateFolder(ctx context.Context, folder *model.Folder[int]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.folders[folder.ID]
	if !ok {
		return model.ErrFolderNotFound
	}
	f := cloneFolder(folder)
	f.ParentID = existing.ParentID
	f.RootID = existing.RootID
	f.RootFolderType = existing.RootFolderType
	f.RootCreateBy = existing.RootCreateBy
	s.folders[f.ID] = f
	return nil
}

func (s *Store) MoveFolder(ctx context.Context, id, toParentID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.folders[id]
	if !ok {
		return model.ErrFolderNotFound
	}
	parent, ok := s.folders[toParentID]
	if !ok {
		return fmt.Errorf("move folder: target %d: %w", toParentID, model.ErrFolderNotFound)
	}

	f.ParentID = toParentID
	f.ModifiedOn = time.Now().UTC()
	folders, _ := s.subtreeLocked(id)
	for _, fid := range append(folders, id) {
		sub := s.folders[fid]
		sub.RootID = parent.RootID
		sub.RootFolderType = parent.RootFolderType
		sub.RootCreateBy = parent.RootCreateBy
	}
	return nil
}

func (s *Store) DeleteFolder(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.folders[id]; !ok {
		return model.ErrFolderNotFound
	}
	folders, files := s.subtreeLocked(id)
	for _, fid := range files {
		delete(s.versions, fid)
		delete(s.current, fid)
	}
	for _, fid := range append(folders, id) {
		delete(s.folders, fid)
	}
	return nil
}

func (s *Store) Subtree(ctx context.Context, id int) ([]int, []int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.folders[id]; !ok {
		return nil, nil, model.ErrFolderNotFound
	}
	folders, files := s.subtreeLocked(id)
	return folders, files, nil
}

func (s *Store) subtreeLocked(id int) ([]int, []int) {
	var folders, files []int
	queue := []int{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for fid, f := range s.folders {
			if f.ParentID == cur {
				folders = append(folders, fid)
				queue = append(queue, fid)
			}
		}
		for fid, ver := range s.current {
			if s.versions[fid][ver].ParentID == cur {
				files = append(files, fid)
			}
		}
	}
	slices.Sort(folders)
	slices.Sort(files)
	return folders, files
}

func (s *Store) folderView(f *model.Folder[int]) *model.Folder[int] {
	out := cloneFolder(f)
	out.FilesCount, out.FoldersCount = 0, 0
	for _, sub := range s.folders {
		if sub.ParentID == f.ID {
			out.FoldersCount++
		}
	}
	for fid, ver := range s.current {
		if s.versions[fid][ver].ParentID == f.ID {
			out.FilesCount++
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Files
// ---------------------------------------------------------------------------

func (s *Store) GetFile(ctx context.Context, id int) (*model.File[int], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ver, ok := s.current[id]
	if !ok {
		return nil, model.ErrFileNotFound
	}
	return s.fileView(s.versions[id][ver]), nil
}

func (s *Store) GetFileVersion(ctx context.Context, id, version int) (*model.File[int], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.versions[id][version]
	if !ok {
		return nil, model.ErrFileNotFound
	}
	return s.fileView(f), nil
}

func (s *Store) FindFile(ctx context.Context, folderID int, title string) (*model.File[int], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, ver := range s.current {
		f := s.versions[id][ver]
		if f.ParentID == folderID && f.Title == title {
			return s.fileView(f), nil
		}
	}
	return nil, nil
}

func (s *Store) ListFiles(ctx context.Context, folderID int) ([]*model.File[int], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]*model.File[int], 0)
	for id, ver := range s.current {
		f := s.versions[id][ver]
		if f.ParentID == folderID {
			items = append(items, s.fileView(f))
		}
	}
	slices.SortFunc(items, func(a, b *model.File[int]) int { return a.ID - b.ID })
	return items, nil
}

func (s *Store) InsertFile(ctx context.Context, file *model.File[int]) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.folders[file.ParentID]; !ok {
		return 0, fmt.Errorf("insert file: folder %d: %w", file.ParentID, model.ErrFolderNotFound)
	}

	s.lastFile++
	f := cloneFile(file)
	f.ID = s.lastFile
	f.Version = 1
	f.VersionGroup = 1
	if f.CreateOn.IsZero() {
		f.CreateOn = time.Now().UTC()
	}
	if f.ModifiedOn.IsZero() {
		f.ModifiedOn = f.CreateOn
	}

	s.versions[f.ID] = map[int]*model.File[int]{1: f}
	s.current[f.ID] = 1
	return f.ID, nil
}

func (s *Store) InsertVersion(ctx context.Context, file *model.File[int]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.versions[file.ID]
	if !ok {
		return model.ErrFileNotFound
	}
	if _, exists := versions[file.Version]; exists {
		return fmt.Errorf("insert version %d of file %d: version exists", file.Version, file.ID)
	}
	versions[file.Version] = cloneFile(file)
	s.current[file.ID] = file.Version
	return nil
}

func (s *Store) UpdateFile(ctx context.Context, file *model.File[int]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ver, ok := s.current[file.ID]
	if !ok {
		return model.ErrFileNotFound
	}
	for _, v := range s.versions[file.ID] {
		v.ParentID = file.ParentID
	}
	cur := s.versions[file.ID][ver]
	cur.Title = file.Title
	cur.LockedBy = file.LockedBy
	cur.Comment = file.Comment
	cur.ModifiedBy = file.ModifiedBy
	cur.ModifiedOn = file.ModifiedOn
	cur.ThumbnailStatus = file.ThumbnailStatus
	cur.ContentLength = file.ContentLength
	return nil
}

func (s *Store) DeleteFile(ctx context.Context, id int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.versions[id]
	if !ok {
		return nil, model.ErrFileNotFound
	}
	removed := make([]int, 0, len(versions))
	for v := range versions {
		removed = append(removed, v)
	}
	slices.Sort(removed)
	delete(s.versions, id)
	delete(s.current, id)
	return removed, nil
}

func (s *Store) fileView(f *model.File[int]) *model.File[int] {
	out := cloneFile(f)
	if parent, ok := s.folders[f.ParentID]; ok {
		out.RootID = parent.RootID
		out.RootFolderType = parent.RootFolderType
		out.RootCreateBy = parent.RootCreateBy
	}
	return out
}

// ---------------------------------------------------------------------------
// Shares & tags
// ---------------------------------------------------------------------------

func (s *Store) GetShares(ctx context.Context, tenantID int, refs ...model.EntryRef) ([]model.Ace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Ace, 0)
	for _, a := range s.shares {
		if a.TenantID == tenantID && slices.Contains(refs, a.Ref) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) SetShare(ctx context.Context, ace model.Ace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ace.Timestamp.IsZero() {
		ace.Timestamp = time.Now().UTC()
	}
	for i, a := range s.shares {
		if a.TenantID == ace.TenantID && a.Ref == ace.Ref && a.Subject == ace.Subject {
			s.shares[i] = ace
			return nil
		}
	}
	s.shares = append(s.shares, ace)
	return nil
}

func (s *Store) DeleteShares(ctx context.Context, tenantID int, refs ...model.EntryRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shares = slices.DeleteFunc(s.shares, func(a model.Ace) bool {
		return a.TenantID == tenantID && slices.Contains(refs, a.Ref)
	})
	return nil
}

func (s *Store) GetTags(ctx context.Context, tenantID int, tagType model.TagType, refs ...model.EntryRef) ([]model.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Tag, 0)
	for _, t := range s.tags {
		if t.TenantID == tenantID && (tagType == 0 || t.Type == tagType) && slices.Contains(refs, t.Ref) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) GetOwnerTags(ctx context.Context, tenantID int, owner uuid.UUID, tagType model.TagType) ([]model.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Tag, 0)
	for _, t := range s.tags {
		if t.TenantID == tenantID && t.Owner == owner && t.Type == tagType {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) SaveTag(ctx context.Context, tag model.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.tags {
		if t.TenantID == tag.TenantID && t.Type == tag.Type && t.Owner == tag.Owner && t.Ref == tag.Ref {
			s.tags[i].Count = tag.Count
			s.tags[i].Name = tag.Name
			return nil
		}
	}
	s.lastTag++
	tag.ID = s.lastTag
	if tag.CreateOn.IsZero() {
		tag.CreateOn = time.Now().UTC()
	}
	s.tags = append(s.tags, tag)
	return nil
}

func (s *Store) RemoveTag(ctx context.Context, tenantID int, tagType model.TagType, owner uuid.UUID, ref model.EntryRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tags = slices.DeleteFunc(s.tags, func(t model.Tag) bool {
		return t.TenantID == tenantID && t.Type == tagType && t.Owner == owner && t.Ref == ref
	})
	return nil
}

func (s *Store) DeleteTagLinks(ctx context.Context, tenantID int, refs ...model.EntryRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tags = slices.DeleteFunc(s.tags, func(t model.Tag) bool {
		return t.TenantID == tenantID && slices.Contains(refs, t.Ref)
	})
	return nil
}

// ---------------------------------------------------------------------------
// Third-party id mapping
// ---------------------------------------------------------------------------

func (s *Store) MapID(ctx context.Context, tenantID int, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := store.HashID(id)
	s.tenantMappings(tenantID)[hash] = id
	return hash, nil
}

func (s *Store) ResolveHash(ctx context.Context, tenantID int, hash string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.mappings[tenantID][hash]
	if !ok {
		return "", fmt.Errorf("resolve %s: %w", hash, model.ErrFileNotFound)
	}
	return id, nil
}

func (s *Store) MappedWithPrefix(ctx context.Context, tenantID int, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0)
	for _, id := range s.mappings[tenantID] {
		if store.IsNested(id, prefix) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) DeleteMappings(ctx context.Context, tenantID int, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.mappings[tenantID]
	for _, id := range ids {
		delete(m, store.HashID(id))
	}
	return nil
}

func (s *Store) RewriteID(ctx context.Context, tenantID int, oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.tenantMappings(tenantID)
	m[store.HashID(oldID)] = oldID

	nested := make(map[string]string)
	for hash, id := range m {
		if store.IsNested(id, oldID) {
			nested[hash] = id
		}
	}

	for hash, id := range nested {
		rewritten := newID + id[len(oldID):]
		newHash := store.HashID(rewritten)
		delete(m, hash)
		m[newHash] = rewritten

		for i := range s.shares {
			if s.shares[i].TenantID == tenantID && s.shares[i].Ref.Key == hash {
				s.shares[i].Ref.Key = newHash
			}
		}
		for i := range s.tags {
			if s.tags[i].TenantID == tenantID && s.tags[i].Ref.Key == hash {
				s.tags[i].Ref.Key = newHash
			}
		}
	}
	return nil
}

func (s *Store) tenantMappings(tenantID int) map[string]string {
	m, ok := s.mappings[tenantID]
	if !ok {
		m = make(map[string]string)
		s.mappings[tenantID] = m
	}
	return m
}

// ---------------------------------------------------------------------------
// Provider links & counters
// ---------------------------------------------------------------------------

func (s *Store) GetLink(ctx context.Context, id int) (*model.ProviderLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.links[id]
	if !ok {
		return nil, model.ErrLinkNotFound
	}
	clone := *l
	return &clone, nil
}

func (s *Store) ListLinks(ctx context.Context, tenantID int, owner uuid.UUID) ([]*model.ProviderLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.ProviderLink, 0)
	for _, l := range s.links {
		if l.TenantID == tenantID && (owner == uuid.Nil || l.Owner == owner) {
			clone := *l
			out = append(out, &clone)
		}
	}
	slices.SortFunc(out, func(a, b *model.ProviderLink) int { return a.ID - b.ID })
	return out, nil
}

func (s *Store) SaveLink(ctx context.Context, link *model.ProviderLink) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *link
	now := time.Now().UTC()
	if clone.ID == 0 {
		s.lastLink++
		clone.ID = s.lastLink
		clone.CreateOn = now
	}
	clone.ModifiedOn = now
	s.links[clone.ID] = &clone
	return clone.ID, nil
}

func (s *Store) UpdateToken(ctx context.Context, id int, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[id]
	if !ok {
		return model.ErrLinkNotFound
	}
	l.Token = token
	l.ModifiedOn = time.Now().UTC()
	return nil
}

func (s *Store) DeleteLink(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.links[id]; !ok {
		return model.ErrLinkNotFound
	}
	delete(s.links, id)
	return nil
}

func (s *Store) GetCounter(ctx context.Context, tenantID int, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[counterKey(tenantID, name)], nil
}

func (s *Store) SetCounter(ctx context.Context, tenantID int, name string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[counterKey(tenantID, name)] = value
	return nil
}

func counterKey(tenantID int, name string) string {
	return fmt.Sprintf("%d:%s", tenantID, name)
}

func cloneFolder(f *model.Folder[int]) *model.Folder[int] {
	out := *f
	out.Tags = slices.Clone(f.Tags)
	out.Security = nil
	return &out
}

func cloneFile(f *model.File[int]) *model.File[int] {
	out := *f
	out.Security = nil
	return &out
}
