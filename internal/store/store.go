// Package store defines the metadata persistence used by the file engine: native
// folders and files, sharing records, tags, third-party id mapping, provider links
// and tenant counters.
package store

import (
	"context"

	"github.com/google/uuid"

	"go-docspace/internal/model"
)

type Folders interface {
	GetFolder(ctx context.Context, id int) (*model.Folder[int], error)
	// FindFolder returns nil without error when no child folder has the title.
	FindFolder(ctx context.Context, parentID int, title string) (*model.Folder[int], error)
	ListFolders(ctx context.Context, parentID int) ([]*model.Folder[int], error)
	// FolderChain returns the ids from the root down to and including id.
	FolderChain(ctx context.Context, id int) ([]int, error)
	// FindRoot returns 0 when the root does not exist yet. owner is ignored for
	// tenant-scoped roots.
	FindRoot(ctx context.Context, tenantID int, folderType model.FolderType, owner uuid.UUID) (int, error)
	InsertFolder(ctx context.Context, folder *model.Folder[int]) (int, error)
	UpdateFolder(ctx context.Context, folder *model.Folder[int]) error
	// MoveFolder re-parents id and stamps the new root on the whole subtree.
	MoveFolder(ctx context.Context, id, toParentID int) error
	DeleteFolder(ctx context.Context, id int) error
	// Subtree returns every folder and file id strictly below id.
	Subtree(ctx context.Context, id int) (folders []int, files []int, err error)
}

type Files interface {
	GetFile(ctx context.Context, id int) (*model.File[int], error)
	GetFileVersion(ctx context.Context, id, version int) (*model.File[int], error)
	FindFile(ctx context.Context, folderID int, title string) (*model.File[int], error)
	ListFiles(ctx context.Context, folderID int) ([]*model.File[int], error)
	// InsertFile creates version 1 of a new file.
	InsertFile(ctx context.Context, file *model.File[int]) (int, error)
	// InsertVersion stores file.Version as the new current version of file.ID.
	InsertVersion(ctx context.Context, file *model.File[int]) error
	UpdateFile(ctx context.Context, file *model.File[int]) error
	// DeleteFile removes every version and returns the version numbers removed.
	DeleteFile(ctx context.Context, id int) ([]int, error)
}

type Shares interface {
	GetShares(ctx context.Context, tenantID int, refs ...model.EntryRef) ([]model.Ace, error)
	SetShare(ctx context.Context, ace model.Ace) error
	DeleteShares(ctx context.Context, tenantID int, refs ...model.EntryRef) error
}

type Tags interface {
	GetTags(ctx context.Context, tenantID int, tagType model.TagType, refs ...model.EntryRef) ([]model.Tag, error)
	GetOwnerTags(ctx context.Context, tenantID int, owner uuid.UUID, tagType model.TagType) ([]model.Tag, error)
	// SaveTag inserts the tag or replaces Count/Name of the existing (type, owner, ref) row.
	SaveTag(ctx context.Context, tag model.Tag) error
	RemoveTag(ctx context.Context, tenantID int, tagType model.TagType, owner uuid.UUID, ref model.EntryRef) error
	DeleteTagLinks(ctx context.Context, tenantID int, refs ...model.EntryRef) error
}

// Mapping keeps the stable hash of every third-party id that metadata refers to.
type Mapping interface {
	MapID(ctx context.Context, tenantID int, id string) (string, error)
	ResolveHash(ctx context.Context, tenantID int, hash string) (string, error)
	// MappedWithPrefix lists mapped ids equal to prefix or nested below it.
	MappedWithPrefix(ctx context.Context, tenantID int, prefix string) ([]string, error)
	DeleteMappings(ctx context.Context, tenantID int, ids ...string) error
	// RewriteID moves the mapping and every dependent share and tag row from oldID
	// (and ids nested below it) to newID.
	RewriteID(ctx context.Context, tenantID int, oldID, newID string) error
}

type Links interface {
	GetLink(ctx context.Context, id int) (*model.ProviderLink, error)
	ListLinks(ctx context.Context, tenantID int, owner uuid.UUID) ([]*model.ProviderLink, error)
	SaveLink(ctx context.Context, link *model.ProviderLink) (int, error)
	UpdateToken(ctx context.Context, id int, token string) error
	DeleteLink(ctx context.Context, id int) error
}

type Counters interface {
	GetCounter(ctx context.Context, tenantID int, name string) (int64, error)
	SetCounter(ctx context.Context, tenantID int, name string, value int64) error
}

// Store aggregates all repositories. InTx runs fn against a transactional view.
type Store interface {
	Folders
	Files
	Shares
	Tags
	Mapping
	Links
	Counters
	InTx(ctx context.Context, fn func(Store) error) error
}
