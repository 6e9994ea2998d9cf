// Package dao defines the file/folder contract shared by the native store (int
// ids) and third-party providers (string ids).
package dao

import (
	"context"
	"io"
	"iter"

	"go-docspace/internal/model"
)

type FolderDao[T model.ID] interface {
	GetFolder(ctx context.Context, id T) (*model.Folder[T], error)
	// GetFolderByTitle returns nil without error when parentID has no such child.
	GetFolderByTitle(ctx context.Context, parentID T, title string) (*model.Folder[T], error)
	// GetParentFolders returns the chain from the storage root down to and
	// including id.
	GetParentFolders(ctx context.Context, id T) ([]*model.Folder[T], error)
	GetFolders(ctx context.Context, parentID T) ([]*model.Folder[T], error)
	GetFiles(ctx context.Context, parentID T) ([]*model.File[T], error)
	ListChildren(ctx context.Context, parentID T, filter Filter) iter.Seq2[model.FileEntry[T], error]

	CreateFolder(ctx context.Context, parentID T, title string) (*model.Folder[T], error)
	RenameFolder(ctx context.Context, folder *model.Folder[T], title string) (T, error)
	MoveFolder(ctx context.Context, id, toFolderID T) (T, error)
	// CopyFolder creates an empty copy of id under toFolderID; children are the
	// caller's business.
	CopyFolder(ctx context.Context, id, toFolderID T) (*model.Folder[T], error)
	DeleteFolder(ctx context.Context, id T) error
	IsEmpty(ctx context.Context, id T) (bool, error)

	// CanCalculateSubitems reports whether the backend can count and delete a
	// subtree without a client-side walk.
	CanCalculateSubitems(id T) bool
	// GetItemsCount counts every file and folder strictly below id.
	GetItemsCount(ctx context.Context, id T) (int, error)
	UseTrashForRemoveFolder(folder *model.Folder[T]) bool
}

type FileDao[T model.ID] interface {
	GetFile(ctx context.Context, id T) (*model.File[T], error)
	// GetFileByTitle returns nil without error when folderID has no such file.
	GetFileByTitle(ctx context.Context, folderID T, title string) (*model.File[T], error)
	OpenReadStream(ctx context.Context, file *model.File[T], offset int64) (io.ReadCloser, error)
	// SaveFile creates a new file when file.ID is the zero value and stores a new
	// version of an existing file otherwise. size is -1 when unknown.
	SaveFile(ctx context.Context, file *model.File[T], content io.Reader, size int64) (*model.File[T], error)
	RenameFile(ctx context.Context, file *model.File[T], title string) (T, error)
	MoveFile(ctx context.Context, id, toFolderID T) (T, error)
	CopyFile(ctx context.Context, id, toFolderID T) (*model.File[T], error)
	DeleteFile(ctx context.Context, id T) error
	UseTrashForRemoveFile(file *model.File[T]) bool

	CreateUploadSession(ctx context.Context, file *model.File[T], contentLength int64) (*UploadSession[T], error)
	UploadChunk(ctx context.Context, session *UploadSession[T], chunk io.Reader, length int64) error
	FinalizeUpload(ctx context.Context, session *UploadSession[T]) (*model.File[T], error)
	AbortUpload(ctx context.Context, session *UploadSession[T]) error
}

// Dao is one id space: native or third-party.
type Dao[T model.ID] interface {
	FolderDao[T]
	FileDao[T]

	// Key returns the metadata key sharing and tag rows use for id.
	Key(ctx context.Context, id T) (string, error)
	// SameStorage reports whether a and b can be moved between with plain
	// Move/Copy calls.
	SameStorage(a, b T) bool
	TenantID() int
}

// Ref builds the metadata reference of entry.
func Ref[T model.ID](ctx context.Context, d Dao[T], entry model.FileEntry[T]) (model.EntryRef, error) {
	key, err := d.Key(ctx, entry.Common().ID)
	if err != nil {
		return model.EntryRef{}, err
	}
	return model.EntryRef{Key: key, Type: entry.EntryType()}, nil
}
