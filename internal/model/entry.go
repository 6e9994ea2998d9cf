package model

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ID is the set of entry key types: native entries use int, third-party entries use
// opaque selector strings.
type ID interface {
	~int | ~string
}

type EntryType int

const (
	EntryTypeFolder EntryType = 1
	EntryTypeFile   EntryType = 2
)

func (t EntryType) String() string {
	if t == EntryTypeFolder {
		return "folder"
	}
	return "file"
}

type ThumbnailStatus int

const (
	ThumbnailWaiting ThumbnailStatus = iota
	ThumbnailCreated
	ThumbnailError
	ThumbnailNotRequired
	ThumbnailCreating
)

// Entry holds the fields shared by files and folders.
type Entry[T ID] struct {
	ID             T          `json:"id"`
	ParentID       T          `json:"parent_id"`
	Title          string     `json:"title"`
	TenantID       int        `json:"tenant_id"`
	RootID         T          `json:"root_id"`
	RootFolderType FolderType `json:"root_folder_type"`
	RootCreateBy   uuid.UUID  `json:"root_create_by"`
	CreateBy       uuid.UUID  `json:"create_by"`
	CreateOn       time.Time  `json:"create_on"`
	ModifiedBy     uuid.UUID  `json:"modified_by"`
	ModifiedOn     time.Time  `json:"modified_on"`

	ProviderID    int          `json:"provider_id,omitempty"`
	ProviderKey   ProviderType `json:"provider_key,omitempty"`
	ProviderEntry bool         `json:"provider_entry"`

	Encrypted bool `json:"encrypted"`
	Shared    bool `json:"shared"`

	// Security is filled lazily by the security oracle.
	Security map[SecurityAction]bool `json:"security,omitempty"`
}

// FileEntry is implemented by *File[T] and *Folder[T].
type FileEntry[T ID] interface {
	Common() *Entry[T]
	EntryType() EntryType
}

type File[T ID] struct {
	Entry[T]
	Version         int             `json:"version"`
	VersionGroup    int             `json:"version_group"`
	ContentLength   int64           `json:"content_length"`
	Comment         string          `json:"comment,omitempty"`
	ThumbnailStatus ThumbnailStatus `json:"thumbnail_status"`
	LockedBy        uuid.UUID       `json:"locked_by"`
	ConvertedType   string          `json:"converted_type,omitempty"`
}

func (f *File[T]) Common() *Entry[T] { return &f.Entry }
func (f *File[T]) EntryType() EntryType { return EntryTypeFile }

// Locked reports whether the file is checked out by someone.
func (f *File[T]) Locked() bool { return f.LockedBy != uuid.Nil }

// Extension returns the lower-cased extension including the dot.
func (f *File[T]) Extension() string { return Extension(f.Title) }

type Folder[T ID] struct {
	Entry[T]
	FolderType   FolderType `json:"folder_type"`
	FilesCount   int        `json:"files_count"`
	FoldersCount int        `json:"folders_count"`

	// Room attributes.
	Private   bool   `json:"private"`
	Pinned    bool   `json:"pinned"`
	HasLogo   bool   `json:"has_logo"`
	Color     string `json:"color,omitempty"`
	Watermark string `json:"watermark,omitempty"`
	Tags      []Tag  `json:"tags,omitempty"`
}

func (f *Folder[T]) Common() *Entry[T] { return &f.Entry }
func (f *Folder[T]) EntryType() EntryType { return EntryTypeFolder }

func (f *Folder[T]) IsRoom() bool { return f.FolderType.IsRoom() }

// IsRoot reports whether the folder is a well-known root (My, Trash, VirtualRooms...).
func (f *Folder[T]) IsRoot() bool { return f.FolderType.IsRoot() }

// EntryRef addresses metadata rows (shares, tags) of an entry. Key is the native id
// in decimal form or the stable hash of a third-party id.
type EntryRef struct {
	Key  string    `json:"key"`
	Type EntryType `json:"type"`
}

func FileRef(key string) EntryRef   { return EntryRef{Key: key, Type: EntryTypeFile} }
func FolderRef(key string) EntryRef { return EntryRef{Key: key, Type: EntryTypeFolder} }

// Extension returns the lower-cased extension of title including the dot.
func Extension(title string) string {
	return strings.ToLower(path.Ext(title))
}

// ReplaceExtension swaps the extension of title for ext.
func ReplaceExtension(title, ext string) string {
	return strings.TrimSuffix(title, path.Ext(title)) + ext
}
