// Package provider is the uniform capability surface over third-party
// storages: a Storage per connected link, opened and cached by SessionCache.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go-docspace/internal/model"
	"go-docspace/internal/retry"
)

var (
	ErrNotFound    = errors.New("provider entry not found")
	ErrUnsupported = errors.New("operation not supported by provider")
)

// Item is an entry as the provider reports it. ID is the provider-native id
// or path; the empty ID is the root the link points at.
type Item struct {
	ID       string
	ParentID string
	Name     string
	Folder   bool
	Size     int64
	MimeType string
	Created  time.Time
	Modified time.Time
}

// Capabilities are declared by each provider, never discovered at runtime.
type Capabilities struct {
	// MutableEntityID is set when ids derive from paths and change on rename
	// or move.
	MutableEntityID bool
	ServerCopy      bool
	ServerMove      bool
	// RecursiveDelete means deleting a folder removes its subtree server-side.
	RecursiveDelete bool
	// Trash means removed entries go to the native trash instead of being
	// deleted outright.
	Trash        bool
	MaxChunkSize int64
}

// Storage is one authenticated connection to a provider account. It must be
// safe for concurrent use.
type Storage interface {
	Capabilities() Capabilities

	Get(ctx context.Context, id string) (*Item, error)
	List(ctx context.Context, folderID string) ([]*Item, error)
	CreateFolder(ctx context.Context, parentID, name string) (*Item, error)
	Rename(ctx context.Context, id, name string) (*Item, error)
	Move(ctx context.Context, id, toParentID string) (*Item, error)
	Copy(ctx context.Context, id, toParentID string) (*Item, error)
	Delete(ctx context.Context, id string) error

	Download(ctx context.Context, id string, offset int64) (io.ReadCloser, error)
	// Upload creates a new file under parentID. size is -1 when unknown.
	Upload(ctx context.Context, parentID, name string, body io.Reader, size int64) (*Item, error)
	// Replace stores new content for an existing file.
	Replace(ctx context.Context, id string, body io.Reader, size int64) (*Item, error)

	Close() error
}

// ChunkedUploader is implemented by storages with a native resumable upload
// protocol. Others are fed through a local buffer.
type ChunkedUploader interface {
	StartUpload(ctx context.Context, parentID, name string, size int64) (string, error)
	UploadPart(ctx context.Context, sessionID string, offset int64, body io.Reader, length int64) error
	FinishUpload(ctx context.Context, sessionID, parentID, name string, size int64) (*Item, error)
	AbortUpload(ctx context.Context, sessionID string) error
}

// StatusError is a non-2xx answer from a provider API.
type StatusError struct {
	Provider model.ProviderType
	Op       string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Provider, e.Op, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Op, e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	switch e.Code {
	case http.StatusUnauthorized:
		return target == model.ErrUnauthorized
	case http.StatusNotFound:
		return target == ErrNotFound
	case http.StatusForbidden:
		return target == model.ErrForbidden
	}
	return false
}

// Classify marks throttling and server errors as transient.
func Classify(err error) error {
	var se *StatusError
	if errors.As(err, &se) && (se.Code == http.StatusTooManyRequests || se.Code >= 500) {
		return retry.Mark(err)
	}
	return err
}
