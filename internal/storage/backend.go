// Package storage holds the content backends for native files: the bytes behind
// every file version and the temporary results of bulk downloads.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidKey     = errors.New("invalid object key")
)

// Backend stores opaque objects by key.
type Backend interface {
	// GetObject returns the object starting at offset and its total size.
	GetObject(ctx context.Context, key string, offset int64) (io.ReadCloser, int64, error)
	// PutObject stores body under key; size may be -1 when unknown.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error
	DeleteObject(ctx context.Context, key string) error
	CopyObject(ctx context.Context, srcKey, dstKey string) error
	ObjectExists(ctx context.Context, key string) (bool, error)
	Type() string
	Close() error
}

type Config struct {
	Backend string
	Root    string
	S3      S3Config
}

// New builds the backend selected by cfg.Backend.
func New(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(cfg.Root)
	case "s3":
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
