package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Local keeps objects as plain files under a root directory.
type Local struct {
	validator *KeyValidator
}

var _ Backend = (*Local)(nil)

func NewLocal(root string) (*Local, error) {
	validator, err := NewKeyValidator(root)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(validator.RootAbs(), 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	return &Local{validator: validator}, nil
}

func (l *Local) Type() string { return "local" }

func (l *Local) Close() error { return nil }

func (l *Local) GetObject(ctx context.Context, key string, offset int64) (io.ReadCloser, int64, error) {
	resolved, err := l.validator.Resolve(key)
	if err != nil {
		return nil, 0, err
	}

	file, err := os.Open(resolved)
	if err != nil {
		return nil, 0, mapNotExist(key, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("stat %q: %w", key, err)
	}

	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			file.Close()
			return nil, 0, fmt.Errorf("seek %q: %w", key, err)
		}
	}

	return file, info.Size(), nil
}

func (l *Local) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	resolved, err := l.validator.Resolve(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(resolved), ".put-*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: body}); err != nil {
		tmp.Close()
		return fmt.Errorf("write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %q: %w", key, err)
	}

	if err := os.Rename(tmp.Name(), resolved); err != nil {
		return fmt.Errorf("commit %q: %w", key, err)
	}
	return nil
}

func (l *Local) DeleteObject(ctx context.Context, key string) error {
	resolved, err := l.validator.Resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(resolved); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

func (l *Local) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	src, _, err := l.GetObject(ctx, srcKey, 0)
	if err != nil {
		return err
	}
	defer src.Close()

	return l.PutObject(ctx, dstKey, src, -1)
}

func (l *Local) ObjectExists(ctx context.Context, key string) (bool, error) {
	resolved, err := l.validator.Resolve(key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(resolved)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func mapNotExist(key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return fmt.Errorf("open %q: %w", key, err)
}

// contextReader stops a long copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
