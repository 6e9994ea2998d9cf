// Package webdav exposes a WebDAV share as a provider.Storage. Ids are paths
// below the link's base folder.
package webdav

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/studio-b12/gowebdav"

	"go-docspace/internal/model"
	"go-docspace/internal/provider"
)

type Storage struct {
	client *gowebdav.Client
	base   string
}

var _ provider.Storage = (*Storage)(nil)

// Open is the provider.Factory for WebDAV; the link URL is the server
// endpoint and the credentials are the basic-auth login.
func Open(ctx context.Context, conn provider.Connection) (provider.Storage, error) {
	if conn.Link == nil || conn.Link.URL == "" {
		return nil, fmt.Errorf("%w: webdav link needs a url", model.ErrInvalidInput)
	}
	c := gowebdav.NewClient(conn.Link.URL, conn.Credentials.User, conn.Credentials.Password)
	if conn.Client != nil && conn.Client.Transport != nil {
		c.SetTransport(conn.Client.Transport)
	}
	base := "/"
	if conn.Link.FolderID != "" {
		base = path.Clean("/" + conn.Link.FolderID)
	}
	return &Storage{client: c, base: base}, nil
}

func (s *Storage) Capabilities() provider.Capabilities {
	// DELETE of a collection is not reliably recursive across servers
	return provider.Capabilities{
		MutableEntityID: true,
		ServerCopy:      true,
		ServerMove:      true,
	}
}

func (s *Storage) abs(id string) string {
	return path.Join(s.base, id)
}

func (s *Storage) rel(p string) string {
	p = path.Clean("/" + strings.TrimSuffix(p, "/"))
	if p == s.base {
		return ""
	}
	if s.base == "/" {
		return p
	}
	return strings.TrimPrefix(p, s.base)
}

func (s *Storage) Get(ctx context.Context, id string) (*provider.Item, error) {
	fi, err := s.client.Stat(s.abs(id))
	if err != nil {
		return nil, wrap("get", err)
	}
	return s.item(id, fi), nil
}

func (s *Storage) List(ctx context.Context, folderID string) ([]*provider.Item, error) {
	infos, err := s.client.ReadDir(s.abs(folderID))
	if err != nil {
		return nil, wrap("list", err)
	}
	out := make([]*provider.Item, 0, len(infos))
	for _, fi := range infos {
		out = append(out, s.item(path.Join("/", folderID, fi.Name()), fi))
	}
	return out, nil
}

func (s *Storage) CreateFolder(ctx context.Context, parentID, name string) (*provider.Item, error) {
	id := path.Join("/", parentID, name)
	if _, err := s.client.Stat(s.abs(id)); err == nil {
		return nil, &provider.StatusError{Provider: model.ProviderWebDav, Op: "create folder", Code: http.StatusConflict, Body: name + " exists"}
	}
	if err := s.client.Mkdir(s.abs(id), 0o755); err != nil {
		return nil, wrap("create folder", err)
	}
	return s.Get(ctx, id)
}

func (s *Storage) Rename(ctx context.Context, id, name string) (*provider.Item, error) {
	to := path.Join(path.Dir(id), name)
	if err := s.client.Rename(s.abs(id), s.abs(to), false); err != nil {
		return nil, wrap("rename", err)
	}
	return s.Get(ctx, to)
}

func (s *Storage) Move(ctx context.Context, id, toParentID string) (*provider.Item, error) {
	to := path.Join("/", toParentID, path.Base(id))
	if err := s.client.Rename(s.abs(id), s.abs(to), false); err != nil {
		return nil, wrap("move", err)
	}
	return s.Get(ctx, to)
}

func (s *Storage) Copy(ctx context.Context, id, toParentID string) (*provider.Item, error) {
	to := path.Join("/", toParentID, path.Base(id))
	if err := s.client.Copy(s.abs(id), s.abs(to), false); err != nil {
		return nil, wrap("copy", err)
	}
	return s.Get(ctx, to)
}

func (s *Storage) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: delete the share root", model.ErrInvalidInput)
	}
	if err := s.client.Remove(s.abs(id)); err != nil {
		return wrap("delete", err)
	}
	return nil
}

func (s *Storage) Download(ctx context.Context, id string, offset int64) (io.ReadCloser, error) {
	var (
		rc  io.ReadCloser
		err error
	)
	if offset > 0 {
		rc, err = s.client.ReadStreamRange(s.abs(id), offset, 0)
	} else {
		rc, err = s.client.ReadStream(s.abs(id))
	}
	if err != nil {
		return nil, wrap("download", err)
	}
	return rc, nil
}

func (s *Storage) Upload(ctx context.Context, parentID, name string, body io.Reader, size int64) (*provider.Item, error) {
	id := path.Join("/", parentID, name)
	if _, err := s.client.Stat(s.abs(id)); err == nil {
		return nil, &provider.StatusError{Provider: model.ProviderWebDav, Op: "upload", Code: http.StatusConflict, Body: name + " exists"}
	}
	return s.Replace(ctx, id, body, size)
}

func (s *Storage) Replace(ctx context.Context, id string, body io.Reader, size int64) (*provider.Item, error) {
	if err := s.client.WriteStream(s.abs(id), body, 0o644); err != nil {
		return nil, wrap("upload", err)
	}
	return s.Get(ctx, id)
}

func (s *Storage) Close() error { return nil }

func (s *Storage) item(id string, fi os.FileInfo) *provider.Item {
	id = s.rel(s.abs(id))
	it := &provider.Item{
		ID:       id,
		Name:     fi.Name(),
		Folder:   fi.IsDir(),
		Size:     fi.Size(),
		Modified: fi.ModTime(),
		Created:  fi.ModTime(),
	}
	if f, ok := fi.(*gowebdav.File); ok {
		it.MimeType = f.ContentType()
	}
	if it.Folder {
		it.Size = 0
	}
	if id != "" {
		if dir := path.Dir(id); dir != "/" {
			it.ParentID = dir
		}
	}
	return it
}

func wrap(op string, err error) error {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusPreconditionFailed, http.StatusTooManyRequests, http.StatusInsufficientStorage} {
		if gowebdav.IsErrCode(err, code) {
			return &provider.StatusError{Provider: model.ProviderWebDav, Op: op, Code: code, Body: err.Error()}
		}
	}
	if gowebdav.IsErrNotFound(err) {
		return &provider.StatusError{Provider: model.ProviderWebDav, Op: op, Code: http.StatusNotFound}
	}
	return fmt.Errorf("webdav %s: %w", op, err)
}
