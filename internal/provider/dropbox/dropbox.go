// Package dropbox exposes a Dropbox account as a provider.Storage. Entry ids
// are display paths, so they change on rename and move.
package dropbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"

	"go-docspace/internal/model"
	"go-docspace/internal/provider"
)

// single-request uploads are capped by the API at 150 MiB
const singleUploadLimit = 150 << 20

const chunkSize = 8 << 20

type Storage struct {
	client files.Client
	root   string
}

var (
	_ provider.Storage         = (*Storage)(nil)
	_ provider.ChunkedUploader = (*Storage)(nil)
)

// Open is the provider.Factory for Dropbox. The oauth2 client on conn adds
// the bearer token, so the SDK config carries none.
func Open(ctx context.Context, conn provider.Connection) (provider.Storage, error) {
	folder := ""
	if conn.Link != nil {
		folder = conn.Link.FolderID
	}
	return New(dropbox.Config{Client: conn.Client}, folder), nil
}

// New builds a Storage rooted at folder, the whole account when empty.
func New(cfg dropbox.Config, folder string) *Storage {
	root := ""
	if folder != "" {
		root = "/" + strings.Trim(folder, "/")
	}
	return &Storage{client: files.New(cfg), root: root}
}

func (s *Storage) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		MutableEntityID: true,
		ServerCopy:      true,
		ServerMove:      true,
		RecursiveDelete: true,
		Trash:           true,
		MaxChunkSize:    chunkSize,
	}
}

// abs maps a link-relative id to the account path.
func (s *Storage) abs(id string) string {
	if id == "" {
		return s.root
	}
	return s.root + id
}

// child is the account path of name below parentID.
func (s *Storage) child(parentID, name string) string {
	return path.Join("/", s.abs(parentID), name)
}

func (s *Storage) rel(p string) string {
	if s.root != "" && strings.EqualFold(p, s.root) {
		return ""
	}
	if s.root != "" && len(p) > len(s.root) && strings.EqualFold(p[:len(s.root)], s.root) {
		return p[len(s.root):]
	}
	return p
}

func (s *Storage) Get(ctx context.Context, id string) (*provider.Item, error) {
	if s.abs(id) == "" {
		return &provider.Item{Folder: true, Name: "Dropbox"}, nil
	}
	md, err := s.client.GetMetadata(files.NewGetMetadataArg(s.abs(id)))
	if err != nil {
		return nil, wrap("get", err)
	}
	return s.item(md), nil
}

func (s *Storage) List(ctx context.Context, folderID string) ([]*provider.Item, error) {
	res, err := s.client.ListFolder(files.NewListFolderArg(s.abs(folderID)))
	if err != nil {
		return nil, wrap("list", err)
	}
	var out []*provider.Item
	for {
		for _, md := range res.Entries {
			if it := s.item(md); it != nil {
				out = append(out, it)
			}
		}
		if !res.HasMore {
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err = s.client.ListFolderContinue(files.NewListFolderContinueArg(res.Cursor))
		if err != nil {
			return nil, wrap("list", err)
		}
	}
}

func (s *Storage) CreateFolder(ctx context.Context, parentID, name string) (*provider.Item, error) {
	res, err := s.client.CreateFolderV2(files.NewCreateFolderArg(s.child(parentID, name)))
	if err != nil {
		return nil, wrap("create folder", err)
	}
	return s.item(res.Metadata), nil
}

func (s *Storage) relocate(op, from, to string, keep bool) (*provider.Item, error) {
	arg := files.NewRelocationArg(from, to)
	var (
		res *files.RelocationResult
		err error
	)
	if keep {
		res, err = s.client.CopyV2(arg)
	} else {
		res, err = s.client.MoveV2(arg)
	}
	if err != nil {
		return nil, wrap(op, err)
	}
	return s.item(res.Metadata), nil
}

func (s *Storage) Rename(ctx context.Context, id, name string) (*provider.Item, error) {
	from := s.abs(id)
	return s.relocate("rename", from, path.Join(path.Dir(from), name), false)
}

func (s *Storage) Move(ctx context.Context, id, toParentID string) (*provider.Item, error) {
	from := s.abs(id)
	return s.relocate("move", from, s.child(toParentID, path.Base(from)), false)
}

func (s *Storage) Copy(ctx context.Context, id, toParentID string) (*provider.Item, error) {
	from := s.abs(id)
	return s.relocate("copy", from, s.child(toParentID, path.Base(from)), true)
}

func (s *Storage) Delete(ctx context.Context, id string) error {
	if _, err := s.client.DeleteV2(files.NewDeleteArg(s.abs(id))); err != nil {
		return wrap("delete", err)
	}
	return nil
}

func (s *Storage) Download(ctx context.Context, id string, offset int64) (io.ReadCloser, error) {
	arg := files.NewDownloadArg(s.abs(id))
	if offset > 0 {
		arg.ExtraHeaders = map[string]string{"Range": fmt.Sprintf("bytes=%d-", offset)}
	}
	_, rc, err := s.client.Download(arg)
	if err != nil {
		return nil, wrap("download", err)
	}
	return rc, nil
}

func (s *Storage) Upload(ctx context.Context, parentID, name string, body io.Reader, size int64) (*provider.Item, error) {
	return s.write(ctx, s.child(parentID, name), body, size, false)
}

func (s *Storage) Replace(ctx context.Context, id string, body io.Reader, size int64) (*provider.Item, error) {
	return s.write(ctx, s.abs(id), body, size, true)
}

func (s *Storage) write(ctx context.Context, target string, body io.Reader, size int64, overwrite bool) (*provider.Item, error) {
	commit := files.NewCommitInfo(target)
	if overwrite {
		commit.Mode = &files.WriteMode{Tagged: dropbox.Tagged{Tag: files.WriteModeOverwrite}}
	}

	if size >= 0 && size <= singleUploadLimit {
		arg := files.NewUploadArg(target)
		arg.CommitInfo = *commit
		md, err := s.client.Upload(arg, body)
		if err != nil {
			return nil, wrap("upload", err)
		}
		return s.item(md), nil
	}

	start, err := s.client.UploadSessionStart(files.NewUploadSessionStartArg(), http.NoBody)
	if err != nil {
		return nil, wrap("upload session start", err)
	}
	var offset uint64
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, rerr := io.ReadFull(body, buf)
		if n > 0 {
			cursor := files.NewUploadSessionCursor(start.SessionId, offset)
			if err := s.client.UploadSessionAppendV2(files.NewUploadSessionAppendArg(cursor), bytes.NewReader(buf[:n])); err != nil {
				return nil, wrap("upload session append", err)
			}
			offset += uint64(n)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return nil, rerr
		}
	}
	md, err := s.client.UploadSessionFinish(
		files.NewUploadSessionFinishArg(files.NewUploadSessionCursor(start.SessionId, offset), commit), http.NoBody)
	if err != nil {
		return nil, wrap("upload session finish", err)
	}
	return s.item(md), nil
}

func (s *Storage) StartUpload(ctx context.Context, parentID, name string, size int64) (string, error) {
	res, err := s.client.UploadSessionStart(files.NewUploadSessionStartArg(), http.NoBody)
	if err != nil {
		return "", wrap("upload session start", err)
	}
	return res.SessionId, nil
}

func (s *Storage) UploadPart(ctx context.Context, sessionID string, offset int64, body io.Reader, length int64) error {
	cursor := files.NewUploadSessionCursor(sessionID, uint64(offset))
	if err := s.client.UploadSessionAppendV2(files.NewUploadSessionAppendArg(cursor), io.LimitReader(body, length)); err != nil {
		return wrap("upload session append", err)
	}
	return nil
}

func (s *Storage) FinishUpload(ctx context.Context, sessionID, parentID, name string, size int64) (*provider.Item, error) {
	cursor := files.NewUploadSessionCursor(sessionID, uint64(size))
	md, err := s.client.UploadSessionFinish(
		files.NewUploadSessionFinishArg(cursor, files.NewCommitInfo(s.child(parentID, name))), http.NoBody)
	if err != nil {
		return nil, wrap("upload session finish", err)
	}
	return s.item(md), nil
}

// AbortUpload is a no-op: unfinished Dropbox sessions expire on their own.
func (s *Storage) AbortUpload(ctx context.Context, sessionID string) error { return nil }

func (s *Storage) Close() error { return nil }

func (s *Storage) item(md files.IsMetadata) *provider.Item {
	switch m := md.(type) {
	case *files.FileMetadata:
		return &provider.Item{
			ID:       s.rel(m.PathDisplay),
			ParentID: s.parent(m.PathDisplay),
			Name:     m.Name,
			Size:     int64(m.Size),
			Created:  m.ClientModified,
			Modified: m.ServerModified,
		}
	case *files.FolderMetadata:
		return &provider.Item{
			ID:       s.rel(m.PathDisplay),
			ParentID: s.parent(m.PathDisplay),
			Name:     m.Name,
			Folder:   true,
		}
	}
	return nil
}

func (s *Storage) parent(p string) string {
	dir := path.Dir(p)
	if dir == "/" || dir == "." {
		return ""
	}
	return s.rel(dir)
}

// wrap maps SDK errors by their summary text; the typed API errors differ per
// endpoint.
func wrap(op string, err error) error {
	msg := err.Error()
	code := 0
	switch {
	case strings.Contains(msg, "not_found"):
		code = http.StatusNotFound
	case strings.Contains(msg, "expired_access_token"), strings.Contains(msg, "invalid_access_token"):
		code = http.StatusUnauthorized
	case strings.Contains(msg, "too_many_requests"), strings.Contains(msg, "too_many_write_operations"):
		code = http.StatusTooManyRequests
	case strings.Contains(msg, "insufficient_space"):
		code = http.StatusInsufficientStorage
	case strings.Contains(msg, "conflict"):
		code = http.StatusConflict
	}
	if code == 0 {
		return fmt.Errorf("dropbox %s: %w", op, err)
	}
	return &provider.StatusError{Provider: model.ProviderDropbox, Op: op, Code: code, Body: msg}
}
