// Package googledrive exposes a Google Drive account as a provider.Storage.
package googledrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"go-docspace/internal/model"
	"go-docspace/internal/provider"
)

const (
	folderMime = "application/vnd.google-apps.folder"
	fields     = "id, name, mimeType, parents, size, createdTime, modifiedTime"
	listFields = "nextPageToken, files(" + fields + ")"
)

// native documents have no binary content and are exported instead
var exportMime = map[string]string{
	"application/vnd.google-apps.document":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.google-apps.spreadsheet":  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.google-apps.presentation": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"application/vnd.google-apps.drawing":      "image/png",
}

type Storage struct {
	svc  *drive.Service
	root string
}

var _ provider.Storage = (*Storage)(nil)

// Open is the provider.Factory for Google Drive. The link's FolderID, when
// set, becomes the root instead of "My Drive".
func Open(ctx context.Context, conn provider.Connection) (provider.Storage, error) {
	folder := ""
	if conn.Link != nil {
		folder = conn.Link.FolderID
	}
	return New(ctx, folder, option.WithHTTPClient(conn.Client))
}

// New builds a Storage rooted at folder, or at "My Drive" when empty. The
// "root" alias is resolved to its id up front because children report the
// real id as their parent.
func New(ctx context.Context, folder string, opts ...option.ClientOption) (*Storage, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	if folder != "" {
		return &Storage{svc: svc, root: folder}, nil
	}
	root, err := svc.Files.Get("root").Fields("id").Context(ctx).Do()
	if err != nil {
		return nil, wrap("resolve root", err)
	}
	return &Storage{svc: svc, root: root.Id}, nil
}

func (s *Storage) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		ServerCopy:      true,
		ServerMove:      true,
		RecursiveDelete: true,
		Trash:           true,
		MaxChunkSize:    8 << 20,
	}
}

func (s *Storage) native(id string) string {
	if id == "" {
		return s.root
	}
	return id
}

func (s *Storage) Get(ctx context.Context, id string) (*provider.Item, error) {
	f, err := s.svc.Files.Get(s.native(id)).Fields(fields).Context(ctx).Do()
	if err != nil {
		return nil, wrap("get", err)
	}
	return s.item(f), nil
}

func (s *Storage) List(ctx context.Context, folderID string) ([]*provider.Item, error) {
	q := fmt.Sprintf("'%s' in parents and trashed = false", escape(s.native(folderID)))
	var out []*provider.Item
	pageToken := ""
	for {
		call := s.svc.Files.List().Q(q).Fields(listFields).PageSize(1000).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := call.Do()
		if err != nil {
			return nil, wrap("list", err)
		}
		for _, f := range res.Files {
			out = append(out, s.item(f))
		}
		if res.NextPageToken == "" {
			return out, nil
		}
		pageToken = res.NextPageToken
	}
}

func (s *Storage) CreateFolder(ctx context.Context, parentID, name string) (*provider.Item, error) {
	f, err := s.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMime,
		Parents:  []string{s.native(parentID)},
	}).Fields(fields).Context(ctx).Do()
	if err != nil {
		return nil, wrap("create folder", err)
	}
	return s.item(f), nil
}

func (s *Storage) Rename(ctx context.Context, id, name string) (*provider.Item, error) {
	f, err := s.svc.Files.Update(id, &drive.File{Name: name}).Fields(fields).Context(ctx).Do()
	if err != nil {
		return nil, wrap("rename", err)
	}
	return s.item(f), nil
}

func (s *Storage) Move(ctx context.Context, id, toParentID string) (*provider.Item, error) {
	cur, err := s.svc.Files.Get(id).Fields("parents").Context(ctx).Do()
	if err != nil {
		return nil, wrap("move", err)
	}
	f, err := s.svc.Files.Update(id, &drive.File{}).
		AddParents(s.native(toParentID)).
		RemoveParents(strings.Join(cur.Parents, ",")).
		Fields(fields).Context(ctx).Do()
	if err != nil {
		return nil, wrap("move", err)
	}
	return s.item(f), nil
}

// Copy copies files server-side. Drive cannot copy folders, so a folder is
// recreated and filled recursively.
func (s *Storage) Copy(ctx context.Context, id, toParentID string) (*provider.Item, error) {
	src, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !src.Folder {
		f, err := s.svc.Files.Copy(id, &drive.File{Name: src.Name, Parents: []string{s.native(toParentID)}}).
			Fields(fields).Context(ctx).Do()
		if err != nil {
			return nil, wrap("copy", err)
		}
		return s.item(f), nil
	}

	dst, err := s.CreateFolder(ctx, toParentID, src.Name)
	if err != nil {
		return nil, err
	}
	children, err := s.List(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := s.Copy(ctx, c.ID, dst.ID); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func (s *Storage) Delete(ctx context.Context, id string) error {
	if err := s.svc.Files.Delete(id).Context(ctx).Do(); err != nil {
		return wrap("delete", err)
	}
	return nil
}

func (s *Storage) Download(ctx context.Context, id string, offset int64) (io.ReadCloser, error) {
	meta, err := s.svc.Files.Get(id).Fields("mimeType").Context(ctx).Do()
	if err != nil {
		return nil, wrap("download", err)
	}

	if target, ok := exportMime[meta.MimeType]; ok {
		resp, err := s.svc.Files.Export(id, target).Context(ctx).Download()
		if err != nil {
			return nil, wrap("export", err)
		}
		if offset > 0 {
			if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
				resp.Body.Close()
				return nil, err
			}
		}
		return resp.Body, nil
	}

	call := s.svc.Files.Get(id).Context(ctx)
	if offset > 0 {
		call.Header().Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := call.Download()
	if err != nil {
		return nil, wrap("download", err)
	}
	return resp.Body, nil
}

func (s *Storage) Upload(ctx context.Context, parentID, name string, body io.Reader, size int64) (*provider.Item, error) {
	f, err := s.svc.Files.Create(&drive.File{Name: name, Parents: []string{s.native(parentID)}}).
		Media(body, googleapi.ChunkSize(int(s.Capabilities().MaxChunkSize))).
		Fields(fields).Context(ctx).Do()
	if err != nil {
		return nil, wrap("upload", err)
	}
	return s.item(f), nil
}

func (s *Storage) Replace(ctx context.Context, id string, body io.Reader, size int64) (*provider.Item, error) {
	f, err := s.svc.Files.Update(id, &drive.File{}).
		Media(body, googleapi.ChunkSize(int(s.Capabilities().MaxChunkSize))).
		Fields(fields).Context(ctx).Do()
	if err != nil {
		return nil, wrap("replace", err)
	}
	return s.item(f), nil
}

func (s *Storage) Close() error { return nil }

func (s *Storage) item(f *drive.File) *provider.Item {
	it := &provider.Item{
		ID:       f.Id,
		Name:     f.Name,
		Folder:   f.MimeType == folderMime,
		Size:     f.Size,
		MimeType: f.MimeType,
		Created:  parseTime(f.CreatedTime),
		Modified: parseTime(f.ModifiedTime),
	}
	if f.Id == s.root {
		it.ID = ""
	}
	if len(f.Parents) > 0 && f.Parents[0] != s.root {
		it.ParentID = f.Parents[0]
	}
	return it
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339, v)
	return t
}

func escape(id string) string {
	return strings.ReplaceAll(id, "'", `\'`)
}

func wrap(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &provider.StatusError{Provider: model.ProviderGoogleDrive, Op: op, Code: gerr.Code, Body: gerr.Message}
	}
	return fmt.Errorf("google drive %s: %w", op, err)
}
