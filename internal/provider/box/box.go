// Package box exposes a Box account as a provider.Storage over the Box
// content API.
package box

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go-docspace/internal/model"
	"go-docspace/internal/provider"
)

const (
	apiURL    = "https://api.box.com/2.0"
	uploadURL = "https://upload.box.com/api/2.0"
	rootID    = "0"
	fields    = "id,type,name,size,created_at,modified_at,parent"
	pageLimit = 1000
)

// Box ids are only unique per type, so item ids carry a type prefix:
// "d<id>" for folders and "f<id>" for files.
const (
	folderPrefix = "d"
	filePrefix   = "f"
)

type entry struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created_at"`
	Modified time.Time `json:"modified_at"`
	Parent   *ref      `json:"parent"`
}

type ref struct {
	ID string `json:"id"`
}

type Storage struct {
	api    *provider.API
	upload *provider.API
	root   string
}

var _ provider.Storage = (*Storage)(nil)

func Open(ctx context.Context, conn provider.Connection) (provider.Storage, error) {
	return New(conn, apiURL, uploadURL), nil
}

// New builds a Storage against the given API hosts.
func New(conn provider.Connection, api, upload string) *Storage {
	root := rootID
	if conn.Link != nil && conn.Link.FolderID != "" {
		root = conn.Link.FolderID
	}
	return &Storage{
		api:    &provider.API{Kind: model.ProviderBox, Base: api, Client: conn.Client},
		upload: &provider.API{Kind: model.ProviderBox, Base: upload, Client: conn.Client},
		root:   root,
	}
}

func (s *Storage) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		ServerCopy:      true,
		ServerMove:      true,
		RecursiveDelete: true,
		Trash:           true,
	}
}

// split returns the Box id and whether it names a folder.
func (s *Storage) split(id string) (string, bool, error) {
	switch {
	case id == "":
		return s.root, true, nil
	case strings.HasPrefix(id, folderPrefix):
		return id[len(folderPrefix):], true, nil
	case strings.HasPrefix(id, filePrefix):
		return id[len(filePrefix):], false, nil
	}
	return "", false, fmt.Errorf("%w: box id %q", provider.ErrNotFound, id)
}

func collection(folder bool) string {
	if folder {
		return "/folders/"
	}
	return "/files/"
}

func (s *Storage) Get(ctx context.Context, id string) (*provider.Item, error) {
	bid, folder, err := s.split(id)
	if err != nil {
		return nil, err
	}
	var e entry
	if err := s.api.JSON(ctx, http.MethodGet, collection(folder)+bid+"?fields="+fields, nil, &e); err != nil {
		return nil, err
	}
	return s.item(&e), nil
}

func (s *Storage) List(ctx context.Context, folderID string) ([]*provider.Item, error) {
	bid, _, err := s.split(folderID)
	if err != nil {
		return nil, err
	}
	var out []*provider.Item
	for offset := 0; ; offset += pageLimit {
		var page struct {
			Total   int     `json:"total_count"`
			Entries []entry `json:"entries"`
		}
		q := url.Values{"fields": {fields}, "limit": {fmt.Sprint(pageLimit)}, "offset": {fmt.Sprint(offset)}}
		if err := s.api.JSON(ctx, http.MethodGet, "/folders/"+bid+"/items?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		for i := range page.Entries {
			if page.Entries[i].Type == "web_link" {
				continue
			}
			out = append(out, s.item(&page.Entries[i]))
		}
		if offset+len(page.Entries) >= page.Total || len(page.Entries) == 0 {
			return out, nil
		}
	}
}

func (s *Storage) CreateFolder(ctx context.Context, parentID, name string) (*provider.Item, error) {
	pid, _, err := s.split(parentID)
	if err != nil {
		return nil, err
	}
	var e entry
	body := map[string]any{"name": name, "parent": map[string]string{"id": pid}}
	if err := s.api.JSON(ctx, http.MethodPost, "/folders?fields="+fields, body, &e); err != nil {
		return nil, err
	}
	return s.item(&e), nil
}

func (s *Storage) update(ctx context.Context, id string, body map[string]any) (*provider.Item, error) {
	bid, folder, err := s.split(id)
	if err != nil {
		return nil, err
	}
	var e entry
	if err := s.api.JSON(ctx, http.MethodPut, collection(folder)+bid+"?fields="+fields, body, &e); err != nil {
		return nil, err
	}
	return s.item(&e), nil
}

func (s *Storage) Rename(ctx context.Context, id, name string) (*provider.Item, error) {
	return s.update(ctx, id, map[string]any{"name": name})
}

func (s *Storage) Move(ctx context.Context, id, toParentID string) (*provider.Item, error) {
	pid, _, err := s.split(toParentID)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, id, map[string]any{"parent": map[string]string{"id": pid}})
}

func (s *Storage) Copy(ctx context.Context, id, toParentID string) (*provider.Item, error) {
	bid, folder, err := s.split(id)
	if err != nil {
		return nil, err
	}
	pid, _, err := s.split(toParentID)
	if err != nil {
		return nil, err
	}
	var e entry
	body := map[string]any{"parent": map[string]string{"id": pid}}
	if err := s.api.JSON(ctx, http.MethodPost, collection(folder)+bid+"/copy?fields="+fields, body, &e); err != nil {
		return nil, err
	}
	return s.item(&e), nil
}

func (s *Storage) Delete(ctx context.Context, id string) error {
	bid, folder, err := s.split(id)
	if err != nil {
		return err
	}
	target := collection(folder) + bid
	if folder {
		target += "?recursive=true"
	}
	return s.api.JSON(ctx, http.MethodDelete, target, nil, nil)
}

func (s *Storage) Download(ctx context.Context, id string, offset int64) (io.ReadCloser, error) {
	bid, folder, err := s.split(id)
	if err != nil {
		return nil, err
	}
	if folder {
		return nil, fmt.Errorf("%w: download of a folder", provider.ErrUnsupported)
	}
	resp, err := s.api.Request(ctx, http.MethodGet, s.api.Base+"/files/"+bid+"/content", nil, provider.RangeHeader(offset))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (s *Storage) Upload(ctx context.Context, parentID, name string, body io.Reader, size int64) (*provider.Item, error) {
	pid, _, err := s.split(parentID)
	if err != nil {
		return nil, err
	}
	attrs := map[string]any{"name": name, "parent": map[string]string{"id": pid}}
	return s.send(ctx, "/files/content?fields="+fields, attrs, name, body)
}

func (s *Storage) Replace(ctx context.Context, id string, body io.Reader, size int64) (*provider.Item, error) {
	bid, folder, err := s.split(id)
	if err != nil {
		return nil, err
	}
	if folder {
		return nil, fmt.Errorf("%w: replace a folder", provider.ErrUnsupported)
	}
	return s.send(ctx, "/files/"+bid+"/content?fields="+fields, map[string]any{}, "content", body)
}

// send streams the attributes part and the file part through a pipe.
func (s *Storage) send(ctx context.Context, target string, attrs map[string]any, name string, body io.Reader) (*provider.Item, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			raw, err := json.Marshal(attrs)
			if err != nil {
				return err
			}
			if err := mw.WriteField("attributes", string(raw)); err != nil {
				return err
			}
			part, err := mw.CreateFormFile("file", name)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, body); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	resp, err := s.upload.Request(ctx, http.MethodPost, s.upload.Base+target, pr,
		http.Header{"Content-Type": {mw.FormDataContentType()}})
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	defer resp.Body.Close()

	var res struct {
		Entries []entry `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("box upload: decode response: %w", err)
	}
	if len(res.Entries) == 0 {
		return nil, fmt.Errorf("box upload: empty response")
	}
	return s.item(&res.Entries[0]), nil
}

func (s *Storage) Close() error { return nil }

func (s *Storage) item(e *entry) *provider.Item {
	it := &provider.Item{
		Name:     e.Name,
		Folder:   e.Type == "folder",
		Size:     e.Size,
		Created:  e.Created,
		Modified: e.Modified,
	}
	switch {
	case it.Folder && e.ID == s.root:
		it.ID = ""
	case it.Folder:
		it.ID = folderPrefix + e.ID
	default:
		it.ID = filePrefix + e.ID
	}
	if it.ID != "" && e.Parent != nil && e.Parent.ID != s.root {
		it.ParentID = folderPrefix + e.Parent.ID
	}
	return it
}
