// Package graph exposes OneDrive and SharePoint document libraries through the
// Microsoft Graph drive API.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go-docspace/internal/model"
	"go-docspace/internal/provider"
)

const (
	endpoint = "https://graph.microsoft.com/v1.0"
	// below this size content goes in a single PUT
	simpleUploadLimit = 4 << 20
	chunkSize         = 10 * 320 << 10
)

type driveItem struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Size            int64            `json:"size"`
	Created         time.Time        `json:"createdDateTime"`
	Modified        time.Time        `json:"lastModifiedDateTime"`
	Folder          *struct{}        `json:"folder,omitempty"`
	File            *fileFacet       `json:"file,omitempty"`
	ParentReference *parentReference `json:"parentReference,omitempty"`
}

type fileFacet struct {
	MimeType string `json:"mimeType"`
}

type parentReference struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// the drive root is reported with this path in children's references
const rootPath = "/drive/root:"

type Storage struct {
	api    *provider.API
	upload *http.Client
	kind   model.ProviderType
	root   string

	mu      sync.Mutex
	uploads map[string]*uploadState

	// CopyPoll is the interval between checks of an async copy monitor.
	CopyPoll time.Duration
}

var (
	_ provider.Storage         = (*Storage)(nil)
	_ provider.ChunkedUploader = (*Storage)(nil)
)

// OpenOneDrive is the provider.Factory for personal and business OneDrive.
func OpenOneDrive(ctx context.Context, conn provider.Connection) (provider.Storage, error) {
	return New(model.ProviderOneDrive, endpoint+"/me/drive", conn), nil
}

// OpenSharePoint is the provider.Factory for SharePoint; the link URL carries
// the site id.
func OpenSharePoint(ctx context.Context, conn provider.Connection) (provider.Storage, error) {
	if conn.Link == nil || conn.Link.URL == "" {
		return nil, fmt.Errorf("%w: sharepoint link needs a site id", model.ErrInvalidInput)
	}
	return New(model.ProviderSharePoint, endpoint+"/sites/"+url.PathEscape(conn.Link.URL)+"/drive", conn), nil
}

// New builds a Storage over the drive at driveURL.
func New(kind model.ProviderType, driveURL string, conn provider.Connection) *Storage {
	root := ""
	if conn.Link != nil {
		root = conn.Link.FolderID
	}
	return &Storage{
		api:      &provider.API{Kind: kind, Base: driveURL, Client: conn.Client},
		upload:   &http.Client{Timeout: 10 * time.Minute},
		kind:     kind,
		root:     root,
		uploads:  make(map[string]*uploadState),
		CopyPoll: time.Second,
	}
}

func (s *Storage) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		ServerCopy:      true,
		ServerMove:      true,
		RecursiveDelete: true,
		Trash:           true,
		MaxChunkSize:    chunkSize,
	}
}

func (s *Storage) itemPath(id string) string {
	switch {
	case id != "":
		return "/items/" + url.PathEscape(id)
	case s.root != "":
		return "/items/" + url.PathEscape(s.root)
	default:
		return "/root"
	}
}

func (s *Storage) Get(ctx context.Context, id string) (*provider.Item, error) {
	var di driveItem
	if err := s.api.JSON(ctx, http.MethodGet, s.itemPath(id), nil, &di); err != nil {
		return nil, err
	}
	return s.item(&di, id == ""), nil
}

func (s *Storage) List(ctx context.Context, folderID string) ([]*provider.Item, error) {
	var out []*provider.Item
	next := s.api.Base + s.itemPath(folderID) + "/children?$top=999"
	for next != "" {
		var page struct {
			Value    []driveItem `json:"value"`
			NextLink string      `json:"@odata.nextLink"`
		}
		resp, err := s.api.Request(ctx, http.MethodGet, next, nil, nil)
		if err != nil {
			return nil, err
		}
		if err := decode(resp, &page); err != nil {
			return nil, err
		}
		for i := range page.Value {
			out = append(out, s.item(&page.Value[i], false))
		}
		next = page.NextLink
	}
	return out, nil
}

func (s *Storage) CreateFolder(ctx context.Context, parentID, name string) (*provider.Item, error) {
	var di driveItem
	body := map[string]any{
		"name":                              name,
		"folder":                            map[string]any{},
		"@microsoft.graph.conflictBehavior": "fail",
	}
	if err := s.api.JSON(ctx, http.MethodPost, s.itemPath(parentID)+"/children", body, &di); err != nil {
		return nil, err
	}
	return s.item(&di, false), nil
}

func (s *Storage) Rename(ctx context.Context, id, name string) (*provider.Item, error) {
	var di driveItem
	if err := s.api.JSON(ctx, http.MethodPatch, s.itemPath(id), map[string]any{"name": name}, &di); err != nil {
		return nil, err
	}
	return s.item(&di, false), nil
}

func (s *Storage) Move(ctx context.Context, id, toParentID string) (*provider.Item, error) {
	parent, err := s.parentRef(ctx, toParentID)
	if err != nil {
		return nil, err
	}
	var di driveItem
	if err := s.api.JSON(ctx, http.MethodPatch, s.itemPath(id), map[string]any{"parentReference": parent}, &di); err != nil {
		return nil, err
	}
	return s.item(&di, false), nil
}

// Copy starts an async server copy and polls its monitor until the new item
// id is known.
func (s *Storage) Copy(ctx context.Context, id, toParentID string) (*provider.Item, error) {
	parent, err := s.parentRef(ctx, toParentID)
	if err != nil {
		return nil, err
	}
	resp, err := s.api.Request(ctx, http.MethodPost, s.api.Base+s.itemPath(id)+"/copy",
		map[string]any{"parentReference": parent}, nil)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	monitor := resp.Header.Get("Location")
	if monitor == "" {
		return nil, &provider.StatusError{Provider: s.kind, Op: "copy", Code: resp.StatusCode, Body: "no monitor location"}
	}

	ticker := time.NewTicker(s.CopyPoll)
	defer ticker.Stop()
	for {
		var st struct {
			Status     string `json:"status"`
			ResourceID string `json:"resourceId"`
		}
		// the monitor URL is pre-authenticated
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, monitor, nil)
		if err != nil {
			return nil, err
		}
		r, err := s.upload.Do(req)
		if err != nil {
			return nil, err
		}
		if err := decode(r, &st); err != nil {
			return nil, err
		}
		switch st.Status {
		case "completed":
			return s.Get(ctx, st.ResourceID)
		case "failed":
			return nil, &provider.StatusError{Provider: s.kind, Op: "copy", Code: http.StatusInternalServerError, Body: "copy failed"}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Storage) Delete(ctx context.Context, id string) error {
	return s.api.JSON(ctx, http.MethodDelete, s.itemPath(id), nil, nil)
}

func (s *Storage) Download(ctx context.Context, id string, offset int64) (io.ReadCloser, error) {
	resp, err := s.api.Request(ctx, http.MethodGet, s.api.Base+s.itemPath(id)+"/content", nil, provider.RangeHeader(offset))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (s *Storage) Upload(ctx context.Context, parentID, name string, body io.Reader, size int64) (*provider.Item, error) {
	if size >= 0 && size <= simpleUploadLimit {
		target := s.itemPath(parentID) + ":/" + url.PathEscape(name) + ":/content?@microsoft.graph.conflictBehavior=fail"
		return s.put(ctx, target, body, size)
	}
	return s.chunked(ctx, parentID, name, body, size)
}

func (s *Storage) Replace(ctx context.Context, id string, body io.Reader, size int64) (*provider.Item, error) {
	if size >= 0 && size <= simpleUploadLimit {
		return s.put(ctx, s.itemPath(id)+"/content", body, size)
	}
	it, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.chunked(ctx, it.ParentID, it.Name, body, size)
}

func (s *Storage) put(ctx context.Context, target string, body io.Reader, size int64) (*provider.Item, error) {
	resp, err := s.api.Request(ctx, http.MethodPut, s.api.Base+target, body,
		http.Header{"Content-Type": {"application/octet-stream"}})
	if err != nil {
		return nil, err
	}
	var di driveItem
	if err := decode(resp, &di); err != nil {
		return nil, err
	}
	return s.item(&di, false), nil
}

// chunked spools unknown-length bodies through upload-session parts.
func (s *Storage) chunked(ctx context.Context, parentID, name string, body io.Reader, size int64) (*provider.Item, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: %s needs the content length for large uploads", provider.ErrUnsupported, s.kind)
	}
	session, err := s.StartUpload(ctx, parentID, name, size)
	if err != nil {
		return nil, err
	}
	var offset int64
	for offset < size {
		n := min(int64(chunkSize), size-offset)
		if err := s.UploadPart(ctx, session, offset, body, n); err != nil {
			s.AbortUpload(context.WithoutCancel(ctx), session)
			return nil, err
		}
		offset += n
	}
	return s.FinishUpload(ctx, session, parentID, name, size)
}

// uploadState tracks the last answer of an upload URL; the final PUT returns
// the created item.
type uploadState struct {
	size int64
	last *driveItem
}

func (s *Storage) StartUpload(ctx context.Context, parentID, name string, size int64) (string, error) {
	var res struct {
		UploadURL string `json:"uploadUrl"`
	}
	body := map[string]any{"item": map[string]any{"@microsoft.graph.conflictBehavior": "fail"}}
	target := s.itemPath(parentID) + ":/" + url.PathEscape(name) + ":/createUploadSession"
	if err := s.api.JSON(ctx, http.MethodPost, target, body, &res); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.uploads[res.UploadURL] = &uploadState{size: size}
	s.mu.Unlock()
	return res.UploadURL, nil
}

func (s *Storage) UploadPart(ctx context.Context, sessionID string, offset int64, body io.Reader, length int64) error {
	st, ok := s.session(sessionID, false)
	if !ok {
		return fmt.Errorf("%w: unknown upload session", model.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionID, io.LimitReader(body, length))
	if err != nil {
		return err
	}
	req.ContentLength = length
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, st.size))
	resp, err := s.upload.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &provider.StatusError{Provider: s.kind, Op: "upload part", Code: resp.StatusCode, Body: string(msg)}
	}
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		var di driveItem
		if err := decode(resp, &di); err != nil {
			return err
		}
		st.last = &di
		return nil
	}
	resp.Body.Close()
	return nil
}

func (s *Storage) FinishUpload(ctx context.Context, sessionID, parentID, name string, size int64) (*provider.Item, error) {
	st, ok := s.session(sessionID, true)
	if !ok || st.last == nil {
		return nil, fmt.Errorf("%w: upload of %s is incomplete", model.ErrInvalidInput, name)
	}
	return s.item(st.last, false), nil
}

func (s *Storage) AbortUpload(ctx context.Context, sessionID string) error {
	s.session(sessionID, true)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, sessionID, nil)
	if err != nil {
		return err
	}
	resp, err := s.upload.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (s *Storage) session(id string, remove bool) (*uploadState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.uploads[id]
	if remove {
		delete(s.uploads, id)
	}
	return st, ok
}

func (s *Storage) Close() error { return nil }

func (s *Storage) parentRef(ctx context.Context, parentID string) (map[string]string, error) {
	if parentID != "" {
		return map[string]string{"id": parentID}, nil
	}
	root, err := s.rootID(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"id": root}, nil
}

func (s *Storage) rootID(ctx context.Context) (string, error) {
	if s.root != "" {
		return s.root, nil
	}
	var di driveItem
	if err := s.api.JSON(ctx, http.MethodGet, "/root?$select=id", nil, &di); err != nil {
		return "", err
	}
	return di.ID, nil
}

func (s *Storage) item(di *driveItem, isRoot bool) *provider.Item {
	it := &provider.Item{
		ID:       di.ID,
		Name:     di.Name,
		Folder:   di.Folder != nil,
		Size:     di.Size,
		Created:  di.Created,
		Modified: di.Modified,
	}
	if di.File != nil {
		it.MimeType = di.File.MimeType
	}
	if isRoot || (s.root != "" && di.ID == s.root) {
		it.ID = ""
		return it
	}
	if p := di.ParentReference; p != nil && p.ID != s.root && !(s.root == "" && p.Path == rootPath) {
		it.ParentID = p.ID
	}
	return it
}

func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode graph response: %w", err)
	}
	return nil
}
