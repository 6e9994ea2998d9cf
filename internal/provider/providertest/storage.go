// Package providertest is an in-memory provider.Storage with fault injection.
package providertest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"go-docspace/internal/model"
	"go-docspace/internal/provider"
	"go-docspace/internal/selector"
)

type node struct {
	item provider.Item
	data []byte
}

type Storage struct {
	caps provider.Capabilities

	mu     sync.Mutex
	seq    int
	nodes  map[string]*node
	faults map[string]error
	calls  []string
	closed bool

	uploads map[string]*bytes.Buffer
}

var _ provider.Storage = (*Storage)(nil)

type Option func(*Storage)

// WithPathIDs makes ids path-derived ("/a/b.txt"), so rename and move change
// them, like Dropbox or WebDAV.
func WithPathIDs() Option {
	return func(s *Storage) { s.caps.MutableEntityID = true }
}

func WithCapabilities(c provider.Capabilities) Option {
	return func(s *Storage) { s.caps = c }
}

func New(opts ...Option) *Storage {
	s := &Storage{
		caps: provider.Capabilities{
			ServerCopy:      true,
			ServerMove:      true,
			RecursiveDelete: true,
			Trash:           true,
		},
		nodes:   map[string]*node{"": {item: provider.Item{Folder: true, Name: "root"}}},
		faults:  make(map[string]error),
		uploads: make(map[string]*bytes.Buffer),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// FailOn makes op ("delete", "download", "upload", ...) on id return err.
// An empty id matches every call of op.
func (s *Storage) FailOn(op, id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op+"|"+id] = err
}

// Calls returns "op id" for every call made so far.
func (s *Storage) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

func (s *Storage) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// AddFolder and AddFile seed content without going through the fault table.
func (s *Storage) AddFolder(parentID, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(parentID, name, true, nil).ID
}

func (s *Storage) AddFile(parentID, name, content string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(parentID, name, false, []byte(content)).ID
}

// Content returns the bytes of a file.
func (s *Storage) Content(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok || n.item.Folder {
		return "", false
	}
	return string(n.data), true
}

func (s *Storage) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[id]
	return ok
}

func (s *Storage) Capabilities() provider.Capabilities { return s.caps }

func (s *Storage) Get(_ context.Context, id string) (*provider.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("get", id); err != nil {
		return nil, err
	}
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", id, provider.ErrNotFound)
	}
	it := n.item
	return &it, nil
}

func (s *Storage) List(_ context.Context, folderID string) ([]*provider.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("list", folderID); err != nil {
		return nil, err
	}
	if n, ok := s.nodes[folderID]; !ok || !n.item.Folder {
		return nil, fmt.Errorf("list %q: %w", folderID, provider.ErrNotFound)
	}
	return s.children(folderID), nil
}

func (s *Storage) CreateFolder(_ context.Context, parentID, name string) (*provider.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("create_folder", parentID); err != nil {
		return nil, err
	}
	if err := s.checkParent(parentID, name); err != nil {
		return nil, err
	}
	it := s.insert(parentID, name, true, nil)
	return &it, nil
}

func (s *Storage) Rename(_ context.Context, id, name string) (*provider.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("rename", id); err != nil {
		return nil, err
	}
	n, ok := s.nodes[id]
	if !ok || id == "" {
		return nil, fmt.Errorf("rename %q: %w", id, provider.ErrNotFound)
	}
	n.item.Name = name
	n.item.Modified = time.Now().UTC()
	it := s.relocate(id, n.item.ParentID)
	return &it, nil
}

func (s *Storage) Move(_ context.Context, id, toParentID string) (*provider.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("move", id); err != nil {
		return nil, err
	}
	n, ok := s.nodes[id]
	if !ok || id == "" {
		return nil, fmt.Errorf("move %q: %w", id, provider.ErrNotFound)
	}
	if err := s.checkParent(toParentID, n.item.Name); err != nil {
		return nil, err
	}
	it := s.relocate(id, toParentID)
	return &it, nil
}

func (s *Storage) Copy(_ context.Context, id, toParentID string) (*provider.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("copy", id); err != nil {
		return nil, err
	}
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("copy %q: %w", id, provider.ErrNotFound)
	}
	if err := s.checkParent(toParentID, n.item.Name); err != nil {
		return nil, err
	}
	it := s.copyTree(id, toParentID)
	return &it, nil
}

func (s *Storage) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("delete", id); err != nil {
		return err
	}
	if _, ok := s.nodes[id]; !ok || id == "" {
		return fmt.Errorf("delete %q: %w", id, provider.ErrNotFound)
	}
	for _, sub := range s.subtree(id) {
		delete(s.nodes, sub)
	}
	delete(s.nodes, id)
	return nil
}

func (s *Storage) Download(_ context.Context, id string, offset int64) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("download", id); err != nil {
		return nil, err
	}
	n, ok := s.nodes[id]
	if !ok || n.item.Folder {
		return nil, fmt.Errorf("download %q: %w", id, provider.ErrNotFound)
	}
	data := n.data[min(offset, int64(len(n.data))):]
	return io.NopCloser(bytes.NewReader(slices.Clone(data))), nil
}

func (s *Storage) Upload(_ context.Context, parentID, name string, body io.Reader, _ int64) (*provider.Item, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("upload", parentID); err != nil {
		return nil, err
	}
	if err := s.checkParent(parentID, name); err != nil {
		return nil, err
	}
	it := s.insert(parentID, name, false, data)
	return &it, nil
}

func (s *Storage) Replace(_ context.Context, id string, body io.Reader, _ int64) (*provider.Item, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("replace", id); err != nil {
		return nil, err
	}
	n, ok := s.nodes[id]
	if !ok || n.item.Folder {
		return nil, fmt.Errorf("replace %q: %w", id, provider.ErrNotFound)
	}
	n.data = data
	n.item.Size = int64(len(data))
	n.item.Modified = time.Now().UTC()
	it := n.item
	return &it, nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ── internals (s.mu held) ────────────────────────────────────────

func (s *Storage) enter(op, id string) error {
	s.calls = append(s.calls, op+" "+id)
	if err, ok := s.faults[op+"|"+id]; ok {
		return err
	}
	if err, ok := s.faults[op+"|"]; ok {
		return err
	}
	return nil
}

func (s *Storage) checkParent(parentID, name string) error {
	n, ok := s.nodes[parentID]
	if !ok || !n.item.Folder {
		return fmt.Errorf("parent %q: %w", parentID, provider.ErrNotFound)
	}
	for _, c := range s.children(parentID) {
		if c.Name == name {
			return fmt.Errorf("%q already exists in %q", name, parentID)
		}
	}
	return nil
}

func (s *Storage) newID(parentID, name string) string {
	if s.caps.MutableEntityID {
		return path.Join("/", parentID, name)
	}
	s.seq++
	return fmt.Sprintf("n%d", s.seq)
}

func (s *Storage) insert(parentID, name string, folder bool, data []byte) provider.Item {
	now := time.Now().UTC()
	it := provider.Item{
		ID:       s.newID(parentID, name),
		ParentID: parentID,
		Name:     name,
		Folder:   folder,
		Size:     int64(len(data)),
		Created:  now,
		Modified: now,
	}
	s.nodes[it.ID] = &node{item: it, data: data}
	return it
}

func (s *Storage) children(parentID string) []*provider.Item {
	out := make([]*provider.Item, 0)
	for id, n := range s.nodes {
		if id != "" && n.item.ParentID == parentID {
			it := n.item
			out = append(out, &it)
		}
	}
	slices.SortFunc(out, func(a, b *provider.Item) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (s *Storage) subtree(id string) []string {
	var out []string
	for _, c := range s.children(id) {
		out = append(out, c.ID)
		out = append(out, s.subtree(c.ID)...)
	}
	return out
}

// relocate re-parents id and, for path ids, rewrites it and its subtree.
func (s *Storage) relocate(id, parentID string) provider.Item {
	n := s.nodes[id]
	n.item.ParentID = parentID
	if !s.caps.MutableEntityID {
		return n.item
	}

	newID := path.Join("/", parentID, n.item.Name)
	if newID == id {
		return n.item
	}
	sub := s.subtree(id)
	delete(s.nodes, id)
	n.item.ID = newID
	s.nodes[newID] = n
	for _, old := range sub {
		c := s.nodes[old]
		delete(s.nodes, old)
		c.item.ID = newID + strings.TrimPrefix(old, id)
		c.item.ParentID = newID + strings.TrimPrefix(c.item.ParentID, id)
		s.nodes[c.item.ID] = c
	}
	return n.item
}

func (s *Storage) copyTree(id, toParentID string) provider.Item {
	src := s.nodes[id]
	it := s.insert(toParentID, src.item.Name, src.item.Folder, slices.Clone(src.data))
	if src.item.Folder {
		for _, c := range s.children(id) {
			s.copyTree(c.ID, it.ID)
		}
	}
	return it
}

// ── chunked uploads ──────────────────────────────────────────────

// Chunked adds a native resumable upload to Storage.
type Chunked struct {
	*Storage
}

var _ provider.ChunkedUploader = Chunked{}

func (c Chunked) StartUpload(_ context.Context, parentID, name string, _ int64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("start_upload", parentID); err != nil {
		return "", err
	}
	c.seq++
	id := fmt.Sprintf("upload-%d", c.seq)
	c.uploads[id] = &bytes.Buffer{}
	return id, nil
}

func (c Chunked) UploadPart(_ context.Context, sessionID string, offset int64, body io.Reader, _ int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.uploads[sessionID]
	if !ok {
		return fmt.Errorf("upload %s: %w", sessionID, provider.ErrNotFound)
	}
	if int64(buf.Len()) != offset {
		return fmt.Errorf("upload %s: offset %d, have %d", sessionID, offset, buf.Len())
	}
	buf.Write(data)
	return nil
}

func (c Chunked) FinishUpload(_ context.Context, sessionID, parentID, name string, _ int64) (*provider.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.uploads[sessionID]
	if !ok {
		return nil, fmt.Errorf("upload %s: %w", sessionID, provider.ErrNotFound)
	}
	delete(c.uploads, sessionID)
	if err := c.checkParent(parentID, name); err != nil {
		return nil, err
	}
	it := c.insert(parentID, name, false, buf.Bytes())
	return &it, nil
}

func (c Chunked) AbortUpload(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.uploads, sessionID)
	return nil
}

// ── sessions ─────────────────────────────────────────────────────

// Sessions hands out fixed storages by link id, in place of the session cache.
type Sessions struct {
	mu       sync.Mutex
	storages map[int]provider.Storage
	dropped  []int
}

func NewSessions() *Sessions {
	return &Sessions{storages: make(map[int]provider.Storage)}
}

func (s *Sessions) Set(linkID int, st provider.Storage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storages[linkID] = st
}

func (s *Sessions) Acquire(_ context.Context, link *model.ProviderLink) (provider.Storage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.storages[link.ID]
	if !ok {
		return nil, fmt.Errorf("link %d: %w", link.ID, model.ErrUnauthorized)
	}
	return st, nil
}

func (s *Sessions) Invalidate(selector.Selector, int, string, bool) {}

func (s *Sessions) Drop(linkID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.storages, linkID)
	s.dropped = append(s.dropped, linkID)
}

// Dropped lists the link ids passed to Drop.
func (s *Sessions) Dropped() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.dropped)
}
