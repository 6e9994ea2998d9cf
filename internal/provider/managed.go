package provider

import (
	"context"
	"io"
	"time"

	"go-docspace/internal/metrics"
	"go-docspace/internal/model"
	"go-docspace/internal/retry"
)

// managed decorates a Storage with the entity cache, retries of idempotent
// reads and call metrics. Every successful mutation evicts the touched
// entities and their parents' listings.
type managed struct {
	Storage
	kind   model.ProviderType
	linkID int
	cache  *EntityCache
	policy retry.Policy
}

var _ Storage = (*managed)(nil)

func (m *managed) observe(op string, start time.Time, err error) {
	metrics.RecordProviderCall(string(m.kind), op, time.Since(start), err)
}

func (m *managed) Get(ctx context.Context, id string) (*Item, error) {
	if it, ok := m.cache.Item(m.linkID, id); ok {
		return it, nil
	}
	start := time.Now()
	it, err := retry.Value(ctx, m.policy, func(ctx context.Context) (*Item, error) {
		it, err := m.Storage.Get(ctx, id)
		return it, Classify(err)
	})
	m.observe("get", start, err)
	if err != nil {
		return nil, err
	}
	m.cache.PutItem(m.linkID, it)
	return it, nil
}

func (m *managed) List(ctx context.Context, folderID string) ([]*Item, error) {
	if items, ok := m.cache.List(m.linkID, folderID); ok {
		return items, nil
	}
	start := time.Now()
	items, err := retry.Value(ctx, m.policy, func(ctx context.Context) ([]*Item, error) {
		items, err := m.Storage.List(ctx, folderID)
		return items, Classify(err)
	})
	m.observe("list", start, err)
	if err != nil {
		return nil, err
	}
	m.cache.PutList(m.linkID, folderID, items)
	for _, it := range items {
		m.cache.PutItem(m.linkID, it)
	}
	return items, nil
}

func (m *managed) CreateFolder(ctx context.Context, parentID, name string) (*Item, error) {
	start := time.Now()
	it, err := m.Storage.CreateFolder(ctx, parentID, name)
	m.observe("create_folder", start, err)
	if err != nil {
		return nil, err
	}
	m.cache.InvalidateFolder(m.linkID, parentID)
	return it, nil
}

func (m *managed) Rename(ctx context.Context, id, name string) (*Item, error) {
	parent := m.parentOf(id)
	start := time.Now()
	it, err := m.Storage.Rename(ctx, id, name)
	m.observe("rename", start, err)
	if err != nil {
		return nil, err
	}
	m.evict(id, parent, it)
	return it, nil
}

func (m *managed) Move(ctx context.Context, id, toParentID string) (*Item, error) {
	parent := m.parentOf(id)
	start := time.Now()
	it, err := m.Storage.Move(ctx, id, toParentID)
	m.observe("move", start, err)
	if err != nil {
		return nil, err
	}
	m.evict(id, parent, it)
	m.cache.InvalidateFolder(m.linkID, toParentID)
	return it, nil
}

func (m *managed) Copy(ctx context.Context, id, toParentID string) (*Item, error) {
	start := time.Now()
	it, err := m.Storage.Copy(ctx, id, toParentID)
	m.observe("copy", start, err)
	if err != nil {
		return nil, err
	}
	m.cache.InvalidateFolder(m.linkID, toParentID)
	return it, nil
}

func (m *managed) Delete(ctx context.Context, id string) error {
	parent := m.parentOf(id)
	start := time.Now()
	err := m.Storage.Delete(ctx, id)
	m.observe("delete", start, err)
	if err != nil {
		return err
	}
	m.evict(id, parent, nil)
	return nil
}

func (m *managed) Download(ctx context.Context, id string, offset int64) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := m.Storage.Download(ctx, id, offset)
	m.observe("download", start, err)
	return rc, err
}

func (m *managed) Upload(ctx context.Context, parentID, name string, body io.Reader, size int64) (*Item, error) {
	start := time.Now()
	it, err := m.Storage.Upload(ctx, parentID, name, body, size)
	m.observe("upload", start, err)
	if err != nil {
		return nil, err
	}
	m.cache.InvalidateFolder(m.linkID, parentID)
	return it, nil
}

func (m *managed) Replace(ctx context.Context, id string, body io.Reader, size int64) (*Item, error) {
	parent := m.parentOf(id)
	start := time.Now()
	it, err := m.Storage.Replace(ctx, id, body, size)
	m.observe("replace", start, err)
	if err != nil {
		return nil, err
	}
	m.evict(id, parent, it)
	return it, nil
}

// UploaderOf returns the native chunked uploader behind s, if it has one.
func UploaderOf(s Storage) (ChunkedUploader, bool) {
	if m, ok := s.(*managed); ok {
		s = m.Storage
	}
	u, ok := s.(ChunkedUploader)
	return u, ok
}

type parentRef struct {
	id    string
	known bool
}

func (m *managed) parentOf(id string) parentRef {
	if it, ok := m.cache.Item(m.linkID, id); ok {
		return parentRef{id: it.ParentID, known: true}
	}
	return parentRef{}
}

func (m *managed) evict(oldID string, oldParent parentRef, now *Item) {
	m.cache.InvalidateFolder(m.linkID, oldID)
	if !oldParent.known {
		// parent unknown, drop every listing of the link
		m.cache.InvalidateLink(m.linkID)
	} else {
		m.cache.InvalidateEntity(m.linkID, oldID, oldParent.id)
	}
	if now != nil {
		m.cache.InvalidateEntity(m.linkID, now.ID, now.ParentID)
	}
}
