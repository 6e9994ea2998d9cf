package provider

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"go-docspace/internal/metrics"
	"go-docspace/internal/selector"
)

// EntityCache keeps provider metadata (single items and folder listings) for
// a short time. Every entry carries tags; eviction is by tag.
type EntityCache struct {
	lru *expirable.LRU[string, cached]

	mu   sync.Mutex
	tags map[string]map[string]struct{}
}

type cached struct {
	item  *Item
	items []*Item
	tags  []string
}

func NewEntityCache(size int, ttl time.Duration) *EntityCache {
	c := &EntityCache{tags: make(map[string]map[string]struct{})}
	c.lru = expirable.NewLRU[string, cached](size, c.onEvict, ttl)
	return c
}

func linkTag(linkID int) string { return fmt.Sprintf("link:%d", linkID) }
func folderTag(linkID int, id string) string { return fmt.Sprintf("folder:%d:%s", linkID, id) }
func entityTag(linkID int, id string) string { return fmt.Sprintf("entity:%d:%s", linkID, id) }

func itemKey(linkID int, id string) string { return fmt.Sprintf("%d|i|%s", linkID, id) }
func listKey(linkID int, id string) string { return fmt.Sprintf("%d|l|%s", linkID, id) }

func (c *EntityCache) Item(linkID int, id string) (*Item, bool) {
	v, ok := c.lru.Get(itemKey(linkID, id))
	metrics.RecordCacheLookup(ok)
	if !ok {
		return nil, false
	}
	cp := *v.item
	return &cp, true
}

func (c *EntityCache) List(linkID int, folderID string) ([]*Item, bool) {
	v, ok := c.lru.Get(listKey(linkID, folderID))
	metrics.RecordCacheLookup(ok)
	if !ok {
		return nil, false
	}
	out := make([]*Item, len(v.items))
	for i, it := range v.items {
		cp := *it
		out[i] = &cp
	}
	return out, true
}

func (c *EntityCache) PutItem(linkID int, it *Item) {
	cp := *it
	c.put(itemKey(linkID, it.ID), cached{
		item: &cp,
		tags: []string{linkTag(linkID), entityTag(linkID, it.ID), folderTag(linkID, it.ParentID)},
	})
}

func (c *EntityCache) PutList(linkID int, folderID string, items []*Item) {
	cp := make([]*Item, len(items))
	for i, it := range items {
		v := *it
		cp[i] = &v
	}
	c.put(listKey(linkID, folderID), cached{
		items: cp,
		tags:  []string{linkTag(linkID), folderTag(linkID, folderID), entityTag(linkID, folderID)},
	})
}

func (c *EntityCache) put(key string, v cached) {
	c.mu.Lock()
	for _, t := range v.tags {
		keys, ok := c.tags[t]
		if !ok {
			keys = make(map[string]struct{})
			c.tags[t] = keys
		}
		keys[key] = struct{}{}
	}
	c.mu.Unlock()
	c.lru.Add(key, v)
}

func (c *EntityCache) onEvict(key string, v cached) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range v.tags {
		if keys, ok := c.tags[t]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.tags, t)
			}
		}
	}
}

// EvictTag drops every entry carrying tag.
func (c *EntityCache) EvictTag(tag string) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.tags[tag]))
	for k := range c.tags[tag] {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, k := range keys {
		c.lru.Remove(k)
	}
}

// InvalidateEntity evicts one entity and the listing of its parent.
func (c *EntityCache) InvalidateEntity(linkID int, id, parentID string) {
	c.EvictTag(entityTag(linkID, id))
	c.EvictTag(folderTag(linkID, parentID))
}

// InvalidateFolder evicts a folder, its listing and the entries listed in it.
func (c *EntityCache) InvalidateFolder(linkID int, id string) {
	c.EvictTag(entityTag(linkID, id))
	c.EvictTag(folderTag(linkID, id))
}

func (c *EntityCache) InvalidateLink(linkID int) {
	c.EvictTag(linkTag(linkID))
}

// Invalidate evicts at provider (empty entityID), folder or entity level.
// When a file's parent is unknown the whole link is dropped.
func (c *EntityCache) Invalidate(sel selector.Selector, linkID int, entityID string, isFile bool) {
	switch {
	case entityID == "":
		c.InvalidateLink(linkID)
	case !isFile:
		parent := ""
		if it, ok := c.lru.Peek(itemKey(linkID, entityID)); ok {
			parent = it.item.ParentID
		}
		c.InvalidateFolder(linkID, entityID)
		c.EvictTag(folderTag(linkID, parent))
	default:
		it, ok := c.lru.Peek(itemKey(linkID, entityID))
		if !ok {
			c.InvalidateLink(linkID)
			return
		}
		c.InvalidateEntity(linkID, entityID, it.item.ParentID)
	}
	slog.Debug("provider cache invalidated", "selector", sel, "link_id", linkID, "entity", entityID)
}
