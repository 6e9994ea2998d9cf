// Package tracker remembers which editor sessions currently have a file
// open. Sessions expire unless the editor keeps prolonging them.
package tracker

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const DefaultTTL = 2 * time.Minute

type session struct {
	user uuid.UUID
	seen time.Time
}

// EditKey is the key a file's editor sessions are tracked under.
func EditKey(tenantID int, entryKey string) string {
	return strconv.Itoa(tenantID) + ":" + entryKey
}

// Editors tracks open editor sessions per file key ("<tenant>:<entry key>").
type Editors struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	open *expirable.LRU[string, map[string]session]
}

func New(size int, ttl time.Duration) *Editors {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Editors{
		ttl:  ttl,
		now:  time.Now,
		open: expirable.NewLRU[string, map[string]session](size, nil, ttl),
	}
}

// Prolong records that user's editor session sessionID still has key open.
func (e *Editors) Prolong(key, sessionID string, user uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sessions, _ := e.open.Get(key)
	next := make(map[string]session, len(sessions)+1)
	for id, s := range sessions {
		next[id] = s
	}
	next[sessionID] = session{user: user, seen: e.now()}
	e.open.Add(key, next)
}

// Remove closes one session. The file entry goes once no session is left.
func (e *Editors) Remove(key, sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sessions, ok := e.open.Get(key)
	if !ok {
		return
	}
	next := make(map[string]session, len(sessions))
	for id, s := range sessions {
		if id != sessionID {
			next[id] = s
		}
	}
	if len(next) == 0 {
		e.open.Remove(key)
		return
	}
	e.open.Add(key, next)
}

// IsEditing reports whether anyone other than except has key open.
// uuid.Nil as except counts every session.
func (e *Editors) IsEditing(key string, except uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	sessions, ok := e.open.Peek(key)
	if !ok {
		return false
	}
	cutoff := e.now().Add(-e.ttl)
	for _, s := range sessions {
		if s.seen.Before(cutoff) {
			continue
		}
		if except == uuid.Nil || s.user != except {
			return true
		}
	}
	return false
}
