package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-docspace/internal/event"
	"go-docspace/internal/model"
)

type memWriter struct {
	mu      sync.Mutex
	entries []Entry
	batches int
}

func (w *memWriter) Write(_ context.Context, entries []Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, entries...)
	w.batches++
	return nil
}

func (w *memWriter) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

func TestAuditFlushesOnClose(t *testing.T) {
	w := &memWriter{}
	a := NewAudit(w, 16)
	go a.Run(context.Background())

	actor := model.Actor{UserID: uuid.New(), TenantID: 3}
	a.Send(actor, FileMoved, "file_5", map[string]string{"User-Agent": "test"}, "a.docx", "Docs")
	a.Send(actor, FolderDeleted, "folder_7", nil, "old")
	a.Close()

	require.Equal(t, 2, w.len())
	assert.Equal(t, FileMoved, w.entries[0].Action)
	assert.Equal(t, []string{"a.docx", "Docs"}, w.entries[0].Titles)
	assert.Equal(t, 3, w.entries[1].TenantID)
}

func TestAuditSendNeverBlocks(t *testing.T) {
	w := &memWriter{}
	a := NewAudit(w, 2)

	done := make(chan struct{})
	go func() {
		for range 10 {
			a.Send(model.Actor{}, TrashEmptied, "trash", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a full buffer")
	}

	go a.Run(context.Background())
	a.Close()
	assert.Equal(t, 2, w.len())
}

func TestRoomRemovedSkipsActor(t *testing.T) {
	bus := event.NewBus()
	events, unsub := bus.Subscribe()
	defer unsub()

	actor := model.Actor{UserID: uuid.New(), TenantID: 1}
	member := uuid.New()
	NewNotifier(bus).SendRoomRemoved(context.Background(), actor, "12", "Board", []model.Ace{
		{Subject: actor.UserID}, {Subject: member}, {Subject: member},
	})

	e := <-events
	assert.Equal(t, event.TypeRoomRemoved, e.Type)
	assert.Equal(t, []uuid.UUID{member}, e.Payload.(RoomRemoved).Recipients)
}
