package marker

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-docspace/internal/model"
	"go-docspace/internal/store/memory"
)

func TestMarkAsNewAndRead(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	m := New(st)

	actor, reader := uuid.New(), uuid.New()
	rooms, room := model.FolderRef("1"), model.FolderRef("2")
	parents := []model.EntryRef{room, rooms}
	require.NoError(t, st.SetShare(ctx, model.Ace{TenantID: 1, Ref: room, Subject: reader, Share: model.ShareRead}))
	require.NoError(t, st.SetShare(ctx, model.Ace{TenantID: 1, Ref: room, Subject: actor, Share: model.ShareRoomManager}))

	a, b := model.FileRef("10"), model.FileRef("11")
	require.NoError(t, m.MarkAsNew(ctx, 1, actor, a, parents))
	require.NoError(t, m.MarkAsNew(ctx, 1, actor, b, parents))
	require.NoError(t, m.MarkAsNew(ctx, 1, actor, b, parents))

	counts, err := m.Counts(ctx, 1, reader, map[model.FolderType]model.EntryRef{model.FolderTypeVirtualRooms: rooms})
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.FolderTypeVirtualRooms])

	own, err := m.Counts(ctx, 1, actor, map[model.FolderType]model.EntryRef{model.FolderTypeVirtualRooms: rooms})
	require.NoError(t, err)
	assert.Zero(t, own[model.FolderTypeVirtualRooms], "the actor is never notified of its own change")

	cleared, err := m.MarkAsRead(ctx, 1, reader, a, parents)
	require.NoError(t, err)
	assert.True(t, cleared)
	cleared, err = m.MarkAsRead(ctx, 1, reader, a, parents)
	require.NoError(t, err)
	assert.False(t, cleared)

	counts, err = m.Counts(ctx, 1, reader, map[model.FolderType]model.EntryRef{model.FolderTypeVirtualRooms: rooms})
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.FolderTypeVirtualRooms])

	_, err = m.MarkAsRead(ctx, 1, reader, b, parents)
	require.NoError(t, err)
	tags, err := st.GetOwnerTags(ctx, 1, reader, model.TagNew)
	require.NoError(t, err)
	assert.Empty(t, tags)
}
