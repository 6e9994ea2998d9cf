package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-docspace/internal/model"
)

func TestMoveFolderRestampsSubtreeRoot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	owner := uuid.New()

	my, err := s.InsertFolder(ctx, &model.Folder[int]{Entry: model.Entry[int]{Title: "My", TenantID: 1, CreateBy: owner}, FolderType: model.FolderTypeUser})
	require.NoError(t, err)
	trash, err := s.InsertFolder(ctx, &model.Folder[int]{Entry: model.Entry[int]{Title: "Trash", TenantID: 1, CreateBy: owner}, FolderType: model.FolderTypeTrash})
	require.NoError(t, err)
	docs, err := s.InsertFolder(ctx, &model.Folder[int]{Entry: model.Entry[int]{Title: "docs", ParentID: my, TenantID: 1}})
	require.NoError(t, err)
	nested, err := s.InsertFolder(ctx, &model.Folder[int]{Entry: model.Entry[int]{Title: "nested", ParentID: docs, TenantID: 1}})
	require.NoError(t, err)
	fileID, err := s.InsertFile(ctx, &model.File[int]{Entry: model.Entry[int]{Title: "a.txt", ParentID: nested, TenantID: 1}})
	require.NoError(t, err)

	require.NoError(t, s.MoveFolder(ctx, docs, trash))

	got, err := s.GetFolder(ctx, nested)
	require.NoError(t, err)
	assert.Equal(t, model.FolderTypeTrash, got.RootFolderType)
	assert.Equal(t, trash, got.RootID)

	file, err := s.GetFile(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, model.FolderTypeTrash, file.RootFolderType)

	chain, err := s.FolderChain(ctx, nested)
	require.NoError(t, err)
	assert.Equal(t, []int{trash, docs, nested}, chain)

	root, err := s.FindRoot(ctx, 1, model.FolderTypeTrash, owner)
	require.NoError(t, err)
	assert.Equal(t, trash, root)

	root, err = s.FindRoot(ctx, 1, model.FolderTypeTrash, uuid.New())
	require.NoError(t, err)
	assert.Zero(t, root)
}

func TestRewriteIDMovesDependentRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	folderHash, err := s.MapID(ctx, 1, "dropbox-3-|Docs")
	require.NoError(t, err)
	fileHash, err := s.MapID(ctx, 1, "dropbox-3-|Docs|a.txt")
	require.NoError(t, err)
	otherHash, err := s.MapID(ctx, 1, "dropbox-3-|Docs-old|b.txt")
	require.NoError(t, err)

	subject := uuid.New()
	require.NoError(t, s.SetShare(ctx, model.Ace{TenantID: 1, Ref: model.FileRef(fileHash), Subject: subject, Share: model.ShareRead}))
	require.NoError(t, s.SaveTag(ctx, model.Tag{TenantID: 1, Type: model.TagNew, Owner: subject, Ref: model.FolderRef(folderHash), Count: 1}))

	require.NoError(t, s.RewriteID(ctx, 1, "dropbox-3-|Docs", "dropbox-3-|Papers"))

	newFileHash, err := s.MapID(ctx, 1, "dropbox-3-|Papers|a.txt")
	require.NoError(t, err)
	shares, err := s.GetShares(ctx, 1, model.FileRef(newFileHash))
	require.NoError(t, err)
	assert.Len(t, shares, 1)

	tags, err := s.GetOwnerTags(ctx, 1, subject, model.TagNew)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	id, err := s.ResolveHash(ctx, 1, tags[0].Ref.Key)
	require.NoError(t, err)
	assert.Equal(t, "dropbox-3-|Papers", id)

	_, err = s.ResolveHash(ctx, 1, fileHash)
	assert.Error(t, err)
	id, err = s.ResolveHash(ctx, 1, otherHash)
	require.NoError(t, err)
	assert.Equal(t, "dropbox-3-|Docs-old|b.txt", id)
}

func TestDeleteFolderRemovesSubtree(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	root, _ := s.InsertFolder(ctx, &model.Folder[int]{Entry: model.Entry[int]{Title: "Common", TenantID: 1}, FolderType: model.FolderTypeCommon})
	a, _ := s.InsertFolder(ctx, &model.Folder[int]{Entry: model.Entry[int]{Title: "a", ParentID: root}})
	b, _ := s.InsertFolder(ctx, &model.Folder[int]{Entry: model.Entry[int]{Title: "b", ParentID: a}})
	f, _ := s.InsertFile(ctx, &model.File[int]{Entry: model.Entry[int]{Title: "x", ParentID: b}})

	folders, files, err := s.Subtree(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []int{b}, folders)
	assert.Equal(t, []int{f}, files)

	require.NoError(t, s.DeleteFolder(ctx, a))
	_, err = s.GetFile(ctx, f)
	assert.ErrorIs(t, err, model.ErrFileNotFound)
	_, err = s.GetFolder(ctx, b)
	assert.ErrorIs(t, err, model.ErrFolderNotFound)
}
