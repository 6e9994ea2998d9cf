package native

import (
	"context"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-docspace/internal/dao"
	"go-docspace/internal/model"
	"go-docspace/internal/storage"
	"go-docspace/internal/store/memory"
)

const tenant = 1

type fixture struct {
	st      *memory.Store
	content *storage.Local
	dao     *Dao
	my      int
	user    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := memory.New()
	content, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	uploads, err := dao.NewUploads[int](t.TempDir())
	require.NoError(t, err)

	user := uuid.New()
	my, err := NewRoots(st, tenant).My(context.Background(), user)
	require.NoError(t, err)

	return &fixture{st: st, content: content, dao: New(st, content, uploads, tenant, user), my: my, user: user}
}

func (f *fixture) save(t *testing.T, parent int, title, body string) *model.File[int] {
	t.Helper()
	file, err := f.dao.SaveFile(context.Background(), &model.File[int]{Entry: model.Entry[int]{ParentID: parent, Title: title}}, strings.NewReader(body), -1)
	require.NoError(t, err)
	return file
}

func (f *fixture) read(t *testing.T, file *model.File[int]) string {
	t.Helper()
	rc, err := f.dao.OpenReadStream(context.Background(), file, 0)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestSaveFileVersions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	created := f.save(t, f.my, "a.docx", "one")
	assert.Equal(t, 1, created.Version)
	assert.Equal(t, int64(3), created.ContentLength)
	assert.Equal(t, model.FolderTypeUser, created.RootFolderType)

	next, err := f.dao.SaveFile(ctx, &model.File[int]{Entry: model.Entry[int]{ID: created.ID}}, strings.NewReader("second"), 6)
	require.NoError(t, err)
	assert.Equal(t, created.ID, next.ID)
	assert.Equal(t, 2, next.Version)
	assert.Equal(t, "a.docx", next.Title)
	assert.Equal(t, "second", f.read(t, next))

	old, err := f.st.GetFileVersion(ctx, created.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "one", f.read(t, old))
}

func TestSaveFileRequiresFolder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.dao.SaveFile(context.Background(), &model.File[int]{Entry: model.Entry[int]{ParentID: 999, Title: "x.txt"}}, strings.NewReader("x"), 1)
	require.ErrorIs(t, err, model.ErrFolderNotFound)
}

func TestMoveAndCopyFile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	dst, err := f.dao.CreateFolder(ctx, f.my, "dst")
	require.NoError(t, err)
	file := f.save(t, f.my, "a.docx", "payload")

	copied, err := f.dao.CopyFile(ctx, file.ID, dst.ID)
	require.NoError(t, err)
	assert.NotEqual(t, file.ID, copied.ID)
	assert.Equal(t, "payload", f.read(t, copied))

	movedID, err := f.dao.MoveFile(ctx, file.ID, dst.ID)
	require.NoError(t, err)
	assert.Equal(t, file.ID, movedID)

	moved, err := f.dao.GetFile(ctx, movedID)
	require.NoError(t, err)
	assert.Equal(t, dst.ID, moved.ParentID)

	empty, err := f.dao.IsEmpty(ctx, dst.ID)
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestMoveFolderIntoDescendant(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	parent, err := f.dao.CreateFolder(ctx, f.my, "parent")
	require.NoError(t, err)
	child, err := f.dao.CreateFolder(ctx, parent.ID, "child")
	require.NoError(t, err)

	_, err = f.dao.MoveFolder(ctx, parent.ID, child.ID)
	require.ErrorIs(t, err, model.ErrFolderCopy)

	got, err := f.dao.GetFolder(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, f.my, got.ParentID)
}

func TestCopyFolderCreatesShell(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	src, err := f.dao.CreateFolder(ctx, f.my, "src")
	require.NoError(t, err)
	f.save(t, src.ID, "inner.txt", "x")

	cp, err := f.dao.CopyFolder(ctx, src.ID, f.my)
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, cp.ID)
	assert.Equal(t, "src", cp.Title)
	assert.Zero(t, cp.FilesCount)
}

func TestDeleteFolderCascade(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	root, err := f.dao.CreateFolder(ctx, f.my, "root")
	require.NoError(t, err)
	sub, err := f.dao.CreateFolder(ctx, root.ID, "sub")
	require.NoError(t, err)
	file := f.save(t, sub.ID, "deep.txt", "data")

	refs := []model.EntryRef{
		model.FolderRef(strconv.Itoa(root.ID)),
		model.FolderRef(strconv.Itoa(sub.ID)),
		model.FileRef(strconv.Itoa(file.ID)),
	}
	for _, ref := range refs {
		require.NoError(t, f.st.SetShare(ctx, model.Ace{TenantID: tenant, Ref: ref, Subject: uuid.New(), Share: model.ShareRead}))
		require.NoError(t, f.st.SaveTag(ctx, model.Tag{TenantID: tenant, Ref: ref, Type: model.TagFavorite, Owner: f.user}))
	}

	count, err := f.dao.GetItemsCount(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, f.dao.DeleteFolder(ctx, root.ID))

	shares, err := f.st.GetShares(ctx, tenant, refs...)
	require.NoError(t, err)
	assert.Empty(t, shares)
	tags, err := f.st.GetTags(ctx, tenant, 0, refs...)
	require.NoError(t, err)
	assert.Empty(t, tags)

	_, err = f.dao.GetFile(ctx, file.ID)
	require.ErrorIs(t, err, model.ErrFileNotFound)
	exists, err := f.content.ObjectExists(ctx, ContentKey(tenant, file.ID, 1))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestListChildrenFilters(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.dao.CreateFolder(ctx, f.my, "zeta")
	require.NoError(t, err)
	f.save(t, f.my, "alpha.txt", "a")
	f.save(t, f.my, "beta.txt", "b")

	var titles []string
	for e, err := range f.dao.ListChildren(ctx, f.my, dao.Filter{}) {
		require.NoError(t, err)
		titles = append(titles, e.Common().Title)
	}
	assert.Equal(t, []string{"zeta", "alpha.txt", "beta.txt"}, titles)

	titles = titles[:0]
	for e, err := range f.dao.ListChildren(ctx, f.my, dao.Filter{Type: dao.FilterFilesOnly, SearchText: "BET"}) {
		require.NoError(t, err)
		titles = append(titles, e.Common().Title)
	}
	assert.Equal(t, []string{"beta.txt"}, titles)
}

func TestChunkedUpload(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.dao.CreateUploadSession(ctx, &model.File[int]{Entry: model.Entry[int]{ParentID: f.my, Title: "big.bin"}}, 10)
	require.NoError(t, err)

	require.NoError(t, f.dao.UploadChunk(ctx, sess, strings.NewReader("01234"), 5))
	_, err = f.dao.FinalizeUpload(ctx, sess)
	require.ErrorIs(t, err, model.ErrInvalidInput)

	require.Error(t, f.dao.UploadChunk(ctx, sess, strings.NewReader("567890"), 6))
	require.NoError(t, f.dao.UploadChunk(ctx, sess, strings.NewReader("56789"), 5))

	file, err := f.dao.FinalizeUpload(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, int64(10), file.ContentLength)
	assert.Equal(t, "0123456789", f.read(t, file))
}

func TestRootsResolvedOnce(t *testing.T) {
	t.Parallel()
	st := memory.New()
	roots := NewRoots(st, tenant)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	a1, err := roots.Trash(ctx, alice)
	require.NoError(t, err)
	a2, err := roots.Trash(ctx, alice)
	require.NoError(t, err)
	b, err := roots.Trash(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)

	r1, err := roots.VirtualRooms(ctx)
	require.NoError(t, err)
	r2, err := roots.Get(ctx, model.FolderTypeVirtualRooms, bob)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)

	_, err = roots.Get(ctx, model.FolderTypeCustomRoom, alice)
	require.ErrorIs(t, err, model.ErrInvalidInput)
}
