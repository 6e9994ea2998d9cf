package thirdparty_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-docspace/internal/dao"
	"go-docspace/internal/dao/thirdparty"
	"go-docspace/internal/model"
	"go-docspace/internal/provider"
	"go-docspace/internal/provider/providertest"
	"go-docspace/internal/selector"
	"go-docspace/internal/store"
	"go-docspace/internal/store/memory"
)

const tenant = 1

type fixture struct {
	dao      *thirdparty.Dao
	store    *memory.Store
	sessions *providertest.Sessions
	link     *model.ProviderLink
	sel      selector.Selector
}

func newFixture(t *testing.T, p model.ProviderType, s provider.Storage) *fixture {
	t.Helper()
	st := memory.New()
	link := &model.ProviderLink{TenantID: tenant, Provider: p, Title: "Linked", FolderType: model.FolderTypeUser, Owner: uuid.New()}
	id, err := st.SaveLink(context.Background(), link)
	require.NoError(t, err)
	link.ID = id

	uploads, err := dao.NewUploads[string](t.TempDir())
	require.NoError(t, err)

	sessions := providertest.NewSessions()
	sessions.Set(id, s)
	sel, _ := selector.For(p)
	return &fixture{
		dao:      thirdparty.New(st, sessions, uploads, tenant),
		store:    st,
		sessions: sessions,
		link:     link,
		sel:      sel,
	}
}

func (f *fixture) id(nativeID string) string { return selector.Encode(f.sel, f.link.ID, nativeID) }

func (f *fixture) share(t *testing.T, id string, typ model.EntryType) model.EntryRef {
	t.Helper()
	key, err := f.dao.Key(context.Background(), id)
	require.NoError(t, err)
	ref := model.EntryRef{Key: key, Type: typ}
	require.NoError(t, f.store.SetShare(context.Background(), model.Ace{TenantID: tenant, Ref: ref, Subject: uuid.New(), Share: model.ShareRead}))
	return ref
}

func (f *fixture) shares(t *testing.T, refs ...model.EntryRef) []model.Ace {
	t.Helper()
	aces, err := f.store.GetShares(context.Background(), tenant, refs...)
	require.NoError(t, err)
	return aces
}

func TestRootFolderCarriesLinkAttributes(t *testing.T) {
	fake := providertest.New()
	f := newFixture(t, model.ProviderGoogleDrive, fake)

	root, err := f.dao.GetFolder(context.Background(), f.id(""))
	require.NoError(t, err)
	assert.Equal(t, "Linked", root.Title)
	assert.Equal(t, f.id(""), root.ID)
	assert.Equal(t, f.id(""), root.RootID)
	assert.Equal(t, model.FolderTypeUser, root.RootFolderType)
	assert.True(t, root.ProviderEntry)
	assert.Equal(t, f.link.ID, root.ProviderID)

	_, err = f.dao.GetFolder(context.Background(), "box-99")
	assert.ErrorIs(t, err, model.ErrLinkNotFound)

	_, err = f.dao.GetFolder(context.Background(), selector.Encode(selector.Box, f.link.ID, ""))
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestRenameWithPathIDsRewritesMetadata(t *testing.T) {
	fake := providertest.New(providertest.WithPathIDs())
	docs := fake.AddFolder("", "docs")
	report := fake.AddFile(docs, "report.txt", "q3")
	f := newFixture(t, model.ProviderDropbox, fake)
	ctx := context.Background()

	f.share(t, f.id(report), model.EntryTypeFile)

	folder, err := f.dao.GetFolder(ctx, f.id(docs))
	require.NoError(t, err)
	newID, err := f.dao.RenameFolder(ctx, folder, "archive")
	require.NoError(t, err)
	assert.Equal(t, f.id("/archive"), newID)

	moved, err := f.dao.GetFileByTitle(ctx, newID, "report.txt")
	require.NoError(t, err)
	require.NotNil(t, moved)
	assert.Equal(t, f.id("/archive/report.txt"), moved.ID)

	newKey, err := f.dao.Key(ctx, moved.ID)
	require.NoError(t, err)
	assert.Len(t, f.shares(t, model.FileRef(newKey)), 1)
	assert.Empty(t, f.shares(t, model.FileRef(store.HashID(f.id(report)))))
}

func TestRenameLinkRootRetitlesLink(t *testing.T) {
	fake := providertest.New()
	f := newFixture(t, model.ProviderGoogleDrive, fake)
	ctx := context.Background()

	root, err := f.dao.GetFolder(ctx, f.id(""))
	require.NoError(t, err)
	id, err := f.dao.RenameFolder(ctx, root, "Team drive")
	require.NoError(t, err)
	assert.Equal(t, root.ID, id)

	link, err := f.store.GetLink(ctx, f.link.ID)
	require.NoError(t, err)
	assert.Equal(t, "Team drive", link.Title)
	assert.NotContains(t, fake.Calls(), "rename ")
}

func TestMoveFolderIntoDescendantFails(t *testing.T) {
	fake := providertest.New()
	a := fake.AddFolder("", "a")
	b := fake.AddFolder(a, "b")
	f := newFixture(t, model.ProviderGoogleDrive, fake)

	_, err := f.dao.MoveFolder(context.Background(), f.id(a), f.id(b))
	require.ErrorIs(t, err, model.ErrFolderCopy)
	assert.True(t, fake.Exists(b))
}

func TestGetParentFolders(t *testing.T) {
	fake := providertest.New()
	a := fake.AddFolder("", "a")
	b := fake.AddFolder(a, "b")
	f := newFixture(t, model.ProviderGoogleDrive, fake)

	chain, err := f.dao.GetParentFolders(context.Background(), f.id(b))
	require.NoError(t, err)
	var titles []string
	for _, c := range chain {
		titles = append(titles, c.Title)
	}
	assert.Equal(t, []string{"Linked", "a", "b"}, titles)
}

func TestDeleteFolderCleansMetadataWhenProviderFails(t *testing.T) {
	fake := providertest.New(providertest.WithCapabilities(provider.Capabilities{ServerMove: true}))
	docs := fake.AddFolder("", "docs")
	a := fake.AddFile(docs, "a.txt", "a")
	b := fake.AddFile(docs, "b.txt", "b")
	sub := fake.AddFolder(docs, "sub")
	c := fake.AddFile(sub, "c.txt", "c")
	f := newFixture(t, model.ProviderWebDav, fake)

	refs := []model.EntryRef{
		f.share(t, f.id(docs), model.EntryTypeFolder),
		f.share(t, f.id(a), model.EntryTypeFile),
		f.share(t, f.id(b), model.EntryTypeFile),
		f.share(t, f.id(c), model.EntryTypeFile),
	}
	boom := errors.New("provider down")
	fake.FailOn("delete", a, boom)

	assert.False(t, f.dao.CanCalculateSubitems(f.id(docs)))
	err := f.dao.DeleteFolder(context.Background(), f.id(docs))
	require.ErrorIs(t, err, boom)

	assert.Empty(t, f.shares(t, refs...))
	assert.True(t, fake.Exists(a))
	assert.False(t, fake.Exists(b))
	assert.False(t, fake.Exists(c))
	assert.True(t, fake.Exists(docs))
}

func TestDeleteLinkRootUnlinks(t *testing.T) {
	fake := providertest.New()
	file := fake.AddFile("", "a.txt", "a")
	f := newFixture(t, model.ProviderGoogleDrive, fake)
	ref := f.share(t, f.id(file), model.EntryTypeFile)

	require.NoError(t, f.dao.DeleteFolder(context.Background(), f.id("")))

	_, err := f.store.GetLink(context.Background(), f.link.ID)
	assert.ErrorIs(t, err, model.ErrLinkNotFound)
	assert.Equal(t, []int{f.link.ID}, f.sessions.Dropped())
	assert.Empty(t, f.shares(t, ref))
	assert.True(t, fake.Exists(file))
}

func TestTrashPolicy(t *testing.T) {
	fake := providertest.New()
	docs := fake.AddFolder("", "docs")
	f := newFixture(t, model.ProviderGoogleDrive, fake)
	ctx := context.Background()

	root, err := f.dao.GetFolder(ctx, f.id(""))
	require.NoError(t, err)
	folder, err := f.dao.GetFolder(ctx, f.id(docs))
	require.NoError(t, err)

	assert.False(t, f.dao.UseTrashForRemoveFolder(root))
	assert.True(t, f.dao.UseTrashForRemoveFolder(folder))

	folder.FolderType = model.FolderTypeCustomRoom
	assert.False(t, f.dao.UseTrashForRemoveFolder(folder))
}

func TestSaveAndReplaceFile(t *testing.T) {
	fake := providertest.New()
	f := newFixture(t, model.ProviderGoogleDrive, fake)
	ctx := context.Background()

	created, err := f.dao.SaveFile(ctx, &model.File[string]{Entry: model.Entry[string]{ParentID: f.id(""), Title: "n.txt"}}, strings.NewReader("one"), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), created.ContentLength)

	replaced, err := f.dao.SaveFile(ctx, created, strings.NewReader("two!"), 4)
	require.NoError(t, err)
	assert.Equal(t, created.ID, replaced.ID)
	assert.Equal(t, created.Version+1, replaced.Version)

	id, _ := selector.Decode(created.ID)
	content, _ := fake.Content(id.Path)
	assert.Equal(t, "two!", content)
}

func TestCopyFileWithoutServerCopyStreams(t *testing.T) {
	fake := providertest.New(providertest.WithCapabilities(provider.Capabilities{}))
	src := fake.AddFile("", "a.txt", "payload")
	dst := fake.AddFolder("", "dst")
	f := newFixture(t, model.ProviderGoogleDrive, fake)

	copied, err := f.dao.CopyFile(context.Background(), f.id(src), f.id(dst))
	require.NoError(t, err)
	assert.Equal(t, "a.txt", copied.Title)
	assert.Equal(t, f.id(dst), copied.ParentID)
	assert.False(t, slices.Contains(fake.Calls(), "copy "+src))

	id, _ := selector.Decode(copied.ID)
	content, _ := fake.Content(id.Path)
	assert.Equal(t, "payload", content)
}

func TestChunkedUploadUsesProviderSession(t *testing.T) {
	fake := providertest.New()
	f := newFixture(t, model.ProviderDropbox, providertest.Chunked{Storage: fake})
	ctx := context.Background()

	sess, err := f.dao.CreateUploadSession(ctx, &model.File[string]{Entry: model.Entry[string]{ParentID: f.id(""), Title: "big.bin"}}, 6)
	require.NoError(t, err)
	require.NotEmpty(t, sess.ProviderSession)

	require.NoError(t, f.dao.UploadChunk(ctx, sess, strings.NewReader("abc"), 3))
	require.ErrorIs(t, f.dao.UploadChunk(ctx, sess, strings.NewReader("defg"), 4), model.ErrInvalidInput)
	require.NoError(t, f.dao.UploadChunk(ctx, sess, strings.NewReader("def"), 3))

	file, err := f.dao.FinalizeUpload(ctx, sess)
	require.NoError(t, err)
	id, _ := selector.Decode(file.ID)
	content, _ := fake.Content(id.Path)
	assert.Equal(t, "abcdef", content)
}

func TestListChildrenAppliesFilter(t *testing.T) {
	fake := providertest.New()
	fake.AddFolder("", "zeta")
	fake.AddFile("", "beta.txt", "b")
	fake.AddFile("", "alpha.txt", "a")
	f := newFixture(t, model.ProviderGoogleDrive, fake)

	var titles []string
	for e, err := range f.dao.ListChildren(context.Background(), f.id(""), dao.Filter{Type: dao.FilterFilesOnly}) {
		require.NoError(t, err)
		titles = append(titles, e.Common().Title)
	}
	assert.Equal(t, []string{"alpha.txt", "beta.txt"}, titles)
}
