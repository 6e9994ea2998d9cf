// Package testenv assembles an in-memory file engine for tests: the memory
// metadata store, a local content backend, the native dao, and a third-party
// dao whose single link is served by providertest.
package testenv

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go-docspace/internal/dao"
	"go-docspace/internal/dao/native"
	"go-docspace/internal/dao/thirdparty"
	"go-docspace/internal/model"
	"go-docspace/internal/provider"
	"go-docspace/internal/provider/providertest"
	"go-docspace/internal/selector"
	"go-docspace/internal/storage"
	"go-docspace/internal/store/memory"
)

const TenantID = 1

type Env struct {
	Store    *memory.Store
	Content  *storage.Local
	Roots    *native.Roots
	Native   *native.Dao
	Third    *thirdparty.Dao
	Sessions *providertest.Sessions
	Fake     *providertest.Storage
	Link     *model.ProviderLink
	Actor    model.Actor
	My       int
}

// New builds an env whose link is a Google Drive storage backed by a fresh
// providertest.Storage built with opts.
func New(t *testing.T, opts ...providertest.Option) *Env {
	t.Helper()
	ctx := context.Background()

	st := memory.New()
	content, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	nativeUploads, err := dao.NewUploads[int](t.TempDir())
	require.NoError(t, err)
	thirdUploads, err := dao.NewUploads[string](t.TempDir())
	require.NoError(t, err)

	actor := model.Actor{UserID: uuid.New(), TenantID: TenantID}
	roots := native.NewRoots(st, TenantID)
	my, err := roots.My(ctx, actor.UserID)
	require.NoError(t, err)

	link := &model.ProviderLink{
		TenantID:   TenantID,
		Provider:   model.ProviderGoogleDrive,
		Title:      "Drive",
		FolderType: model.FolderTypeUser,
		Owner:      actor.UserID,
	}
	link.ID, err = st.SaveLink(ctx, link)
	require.NoError(t, err)

	fake := providertest.New(opts...)
	sessions := providertest.NewSessions()
	sessions.Set(link.ID, fake)

	return &Env{
		Store:    st,
		Content:  content,
		Roots:    roots,
		Native:   native.New(st, content, nativeUploads, TenantID, actor.UserID),
		Third:    thirdparty.New(st, sessions, thirdUploads, TenantID),
		Sessions: sessions,
		Fake:     fake,
		Link:     link,
		Actor:    actor,
		My:       my,
	}
}

// UseStorage replaces the storage serving the link.
func (e *Env) UseStorage(s provider.Storage) { e.Sessions.Set(e.Link.ID, s) }

// ThirdID encodes a native provider id of the link.
func (e *Env) ThirdID(nativeID string) string {
	return selector.Encode(selector.GoogleDrive, e.Link.ID, nativeID)
}

func (e *Env) NativeFolder(t *testing.T, parent int, title string) *model.Folder[int] {
	t.Helper()
	f, err := e.Native.CreateFolder(context.Background(), parent, title)
	require.NoError(t, err)
	return f
}

func (e *Env) NativeFile(t *testing.T, parent int, title, body string) *model.File[int] {
	t.Helper()
	f, err := e.Native.SaveFile(context.Background(), &model.File[int]{Entry: model.Entry[int]{ParentID: parent, Title: title}}, strings.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	return f
}

// ReadNative returns the current content of a native file.
func (e *Env) ReadNative(t *testing.T, id int) string {
	t.Helper()
	ctx := context.Background()
	f, err := e.Native.GetFile(ctx, id)
	require.NoError(t, err)
	rc, err := e.Native.OpenReadStream(ctx, f, 0)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

// Share grants a random subject read access to ref.
func (e *Env) Share(t *testing.T, ref model.EntryRef) model.Ace {
	t.Helper()
	ace := model.Ace{TenantID: TenantID, Ref: ref, Subject: uuid.New(), Owner: e.Actor.UserID, Share: model.ShareRead}
	require.NoError(t, e.Store.SetShare(context.Background(), ace))
	return ace
}

// ThirdRef maps a third-party id to its metadata reference.
func (e *Env) ThirdRef(t *testing.T, id string, typ model.EntryType) model.EntryRef {
	t.Helper()
	key, err := e.Third.Key(context.Background(), id)
	require.NoError(t, err)
	return model.EntryRef{Key: key, Type: typ}
}

func (e *Env) Shares(t *testing.T, refs ...model.EntryRef) []model.Ace {
	t.Helper()
	aces, err := e.Store.GetShares(context.Background(), TenantID, refs...)
	require.NoError(t, err)
	return aces
}
