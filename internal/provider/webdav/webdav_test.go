package webdav

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	davserver "golang.org/x/net/webdav"

	"go-docspace/internal/model"
	"go-docspace/internal/provider"
)

// newTestServer serves an in-memory share with a "/share" folder behind
// basic auth for alice.
func newTestServer(t *testing.T) string {
	t.Helper()
	fs := davserver.NewMemFS()
	require.NoError(t, fs.Mkdir(context.Background(), "/share", 0o755))
	dav := &davserver.Handler{FileSystem: fs, LockSystem: davserver.NewMemLS()}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "secret" {
			w.Header().Set("WWW-Authenticate", `Basic realm="share"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		dav.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func open(t *testing.T, url, password string) *Storage {
	t.Helper()
	st, err := Open(context.Background(), provider.Connection{
		Link:        &model.ProviderLink{URL: url, FolderID: "share"},
		Credentials: provider.Credentials{User: "alice", Password: password},
	})
	require.NoError(t, err)
	return st.(*Storage)
}

func read(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestEntriesAreRelativeToTheShare(t *testing.T) {
	s := open(t, newTestServer(t), "secret")
	ctx := context.Background()

	root, err := s.Get(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, root.ID)
	assert.True(t, root.Folder)

	file, err := s.Upload(ctx, "", "a.txt", strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, "/a.txt", file.ID)
	assert.Empty(t, file.ParentID)
	assert.Equal(t, int64(5), file.Size)

	docs, err := s.CreateFolder(ctx, "", "docs")
	require.NoError(t, err)
	assert.Equal(t, "/docs", docs.ID)
	assert.True(t, docs.Folder)

	moved, err := s.Move(ctx, file.ID, docs.ID)
	require.NoError(t, err)
	assert.Equal(t, "/docs/a.txt", moved.ID)
	assert.Equal(t, "/docs", moved.ParentID)

	items, err := s.List(ctx, docs.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "/docs/a.txt", items[0].ID)
	assert.Equal(t, "a.txt", items[0].Name)

	renamed, err := s.Rename(ctx, moved.ID, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "/docs/b.txt", renamed.ID)

	copied, err := s.Copy(ctx, renamed.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "/b.txt", copied.ID)

	rc, err := s.Download(ctx, copied.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", read(t, rc))

	rc, err = s.Download(ctx, copied.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "llo", read(t, rc))

	replaced, err := s.Replace(ctx, copied.ID, strings.NewReader("bye"), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), replaced.Size)

	require.NoError(t, s.Delete(ctx, docs.ID))
	_, err = s.Get(ctx, renamed.ID)
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestErrorsMapToSentinels(t *testing.T) {
	url := newTestServer(t)
	s := open(t, url, "secret")
	ctx := context.Background()

	_, err := s.Get(ctx, "/missing.txt")
	assert.ErrorIs(t, err, provider.ErrNotFound)

	_, err = s.Upload(ctx, "", "a.txt", strings.NewReader("a"), 1)
	require.NoError(t, err)
	_, err = s.Upload(ctx, "", "a.txt", strings.NewReader("b"), 1)
	var se *provider.StatusError
	require.True(t, errors.As(err, &se), "%v", err)
	assert.Equal(t, http.StatusConflict, se.Code)

	_, err = s.CreateFolder(ctx, "", "a.txt")
	require.True(t, errors.As(err, &se), "%v", err)
	assert.Equal(t, http.StatusConflict, se.Code)

	assert.ErrorIs(t, s.Delete(ctx, ""), model.ErrInvalidInput)

	wrong := open(t, url, "guess")
	_, err = wrong.Get(ctx, "")
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestOpenNeedsAURL(t *testing.T) {
	_, err := Open(context.Background(), provider.Connection{Link: &model.ProviderLink{}})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}
