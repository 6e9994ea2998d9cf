package googledrive

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"go-docspace/internal/model"
	"go-docspace/internal/provider"
)

const docMime = "application/vnd.google-apps.document"

// newTestStorage opens "My Drive" against h. The root alias resolves to
// "ROOT".
func newTestStorage(t *testing.T, h http.HandlerFunc) *Storage {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/files/root" {
			json.NewEncoder(w).Encode(map[string]any{"id": "ROOT"})
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	s, err := New(context.Background(), "", option.WithHTTPClient(srv.Client()), option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	return s
}

func apiError(w http.ResponseWriter, code int, msg string) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": code, "message": msg}})
}

func TestRootAliasIsResolved(t *testing.T) {
	s := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/ROOT":
			json.NewEncoder(w).Encode(map[string]any{"id": "ROOT", "name": "My Drive", "mimeType": folderMime})
		case "/files":
			assert.Equal(t, "'ROOT' in parents and trashed = false", r.URL.Query().Get("q"))
			if r.URL.Query().Get("pageToken") == "" {
				json.NewEncoder(w).Encode(map[string]any{
					"files": []map[string]any{
						{"id": "D1", "name": "docs", "mimeType": folderMime, "parents": []string{"ROOT"}},
					},
					"nextPageToken": "p2",
				})
				return
			}
			assert.Equal(t, "p2", r.URL.Query().Get("pageToken"))
			json.NewEncoder(w).Encode(map[string]any{
				"files": []map[string]any{
					{"id": "F1", "name": "a.txt", "mimeType": "text/plain", "parents": []string{"ROOT"}, "size": "3", "modifiedTime": "2026-01-02T03:04:05Z"},
				},
			})
		default:
			t.Errorf("unexpected request %s", r.URL)
			apiError(w, http.StatusNotFound, "not here")
		}
	})
	ctx := context.Background()

	root, err := s.Get(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, root.ID)
	assert.True(t, root.Folder)

	items, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "D1", items[0].ID)
	assert.True(t, items[0].Folder)
	assert.Empty(t, items[0].ParentID)
	assert.Equal(t, "F1", items[1].ID)
	assert.Empty(t, items[1].ParentID)
	assert.Equal(t, int64(3), items[1].Size)
	assert.Equal(t, 2026, items[1].Modified.Year())
}

func TestDownloadExportsNativeDocuments(t *testing.T) {
	s := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/files/DOC" && r.URL.Query().Get("alt") != "media":
			json.NewEncoder(w).Encode(map[string]any{"mimeType": docMime})
		case r.URL.Path == "/files/DOC/export":
			assert.Equal(t, exportMime[docMime], r.URL.Query().Get("mimeType"))
			io.WriteString(w, "exported body")
		case r.URL.Path == "/files/BIN" && r.URL.Query().Get("alt") == "media":
			assert.Equal(t, "bytes=2-", r.Header.Get("Range"))
			w.WriteHeader(http.StatusPartialContent)
			io.WriteString(w, "llo")
		case r.URL.Path == "/files/BIN":
			json.NewEncoder(w).Encode(map[string]any{"mimeType": "text/plain"})
		default:
			t.Errorf("unexpected request %s", r.URL)
			apiError(w, http.StatusNotFound, "not here")
		}
	})
	ctx := context.Background()

	rc, err := s.Download(ctx, "DOC", 0)
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "exported body", string(b))

	rc, err = s.Download(ctx, "DOC", 9)
	require.NoError(t, err)
	b, err = io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "body", string(b))

	rc, err = s.Download(ctx, "BIN", 2)
	require.NoError(t, err)
	b, err = io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "llo", string(b))
}

func TestErrorsMapToSentinels(t *testing.T) {
	s := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/missing":
			apiError(w, http.StatusNotFound, "File not found: missing.")
		case "/files/private":
			apiError(w, http.StatusForbidden, "The user does not have sufficient permissions for this file.")
		default:
			apiError(w, http.StatusUnauthorized, "Invalid Credentials")
		}
	})
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, provider.ErrNotFound)

	_, err = s.Download(ctx, "missing", 0)
	assert.ErrorIs(t, err, provider.ErrNotFound)

	_, err = s.Get(ctx, "private")
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = s.List(ctx, "D1")
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	assert.ErrorIs(t, s.Delete(ctx, "F1"), model.ErrUnauthorized)
}

func TestOpenFailsWhenRootIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		apiError(w, http.StatusUnauthorized, "Invalid Credentials")
	}))
	t.Cleanup(srv.Close)

	_, err := New(context.Background(), "", option.WithHTTPClient(srv.Client()), option.WithEndpoint(srv.URL+"/"))
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	s, err := New(context.Background(), "FOLDER", option.WithHTTPClient(srv.Client()), option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	assert.Equal(t, "FOLDER", s.root)
}
