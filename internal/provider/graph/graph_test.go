package graph

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-docspace/internal/model"
	"go-docspace/internal/provider"
)

func newTestStorage(t *testing.T, folderID string, h http.HandlerFunc) *Storage {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	s := New(model.ProviderOneDrive, srv.URL, provider.Connection{
		Client: srv.Client(),
		Link:   &model.ProviderLink{FolderID: folderID},
	})
	s.CopyPoll = time.Millisecond
	return s
}

func TestListFollowsNextLink(t *testing.T) {
	s := newTestStorage(t, "", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/root/children":
			assert.Equal(t, "999", r.URL.Query().Get("$top"))
			json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{
					{"id": "D1", "name": "docs", "folder": map[string]any{}, "parentReference": map[string]string{"id": "ROOT", "path": rootPath}},
				},
				"@odata.nextLink": "http://" + r.Host + "/page2",
			})
		case "/page2":
			json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{
					{"id": "F1", "name": "a.txt", "size": 3, "file": map[string]string{"mimeType": "text/plain"}, "parentReference": map[string]string{"id": "D1", "path": rootPath + "/docs"}},
				},
			})
		default:
			t.Errorf("unexpected request %s", r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	items, err := s.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "D1", items[0].ID)
	assert.True(t, items[0].Folder)
	assert.Empty(t, items[0].ParentID)
	assert.Equal(t, "F1", items[1].ID)
	assert.Equal(t, "D1", items[1].ParentID)
	assert.Equal(t, int64(3), items[1].Size)
	assert.Equal(t, "text/plain", items[1].MimeType)
}

func TestLinkFolderIsTheRoot(t *testing.T) {
	s := newTestStorage(t, "BASE", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/items/BASE", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"id": "BASE", "name": "shared", "folder": map[string]any{}})
	})

	it, err := s.Get(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, it.ID)
	assert.True(t, it.Folder)
}

func TestCopyPollsMonitor(t *testing.T) {
	var polls atomic.Int32
	s := newTestStorage(t, "", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/items/F1/copy":
			var body struct {
				ParentReference map[string]string `json:"parentReference"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "D2", body.ParentReference["id"])
			w.Header().Set("Location", "http://"+r.Host+"/monitor")
			w.WriteHeader(http.StatusAccepted)
		case r.URL.Path == "/monitor":
			if polls.Add(1) < 2 {
				json.NewEncoder(w).Encode(map[string]string{"status": "inProgress"})
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"status": "completed", "resourceId": "F2"})
		case r.URL.Path == "/items/F2":
			json.NewEncoder(w).Encode(map[string]any{"id": "F2", "name": "a.txt", "parentReference": map[string]string{"id": "D2"}})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	it, err := s.Copy(context.Background(), "F1", "D2")
	require.NoError(t, err)
	assert.Equal(t, "F2", it.ID)
	assert.Equal(t, "D2", it.ParentID)
	assert.EqualValues(t, 2, polls.Load())
}

func TestSmallUploadIsSinglePut(t *testing.T) {
	s := newTestStorage(t, "", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/items/D1:/a.txt:/content", r.URL.Path)
		assert.Equal(t, "fail", r.URL.Query().Get("@microsoft.graph.conflictBehavior"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "hello", string(body))
		json.NewEncoder(w).Encode(map[string]any{"id": "F9", "name": "a.txt", "size": 5, "parentReference": map[string]string{"id": "D1"}})
	})

	it, err := s.Upload(context.Background(), "D1", "a.txt", strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, "F9", it.ID)
	assert.Equal(t, "D1", it.ParentID)

	_, err = s.Upload(context.Background(), "D1", "b.txt", strings.NewReader("x"), -1)
	assert.ErrorIs(t, err, provider.ErrUnsupported)
}

func TestChunkedUploadSendsContentRange(t *testing.T) {
	var (
		mu     sync.Mutex
		ranges []string
	)
	s := newTestStorage(t, "", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/items/D1:/big.bin:/createUploadSession":
			json.NewEncoder(w).Encode(map[string]string{"uploadUrl": "http://" + r.Host + "/session/1"})
		case r.Method == http.MethodPut && r.URL.Path == "/session/1":
			mu.Lock()
			ranges = append(ranges, r.Header.Get("Content-Range"))
			n := len(ranges)
			mu.Unlock()
			if n == 1 {
				w.WriteHeader(http.StatusAccepted)
				return
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"id": "F7", "name": "big.bin", "size": 10, "parentReference": map[string]string{"id": "D1"}})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ctx := context.Background()
	session, err := s.StartUpload(ctx, "D1", "big.bin", 10)
	require.NoError(t, err)
	body := strings.NewReader("0123456789")
	require.NoError(t, s.UploadPart(ctx, session, 0, body, 5))
	require.NoError(t, s.UploadPart(ctx, session, 5, body, 5))
	it, err := s.FinishUpload(ctx, session, "D1", "big.bin", 10)
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []string{"bytes 0-4/10", "bytes 5-9/10"}, ranges)
	mu.Unlock()
	assert.Equal(t, "F7", it.ID)
	assert.Equal(t, int64(10), it.Size)

	// the session is gone once finished
	_, err = s.FinishUpload(ctx, session, "D1", "big.bin", 10)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestStatusErrorsMapToSentinels(t *testing.T) {
	s := newTestStorage(t, "", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/items/missing", "/items/missing/content":
			http.Error(w, `{"error":{"code":"itemNotFound"}}`, http.StatusNotFound)
		case "/items/private":
			http.Error(w, `{"error":{"code":"accessDenied"}}`, http.StatusForbidden)
		default:
			http.Error(w, `{"error":{"code":"InvalidAuthenticationToken"}}`, http.StatusUnauthorized)
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

	err = s.Delete(ctx, "F1")
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}
