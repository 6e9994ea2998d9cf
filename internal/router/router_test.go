package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-docspace/internal/auth"
	"go-docspace/internal/config"
	"go-docspace/internal/dao"
	"go-docspace/internal/event"
	"go-docspace/internal/handler"
	"go-docspace/internal/lock"
	"go-docspace/internal/marker"
	"go-docspace/internal/middleware"
	"go-docspace/internal/model"
	"go-docspace/internal/notify"
	"go-docspace/internal/operations"
	"go-docspace/internal/quota"
	"go-docspace/internal/security"
	"go-docspace/internal/storage"
	queuememory "go-docspace/internal/taskqueue/memory"
	"go-docspace/internal/tasks"
	"go-docspace/internal/testenv"
	"go-docspace/internal/websocket"
)

type allowAll struct{}

func (allowAll) Can(context.Context, model.Actor, model.SecurityAction, security.Subject) (bool, error) {
	return true, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *model.APIError `json:"error"`
}

type server struct {
	*testenv.Env
	url    string
	tokens *auth.Tokens
}

// newServer runs the whole HTTP stack over the in-memory engine with live
// task workers and websocket hub.
func newServer(t *testing.T) *server {
	t.Helper()
	env := testenv.New(t)

	temp, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	nativeUploads, err := dao.NewUploads[int](t.TempDir())
	require.NoError(t, err)
	thirdUploads, err := dao.NewUploads[string](t.TempDir())
	require.NoError(t, err)

	bus := event.NewBus()
	factory := operations.NewFactory(operations.Deps{
		Store:         env.Store,
		Content:       env.Content,
		Temp:          temp,
		NativeUploads: nativeUploads,
		ThirdUploads:  thirdUploads,
		Sessions:      env.Sessions,
		Security:      allowAll{},
		Notifier:      notify.NewNotifier(bus),
		Marker:        marker.New(env.Store),
		Rooms:         quota.NewRooms(env.Store, lock.NewLocal(), nil, 0),
		Bus:           bus,
	}, operations.Config{DownloadMaxPathLength: 200})

	service := tasks.NewService(queuememory.New(), tasks.FromFactory(factory), lock.NewLocal(), bus, tasks.Config{
		Workers:      2,
		PollInterval: 20 * time.Millisecond,
	})
	hub := websocket.NewHub(bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() {
		_ = service.Run(ctx)
		done <- struct{}{}
	}()
	go func() {
		hub.Run(ctx)
		done <- struct{}{}
	}()

	cfg := &config.Config{
		RequestTimeout:   5 * time.Second,
		CORSOrigins:      []string{"*"},
		RateLimitRPM:     -1,
		TaskRateLimitRPM: 1000,
	}
	tokens := auth.NewTokens("integration-secret")
	h := New(cfg, middleware.NewAuthMiddleware(tokens), Handlers{
		FileOps: handler.NewFileOpsHandler(service, temp),
		Health:  handler.NewHealthHandler(nil),
		Docs:    handler.NewDocsHandler(),
		Websocket: hub.Handler(cfg.CORSOrigins, func(r *http.Request) (model.Actor, bool) {
			return middleware.ActorFromContext(r.Context())
		}),
	})

	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		<-done
	})
	return &server{Env: env, url: srv.URL, tokens: tokens}
}

func (s *server) token(t *testing.T, actor model.Actor) string {
	t.Helper()
	token, err := s.tokens.Issue(actor, time.Hour)
	require.NoError(t, err)
	return token
}

func (s *server) do(t *testing.T, token, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.url+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode(t *testing.T, raw []byte) envelope {
	t.Helper()
	var out envelope
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func decodeResults(t *testing.T, raw []byte) []model.OperationResult {
	t.Helper()
	env := decode(t, raw)
	require.True(t, env.Success, string(raw))
	var results []model.OperationResult
	require.NoError(t, json.Unmarshal(env.Data, &results))
	return results
}

// waitFinished polls the task list until the task id is reported finished.
func (s *server) waitFinished(t *testing.T, token, id string) model.OperationResult {
	t.Helper()
	var found model.OperationResult
	require.Eventually(t, func() bool {
		_, raw := s.do(t, token, http.MethodGet, "/api/v1/fileops/", "")
		for _, r := range decodeResults(t, raw) {
			if r.ID == id && r.Finished {
				found = r
				return true
			}
		}
		return false
	}, 5*time.Second, 25*time.Millisecond)
	return found
}

func (s *server) publish(t *testing.T, token, op, body string) string {
	t.Helper()
	resp, raw := s.do(t, token, http.MethodPost, "/api/v1/fileops/"+op, body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(raw))
	id := strings.TrimPrefix(resp.Header.Get("Location"), "/api/v1/fileops?task=")
	require.NotEmpty(t, id)
	return id
}

func TestDownloadRoundTrip(t *testing.T) {
	s := newServer(t)
	file := s.NativeFile(t, s.My, "report.txt", "numbers")
	token := s.token(t, s.Actor)

	id := s.publish(t, token, "download", fmt.Sprintf(`{"file_ids":["%d"]}`, file.ID))
	result := s.waitFinished(t, token, id)
	require.Empty(t, result.Error)
	require.NotEmpty(t, result.Result)

	resp, body := s.do(t, token, http.MethodGet, "/api/v1/fileops/downloads/"+result.Result, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "numbers", string(body))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "report.txt")

	// the result belongs to its owner only
	other := s.token(t, model.Actor{UserID: uuid.New(), TenantID: testenv.TenantID})
	resp, _ = s.do(t, other, http.MethodGet, "/api/v1/fileops/downloads/"+result.Result, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// unheld tasks are gone once reported finished
	_, raw := s.do(t, token, http.MethodGet, "/api/v1/fileops/", "")
	assert.Empty(t, decodeResults(t, raw))
}

func TestDeleteMovesToTrash(t *testing.T) {
	s := newServer(t)
	file := s.NativeFile(t, s.My, "a.txt", "a")
	token := s.token(t, s.Actor)

	id := s.publish(t, token, "delete", fmt.Sprintf(`{"file_ids":["%d"],"hold_result":true}`, file.ID))
	result := s.waitFinished(t, token, id)
	require.Empty(t, result.Error)
	assert.Equal(t, model.OperationDelete, result.Operation)

	ctx := context.Background()
	trash, err := s.Roots.Trash(ctx, s.Actor.UserID)
	require.NoError(t, err)
	trashed, err := s.Native.GetFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, trash, trashed.ParentID)

	// held results stay until terminated by id
	_, raw := s.do(t, token, http.MethodGet, "/api/v1/fileops/", "")
	require.Len(t, decodeResults(t, raw), 1)

	resp, _ := s.do(t, token, http.MethodPut, "/api/v1/fileops/terminate/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, raw = s.do(t, token, http.MethodGet, "/api/v1/fileops/", "")
	assert.Empty(t, decodeResults(t, raw))
}

func TestAuthentication(t *testing.T) {
	s := newServer(t)

	resp, raw := s.do(t, "", http.MethodGet, "/api/v1/fileops/", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	env := decode(t, raw)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	foreign, err := auth.NewTokens("someone-else").Issue(s.Actor, time.Hour)
	require.NoError(t, err)
	resp, _ = s.do(t, foreign, http.MethodGet, "/api/v1/fileops/", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	for _, public := range []string{"/health", "/openapi.yaml", "/swagger"} {
		resp, _ = s.do(t, "", http.MethodGet, public, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, public)
	}
}

func TestShareSessionsCannotModify(t *testing.T) {
	s := newServer(t)
	visitor := model.Actor{
		TenantID: testenv.TenantID,
		External: &model.ExternalSession{LinkID: uuid.New(), SessionID: "visitor-1"},
	}
	token := s.token(t, visitor)

	resp, raw := s.do(t, token, http.MethodPost, "/api/v1/fileops/move", `{"file_ids":["1"],"dest_folder_id":"2"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, string(raw))

	resp, _ = s.do(t, token, http.MethodGet, "/api/v1/fileops/", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebsocketDeliversTaskEvents(t *testing.T) {
	s := newServer(t)
	file := s.NativeFile(t, s.My, "notes.txt", "hello")
	token := s.token(t, s.Actor)

	wsURL := "ws" + strings.TrimPrefix(s.url, "http") + "/ws?access_token=" + token
	conn, resp, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	// the client counts as connected once the hub registered it
	require.Eventually(t, func() bool {
		_, raw := s.do(t, "", http.MethodGet, "/metrics", "")
		return strings.Contains(string(raw), "docspace_websocket_clients 1")
	}, 5*time.Second, 20*time.Millisecond)

	id := s.publish(t, token, "download", fmt.Sprintf(`{"file_ids":["%d"]}`, file.ID))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var e event.Event
		require.NoError(t, conn.ReadJSON(&e))
		if e.Type != event.TypeTaskFinished {
			continue
		}
		assert.Equal(t, s.Actor.Key(), e.ActorID)
		payload, err := json.Marshal(e.Payload)
		require.NoError(t, err)
		assert.Contains(t, string(payload), id)
		return
	}
}
