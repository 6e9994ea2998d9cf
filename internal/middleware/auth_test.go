package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-docspace/internal/auth"
	"go-docspace/internal/model"
)

func TestRequireAuth(t *testing.T) {
	tokens := auth.NewTokens("secret")
	user := model.Actor{UserID: uuid.New(), TenantID: 2}
	token, err := tokens.Issue(user, time.Minute)
	require.NoError(t, err)

	var seen model.Actor
	handler := NewAuthMiddleware(tokens).RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		require.True(t, ok)
		seen = actor
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/fileops", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.RemoteAddr = "10.0.0.7:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, user.UserID, seen.UserID)
		assert.Equal(t, "10.0.0.7", seen.IP)
	})

	t.Run("query parameter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ws?access_token="+token, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/fileops", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
	})

	t.Run("invalid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/fileops", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireUserRejectsShareSessions(t *testing.T) {
	mw := NewAuthMiddleware(auth.NewTokens("secret"))
	handler := mw.RequireUser(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/fileops/emptytrash", nil)
	external := model.Actor{TenantID: 1, External: &model.ExternalSession{LinkID: uuid.New(), SessionID: "s"}}
	req = req.WithContext(WithActor(req.Context(), external))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/fileops/emptytrash", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoggingNamesActor(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(previous) })

	tokens := auth.NewTokens("secret")
	user := model.Actor{UserID: uuid.New(), TenantID: 4}
	token, err := tokens.Issue(user, time.Minute)
	require.NoError(t, err)

	handler := Logging(NewAuthMiddleware(tokens).RequireAuth(okHandler()))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/fileops", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
	assert.Contains(t, buf.String(), "actor="+user.UserID.String())
	assert.Contains(t, buf.String(), "tenant_id=4")
}

func TestRecoveryWritesEnvelope(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":{"code":"INTERNAL_ERROR","message":"Unexpected server error"}}`, rec.Body.String())
}
