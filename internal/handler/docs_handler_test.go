package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestOpenAPIDocumentsEveryRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	NewDocsHandler().OpenAPI(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))

	var doc struct {
		Paths map[string]map[string]any `yaml:"paths"`
	}
	require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &doc))

	for path, method := range map[string]string{
		"/api/v1/fileops":                    "get",
		"/api/v1/fileops/move":               "post",
		"/api/v1/fileops/copy":               "post",
		"/api/v1/fileops/delete":             "post",
		"/api/v1/fileops/emptytrash":         "post",
		"/api/v1/fileops/duplicate":          "post",
		"/api/v1/fileops/markasread":         "post",
		"/api/v1/fileops/download":           "post",
		"/api/v1/fileops/downloads/{result}": "get",
		"/api/v1/fileops/terminate":          "put",
		"/api/v1/fileops/terminate/{taskID}": "put",
		"/ws":                                "get",
	} {
		require.Contains(t, doc.Paths, path)
		assert.Contains(t, doc.Paths[path], method, path)
	}
}

func TestSwaggerUI(t *testing.T) {
	rec := httptest.NewRecorder()
	NewDocsHandler().SwaggerUI(rec, httptest.NewRequest(http.MethodGet, "/swagger", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/openapi.yaml")
}
