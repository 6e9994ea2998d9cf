package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go-docspace/internal/model"
)

// API is a thin JSON client for REST providers without an SDK.
type API struct {
	Kind   model.ProviderType
	Base   string
	Client *http.Client
}

// Request sends body (JSON-encoded unless it is an io.Reader) and returns
// the response when the status is 2xx. The caller closes the body.
func (a *API) Request(ctx context.Context, method, url string, body any, header http.Header) (*http.Response, error) {
	var rd io.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
	case io.Reader:
		rd = b
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(raw)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if r, ok := rd.(*bytes.Reader); ok {
		req.ContentLength = int64(r.Len())
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotModified {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Provider: a.Kind, Op: method + " " + url, Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	return resp, nil
}

// JSON performs Request and decodes the answer into out (when non-nil).
func (a *API) JSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := a.Request(ctx, method, a.Base+path, body, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s %s: decode response: %w", a.Kind, method, path, err)
	}
	return nil
}

// RangeHeader asks for the content from offset on; nil for offset 0.
func RangeHeader(offset int64) http.Header {
	if offset <= 0 {
		return nil
	}
	return http.Header{"Range": {fmt.Sprintf("bytes=%d-", offset)}}
}
