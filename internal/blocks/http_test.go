package blocks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/blockflow/pkg/schema"
)

func httpDef(config map[string]any) schema.BlockDefinition {
	return schema.BlockDefinition{Name: "call", Type: "http.request", Config: config}
}

func TestHTTPRequestBlock_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	ec := testContext()
	res := NewHTTPRequestBlock(HTTPConfig{}).Execute(context.Background(), httpDef(map[string]any{
		"url": srv.URL,
	}), ec)
	require.Equal(t, schema.StatusSuccess, res.Status)

	stored, ok := ec.Get("http_response")
	require.True(t, ok, "response stored under default target")
	out := stored.(map[string]any)
	assert.Equal(t, 200, out["status_code"])
	body := out["body"].(map[string]any)
	assert.Equal(t, true, body["ok"])
}

func TestHTTPRequestBlock_PostWithBodyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "abc", r.Header.Get("X-Trace"))

		var in map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "order-7", in["id"])
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	res := NewHTTPRequestBlock(HTTPConfig{}).Execute(context.Background(), httpDef(map[string]any{
		"url":     srv.URL,
		"method":  "post",
		"body":    map[string]any{"id": "order-7"},
		"headers": map[string]any{"X-Trace": "abc"},
		"target":  "created",
	}), testContext())
	require.Equal(t, schema.StatusSuccess, res.Status)

	out := res.Output.(map[string]any)
	assert.Equal(t, 201, out["status_code"])
}

func TestHTTPRequestBlock_Auth(t *testing.T) {
	t.Run("bearer", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		}))
		defer srv.Close()

		res := NewHTTPRequestBlock(HTTPConfig{}).Execute(context.Background(), httpDef(map[string]any{
			"url":  srv.URL,
			"auth": map[string]any{"type": "bearer", "token": "tok-1"},
		}), testContext())
		assert.Equal(t, schema.StatusSuccess, res.Status)
	})

	t.Run("basic", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "u", user)
			assert.Equal(t, "p", pass)
		}))
		defer srv.Close()

		res := NewHTTPRequestBlock(HTTPConfig{}).Execute(context.Background(), httpDef(map[string]any{
			"url":  srv.URL,
			"auth": map[string]any{"type": "basic", "username": "u", "password": "p"},
		}), testContext())
		assert.Equal(t, schema.StatusSuccess, res.Status)
	})
}

func TestHTTPRequestBlock_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	t.Run("default is success with status in state", func(t *testing.T) {
		res := NewHTTPRequestBlock(HTTPConfig{}).Execute(context.Background(), httpDef(map[string]any{
			"url": srv.URL,
		}), testContext())
		require.Equal(t, schema.StatusSuccess, res.Status)
		out := res.Output.(map[string]any)
		assert.Equal(t, 503, out["status_code"])
	})

	t.Run("fail_on_error_status", func(t *testing.T) {
		res := NewHTTPRequestBlock(HTTPConfig{}).Execute(context.Background(), httpDef(map[string]any{
			"url":                  srv.URL,
			"fail_on_error_status": true,
		}), testContext())
		require.Equal(t, schema.StatusFailure, res.Status)
		var bfErr *schema.BlockflowError
		require.ErrorAs(t, res.Err, &bfErr)
		assert.Equal(t, schema.ErrCodeExecution, bfErr.Code)
	})
}

func TestHTTPRequestBlock_InvalidConfig(t *testing.T) {
	b := NewHTTPRequestBlock(HTTPConfig{})

	t.Run("missing url", func(t *testing.T) {
		res := b.Execute(context.Background(), httpDef(nil), testContext())
		assert.Equal(t, schema.StatusFailure, res.Status)
	})

	t.Run("non-http scheme", func(t *testing.T) {
		res := b.Execute(context.Background(), httpDef(map[string]any{
			"url": "ftp://example.com/file",
		}), testContext())
		assert.Equal(t, schema.StatusFailure, res.Status)
	})
}

func TestHTTPRequestBlock_MaxResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 4096))
	}))
	defer srv.Close()

	res := NewHTTPRequestBlock(HTTPConfig{MaxResponseBody: 16}).Execute(context.Background(), httpDef(map[string]any{
		"url": srv.URL,
	}), testContext())
	require.Equal(t, schema.StatusSuccess, res.Status)

	out := res.Output.(map[string]any)
	body, ok := out["body"].(string)
	require.True(t, ok)
	assert.Len(t, body, 16, "body is truncated at the configured cap")
}
