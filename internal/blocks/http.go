package blocks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/blockflow/internal/execution"
	"github.com/rendis/blockflow/pkg/schema"
)

// HTTPConfig bounds the http.request block.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// HTTPRequestBlock performs an HTTP call and stores the response under the
// configured state key.
// Config: "url" (required), "method" (default GET), "headers", "body"
// (JSON-encoded), "auth" (bearer or basic), "timeout",
// "fail_on_error_status", "target" (default "http_response").
type HTTPRequestBlock struct {
	config HTTPConfig
	client *http.Client
}

func NewHTTPRequestBlock(cfg HTTPConfig) *HTTPRequestBlock {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	return &HTTPRequestBlock{
		config: cfg,
		client: &http.Client{},
	}
}

func (b *HTTPRequestBlock) Type() string        { return "http.request" }
func (b *HTTPRequestBlock) Description() string { return "Execute an HTTP request." }

func (b *HTTPRequestBlock) Execute(ctx context.Context, def schema.BlockDefinition, ec *execution.Context) *schema.ExecutionResult {
	params := def.Config
	if params == nil {
		params = map[string]any{}
	}

	rawURL := stringParam(params, "url", "")
	if rawURL == "" {
		return schema.FailureResult(schema.NewError(schema.ErrCodeValidation,
			"http.request: missing required config 'url'"))
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.FailureResult(schema.NewErrorf(schema.ErrCodeValidation,
			"http.request: invalid url %q", rawURL))
	}

	method := strings.ToUpper(stringParam(params, "method", "GET"))
	timeout := durationParam(params, "timeout", b.config.DefaultTimeout)
	failOnErrorStatus := boolParam(params, "fail_on_error_status", false)
	target := stringParam(params, "target", "http_response")

	var bodyReader io.Reader
	if rawBody, ok := params["body"]; ok && rawBody != nil {
		encoded, err := json.Marshal(rawBody)
		if err != nil {
			return schema.FailureResult(schema.NewError(schema.ErrCodeExecution,
				"http.request: marshal body").WithCause(err))
		}
		bodyReader = strings.NewReader(string(encoded))
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return schema.FailureResult(schema.NewError(schema.ErrCodeExecution,
			"http.request: create request").WithCause(err))
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if hdrs, ok := params["headers"].(map[string]any); ok {
		for k, v := range hdrs {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	if auth, ok := params["auth"].(map[string]any); ok {
		switch stringParam(auth, "type", "") {
		case "bearer":
			req.Header.Set("Authorization", "Bearer "+stringParam(auth, "token", ""))
		case "basic":
			req.SetBasicAuth(stringParam(auth, "username", ""), stringParam(auth, "password", ""))
		}
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return schema.FailureResult(schema.NewErrorf(schema.ErrCodeExecution,
			"http.request: request failed: %v", err).WithCause(err))
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, b.config.MaxResponseBody))
	if err != nil {
		return schema.FailureResult(schema.NewError(schema.ErrCodeExecution,
			"http.request: read response body").WithCause(err))
	}

	respContentType := resp.Header.Get("Content-Type")
	var parsedBody any
	if len(bodyBytes) == 0 {
		parsedBody = nil
	} else if strings.Contains(respContentType, "application/json") {
		var jsonBody any
		if err := json.Unmarshal(bodyBytes, &jsonBody); err == nil {
			parsedBody = jsonBody
		} else {
			parsedBody = string(bodyBytes)
		}
	} else {
		parsedBody = string(bodyBytes)
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	result := map[string]any{
		"status_code":  resp.StatusCode,
		"status":       resp.Status,
		"headers":      respHeaders,
		"body":         parsedBody,
		"content_type": respContentType,
		"duration_ms":  durationMs,
	}

	if failOnErrorStatus && resp.StatusCode >= 400 {
		return schema.FailureResult(schema.NewErrorf(schema.ErrCodeExecution,
			"http.request: server returned %d", resp.StatusCode).
			WithDetails(result))
	}

	ec.Set(target, result)
	return schema.SuccessResult(result).
		WithLog(fmt.Sprintf("%s %s -> %d in %dms", method, rawURL, resp.StatusCode, durationMs))
}
