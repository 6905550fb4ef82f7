package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxResponseBytes caps the body read by http_request.
const maxResponseBytes = 1 << 20

// BuiltinOption configures the built-in tools.
type BuiltinOption func(*builtinConfig)

type builtinConfig struct {
	httpClient *http.Client
	now        func() time.Time
}

// WithHTTPClient sets the client used by http_request.
func WithHTTPClient(c *http.Client) BuiltinOption {
	return func(b *builtinConfig) {
		b.httpClient = c
	}
}

// WithClock sets the time source used by get_current_time.
func WithClock(now func() time.Time) BuiltinOption {
	return func(b *builtinConfig) {
		b.now = now
	}
}

// RegisterBuiltins adds the built-in tools to r.
func RegisterBuiltins(r *Registry, opts ...BuiltinOption) error {
	cfg := &builtinConfig{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	builtins := []Tool{
		{
			Name:        "get_current_time",
			Description: "Return the current time as an RFC 3339 string, optionally in a named IANA time zone",
			InputSchema: ObjectSchema(map[string]ParamDef{
				"timezone": {Type: "string", Description: "IANA zone name, e.g. Europe/Berlin"},
			}),
			Fn: cfg.currentTime,
		},
		{
			Name:        "http_request",
			Description: "Send an HTTP request. JSON responses are decoded, other bodies are returned as text",
			InputSchema: ObjectSchema(map[string]ParamDef{
				"url":     {Type: "string", Description: "Absolute URL", Required: true},
				"method":  {Type: "string", Description: "HTTP method (default GET)"},
				"headers": {Type: "object", Description: "Request headers"},
				"body":    {Type: "object", Description: "Request body, sent as JSON unless it is a string"},
			}),
			Fn: cfg.httpRequest,
		},
	}

	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func (b *builtinConfig) currentTime(_ context.Context, input any) (any, error) {
	now := b.now()

	var zone string
	switch v := input.(type) {
	case string:
		zone = v
	case map[string]any:
		zone, _ = v["timezone"].(string)
	}
	if zone != "" {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("unknown time zone %q: %w", zone, err)
		}
		now = now.In(loc)
	}

	return now.Format(time.RFC3339), nil
}

func (b *builtinConfig) httpRequest(ctx context.Context, input any) (any, error) {
	var params map[string]any
	switch v := input.(type) {
	case string:
		params = map[string]any{"url": v}
	case map[string]any:
		params = v
	default:
		return nil, fmt.Errorf("expected a URL or an object with a url field, got %T", input)
	}

	url, _ := params["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}
	method, _ := params["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	isJSON := false
	switch v := params["body"].(type) {
	case nil:
	case string:
		body = strings.NewReader(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(data)
		isJSON = true
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, body)
	if err != nil {
		return nil, err
	}
	if isJSON {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := params["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s: %s: %s", req.Method, url, resp.Status, strings.TrimSpace(string(data)))
	}

	result := map[string]any{"status": resp.StatusCode}
	var decoded any
	if json.Unmarshal(data, &decoded) == nil {
		result["body"] = decoded
	} else {
		result["body"] = string(data)
	}
	return result, nil
}
