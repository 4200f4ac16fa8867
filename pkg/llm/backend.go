package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	gwerrors "github.com/inspectd/mcp-gateway/pkg/errors"
	"github.com/inspectd/mcp-gateway/pkg/networking"
)

// BackendProvider streams completions from the gateway's model backend.
type BackendProvider struct {
	baseURL    string
	httpClient *http.Client
}

// BackendOption configures a BackendProvider.
type BackendOption func(*BackendProvider)

// WithHTTPClient overrides the outbound client. Tests use this to target
// plaintext httptest servers.
func WithHTTPClient(c *http.Client) BackendOption {
	return func(p *BackendProvider) { p.httpClient = c }
}

// NewBackendProvider creates a provider for the backend at baseURL.
// The HTTP client carries no overall timeout; stream lifetime is bounded by
// the request context.
func NewBackendProvider(baseURL string, opts ...BackendOption) *BackendProvider {
	p := &BackendProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: networking.NewHttpClientBuilder().WithTimeout(0).Build(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Complete starts one completion stream.
func (p *BackendProvider) Complete(ctx context.Context, req CompletionRequest) (Stream, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, gwerrors.NewInternalError("encode completion request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/stream", bytes.NewReader(raw))
	if err != nil {
		return nil, gwerrors.NewInternalError("build completion request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, gwerrors.NewTimeoutError("completion backend timed out", err)
		}
		return nil, gwerrors.NewServerUnreachableError("could not reach completion backend", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, backendError(resp.StatusCode, body)
	}

	return newSSEStream(resp, decodeFrame), nil
}

func backendError(status int, body []byte) error {
	code := gjson.GetBytes(body, "code").String()
	message := gjson.GetBytes(body, "message").String()
	if code != "" && message != "" {
		return gwerrors.NewError(code, message, nil)
	}
	if status >= 500 {
		return gwerrors.NewServerUnreachableError(
			fmt.Sprintf("completion backend returned %d", status), nil)
	}
	return gwerrors.NewValidationError(
		fmt.Sprintf("completion backend rejected the request (%d)", status), nil)
}

// decodeFrame classifies one SSE frame from the backend.
//
// Frames: {"type":"text-delta","delta":...}, {"type":"tool-call","id":...,
// "name":...,"arguments":{...}}, {"type":"finish","reason":...}, and
// {"type":"error","message":...}. Unknown frame types are skipped so the
// backend can grow its protocol without breaking older gateways.
func decodeFrame(data []byte) (Chunk, error) {
	switch gjson.GetBytes(data, "type").String() {
	case "text-delta":
		return Chunk{Content: gjson.GetBytes(data, "delta").String()}, nil
	case "tool-call":
		call := ToolCall{
			ID:        gjson.GetBytes(data, "id").String(),
			Name:      gjson.GetBytes(data, "name").String(),
			Arguments: gjson.GetBytes(data, "arguments").Raw,
		}
		if call.Arguments == "" {
			call.Arguments = "{}"
		}
		return Chunk{ToolCalls: []ToolCall{call}}, nil
	case "finish":
		reason := gjson.GetBytes(data, "reason").String()
		if reason == "" {
			reason = "stop"
		}
		return Chunk{FinishReason: reason}, nil
	case "error":
		return Chunk{}, gwerrors.NewServerUnreachableError(
			gjson.GetBytes(data, "message").String(), nil)
	default:
		return Chunk{}, nil
	}
}
