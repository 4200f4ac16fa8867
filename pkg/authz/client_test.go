package authz

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inspectd/mcp-gateway/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, WithHTTPClient(srv.Client()), WithMaxTries(2))
}

func TestAuthorizeHappyPath(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotBody authorizeRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/web/authorize", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_ = json.NewEncoder(w).Encode(authorizeResponse{
			Authorized: true,
			Role:       "member",
			ServerConfig: &serverConfig{
				TransportType: "http",
				URL:           "https://a.example.com/mcp",
				Headers:       map[string]string{"X-Custom": "v"},
				UseOAuth:      true,
			},
		})
	})

	d, err := client.Authorize(context.Background(), "B1", "ws1", "sA")
	require.NoError(t, err)

	assert.Equal(t, "Bearer B1", gotAuth)
	assert.Equal(t, authorizeRequest{WorkspaceID: "ws1", ServerID: "sA"}, gotBody)
	assert.Equal(t, "sA", d.ServerID)
	assert.Equal(t, "member", d.Role)
	assert.Equal(t, TransportStreamable, d.Transport)
	assert.Equal(t, "https://a.example.com/mcp", d.URL)
	assert.True(t, d.UseOAuth)
}

func TestAuthorizeTransportMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		transportType string
		want          Transport
		wantCode      string
	}{
		{transportType: "http", want: TransportStreamable},
		{transportType: "streamable", want: TransportStreamable},
		{transportType: "sse", want: TransportSSE},
		{transportType: "stdio", wantCode: errors.ErrFeatureNotSupported},
		{transportType: "websocket", wantCode: errors.ErrFeatureNotSupported},
	}

	for _, tt := range tests {
		t.Run(tt.transportType, func(t *testing.T) {
			t.Parallel()

			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(authorizeResponse{
					Authorized: true,
					ServerConfig: &serverConfig{
						TransportType: tt.transportType,
						URL:           "https://a.example.com/",
					},
				})
			})

			d, err := client.Authorize(context.Background(), "B1", "ws1", "sA")
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, errors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Transport)
		})
	}
}

func TestAuthorizeDenied(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(authorizeResponse{Authorized: false})
	})

	_, err := client.Authorize(context.Background(), "B1", "ws1", "sA")
	require.Error(t, err)
	assert.True(t, errors.IsForbidden(err))
}

func TestAuthorizePolicyErrorSurfacedVerbatim(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(policyError{Code: "FORBIDDEN", Message: "workspace suspended"})
	})

	_, err := client.Authorize(context.Background(), "B1", "ws1", "sA")
	require.Error(t, err)
	assert.True(t, errors.IsForbidden(err))
	assert.Contains(t, err.Error(), "workspace suspended")
	// 4xx is permanent: no retries.
	assert.Equal(t, int32(1), calls.Load())
}

func TestAuthorizeRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(authorizeResponse{
			Authorized:   true,
			ServerConfig: &serverConfig{TransportType: "sse", URL: "https://a/"},
		})
	})

	d, err := client.Authorize(context.Background(), "B1", "ws1", "sA")
	require.NoError(t, err)
	assert.Equal(t, TransportSSE, d.Transport)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAuthorizeUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(url, WithHTTPClient(http.DefaultClient), WithMaxTries(1))
	_, err := client.Authorize(context.Background(), "B1", "ws1", "sA")
	require.Error(t, err)
	assert.True(t, errors.IsServerUnreachable(err))
}

func TestResolveShare(t *testing.T) {
	t.Parallel()

	t.Run("resolves to single-server session", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/web/share/resolve", r.URL.Path)
			var req resolveShareRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "tok-share", req.ShareToken)

			_ = json.NewEncoder(w).Encode(resolveShareResponse{
				WorkspaceID: "ws1",
				ServerID:    "sA",
				ServerName:  "Acme Docs",
				ServerConfig: &serverConfig{
					TransportType: "http",
					URL:           "https://a.example.com/",
					UseOAuth:      true,
				},
			})
		})

		session, err := client.ResolveShare(context.Background(), "B1", "tok-share")
		require.NoError(t, err)
		assert.Equal(t, "ws1", session.WorkspaceID)
		assert.Equal(t, "Acme Docs", session.ServerName)
		assert.True(t, session.Descriptor.UseOAuth)
	})

	t.Run("empty resolution maps to not found", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(resolveShareResponse{})
		})

		_, err := client.ResolveShare(context.Background(), "B1", "tok-gone")
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})
}
