package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inspectd/mcp-gateway/pkg/auth"
	"github.com/inspectd/mcp-gateway/pkg/authz"
	"github.com/inspectd/mcp-gateway/pkg/errors"
)

func TestResolveShare(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	desc := descriptorFor("sA")
	desc.UseOAuth = true
	desc.Headers = map[string]string{"X-Api-Key": "secret"}
	env.authorizer.shared = &authz.SharedSession{
		WorkspaceID: "ws1",
		ServerName:  "Acme MCP",
		Descriptor:  desc,
	}

	rec := env.do(t, http.MethodPost, "/share/resolve", map[string]any{
		"shareToken": "tok-1",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[resolveShareResponse](t, rec)
	assert.Equal(t, "ws1", resp.WorkspaceID)
	assert.Equal(t, "sA", resp.ServerID)
	assert.Equal(t, "Acme MCP", resp.ServerName)
	assert.Equal(t, "streamable", resp.TransportType)
	assert.True(t, resp.UseOAuth)
	assert.False(t, resp.InAppBrowser)

	// Server-side connection details never reach the client.
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.NotContains(t, rec.Body.String(), "example.com")
}

func TestResolveShareInAppBrowser(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.authorizer.shared = &authz.SharedSession{
		WorkspaceID: "ws1",
		ServerName:  "Acme MCP",
		Descriptor:  descriptorFor("sA"),
	}

	raw, err := json.Marshal(map[string]any{"shareToken": "tok-1"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/share/resolve", bytes.NewReader(raw))
	req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone) Instagram 300.0")
	req = req.WithContext(auth.WithIdentity(req.Context(), testIdentity()))

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[resolveShareResponse](t, rec)
	assert.True(t, resp.InAppBrowser)
}

func TestResolveShareInvalidToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.authorizer.shareErr = errors.NewNotFoundError("share token not found", nil)

	rec := env.do(t, http.MethodPost, "/share/resolve", map[string]any{
		"shareToken": "bad",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errors.ErrNotFound, errorCode(t, rec))
}

func TestResolveShareMissingToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/share/resolve", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errors.ErrValidation, errorCode(t, rec))
}

func TestIsInAppBrowser(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		userAgent string
		want      bool
	}{
		{name: "empty", userAgent: "", want: false},
		{name: "desktop chrome", userAgent: "Mozilla/5.0 (Macintosh) Chrome/120.0", want: false},
		{name: "instagram", userAgent: "Mozilla/5.0 (iPhone) Instagram 300.0", want: true},
		{name: "facebook", userAgent: "Mozilla/5.0 [FBAN/FBIOS;FBAV/400.0]", want: true},
		{name: "android webview", userAgent: "Mozilla/5.0 (Linux; Android 14; wv) Chrome/120", want: true},
		{name: "wechat", userAgent: "Mozilla/5.0 MicroMessenger/8.0", want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsInAppBrowser(tc.userAgent))
		})
	}
}
