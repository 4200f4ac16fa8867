package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inspectd/mcp-gateway/pkg/errors"
)

func TestValidateServer(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.authorizer.descriptors["sA"] = descriptorFor("sA")

	rec := env.do(t, http.MethodPost, "/servers/validate", map[string]any{
		"workspaceId": "ws1",
		"serverId":    "sA",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[validateServerResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "connected", resp.Status)

	assert.Equal(t, []string{"ping:sA"}, env.manager.recorded())
	assert.Equal(t, int32(1), env.manager.disconnects.Load())
}

func TestValidateServerUnreachable(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.authorizer.descriptors["sA"] = descriptorFor("sA")
	env.manager.pingErr = errors.NewServerUnreachableError("connect failed", nil)

	rec := env.do(t, http.MethodPost, "/servers/validate", map[string]any{
		"workspaceId": "ws1",
		"serverId":    "sA",
	})

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, errors.ErrServerUnreachable, errorCode(t, rec))
	assert.Equal(t, int32(1), env.manager.disconnects.Load(), "teardown runs on the error path too")
}

func TestValidateServerMissingFields(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/servers/validate", map[string]any{
		"workspaceId": "ws1",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errors.ErrValidation, errorCode(t, rec))
	assert.Contains(t, rec.Body.String(), "serverId")
	assert.Empty(t, env.authorizer.authorized, "validation failures never reach the policy service")
}

func TestValidateServerStdioRejected(t *testing.T) {
	t.Parallel()

	// The authorizer client rejects stdio descriptors; no manager is ever
	// constructed and no connect is attempted.
	env := newTestEnv(t, nil)
	env.authorizer.errs["sA"] = errors.NewFeatureNotSupportedError("hosted cannot spawn subprocesses", nil)

	rec := env.do(t, http.MethodPost, "/servers/validate", map[string]any{
		"workspaceId": "ws1",
		"serverId":    "sA",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errors.ErrFeatureNotSupported, errorCode(t, rec))
	assert.Equal(t, int32(0), env.factoryCalls.Load())
}

func TestValidateServerRequiresOAuthToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	desc := descriptorFor("sA")
	desc.UseOAuth = true
	env.authorizer.descriptors["sA"] = desc

	rec := env.do(t, http.MethodPost, "/servers/validate", map[string]any{
		"workspaceId": "ws1",
		"serverId":    "sA",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, errors.ErrUnauthorized, errorCode(t, rec))
	assert.Contains(t, rec.Body.String(), "sA")
	assert.Equal(t, int32(0), env.factoryCalls.Load())
}

func TestValidateServerOAuthTokenForwarded(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	desc := descriptorFor("sA")
	desc.UseOAuth = true
	env.authorizer.descriptors["sA"] = desc

	rec := env.do(t, http.MethodPost, "/servers/validate", map[string]any{
		"workspaceId":      "ws1",
		"serverId":         "sA",
		"oauthAccessToken": "oauth-tok",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.factoryConfigs, 1)
	assert.Equal(t, "Bearer oauth-tok", env.factoryConfigs[0].Headers["Authorization"])
}

func TestCheckOAuthFromDescriptor(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	desc := descriptorFor("sA")
	desc.UseOAuth = true
	env.authorizer.descriptors["sA"] = desc

	rec := env.do(t, http.MethodPost, "/servers/check-oauth", map[string]any{
		"workspaceId": "ws1",
		"serverId":    "sA",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[checkOAuthResponse](t, rec)
	assert.True(t, resp.OAuthRequired)
}

func TestCheckOAuthProbesProtectedResource(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, protectedResourcePath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"authorization_servers":["https://auth.example.com"]}`))
	}))
	defer upstream.Close()

	env := newTestEnv(t, nil, withProxyClient(upstream.Client()))
	desc := descriptorFor("sA")
	desc.URL = upstream.URL + "/mcp"
	env.authorizer.descriptors["sA"] = desc

	rec := env.do(t, http.MethodPost, "/servers/check-oauth", map[string]any{
		"workspaceId": "ws1",
		"serverId":    "sA",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[checkOAuthResponse](t, rec)
	assert.True(t, resp.OAuthRequired)
	assert.Equal(t, "https://auth.example.com", resp.AuthorizationServerURL)
	assert.Equal(t, upstream.URL+protectedResourcePath, resp.ResourceMetadataURL)
}

func TestCheckOAuthNoMetadata(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	env := newTestEnv(t, nil, withProxyClient(upstream.Client()))
	desc := descriptorFor("sA")
	desc.URL = upstream.URL + "/mcp"
	env.authorizer.descriptors["sA"] = desc

	rec := env.do(t, http.MethodPost, "/servers/check-oauth", map[string]any{
		"workspaceId": "ws1",
		"serverId":    "sA",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[checkOAuthResponse](t, rec)
	assert.False(t, resp.OAuthRequired)
	assert.Empty(t, resp.AuthorizationServerURL)
}
