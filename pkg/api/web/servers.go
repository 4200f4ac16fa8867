package web

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/inspectd/mcp-gateway/pkg/logger"
)

// protectedResourcePath is the RFC 9728 protected-resource metadata
// location probed by check-oauth.
const protectedResourcePath = "/.well-known/oauth-protected-resource"

// validateServer
//
//	@Summary		Validate an MCP server
//	@Description	Connects and initializes against the server to confirm reachability
//	@Tags			servers
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	validateServerResponse
//	@Router			/web/servers/validate [post]
func (s *Routes) validateServer(w http.ResponseWriter, r *http.Request) error {
	var req serverRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	return s.withServer(r, &req, func(ctx context.Context, mgr sessionManager) error {
		if err := mgr.Ping(ctx, req.ServerID); err != nil {
			return err
		}
		return writeJSON(w, validateServerResponse{Success: true, Status: "connected"})
	})
}

// checkOAuth
//
//	@Summary		Check a server's OAuth requirement
//	@Description	Reports whether the server requires OAuth and where its authorization server lives
//	@Tags			servers
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	checkOAuthResponse
//	@Router			/web/servers/check-oauth [post]
func (s *Routes) checkOAuth(w http.ResponseWriter, r *http.Request) error {
	var req serverRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	identity, err := identityFrom(r)
	if err != nil {
		return err
	}

	desc, err := s.authorizer.Authorize(r.Context(), identity.Token, req.WorkspaceID, req.ServerID)
	if err != nil {
		return err
	}

	resp := checkOAuthResponse{OAuthRequired: desc.UseOAuth}
	if metadataURL, authServer := s.probeProtectedResource(r.Context(), desc.URL); authServer != "" {
		resp.OAuthRequired = true
		resp.AuthorizationServerURL = authServer
		resp.ResourceMetadataURL = metadataURL
	}
	return writeJSON(w, resp)
}

// probeProtectedResource fetches the server origin's protected-resource
// metadata and returns its first authorization server. Probe failures mean
// "no metadata", not an error; the descriptor's useOAuth flag still rules.
func (s *Routes) probeProtectedResource(ctx context.Context, serverURL string) (metadataURL, authServer string) {
	parsed, err := url.Parse(serverURL)
	if err != nil || parsed.Host == "" {
		return "", ""
	}
	metadataURL = parsed.Scheme + "://" + parsed.Host + protectedResourcePath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return "", ""
	}
	resp, err := s.proxyClient.Do(req)
	if err != nil {
		logger.Debugw("protected-resource probe failed", "url", metadataURL, "error", err.Error())
		return "", ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", ""
	}
	authServer = gjson.GetBytes(body, "authorization_servers.0").String()
	if authServer == "" {
		return "", ""
	}
	return metadataURL, authServer
}
