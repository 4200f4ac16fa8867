package web

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/inspectd/mcp-gateway/pkg/errors"
	"github.com/inspectd/mcp-gateway/pkg/logger"
)

// proxyBodyLimit caps what the proxy will relay back to the browser.
const proxyBodyLimit = 4 << 20

// hopByHopHeaders never cross the proxy in either direction.
var hopByHopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"host":                {},
}

// oauthProxy
//
//	@Summary		Proxy an OAuth request for the browser
//	@Description	Forwards the body's request to an HTTPS target and relays status, body, and Content-Type
//	@Tags			oauth
//	@Accept			json
//	@Router			/web/oauth/proxy [post]
func (s *Routes) oauthProxy(w http.ResponseWriter, r *http.Request) error {
	var req oauthProxyRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodPost
	}
	return s.forward(w, r, method, req.URL, req.Body, req.Headers)
}

// oauthMetadata
//
//	@Summary		Fetch OAuth discovery metadata for the browser
//	@Tags			oauth
//	@Router			/web/oauth/metadata [get]
func (s *Routes) oauthMetadata(w http.ResponseWriter, r *http.Request) error {
	target := r.URL.Query().Get("url")
	return s.forward(w, r, http.MethodGet, target, "", nil)
}

// forward performs the proxied request. Only absolute HTTPS targets are
// allowed; the validation runs before any outbound dial.
func (s *Routes) forward(w http.ResponseWriter, r *http.Request, method, target, body string, headers map[string]string) error {
	if err := validateProxyTarget(target); err != nil {
		return err
	}

	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}
	outbound, err := http.NewRequestWithContext(r.Context(), method, target, reqBody)
	if err != nil {
		return errors.NewValidationError("invalid proxy request: "+err.Error(), err)
	}
	for name, value := range headers {
		if _, hop := hopByHopHeaders[strings.ToLower(name)]; hop {
			continue
		}
		outbound.Header.Set(name, value)
	}

	resp, err := s.proxyClient.Do(outbound)
	if err != nil {
		logger.Warnw("oauth proxy request failed", "host", outbound.URL.Host, "error", err.Error())
		return errors.NewServerUnreachableError("upstream request failed", err)
	}
	defer resp.Body.Close()

	// Pass through status, body, and Content-Type only.
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, io.LimitReader(resp.Body, proxyBodyLimit)); err != nil {
		// The status line is already out; nothing to do but note it.
		logger.Debugw("oauth proxy body relay interrupted", "error", err.Error())
	}
	return nil
}

// validateProxyTarget requires an absolute https URL.
func validateProxyTarget(target string) error {
	if target == "" {
		return errors.NewValidationError("url is required", nil)
	}
	parsed, err := url.Parse(target)
	if err != nil {
		return errors.NewValidationError("url is not a valid URL", err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return errors.NewValidationError("url must be absolute", nil)
	}
	if parsed.Scheme != "https" {
		return errors.NewValidationError("url scheme must be https", nil)
	}
	return nil
}
