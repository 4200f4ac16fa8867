package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/inspectd/mcp-gateway/pkg/errors"
)

// widgetScheme is the only resource scheme the widget routes accept.
const widgetScheme = "ui://"

// widgetContent is the HTML payload extracted from a ui:// resource.
type widgetContent struct {
	html     string
	mimeType string

	// raw is the marshaled resource contents, kept for metadata lookups.
	raw []byte
}

// mcpAppsWidgetContent
//
//	@Summary		Fetch MCP Apps widget HTML
//	@Description	Reads a ui:// resource and returns its HTML plus CSP and display metadata
//	@Tags			apps
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	widgetContentResponse
//	@Router			/web/apps/mcp-apps/widget-content [post]
func (s *Routes) mcpAppsWidgetContent(w http.ResponseWriter, r *http.Request) error {
	var req widgetContentRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	return s.withServer(r, &req.serverRequest, func(ctx context.Context, mgr sessionManager) error {
		content, err := s.fetchWidget(ctx, mgr, req.ServerID, req.URI)
		if err != nil {
			return err
		}

		resp := widgetContentResponse{
			HTML:     content.html,
			MimeType: content.mimeType,
		}
		if req.CSPMode == "strict" {
			resp.CSP = strictWidgetCSP
		}
		if perms := gjson.GetBytes(content.raw, `#._meta.mcpui\.dev/ui-permissions|0`); perms.Exists() {
			for _, p := range perms.Array() {
				resp.Permissions = append(resp.Permissions, p.String())
			}
		}
		resp.PrefersBorder = gjson.GetBytes(content.raw, `#._meta.mcpui\.dev/ui-prefers-border|0`).Bool()
		return writeJSON(w, resp)
	})
}

// strictWidgetCSP is the locked-down policy for callers that opt in.
const strictWidgetCSP = "default-src 'none'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:"

// chatgptAppsWidgetContent
//
//	@Summary		Fetch ChatGPT Apps widget HTML
//	@Description	Same extraction as MCP Apps, plus a synthesized CSP domain policy
//	@Tags			apps
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	chatgptWidgetResponse
//	@Router			/web/apps/chatgpt-apps/widget-content [post]
func (s *Routes) chatgptAppsWidgetContent(w http.ResponseWriter, r *http.Request) error {
	var req widgetContentRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	return s.withServer(r, &req.serverRequest, func(ctx context.Context, mgr sessionManager) error {
		content, err := s.fetchWidget(ctx, mgr, req.ServerID, req.URI)
		if err != nil {
			return err
		}

		resp := chatgptWidgetResponse{
			HTML: content.html,
			// Permissive default; the resource's declared domains replace it.
			CSP: chatgptCSP{
				ConnectDomains:  []string{"https://*"},
				ResourceDomains: []string{"https://*"},
			},
		}
		meta := gjson.GetBytes(content.raw, `#._meta|0`)
		if declared := meta.Get(`openai/widgetCSP`); declared.Exists() {
			resp.CSP = chatgptCSP{
				ConnectDomains:  stringsFromResult(declared.Get("connect_domains")),
				ResourceDomains: stringsFromResult(declared.Get("resource_domains")),
			}
		}
		resp.WidgetDescription = meta.Get(`openai/widgetDescription`).String()
		resp.PrefersBorder = meta.Get(`openai/widgetPrefersBorder`).Bool()
		return writeJSON(w, resp)
	})
}

func stringsFromResult(result gjson.Result) []string {
	var out []string
	for _, v := range result.Array() {
		out = append(out, v.String())
	}
	return out
}

// fetchWidget reads the widget resource and extracts its HTML, inline text
// or base64 blob.
func (s *Routes) fetchWidget(ctx context.Context, mgr sessionManager, serverID, uri string) (*widgetContent, error) {
	if !strings.HasPrefix(uri, widgetScheme) {
		return nil, errors.NewValidationError("widget uri must use the ui:// scheme", nil)
	}

	result, err := mgr.ReadResource(ctx, serverID, uri)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(result.Contents)
	if err != nil {
		return nil, errors.NewInternalError("marshal widget contents", err)
	}

	for _, entry := range gjson.ParseBytes(raw).Array() {
		mimeType := entry.Get("mimeType").String()
		if !strings.Contains(mimeType, "text/html") {
			continue
		}
		if text := entry.Get("text").String(); text != "" {
			return &widgetContent{html: text, mimeType: mimeType, raw: raw}, nil
		}
		if blob := entry.Get("blob").String(); blob != "" {
			decoded, err := base64.StdEncoding.DecodeString(blob)
			if err != nil {
				return nil, errors.NewValidationError("widget blob is not valid base64", err)
			}
			return &widgetContent{html: string(decoded), mimeType: mimeType, raw: raw}, nil
		}
	}
	return nil, errors.NewValidationError("resource carries no text/html content", nil)
}

// uploadFile
//
//	@Summary		Upload a ChatGPT Apps file
//	@Tags			apps
//	@Router			/web/apps/chatgpt-apps/upload-file [post]
func (*Routes) uploadFile(_ http.ResponseWriter, _ *http.Request) error {
	return errors.NewFeatureNotSupportedError("file uploads are not supported on the hosted gateway", nil)
}

// getFile
//
//	@Summary		Fetch a ChatGPT Apps file
//	@Tags			apps
//	@Router			/web/apps/chatgpt-apps/file/{id} [get]
func (*Routes) getFile(_ http.ResponseWriter, _ *http.Request) error {
	return errors.NewFeatureNotSupportedError("file downloads are not supported on the hosted gateway", nil)
}
