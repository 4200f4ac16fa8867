package web

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/inspectd/mcp-gateway/pkg/errors"
	"github.com/inspectd/mcp-gateway/pkg/llm"
)

// serverRequest is the common body of every single-server route.
type serverRequest struct {
	WorkspaceID      string `json:"workspaceId"`
	ServerID         string `json:"serverId"`
	OAuthAccessToken string `json:"oauthAccessToken,omitempty"`
}

func (r *serverRequest) validate() error {
	if r.WorkspaceID == "" {
		return errors.NewValidationError("workspaceId is required", nil)
	}
	if r.ServerID == "" {
		return errors.NewValidationError("serverId is required", nil)
	}
	return nil
}

type validateServerResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

type checkOAuthResponse struct {
	OAuthRequired          bool   `json:"oauthRequired"`
	AuthorizationServerURL string `json:"authorizationServerUrl,omitempty"`
	ResourceMetadataURL    string `json:"resourceMetadataUrl,omitempty"`
}

type listToolsRequest struct {
	serverRequest
	ModelID string `json:"modelId,omitempty"`
	Cursor  string `json:"cursor,omitempty"`
}

// toolsMetadata summarizes the listed page for the caller's UI.
type toolsMetadata struct {
	ServerID string `json:"serverId"`
	Count    int    `json:"count"`
}

type listToolsResponse struct {
	Tools         []mcp.Tool    `json:"tools"`
	ToolsMetadata toolsMetadata `json:"toolsMetadata"`
	NextCursor    string        `json:"nextCursor,omitempty"`
	TokenCount    *int          `json:"tokenCount,omitempty"`
}

type executeToolRequest struct {
	serverRequest
	ToolName   string         `json:"toolName"`
	Parameters map[string]any `json:"parameters"`

	// TaskOptions belongs to the desktop inspector's background-task
	// runner, which the hosted gateway does not carry.
	TaskOptions json.RawMessage `json:"taskOptions,omitempty"`
}

func (r *executeToolRequest) validate() error {
	if err := r.serverRequest.validate(); err != nil {
		return err
	}
	if r.ToolName == "" {
		return errors.NewValidationError("toolName is required", nil)
	}
	if len(r.TaskOptions) > 0 && string(r.TaskOptions) != "null" {
		return errors.NewFeatureNotSupportedError("taskOptions is not supported on the hosted gateway", nil)
	}
	return nil
}

type executeToolResponse struct {
	Status string              `json:"status"`
	Result *mcp.CallToolResult `json:"result"`
}

type cursorRequest struct {
	serverRequest
	Cursor string `json:"cursor,omitempty"`
}

type listResourcesResponse struct {
	Resources  []mcp.Resource `json:"resources"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

type readResourceRequest struct {
	serverRequest
	URI string `json:"uri"`
}

func (r *readResourceRequest) validate() error {
	if err := r.serverRequest.validate(); err != nil {
		return err
	}
	if r.URI == "" {
		return errors.NewValidationError("uri is required", nil)
	}
	return nil
}

type readResourceResponse struct {
	Content *mcp.ReadResourceResult `json:"content"`
}

type listPromptsResponse struct {
	Prompts    []mcp.Prompt `json:"prompts"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

type listPromptsMultiRequest struct {
	WorkspaceID string            `json:"workspaceId"`
	ServerIDs   []string          `json:"serverIds"`
	OAuthTokens map[string]string `json:"oauthTokens,omitempty"`
}

func (r *listPromptsMultiRequest) validate() error {
	if r.WorkspaceID == "" {
		return errors.NewValidationError("workspaceId is required", nil)
	}
	if len(r.ServerIDs) == 0 {
		return errors.NewValidationError("serverIds must not be empty", nil)
	}
	return nil
}

type listPromptsMultiResponse struct {
	Prompts map[string][]mcp.Prompt `json:"prompts"`
	Errors  map[string]string       `json:"errors,omitempty"`
}

type getPromptRequest struct {
	serverRequest
	PromptName string            `json:"promptName"`
	Arguments  map[string]string `json:"arguments,omitempty"`
}

func (r *getPromptRequest) validate() error {
	if err := r.serverRequest.validate(); err != nil {
		return err
	}
	if r.PromptName == "" {
		return errors.NewValidationError("promptName is required", nil)
	}
	return nil
}

type getPromptResponse struct {
	Content *mcp.GetPromptResult `json:"content"`
}

type chatRequest struct {
	WorkspaceID         string            `json:"workspaceId"`
	SelectedServerIDs   []string          `json:"selectedServerIds"`
	OAuthTokens         map[string]string `json:"oauthTokens,omitempty"`
	Messages            []llm.Message     `json:"messages"`
	Model               string            `json:"model"`
	SystemPrompt        string            `json:"systemPrompt,omitempty"`
	Temperature         *float64          `json:"temperature,omitempty"`
	MaxOutputTokens     int               `json:"maxOutputTokens,omitempty"`
	RequireToolApproval bool              `json:"requireToolApproval,omitempty"`
}

func (r *chatRequest) validate() error {
	if r.WorkspaceID == "" {
		return errors.NewValidationError("workspaceId is required", nil)
	}
	if len(r.SelectedServerIDs) == 0 {
		return errors.NewValidationError("selectedServerIds must not be empty", nil)
	}
	if r.Model == "" {
		return errors.NewValidationError("model is required", nil)
	}
	if len(r.Messages) == 0 {
		return errors.NewValidationError("messages must not be empty", nil)
	}
	return nil
}

type widgetContentRequest struct {
	serverRequest
	URI     string `json:"uri"`
	CSPMode string `json:"cspMode,omitempty"`
}

func (r *widgetContentRequest) validate() error {
	if err := r.serverRequest.validate(); err != nil {
		return err
	}
	if r.URI == "" {
		return errors.NewValidationError("uri is required", nil)
	}
	return nil
}

type widgetContentResponse struct {
	HTML          string   `json:"html"`
	CSP           string   `json:"csp,omitempty"`
	Permissions   []string `json:"permissions,omitempty"`
	PrefersBorder bool     `json:"prefersBorder,omitempty"`
	MimeType      string   `json:"mimeType"`
}

type chatgptCSP struct {
	ConnectDomains  []string `json:"connect_domains"`
	ResourceDomains []string `json:"resource_domains"`
}

type chatgptWidgetResponse struct {
	HTML              string     `json:"html"`
	CSP               chatgptCSP `json:"csp"`
	WidgetDescription string     `json:"widgetDescription,omitempty"`
	PrefersBorder     bool       `json:"prefersBorder"`
	CloseWidget       bool       `json:"closeWidget"`
}

type oauthProxyRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Body    string            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type resolveShareRequest struct {
	ShareToken string `json:"shareToken"`
}

func (r *resolveShareRequest) validate() error {
	if r.ShareToken == "" {
		return errors.NewValidationError("shareToken is required", nil)
	}
	return nil
}

type resolveShareResponse struct {
	WorkspaceID   string `json:"workspaceId"`
	ServerID      string `json:"serverId"`
	ServerName    string `json:"serverName"`
	TransportType string `json:"transportType"`
	UseOAuth      bool   `json:"useOAuth"`

	// InAppBrowser tells the client to hand the OAuth flow to the system
	// browser. Webview user agents cannot complete it in place.
	InAppBrowser bool `json:"inAppBrowser"`
}
