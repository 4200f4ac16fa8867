// Package web implements the hosted gateway's /web route family: server
// validation, tool and resource operations, prompts, the streaming chat
// route, widget content, the OAuth CORS proxy, and share-token resolution.
// Every single-shot handler builds a request-scoped session manager and
// tears it down before returning.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/mcp"

	apierrors "github.com/inspectd/mcp-gateway/pkg/api/errors"
	"github.com/inspectd/mcp-gateway/pkg/auth"
	"github.com/inspectd/mcp-gateway/pkg/authz"
	"github.com/inspectd/mcp-gateway/pkg/config"
	"github.com/inspectd/mcp-gateway/pkg/errors"
	"github.com/inspectd/mcp-gateway/pkg/llm"
	"github.com/inspectd/mcp-gateway/pkg/mcpclient"
	"github.com/inspectd/mcp-gateway/pkg/networking"
)

// disconnectTimeout bounds teardown after the request context is gone.
const disconnectTimeout = 10 * time.Second

// Authorizer is the slice of the policy-service client the handlers use.
type Authorizer interface {
	Authorize(ctx context.Context, bearer, workspaceID, serverID string) (*authz.ServerDescriptor, error)
	ResolveShare(ctx context.Context, bearer, shareToken string) (*authz.SharedSession, error)
}

// sessionManager is the slice of mcpclient.Manager the handlers drive.
// Handler tests substitute fakes through withManagerFactory.
type sessionManager interface {
	Ping(ctx context.Context, serverID string) error
	CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (*mcp.CallToolResult, error)
	ListTools(ctx context.Context, serverID, cursor string) (*mcp.ListToolsResult, error)
	ListResources(ctx context.Context, serverID, cursor string) (*mcp.ListResourcesResult, error)
	ReadResource(ctx context.Context, serverID, uri string) (*mcp.ReadResourceResult, error)
	ListPrompts(ctx context.Context, serverID, cursor string) (*mcp.ListPromptsResult, error)
	GetPrompt(ctx context.Context, serverID, name string, arguments map[string]string) (*mcp.GetPromptResult, error)
	DisconnectAllServers(ctx context.Context)
}

type managerFactory func(configs []mcpclient.Config) sessionManager

// Routes holds the dependencies shared by all /web handlers.
type Routes struct {
	authorizer     Authorizer
	provider       llm.Provider
	connectTimeout time.Duration
	callTimeout    time.Duration
	streamTimeout  time.Duration
	maxChatSteps   int

	newManager managerFactory

	// proxyClient performs the OAuth proxy's outbound requests. It
	// refuses plaintext targets.
	proxyClient *http.Client
}

// RoutesOption configures Routes.
type RoutesOption func(*Routes)

// withManagerFactory replaces the session-manager constructor. Test hook.
func withManagerFactory(fn managerFactory) RoutesOption {
	return func(s *Routes) { s.newManager = fn }
}

// withProxyClient replaces the OAuth proxy's HTTP client. Test hook; tests
// need to reach plaintext httptest servers.
func withProxyClient(c *http.Client) RoutesOption {
	return func(s *Routes) { s.proxyClient = c }
}

// NewRoutes wires the /web route family.
func NewRoutes(cfg *config.Config, authorizer Authorizer, provider llm.Provider, opts ...RoutesOption) *Routes {
	s := &Routes{
		authorizer:     authorizer,
		provider:       provider,
		connectTimeout: cfg.ConnectTimeout,
		callTimeout:    cfg.CallTimeout,
		streamTimeout:  cfg.StreamTimeout,
		maxChatSteps:   cfg.MaxChatSteps,
		proxyClient: networking.NewHttpClientBuilder().
			WithTimeout(cfg.ConnectTimeout).
			Build(),
	}
	s.newManager = func(configs []mcpclient.Config) sessionManager {
		return mcpclient.NewManager(configs, mcpclient.WithCallTimeout(s.callTimeout))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router mounts every /web handler.
func (s *Routes) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/servers/validate", apierrors.ErrorHandler(s.validateServer))
	r.Post("/servers/check-oauth", apierrors.ErrorHandler(s.checkOAuth))

	r.Post("/tools/list", apierrors.ErrorHandler(s.listTools))
	r.Post("/tools/execute", apierrors.ErrorHandler(s.executeTool))

	r.Post("/resources/list", apierrors.ErrorHandler(s.listResources))
	r.Post("/resources/read", apierrors.ErrorHandler(s.readResource))

	r.Post("/prompts/list", apierrors.ErrorHandler(s.listPrompts))
	r.Post("/prompts/list-multi", apierrors.ErrorHandler(s.listPromptsMulti))
	r.Post("/prompts/get", apierrors.ErrorHandler(s.getPrompt))

	r.Post("/chat-v2", apierrors.ErrorHandler(s.chat))

	r.Post("/apps/mcp-apps/widget-content", apierrors.ErrorHandler(s.mcpAppsWidgetContent))
	r.Post("/apps/chatgpt-apps/widget-content", apierrors.ErrorHandler(s.chatgptAppsWidgetContent))
	r.Post("/apps/chatgpt-apps/upload-file", apierrors.ErrorHandler(s.uploadFile))
	r.Get("/apps/chatgpt-apps/file/{id}", apierrors.ErrorHandler(s.getFile))

	r.Post("/oauth/proxy", apierrors.ErrorHandler(s.oauthProxy))
	r.Get("/oauth/metadata", apierrors.ErrorHandler(s.oauthMetadata))

	r.Post("/share/resolve", apierrors.ErrorHandler(s.resolveShare))

	return r
}

// identityFrom returns the authenticated identity the admission middleware
// stored on the context.
func identityFrom(r *http.Request) (*auth.Identity, error) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil, errors.NewUnauthorizedError("missing bearer token", nil)
	}
	return identity, nil
}

// decodeJSON parses a request body, mapping malformed JSON to the
// validation error the admission contract promises. The body-limit
// middleware has already capped the reader.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.NewValidationError("invalid request body: "+err.Error(), err)
	}
	return nil
}

// writeJSON renders a success response.
func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

// authorizeServer checks one server with the policy service and converts
// the descriptor into a session config. A server that requires OAuth
// rejects the request when no token accompanies it; the token is never
// dropped silently.
func (s *Routes) authorizeServer(ctx context.Context, bearer, workspaceID, serverID, oauthToken string) (mcpclient.Config, error) {
	desc, err := s.authorizer.Authorize(ctx, bearer, workspaceID, serverID)
	if err != nil {
		return mcpclient.Config{}, err
	}
	if desc.UseOAuth && oauthToken == "" {
		return mcpclient.Config{}, errors.NewUnauthorizedError(
			"server "+serverID+" requires an OAuth access token", nil)
	}
	return mcpclient.ConfigFromDescriptor(desc, s.connectTimeout, oauthToken), nil
}

// withServer runs fn against a manager scoped to this request and exactly
// one server, disconnecting on every exit path.
func (s *Routes) withServer(r *http.Request, req *serverRequest, fn func(ctx context.Context, mgr sessionManager) error) error {
	identity, err := identityFrom(r)
	if err != nil {
		return err
	}
	ctx := r.Context()

	cfg, err := s.authorizeServer(ctx, identity.Token, req.WorkspaceID, req.ServerID, req.OAuthAccessToken)
	if err != nil {
		return err
	}

	mgr := s.newManager([]mcpclient.Config{cfg})
	defer func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
		defer cancel()
		mgr.DisconnectAllServers(dctx)
	}()

	return fn(ctx, mgr)
}
