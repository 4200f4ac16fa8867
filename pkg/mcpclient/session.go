// Package mcpclient provides the gateway's MCP client sessions and the
// request-scoped session manager built on top of them.
//
// A Session is one live connection to one MCP server over a chosen
// transport. Sessions are created per request and torn down at request end;
// nothing here is pooled across requests.
package mcpclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/inspectd/mcp-gateway/pkg/authz"
	"github.com/inspectd/mcp-gateway/pkg/errors"
	"github.com/inspectd/mcp-gateway/pkg/logger"
	"github.com/inspectd/mcp-gateway/pkg/telemetry"
	"github.com/inspectd/mcp-gateway/pkg/versions"
)

// streamableProbeCap bounds the streamable-HTTP connect probe before the
// SSE fallback. Matches observed interop behavior: servers that only speak
// SSE tend to hang the streamable handshake rather than fail it fast.
const streamableProbeCap = 3 * time.Second

// Config carries everything a Session needs to connect to one server.
type Config struct {
	// ServerID names the server for logs and error messages.
	ServerID string

	// URL is the server endpoint.
	URL string

	// Transport is the descriptor's declared transport. The session still
	// probes: streamable first, SSE fallback.
	Transport authz.Transport

	// Headers are sent on every HTTP request of the connection.
	Headers map[string]string

	// ConnectTimeout bounds the whole connect (probe + fallback).
	ConnectTimeout time.Duration

	// HTTPClient overrides the outbound client. Tests use this to reach
	// plaintext httptest servers.
	HTTPClient *http.Client
}

// ConfigFromDescriptor builds a session config from a policy descriptor.
// When the descriptor wants OAuth and the caller supplied a token, it is
// attached as the Authorization header.
func ConfigFromDescriptor(d *authz.ServerDescriptor, connectTimeout time.Duration, oauthToken string) Config {
	headers := make(map[string]string, len(d.Headers)+1)
	for k, v := range d.Headers {
		headers[k] = v
	}
	if d.UseOAuth && oauthToken != "" {
		headers["Authorization"] = "Bearer " + oauthToken
	}
	return Config{
		ServerID:       d.ServerID,
		URL:            d.URL,
		Transport:      d.Transport,
		Headers:        headers,
		ConnectTimeout: connectTimeout,
	}
}

// Session states
const (
	stateFresh int32 = iota
	stateConnecting
	stateLive
	stateClosed
)

// NotificationHandler receives one server notification.
type NotificationHandler func(mcp.JSONRPCNotification)

// ElicitationHandler answers a server-initiated elicitation request. At most
// one handler is active per session; without one the session declines.
type ElicitationHandler func(ctx context.Context, req mcp.ElicitationRequest) (*mcp.ElicitationResult, error)

type handlerEntry struct {
	fn NotificationHandler
}

// Session is one live MCP connection. Create with NewSession, call Connect,
// use the operation methods, then Close. Close is idempotent; a session
// never reconnects.
type Session struct {
	cfg Config

	state  atomic.Int32
	client *client.Client

	// chosen transport, immutable once Live.
	transportKind authz.Transport

	notifyMu sync.Mutex
	handlers map[string][]*handlerEntry

	elicitMu sync.Mutex
	elicit   ElicitationHandler

	closeOnce sync.Once
	onClose   func(*Session)
}

// NewSession creates an unconnected session. onClose, if non-nil, runs once
// when the session closes for any reason, including transport loss.
func NewSession(cfg Config, onClose func(*Session)) *Session {
	return &Session{
		cfg:      cfg,
		handlers: make(map[string][]*handlerEntry),
		onClose:  onClose,
	}
}

// ServerID returns the server this session is bound to.
func (s *Session) ServerID() string { return s.cfg.ServerID }

// TransportKind reports the transport chosen at connect time. Empty before
// Connect succeeds.
func (s *Session) TransportKind() authz.Transport { return s.transportKind }

// SessionID returns the server-assigned session id. Only the streamable
// transport carries one; SSE sessions return the empty string.
func (s *Session) SessionID() string {
	if s.state.Load() != stateLive || s.transportKind != authz.TransportStreamable {
		return ""
	}
	return s.client.GetSessionId()
}

// preferSSE reports whether the endpoint self-identifies as SSE, in which
// case the probe order is flipped.
func preferSSE(rawURL string) bool {
	trimmed := strings.TrimRight(rawURL, "/")
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return strings.HasSuffix(trimmed, "/sse")
}

// Connect performs the transport handshake and MCP initialize. Streamable
// HTTP is attempted first with a probe deadline of min(ConnectTimeout, 3s);
// on failure SSE gets the full timeout. Endpoints whose path ends in /sse
// probe SSE first. When both transports fail the error carries both reasons.
func (s *Session) Connect(ctx context.Context) error {
	if !s.state.CompareAndSwap(stateFresh, stateConnecting) {
		return errors.NewInternalError(fmt.Sprintf("session for %s already used", s.cfg.ServerID), nil)
	}

	order := []authz.Transport{authz.TransportStreamable, authz.TransportSSE}
	if preferSSE(s.cfg.URL) || s.cfg.Transport == authz.TransportSSE {
		order = []authz.Transport{authz.TransportSSE, authz.TransportStreamable}
	}

	var attemptErrs []string
	for i, kind := range order {
		timeout := s.cfg.ConnectTimeout
		// Only the leading streamable probe is capped; every other
		// attempt gets the full budget.
		if kind == authz.TransportStreamable && i == 0 && timeout > streamableProbeCap {
			timeout = streamableProbeCap
		}

		c, err := s.connectWith(ctx, kind, timeout)
		if err == nil {
			s.client = c
			s.transportKind = kind
			if !s.state.CompareAndSwap(stateConnecting, stateLive) {
				// Closed while connecting.
				_ = c.Close()
				return errors.NewInternalError(fmt.Sprintf("session for %s closed during connect", s.cfg.ServerID), nil)
			}
			telemetry.MCPConnects.WithLabelValues(string(kind), "success").Inc()
			logger.Debugw("mcp session connected",
				"serverId", s.cfg.ServerID,
				"transport", string(kind),
				"sessionId", s.SessionID())
			return nil
		}
		telemetry.MCPConnects.WithLabelValues(string(kind), "error").Inc()
		attemptErrs = append(attemptErrs, fmt.Sprintf("%s: %v", kind, err))
		if ctx.Err() != nil {
			break
		}
	}

	s.state.Store(stateClosed)
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose(s)
		}
	})
	if ctx.Err() != nil {
		return errors.NewTimeoutError(
			fmt.Sprintf("connecting to server %s timed out (%s)", s.cfg.ServerID, strings.Join(attemptErrs, "; ")), ctx.Err())
	}
	return errors.NewServerUnreachableError(
		fmt.Sprintf("could not connect to server %s (%s)", s.cfg.ServerID, strings.Join(attemptErrs, "; ")), nil)
}

// connectWith builds a client for one transport and runs start + initialize
// under the given timeout.
func (s *Session) connectWith(ctx context.Context, kind authz.Transport, timeout time.Duration) (*client.Client, error) {
	c, err := s.newClient(kind)
	if err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Start with the session-lifetime context, not the attempt context:
	// the transport's read loop must outlive the handshake deadline.
	if err := c.Start(context.WithoutCancel(ctx)); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("start transport: %w", err)
	}

	var initReq mcp.InitializeRequest
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "mcp-gateway",
		Version: versions.Version,
	}
	if _, err := c.Initialize(attemptCtx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}

	c.OnNotification(s.dispatchNotification)
	c.OnConnectionLost(func(err error) {
		logger.Infow("mcp connection lost", "serverId", s.cfg.ServerID, "error", err)
		s.Close()
	})
	return c, nil
}

func (s *Session) newClient(kind authz.Transport) (*client.Client, error) {
	switch kind {
	case authz.TransportStreamable:
		var opts []transport.StreamableHTTPCOption
		if len(s.cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(s.cfg.Headers))
		}
		if s.cfg.HTTPClient != nil {
			opts = append(opts, transport.WithHTTPBasicClient(s.cfg.HTTPClient))
		}
		t, err := transport.NewStreamableHTTP(s.cfg.URL, opts...)
		if err != nil {
			return nil, err
		}
		return client.NewClient(t, client.WithElicitationHandler(&elicitationProxy{session: s})), nil

	case authz.TransportSSE:
		var opts []transport.ClientOption
		if len(s.cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(s.cfg.Headers))
		}
		if s.cfg.HTTPClient != nil {
			opts = append(opts, transport.WithHTTPClient(s.cfg.HTTPClient))
		}
		t, err := transport.NewSSE(s.cfg.URL, opts...)
		if err != nil {
			return nil, err
		}
		return client.NewClient(t, client.WithElicitationHandler(&elicitationProxy{session: s})), nil

	default:
		return nil, fmt.Errorf("unsupported transport %q", kind)
	}
}

// live guards every operation: only a Live session accepts calls.
func (s *Session) live() error {
	switch s.state.Load() {
	case stateLive:
		return nil
	case stateClosed:
		return errors.NewServerUnreachableError(
			fmt.Sprintf("session for server %s is closed", s.cfg.ServerID), nil)
	default:
		return errors.NewInternalError(
			fmt.Sprintf("session for server %s is not connected", s.cfg.ServerID), nil)
	}
}

// Close tears the session down. Safe to call concurrently and repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		prev := s.state.Swap(stateClosed)
		if prev == stateLive && s.client != nil {
			if err := s.client.Close(); err != nil {
				logger.Debugw("mcp session close", "serverId", s.cfg.ServerID, "error", err)
			}
			telemetry.MCPDisconnects.Inc()
		}
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

// OnNotificationMethod registers a handler for one notification method.
// Handlers for the same method run in registration order. The returned
// function removes the handler; it is safe to call more than once.
func (s *Session) OnNotificationMethod(method string, fn NotificationHandler) func() {
	entry := &handlerEntry{fn: fn}
	s.notifyMu.Lock()
	s.handlers[method] = append(s.handlers[method], entry)
	s.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.notifyMu.Lock()
			defer s.notifyMu.Unlock()
			list := s.handlers[method]
			for i, e := range list {
				if e == entry {
					s.handlers[method] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// dispatchNotification fans a notification out to the handlers registered
// for its method. The handler list is snapshotted so handlers may register
// or remove handlers from within a callback, and a panicking handler does
// not starve the rest.
func (s *Session) dispatchNotification(n mcp.JSONRPCNotification) {
	s.notifyMu.Lock()
	list := s.handlers[n.Method]
	snapshot := make([]*handlerEntry, len(list))
	copy(snapshot, list)
	s.notifyMu.Unlock()

	for _, e := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorw("notification handler panicked",
						"serverId", s.cfg.ServerID,
						"method", n.Method,
						"panic", fmt.Sprintf("%v", r))
				}
			}()
			e.fn(n)
		}()
	}
}

// SetElicitationHandler installs the session's single elicitation handler,
// replacing any previous one.
func (s *Session) SetElicitationHandler(fn ElicitationHandler) {
	s.elicitMu.Lock()
	s.elicit = fn
	s.elicitMu.Unlock()
}

// elicitationProxy adapts the session's swappable handler to the SDK's
// fixed registration-at-construction model.
type elicitationProxy struct {
	session *Session
}

func (p *elicitationProxy) Elicit(ctx context.Context, req mcp.ElicitationRequest) (*mcp.ElicitationResult, error) {
	p.session.elicitMu.Lock()
	fn := p.session.elicit
	p.session.elicitMu.Unlock()

	if fn == nil {
		// No one to ask; decline rather than hang the server.
		result := &mcp.ElicitationResult{}
		result.Action = mcp.ElicitationResponseActionDecline
		return result, nil
	}
	return fn(ctx, req)
}

// CallTool invokes a tool on the server.
func (s *Session) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = arguments
	return s.client.CallTool(ctx, req)
}

// ListTools lists the server's tools, one page at a time.
func (s *Session) ListTools(ctx context.Context, cursor string) (*mcp.ListToolsResult, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	var req mcp.ListToolsRequest
	req.Params.Cursor = mcp.Cursor(cursor)
	return s.client.ListTools(ctx, req)
}

// ListResources lists the server's resources, one page at a time.
func (s *Session) ListResources(ctx context.Context, cursor string) (*mcp.ListResourcesResult, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	var req mcp.ListResourcesRequest
	req.Params.Cursor = mcp.Cursor(cursor)
	return s.client.ListResources(ctx, req)
}

// ReadResource reads one resource by URI.
func (s *Session) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	var req mcp.ReadResourceRequest
	req.Params.URI = uri
	return s.client.ReadResource(ctx, req)
}

// ListResourceTemplates lists the server's resource templates.
func (s *Session) ListResourceTemplates(ctx context.Context, cursor string) (*mcp.ListResourceTemplatesResult, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	var req mcp.ListResourceTemplatesRequest
	req.Params.Cursor = mcp.Cursor(cursor)
	return s.client.ListResourceTemplates(ctx, req)
}

// Subscribe subscribes to change notifications for a resource URI.
func (s *Session) Subscribe(ctx context.Context, uri string) error {
	if err := s.live(); err != nil {
		return err
	}
	var req mcp.SubscribeRequest
	req.Params.URI = uri
	return s.client.Subscribe(ctx, req)
}

// Unsubscribe removes a resource subscription.
func (s *Session) Unsubscribe(ctx context.Context, uri string) error {
	if err := s.live(); err != nil {
		return err
	}
	var req mcp.UnsubscribeRequest
	req.Params.URI = uri
	return s.client.Unsubscribe(ctx, req)
}

// ListPrompts lists the server's prompts, one page at a time.
func (s *Session) ListPrompts(ctx context.Context, cursor string) (*mcp.ListPromptsResult, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	var req mcp.ListPromptsRequest
	req.Params.Cursor = mcp.Cursor(cursor)
	return s.client.ListPrompts(ctx, req)
}

// GetPrompt fetches one prompt with its arguments applied.
func (s *Session) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*mcp.GetPromptResult, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	var req mcp.GetPromptRequest
	req.Params.Name = name
	req.Params.Arguments = arguments
	return s.client.GetPrompt(ctx, req)
}

// Ping checks connection liveness.
func (s *Session) Ping(ctx context.Context) error {
	if err := s.live(); err != nil {
		return err
	}
	return s.client.Ping(ctx)
}
