package mcpclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/inspectd/mcp-gateway/pkg/errors"
	"github.com/inspectd/mcp-gateway/pkg/logger"
)

// serverSession is the slice of Session the manager drives. It exists so
// manager tests can substitute fakes for real MCP connections.
type serverSession interface {
	ServerID() string
	Connect(ctx context.Context) error
	Close()
	SessionID() string
	OnNotificationMethod(method string, fn NotificationHandler) func()
	SetElicitationHandler(fn ElicitationHandler)
	CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error)
	ListTools(ctx context.Context, cursor string) (*mcp.ListToolsResult, error)
	ListResources(ctx context.Context, cursor string) (*mcp.ListResourcesResult, error)
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)
	ListResourceTemplates(ctx context.Context, cursor string) (*mcp.ListResourceTemplatesResult, error)
	Subscribe(ctx context.Context, uri string) error
	Unsubscribe(ctx context.Context, uri string) error
	ListPrompts(ctx context.Context, cursor string) (*mcp.ListPromptsResult, error)
	GetPrompt(ctx context.Context, name string, arguments map[string]string) (*mcp.GetPromptResult, error)
	Ping(ctx context.Context) error
}

var _ serverSession = (*Session)(nil)

// connectAttempt is the single-flight future for one server's connect.
// Every awaiter blocks on done and then reads err.
type connectAttempt struct {
	session serverSession
	done    chan struct{}
	err     error
}

type entry struct {
	cfg     Config
	attempt *connectAttempt
}

// Manager owns the name→session map for one request. Construct it at the
// top of a route handler with the descriptors to use and call
// DisconnectAllServers when the handler completes; managers are never
// shared across requests.
type Manager struct {
	mu          sync.Mutex
	entries     map[string]*entry
	closed      bool
	callTimeout time.Duration

	newSession func(cfg Config, onClose func(serverSession)) serverSession
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCallTimeout sets the default deadline injected into operations whose
// context has none.
func WithCallTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.callTimeout = d }
}

// withSessionFactory replaces the session constructor. Test hook.
func withSessionFactory(fn func(cfg Config, onClose func(serverSession)) serverSession) ManagerOption {
	return func(m *Manager) { m.newSession = fn }
}

// NewManager creates a request-scoped manager for the given server configs
// and eagerly starts connecting to every server in parallel. It does not
// block; the first operation per server awaits that connect.
func NewManager(configs []Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		entries:     make(map[string]*entry, len(configs)),
		callTimeout: 30 * time.Second,
		newSession: func(cfg Config, onClose func(serverSession)) serverSession {
			var s *Session
			s = NewSession(cfg, func(*Session) { onClose(s) })
			return s
		},
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, cfg := range configs {
		m.entries[cfg.ServerID] = &entry{cfg: cfg}
	}
	for id := range m.entries {
		go func(id string) {
			if _, err := m.EnsureConnected(context.Background(), id); err != nil {
				logger.Debugw("eager connect failed", "serverId", id, "error", err.Error())
			}
		}(id)
	}
	return m
}

// AddServer binds or rebinds a server config. Rebinding a server with an
// in-flight or live session only updates the stored config; the next
// connect uses it.
func (m *Manager) AddServer(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[cfg.ServerID]; ok {
		e.cfg = cfg
		return
	}
	m.entries[cfg.ServerID] = &entry{cfg: cfg}
}

// ServerIDs returns the servers this manager is bound to.
func (m *Manager) ServerIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	return ids
}

// EnsureConnected returns the live session for serverID, connecting if
// needed. Concurrent callers for the same server share one connect attempt
// and all observe its result.
func (m *Manager) EnsureConnected(ctx context.Context, serverID string) (serverSession, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.NewNotFoundError("session manager is already torn down", nil)
	}
	e, ok := m.entries[serverID]
	if !ok {
		m.mu.Unlock()
		return nil, errors.NewNotFoundError(fmt.Sprintf("server %s is not part of this request", serverID), nil)
	}

	attempt := e.attempt
	if attempt == nil {
		attempt = &connectAttempt{done: make(chan struct{})}
		attempt.session = m.newSession(e.cfg, func(closed serverSession) {
			m.dropSession(serverID, closed)
		})
		e.attempt = attempt
		go m.runConnect(serverID, attempt)
	}
	m.mu.Unlock()

	select {
	case <-attempt.done:
	case <-ctx.Done():
		return nil, errors.NewTimeoutError(
			fmt.Sprintf("waiting for connection to server %s", serverID), ctx.Err())
	}
	if attempt.err != nil {
		return nil, attempt.err
	}
	return attempt.session, nil
}

func (m *Manager) runConnect(serverID string, attempt *connectAttempt) {
	attempt.err = attempt.session.Connect(context.Background())

	m.mu.Lock()
	tornDown := m.closed
	if attempt.err != nil {
		// Clear the slot so a later call can retry with the current config.
		if e, ok := m.entries[serverID]; ok && e.attempt == attempt {
			e.attempt = nil
		}
	}
	m.mu.Unlock()
	close(attempt.done)

	// Teardown may have raced a slow connect; don't leak the session.
	if attempt.err == nil && tornDown {
		attempt.session.Close()
	}
}

// dropSession removes a closed session, but only if it is still the one the
// entry points at; a replacement connected in the meantime stays.
func (m *Manager) dropSession(serverID string, closed serverSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[serverID]
	if !ok || e.attempt == nil || e.attempt.session != closed {
		return
	}
	e.attempt = nil
}

// DisconnectAllServers closes every session opened during the request,
// waiting out in-flight connects so their sessions are closed too. Safe to
// call multiple times; later calls are no-ops.
func (m *Manager) DisconnectAllServers(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	attempts := make([]*connectAttempt, 0, len(m.entries))
	for _, e := range m.entries {
		if e.attempt != nil {
			attempts = append(attempts, e.attempt)
			e.attempt = nil
		}
	}
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, attempt := range attempts {
		g.Go(func() error {
			select {
			case <-attempt.done:
			case <-ctx.Done():
				// Connect still in flight at deadline; the session closes
				// itself when the attempt resolves against a closed manager.
			}
			if attempt.session != nil {
				attempt.session.Close()
			}
			return nil
		})
	}
	_ = g.Wait()
}

// withDeadline caps the operation at the per-call timeout. A caller
// deadline tighter than the timeout wins; a looser one (the chat stream
// budget) must not let a single hung call eat the whole stream.
func (m *Manager) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= m.callTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.callTimeout)
}

// CallTool invokes a tool on one of the request's servers.
func (m *Manager) CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (*mcp.CallToolResult, error) {
	s, err := m.EnsureConnected(ctx, serverID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.withDeadline(ctx)
	defer cancel()
	return s.CallTool(ctx, toolName, arguments)
}

// ListTools lists one server's tools.
func (m *Manager) ListTools(ctx context.Context, serverID, cursor string) (*mcp.ListToolsResult, error) {
	s, err := m.EnsureConnected(ctx, serverID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.withDeadline(ctx)
	defer cancel()
	return s.ListTools(ctx, cursor)
}

// ListResources lists one server's resources.
func (m *Manager) ListResources(ctx context.Context, serverID, cursor string) (*mcp.ListResourcesResult, error) {
	s, err := m.EnsureConnected(ctx, serverID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.withDeadline(ctx)
	defer cancel()
	return s.ListResources(ctx, cursor)
}

// ReadResource reads one resource by URI.
func (m *Manager) ReadResource(ctx context.Context, serverID, uri string) (*mcp.ReadResourceResult, error) {
	s, err := m.EnsureConnected(ctx, serverID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.withDeadline(ctx)
	defer cancel()
	return s.ReadResource(ctx, uri)
}

// ListResourceTemplates lists one server's resource templates.
func (m *Manager) ListResourceTemplates(ctx context.Context, serverID, cursor string) (*mcp.ListResourceTemplatesResult, error) {
	s, err := m.EnsureConnected(ctx, serverID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.withDeadline(ctx)
	defer cancel()
	return s.ListResourceTemplates(ctx, cursor)
}

// Subscribe subscribes to resource change notifications.
func (m *Manager) Subscribe(ctx context.Context, serverID, uri string) error {
	s, err := m.EnsureConnected(ctx, serverID)
	if err != nil {
		return err
	}
	ctx, cancel := m.withDeadline(ctx)
	defer cancel()
	return s.Subscribe(ctx, uri)
}

// Unsubscribe removes a resource subscription.
func (m *Manager) Unsubscribe(ctx context.Context, serverID, uri string) error {
	s, err := m.EnsureConnected(ctx, serverID)
	if err != nil {
		return err
	}
	ctx, cancel := m.withDeadline(ctx)
	defer cancel()
	return s.Unsubscribe(ctx, uri)
}

// ListPrompts lists one server's prompts.
func (m *Manager) ListPrompts(ctx context.Context, serverID, cursor string) (*mcp.ListPromptsResult, error) {
	s, err := m.EnsureConnected(ctx, serverID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.withDeadline(ctx)
	defer cancel()
	return s.ListPrompts(ctx, cursor)
}

// GetPrompt fetches one prompt with arguments applied.
func (m *Manager) GetPrompt(ctx context.Context, serverID, name string, arguments map[string]string) (*mcp.GetPromptResult, error) {
	s, err := m.EnsureConnected(ctx, serverID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.withDeadline(ctx)
	defer cancel()
	return s.GetPrompt(ctx, name, arguments)
}

// Ping verifies a server is reachable, connecting first if needed.
func (m *Manager) Ping(ctx context.Context, serverID string) error {
	s, err := m.EnsureConnected(ctx, serverID)
	if err != nil {
		return err
	}
	ctx, cancel := m.withDeadline(ctx)
	defer cancel()
	return s.Ping(ctx)
}

// OnNotification registers a notification handler on one server's session,
// connecting first if needed. The returned function removes the handler.
func (m *Manager) OnNotification(ctx context.Context, serverID, method string, fn NotificationHandler) (func(), error) {
	s, err := m.EnsureConnected(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return s.OnNotificationMethod(method, fn), nil
}

// SetElicitationHandler installs the elicitation handler on one server's
// session.
func (m *Manager) SetElicitationHandler(ctx context.Context, serverID string, fn ElicitationHandler) error {
	s, err := m.EnsureConnected(ctx, serverID)
	if err != nil {
		return err
	}
	s.SetElicitationHandler(fn)
	return nil
}

// SessionID reports the server-assigned session id for a connected server,
// or the empty string when the transport carries none.
func (m *Manager) SessionID(ctx context.Context, serverID string) (string, error) {
	s, err := m.EnsureConnected(ctx, serverID)
	if err != nil {
		return "", err
	}
	return s.SessionID(), nil
}
