package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/inspectd/mcp-gateway/pkg/auth"
	"github.com/inspectd/mcp-gateway/pkg/authz"
	"github.com/inspectd/mcp-gateway/pkg/config"
	"github.com/inspectd/mcp-gateway/pkg/errors"
	"github.com/inspectd/mcp-gateway/pkg/llm"
	"github.com/inspectd/mcp-gateway/pkg/mcpclient"
)

// fakeAuthorizer scripts policy-service answers per server id.
type fakeAuthorizer struct {
	mu          sync.Mutex
	descriptors map[string]*authz.ServerDescriptor
	errs        map[string]error
	shared      *authz.SharedSession
	shareErr    error
	authorized  []string
}

func (f *fakeAuthorizer) Authorize(_ context.Context, _, _, serverID string) (*authz.ServerDescriptor, error) {
	f.mu.Lock()
	f.authorized = append(f.authorized, serverID)
	f.mu.Unlock()
	if err := f.errs[serverID]; err != nil {
		return nil, err
	}
	if desc, ok := f.descriptors[serverID]; ok {
		return desc, nil
	}
	return nil, errors.NewForbiddenError("not authorized for this server", nil)
}

func (f *fakeAuthorizer) ResolveShare(context.Context, string, string) (*authz.SharedSession, error) {
	if f.shareErr != nil {
		return nil, f.shareErr
	}
	return f.shared, nil
}

func descriptorFor(serverID string) *authz.ServerDescriptor {
	return &authz.ServerDescriptor{
		ServerID:  serverID,
		Role:      "member",
		Transport: authz.TransportStreamable,
		URL:       "https://" + serverID + ".example.com/mcp",
	}
}

// stubManager answers session-manager calls from canned data and records
// every call and disconnect.
type stubManager struct {
	mu          sync.Mutex
	calls       []string
	disconnects atomic.Int32

	pingErr     error
	toolResult  *mcp.CallToolResult
	toolErr     error
	tools       *mcp.ListToolsResult
	toolsErr    error
	resources   *mcp.ListResourcesResult
	readResult  *mcp.ReadResourceResult
	readErr     error
	prompts     map[string]*mcp.ListPromptsResult
	promptsErr  map[string]error
	promptValue *mcp.GetPromptResult
}

func (m *stubManager) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *stubManager) recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *stubManager) Ping(_ context.Context, serverID string) error {
	m.record("ping:" + serverID)
	return m.pingErr
}

func (m *stubManager) CallTool(_ context.Context, serverID, toolName string, _ map[string]any) (*mcp.CallToolResult, error) {
	m.record("call:" + serverID + "/" + toolName)
	if m.toolErr != nil {
		return nil, m.toolErr
	}
	if m.toolResult != nil {
		return m.toolResult, nil
	}
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent("ok")}}, nil
}

func (m *stubManager) ListTools(_ context.Context, serverID, cursor string) (*mcp.ListToolsResult, error) {
	m.record("listTools:" + serverID + "@" + cursor)
	if m.toolsErr != nil {
		return nil, m.toolsErr
	}
	if m.tools != nil {
		return m.tools, nil
	}
	return &mcp.ListToolsResult{}, nil
}

func (m *stubManager) ListResources(_ context.Context, serverID, cursor string) (*mcp.ListResourcesResult, error) {
	m.record("listResources:" + serverID + "@" + cursor)
	if m.resources != nil {
		return m.resources, nil
	}
	return &mcp.ListResourcesResult{}, nil
}

func (m *stubManager) ReadResource(_ context.Context, serverID, uri string) (*mcp.ReadResourceResult, error) {
	m.record("read:" + serverID + "/" + uri)
	if m.readErr != nil {
		return nil, m.readErr
	}
	if m.readResult != nil {
		return m.readResult, nil
	}
	return &mcp.ReadResourceResult{}, nil
}

func (m *stubManager) ListPrompts(_ context.Context, serverID, cursor string) (*mcp.ListPromptsResult, error) {
	m.record("listPrompts:" + serverID + "@" + cursor)
	if err := m.promptsErr[serverID]; err != nil {
		return nil, err
	}
	if result, ok := m.prompts[serverID]; ok {
		return result, nil
	}
	return &mcp.ListPromptsResult{}, nil
}

func (m *stubManager) GetPrompt(_ context.Context, serverID, name string, _ map[string]string) (*mcp.GetPromptResult, error) {
	m.record("getPrompt:" + serverID + "/" + name)
	if m.promptValue != nil {
		return m.promptValue, nil
	}
	return &mcp.GetPromptResult{}, nil
}

func (m *stubManager) DisconnectAllServers(context.Context) {
	m.disconnects.Add(1)
}

// testEnv bundles the route fixture and its observable fakes.
type testEnv struct {
	routes     *Routes
	router     http.Handler
	authorizer *fakeAuthorizer
	manager    *stubManager

	// factoryCalls counts manager constructions; stdio rejection tests
	// assert it stays at zero.
	factoryCalls atomic.Int32
	// factoryConfigs holds the configs of the last construction.
	factoryConfigs []mcpclient.Config
}

func testConfig() *config.Config {
	return &config.Config{
		ConvexHTTPURL:  "https://policy.example.com",
		ConnectTimeout: 2 * time.Second,
		CallTimeout:    2 * time.Second,
		StreamTimeout:  5 * time.Second,
		MaxChatSteps:   4,
	}
}

func newTestEnv(t *testing.T, provider llm.Provider, opts ...RoutesOption) *testEnv {
	t.Helper()

	env := &testEnv{
		authorizer: &fakeAuthorizer{
			descriptors: map[string]*authz.ServerDescriptor{},
			errs:        map[string]error{},
		},
		manager: &stubManager{},
	}
	allOpts := append([]RoutesOption{
		withManagerFactory(func(configs []mcpclient.Config) sessionManager {
			env.factoryCalls.Add(1)
			env.factoryConfigs = configs
			return env.manager
		}),
	}, opts...)
	env.routes = NewRoutes(testConfig(), env.authorizer, provider, allOpts...)
	env.router = env.routes.Router()
	return env
}

func testIdentity() *auth.Identity {
	return &auth.Identity{
		Subject:     "user-1",
		TenantID:    "ws1",
		WorkspaceID: "ws1",
		Token:       "bearer-token",
	}
}

// do performs an authenticated request against the route under test.
func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req = req.WithContext(auth.WithIdentity(req.Context(), testIdentity()))

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Code
}
