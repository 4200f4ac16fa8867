package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inspectd/mcp-gateway/pkg/auth"
	"github.com/inspectd/mcp-gateway/pkg/config"
)

func testConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:   true,
		Window:    time.Minute,
		Connect:   2,
		Reconnect: 3,
		Execute:   5,
		Other:     10,
	}
}

func TestAllowCountsPerClassAndTenant(t *testing.T) {
	t.Parallel()

	l := NewLimiter(testConfig())

	// Two connects for tenant A, then a third is rejected.
	require.True(t, l.Allow("ten-a", ClassConnect).Allowed)
	require.True(t, l.Allow("ten-a", ClassConnect).Allowed)
	denied := l.Allow("ten-a", ClassConnect)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 2, denied.Limit)
	assert.Equal(t, 0, denied.Remaining)
	assert.Greater(t, denied.RetryAfter, time.Duration(0))

	// Other classes for the same tenant are unaffected.
	assert.True(t, l.Allow("ten-a", ClassExecute).Allowed)

	// Other tenants are unaffected.
	assert.True(t, l.Allow("ten-b", ClassConnect).Allowed)
}

func TestAllowWindowExpiry(t *testing.T) {
	t.Parallel()

	l := NewLimiter(testConfig())
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("ten-a", ClassConnect).Allowed)
	require.True(t, l.Allow("ten-a", ClassConnect).Allowed)
	require.False(t, l.Allow("ten-a", ClassConnect).Allowed)

	// Advance past the window and the bucket restarts.
	now = now.Add(61 * time.Second)
	d := l.Allow("ten-a", ClassConnect)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, now.Add(time.Minute), d.ResetAt)
}

func TestAllowDisabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Enabled = false
	l := NewLimiter(cfg)

	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("ten-a", ClassConnect).Allowed)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	l := NewLimiter(testConfig())
	require.True(t, l.Allow("ten-a", ClassConnect).Allowed)
	require.True(t, l.Allow("ten-a", ClassConnect).Allowed)
	require.False(t, l.Allow("ten-a", ClassConnect).Allowed)

	l.Reset()
	assert.True(t, l.Allow("ten-a", ClassConnect).Allowed)
}

func TestClassForPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want Class
	}{
		{"/web/servers/validate", ClassConnect},
		{"/web/servers/check-oauth", ClassConnect},
		{"/web/oauth/proxy", ClassReconnect},
		{"/web/share/resolve", ClassReconnect},
		{"/web/tools/execute", ClassExecute},
		{"/web/chat-v2", ClassExecute},
		{"/web/tools/list", ClassOther},
		{"/web/resources/read", ClassOther},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ClassForPath(tt.path))
		})
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	l := NewLimiter(testConfig())
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(l)(next)

	withIdentity := func(r *http.Request, tenant string) *http.Request {
		ctx := auth.WithIdentity(r.Context(), &auth.Identity{Subject: tenant, TenantID: tenant})
		return r.WithContext(ctx)
	}

	t.Run("headers on success", func(t *testing.T) {
		r := withIdentity(httptest.NewRequest(http.MethodPost, "/web/servers/validate", nil), "ten-h")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("429 envelope with retry-after", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			r := withIdentity(httptest.NewRequest(http.MethodPost, "/web/servers/validate", nil), "ten-m")
			handler.ServeHTTP(httptest.NewRecorder(), r)
		}

		r := withIdentity(httptest.NewRequest(http.MethodPost, "/web/servers/validate", nil), "ten-m")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
	})
}
