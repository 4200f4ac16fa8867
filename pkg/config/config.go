// Package config loads the gateway's runtime configuration from the
// environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every runtime setting the gateway reads at startup.
type Config struct {
	// Address the HTTP server binds to.
	Address string

	// ConvexHTTPURL is the base URL of the policy service.
	ConvexHTTPURL string

	// LLMBackendURL is the base URL of the completion backend used by chat.
	LLMBackendURL string

	// AllowedOrigins is the CORS allowlist. Empty means same-origin only.
	AllowedOrigins []string

	// ConnectTimeout bounds a single MCP server connect attempt.
	ConnectTimeout time.Duration

	// CallTimeout is the default deadline for single-shot MCP operations.
	CallTimeout time.Duration

	// StreamTimeout bounds a whole chat streaming request.
	StreamTimeout time.Duration

	// MaxBodyBytes caps request bodies before JSON decoding.
	MaxBodyBytes int64

	// MaxChatSteps bounds the agentic loop per chat request.
	MaxChatSteps int

	// RateLimit carries the per-route-class admission limits.
	RateLimit RateLimitConfig
}

// RateLimitConfig holds the windowed per-tenant limits by route class.
type RateLimitConfig struct {
	Enabled   bool
	Window    time.Duration
	Connect   int
	Reconnect int
	Execute   int
	Other     int
}

const (
	defaultConnectTimeoutMS = 10000
	defaultCallTimeoutMS    = 30000
	defaultStreamTimeoutMS  = 120000
	defaultMaxBodyBytes     = 1 << 20
	defaultMaxChatSteps     = 16
)

// Load reads the configuration from the environment. It fails when a
// required value is missing rather than limping along with a broken setup.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("MCPGW_ADDRESS", "127.0.0.1:8090")
	v.SetDefault("WEB_CONNECT_TIMEOUT_MS", defaultConnectTimeoutMS)
	v.SetDefault("WEB_CALL_TIMEOUT_MS", defaultCallTimeoutMS)
	v.SetDefault("WEB_STREAM_TIMEOUT_MS", defaultStreamTimeoutMS)
	v.SetDefault("WEB_RATE_LIMIT_ENABLED", true)
	v.SetDefault("WEB_RATE_LIMIT_WINDOW_S", 60)
	v.SetDefault("WEB_RATE_LIMIT_CONNECT", 30)
	v.SetDefault("WEB_RATE_LIMIT_RECONNECT", 30)
	v.SetDefault("WEB_RATE_LIMIT_EXECUTE", 180)
	v.SetDefault("WEB_RATE_LIMIT_OTHER", 600)
	v.SetDefault("WEB_MAX_BODY_BYTES", defaultMaxBodyBytes)
	v.SetDefault("WEB_MAX_CHAT_STEPS", defaultMaxChatSteps)

	cfg := &Config{
		Address:        v.GetString("MCPGW_ADDRESS"),
		ConvexHTTPURL:  strings.TrimRight(v.GetString("CONVEX_HTTP_URL"), "/"),
		LLMBackendURL:  strings.TrimRight(v.GetString("LLM_BACKEND_URL"), "/"),
		AllowedOrigins: splitOrigins(v.GetString("WEB_ALLOWED_ORIGINS")),
		ConnectTimeout: time.Duration(v.GetInt("WEB_CONNECT_TIMEOUT_MS")) * time.Millisecond,
		CallTimeout:    time.Duration(v.GetInt("WEB_CALL_TIMEOUT_MS")) * time.Millisecond,
		StreamTimeout:  time.Duration(v.GetInt("WEB_STREAM_TIMEOUT_MS")) * time.Millisecond,
		MaxBodyBytes:   v.GetInt64("WEB_MAX_BODY_BYTES"),
		MaxChatSteps:   v.GetInt("WEB_MAX_CHAT_STEPS"),
		RateLimit: RateLimitConfig{
			Enabled:   v.GetBool("WEB_RATE_LIMIT_ENABLED"),
			Window:    time.Duration(v.GetInt("WEB_RATE_LIMIT_WINDOW_S")) * time.Second,
			Connect:   v.GetInt("WEB_RATE_LIMIT_CONNECT"),
			Reconnect: v.GetInt("WEB_RATE_LIMIT_RECONNECT"),
			Execute:   v.GetInt("WEB_RATE_LIMIT_EXECUTE"),
			Other:     v.GetInt("WEB_RATE_LIMIT_OTHER"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ConvexHTTPURL == "" {
		return fmt.Errorf("CONVEX_HTTP_URL is required")
	}
	if c.ConnectTimeout <= 0 || c.CallTimeout <= 0 || c.StreamTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("WEB_MAX_BODY_BYTES must be positive")
	}
	if c.MaxChatSteps <= 0 {
		return fmt.Errorf("WEB_MAX_CHAT_STEPS must be positive")
	}
	return nil
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		origins = append(origins, strings.TrimRight(p, "/"))
	}
	return origins
}
