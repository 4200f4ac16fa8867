package ratelimit

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	apierrors "github.com/inspectd/mcp-gateway/pkg/api/errors"
	"github.com/inspectd/mcp-gateway/pkg/auth"
	"github.com/inspectd/mcp-gateway/pkg/logger"
	"github.com/inspectd/mcp-gateway/pkg/telemetry"
)

// ClassForPath maps a request path to its route class. Connection-opening
// routes and the chat/tool execution routes carry tighter limits than plain
// metadata reads.
func ClassForPath(path string) Class {
	switch {
	case strings.HasSuffix(path, "/servers/validate"),
		strings.HasSuffix(path, "/servers/check-oauth"):
		return ClassConnect
	case strings.Contains(path, "/oauth/"),
		strings.HasSuffix(path, "/share/resolve"):
		return ClassReconnect
	case strings.HasSuffix(path, "/tools/execute"),
		strings.HasSuffix(path, "/chat-v2"):
		return ClassExecute
	default:
		return ClassOther
	}
}

// Middleware enforces the per-tenant windowed limits. It must run after the
// auth middleware so the tenant key is available; requests that somehow
// arrive without an identity are counted under a shared anonymous bucket.
func Middleware(limiter *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := "anonymous"
			if identity, ok := auth.IdentityFromContext(r.Context()); ok {
				tenant = identity.TenantID
			}

			class := ClassForPath(r.URL.Path)
			decision := limiter.Allow(tenant, class)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			if !decision.ResetAt.IsZero() {
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
			}

			if !decision.Allowed {
				retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				telemetry.RateLimitRejections.WithLabelValues(string(class)).Inc()
				logger.Infow("rate limit exceeded",
					"tenant", tenant,
					"class", string(class),
					"limit", decision.Limit)
				apierrors.WriteEnvelope(w, http.StatusTooManyRequests, apierrors.Envelope{
					Code:    "RATE_LIMITED",
					Message: fmt.Sprintf("rate limit exceeded for %s requests, retry after %ds", class, retryAfter),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
