// Package telemetry exposes the gateway's Prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts admitted requests by route class and status.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcpgw",
		Name:      "requests_total",
		Help:      "HTTP requests by route class and status code.",
	}, []string{"class", "status"})

	// RateLimitRejections counts 429 responses by route class.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcpgw",
		Name:      "rate_limit_rejections_total",
		Help:      "Requests rejected by the tenant rate limiter.",
	}, []string{"class"})

	// MCPConnects counts MCP session connect attempts by transport and outcome.
	MCPConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcpgw",
		Name:      "mcp_connects_total",
		Help:      "MCP session connect attempts by transport and outcome.",
	}, []string{"transport", "outcome"})

	// MCPDisconnects counts closed MCP sessions.
	MCPDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mcpgw",
		Name:      "mcp_disconnects_total",
		Help:      "MCP sessions closed.",
	})

	// ChatSteps tracks how many model turns each chat request used.
	ChatSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mcpgw",
		Name:      "chat_steps",
		Help:      "Model turns per chat request.",
		Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16},
	})

	// RequestDuration tracks request latency by route class.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mcpgw",
		Name:      "request_duration_seconds",
		Help:      "Request latency by route class.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"class"})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
