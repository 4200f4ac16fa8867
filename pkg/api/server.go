// Package api assembles the gateway's HTTP server: admission middleware,
// the /web route family, and the health and metrics endpoints.
package api

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/inspectd/mcp-gateway/pkg/auth"
	"github.com/inspectd/mcp-gateway/pkg/config"
	"github.com/inspectd/mcp-gateway/pkg/logger"
	"github.com/inspectd/mcp-gateway/pkg/ratelimit"
	"github.com/inspectd/mcp-gateway/pkg/telemetry"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// NewRouter builds the full handler tree. Health and metrics stay outside
// admission; everything under /web passes CORS, the body limit, bearer
// auth, and the tenant rate limiter, in that order.
func NewRouter(cfg *config.Config, webRoutes http.Handler, limiter *ratelimit.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)

	r.Get("/health", healthcheck)
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/web", func(r chi.Router) {
		r.Use(corsMiddleware(cfg.AllowedOrigins))
		r.Use(bodyLimit(cfg.MaxBodyBytes))
		r.Use(auth.Middleware)
		if cfg.RateLimit.Enabled {
			r.Use(ratelimit.Middleware(limiter))
		}
		r.Use(metricsMiddleware)
		r.Mount("/", webRoutes)
	})

	return r
}

func healthcheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// corsMiddleware admits only explicitly allowlisted browser origins. There
// is no wildcard fallback; an empty allowlist means same-origin only.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return slices.Contains(allowedOrigins, origin)
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// bodyLimit caps JSON request bodies. Handlers decoding an oversized body
// observe http.MaxBytesError, which the error mapper renders as a 413
// validation failure.
func bodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		class := string(ratelimit.ClassForPath(r.URL.Path))
		telemetry.RequestsTotal.WithLabelValues(class, strconv.Itoa(rec.status)).Inc()
		telemetry.RequestDuration.WithLabelValues(class).Observe(time.Since(start).Seconds())
	})
}

// Serve runs the server until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, address string, handler http.Handler) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("starting HTTP server on %s", address)
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("HTTP server stopped")
	return nil
}
