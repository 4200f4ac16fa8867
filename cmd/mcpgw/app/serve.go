package app

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inspectd/mcp-gateway/pkg/api"
	"github.com/inspectd/mcp-gateway/pkg/api/web"
	"github.com/inspectd/mcp-gateway/pkg/authz"
	"github.com/inspectd/mcp-gateway/pkg/config"
	"github.com/inspectd/mcp-gateway/pkg/llm"
	"github.com/inspectd/mcp-gateway/pkg/logger"
	"github.com/inspectd/mcp-gateway/pkg/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway HTTP server",
	Long:  "Serve the /web route family until interrupted. Configuration comes from the environment.",
	RunE:  serveCmdFunc,
}

func serveCmdFunc(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	authorizer := authz.NewClient(cfg.ConvexHTTPURL)
	provider := llm.NewBackendProvider(cfg.LLMBackendURL)
	limiter := ratelimit.NewLimiter(cfg.RateLimit)

	routes := web.NewRoutes(cfg, authorizer, provider)
	router := api.NewRouter(cfg, routes.Router(), limiter)

	logger.Infow("gateway configured",
		"address", cfg.Address,
		"rateLimitEnabled", cfg.RateLimit.Enabled)

	return api.Serve(ctx, cfg.Address, router)
}
