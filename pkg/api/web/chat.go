package web

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/inspectd/mcp-gateway/pkg/chat"
	"github.com/inspectd/mcp-gateway/pkg/logger"
	"github.com/inspectd/mcp-gateway/pkg/mcpclient"
)

// chat
//
//	@Summary		Run a streaming chat turn
//	@Description	Authorizes the selected servers, connects eagerly, runs the agentic loop, and streams UI-message events
//	@Tags			chat
//	@Accept			json
//	@Produce		text/event-stream
//	@Router			/web/chat-v2 [post]
func (s *Routes) chat(w http.ResponseWriter, r *http.Request) error {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	identity, err := identityFrom(r)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.streamTimeout)
	defer cancel()

	// Authorize every selected server before any MCP connection begins.
	// One denial aborts the whole request.
	configs := make([]mcpclient.Config, len(req.SelectedServerIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, serverID := range req.SelectedServerIDs {
		g.Go(func() error {
			cfg, err := s.authorizeServer(gctx, identity.Token, req.WorkspaceID, serverID, req.OAuthTokens[serverID])
			if err != nil {
				return err
			}
			configs[i] = cfg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Sessions belong to this request. The completion hook is the only
	// teardown path; a route-level defer would close them mid-stream on
	// handlers that return before the body completes.
	mgr := s.newManager(configs)
	hook := chat.NewCompletionHook(func() {
		dctx, dcancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
		defer dcancel()
		mgr.DisconnectAllServers(dctx)
	})
	defer hook.Fire()

	toolset, err := chat.BuildToolSet(ctx, mgr, req.SelectedServerIDs, req.RequireToolApproval)
	if err != nil {
		return err
	}

	out, err := chat.NewStreamWriter(w)
	if err != nil {
		return err
	}

	executor := chat.NewExecutor(s.provider, s.maxChatSteps)
	runErr := executor.Run(ctx, mgr, toolset, chat.Request{
		Model:       req.Model,
		System:      req.SystemPrompt,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxOutputTokens,
	}, out, hook)
	if runErr != nil {
		// The stream already carried the error event; the response status
		// went out with the first byte.
		logger.Warnw("chat stream ended with error",
			"workspaceId", req.WorkspaceID,
			"error", runErr.Error())
	}
	return nil
}
