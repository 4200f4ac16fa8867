package web

import (
	"context"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/inspectd/mcp-gateway/pkg/mcpclient"
)

// listPrompts
//
//	@Summary		List a server's prompts
//	@Tags			prompts
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	listPromptsResponse
//	@Router			/web/prompts/list [post]
func (s *Routes) listPrompts(w http.ResponseWriter, r *http.Request) error {
	var req cursorRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	return s.withServer(r, &req.serverRequest, func(ctx context.Context, mgr sessionManager) error {
		result, err := mgr.ListPrompts(ctx, req.ServerID, req.Cursor)
		if err != nil {
			return err
		}
		return writeJSON(w, listPromptsResponse{
			Prompts:    result.Prompts,
			NextCursor: string(result.NextCursor),
		})
	})
}

// getPrompt
//
//	@Summary		Get one prompt with arguments applied
//	@Tags			prompts
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	getPromptResponse
//	@Router			/web/prompts/get [post]
func (s *Routes) getPrompt(w http.ResponseWriter, r *http.Request) error {
	var req getPromptRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	return s.withServer(r, &req.serverRequest, func(ctx context.Context, mgr sessionManager) error {
		result, err := mgr.GetPrompt(ctx, req.ServerID, req.PromptName, req.Arguments)
		if err != nil {
			return err
		}
		return writeJSON(w, getPromptResponse{Content: result})
	})
}

// listPromptsMulti
//
//	@Summary		List prompts across several servers
//	@Description	Fans out list-prompts concurrently; per-server failures land in the errors map
//	@Tags			prompts
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	listPromptsMultiResponse
//	@Router			/web/prompts/list-multi [post]
func (s *Routes) listPromptsMulti(w http.ResponseWriter, r *http.Request) error {
	var req listPromptsMultiRequest
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
	ctx := r.Context()

	// Authorize every server first; denials become per-server errors, not
	// an aborted aggregate.
	var mu sync.Mutex
	configs := make([]mcpclient.Config, 0, len(req.ServerIDs))
	failures := make(map[string]string)
	authorized := make([]string, 0, len(req.ServerIDs))

	var wg sync.WaitGroup
	for _, serverID := range req.ServerIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfg, err := s.authorizeServer(ctx, identity.Token, req.WorkspaceID, serverID, req.OAuthTokens[serverID])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[serverID] = err.Error()
				return
			}
			configs = append(configs, cfg)
			authorized = append(authorized, serverID)
		}()
	}
	wg.Wait()

	// Every requested server gets a prompts key, so failing servers show
	// up as an empty list alongside their errors entry.
	prompts := make(map[string][]mcp.Prompt, len(req.ServerIDs))
	for _, serverID := range req.ServerIDs {
		prompts[serverID] = []mcp.Prompt{}
	}
	if len(configs) > 0 {
		mgr := s.newManager(configs)
		defer func() {
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
			defer cancel()
			mgr.DisconnectAllServers(dctx)
		}()

		g, gctx := errgroup.WithContext(ctx)
		for _, serverID := range authorized {
			g.Go(func() error {
				result, err := mgr.ListPrompts(gctx, serverID, "")
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures[serverID] = err.Error()
					return nil
				}
				if result.Prompts != nil {
					prompts[serverID] = result.Prompts
				}
				return nil
			})
		}
		// Goroutines never return errors; Wait just joins them.
		_ = g.Wait()
	}

	resp := listPromptsMultiResponse{Prompts: prompts}
	if len(failures) > 0 {
		resp.Errors = failures
	}
	return writeJSON(w, resp)
}
