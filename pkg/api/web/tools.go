package web

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/inspectd/mcp-gateway/pkg/chat"
)

// listTools
//
//	@Summary		List a server's tools
//	@Description	Returns one page of tools, with an optional token-count estimate for a model id
//	@Tags			tools
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	listToolsResponse
//	@Router			/web/tools/list [post]
func (s *Routes) listTools(w http.ResponseWriter, r *http.Request) error {
	var req listToolsRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	return s.withServer(r, &req.serverRequest, func(ctx context.Context, mgr sessionManager) error {
		result, err := mgr.ListTools(ctx, req.ServerID, req.Cursor)
		if err != nil {
			return err
		}

		resp := listToolsResponse{
			Tools:         result.Tools,
			ToolsMetadata: toolsMetadata{ServerID: req.ServerID, Count: len(result.Tools)},
			NextCursor:    string(result.NextCursor),
		}
		if req.ModelID != "" {
			count := estimateToolPageTokens(req.ServerID, result.Tools)
			resp.TokenCount = &count
		}
		return writeJSON(w, resp)
	})
}

// estimateToolPageTokens approximates the prompt cost of advertising one
// page of tools to a model.
func estimateToolPageTokens(serverID string, tools []mcp.Tool) int {
	total := 0
	for _, tool := range tools {
		binding := chat.ToolBinding{
			Qualified:   chat.QualifiedToolName(serverID, tool.Name),
			Description: tool.Description,
		}
		if raw, err := json.Marshal(tool.InputSchema); err == nil {
			var params map[string]any
			if json.Unmarshal(raw, &params) == nil {
				binding.Parameters = params
			}
		}
		total += chat.EstimateToolTokens(binding)
	}
	return total
}

// executeTool
//
//	@Summary		Execute one tool
//	@Description	Connects to the server, runs a single tools/call, and returns its result
//	@Tags			tools
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	executeToolResponse
//	@Router			/web/tools/execute [post]
func (s *Routes) executeTool(w http.ResponseWriter, r *http.Request) error {
	var req executeToolRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	return s.withServer(r, &req.serverRequest, func(ctx context.Context, mgr sessionManager) error {
		result, err := mgr.CallTool(ctx, req.ServerID, req.ToolName, req.Parameters)
		if err != nil {
			return err
		}
		return writeJSON(w, executeToolResponse{Status: "completed", Result: result})
	})
}
