// Package chat implements the streaming chat executor: it builds a tool set
// from the request's MCP servers and built-in skills, runs the bounded
// agentic loop against the completion backend, and pipes UI-message events
// to the client.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/inspectd/mcp-gateway/pkg/errors"
	"github.com/inspectd/mcp-gateway/pkg/llm"
	"github.com/inspectd/mcp-gateway/pkg/skills"
)

// SessionManager is the slice of the MCP session manager the chat executor
// needs.
type SessionManager interface {
	ListTools(ctx context.Context, serverID, cursor string) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (*mcp.CallToolResult, error)
}

// ToolBinding ties a model-visible tool name back to where it runs.
type ToolBinding struct {
	// Qualified is the model-visible name, serverID__toolName for MCP
	// tools and the bare skill name for built-ins.
	Qualified string

	ServerID    string
	Tool        string
	Description string
	Parameters  map[string]any

	// AutoExecute is false when the tool needs caller approval before it
	// runs; the executor then reports the call instead of executing it.
	AutoExecute bool

	// Skill is set for built-in tools.
	Skill *skills.Skill
}

// ToolSet is the full tool surface of one chat request.
type ToolSet struct {
	bindings map[string]ToolBinding
	ordered  []ToolBinding
}

// Bindings returns the tool bindings in build order.
func (ts *ToolSet) Bindings() []ToolBinding { return ts.ordered }

// Lookup resolves a model-visible tool name.
func (ts *ToolSet) Lookup(name string) (ToolBinding, bool) {
	b, ok := ts.bindings[name]
	return b, ok
}

// ModelTools renders the set as completion-backend tool definitions.
func (ts *ToolSet) ModelTools() []llm.Tool {
	tools := make([]llm.Tool, 0, len(ts.ordered))
	for _, b := range ts.ordered {
		tools = append(tools, llm.Tool{
			Name:        b.Qualified,
			Description: b.Description,
			Parameters:  b.Parameters,
		})
	}
	return tools
}

// QualifiedToolName builds the model-visible name for an MCP tool.
func QualifiedToolName(serverID, toolName string) string {
	return fmt.Sprintf("%s__%s", serverID, toolName)
}

// BuildToolSet lists tools from every selected server in parallel, adds the
// built-in skills, and validates the resulting model-visible names. MCP
// tools honor requireApproval; skills always auto-execute.
func BuildToolSet(ctx context.Context, mgr SessionManager, serverIDs []string, requireApproval bool) (*ToolSet, error) {
	perServer := make([][]ToolBinding, len(serverIDs))

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for i, serverID := range serverIDs {
		g.Go(func() error {
			var bindings []ToolBinding
			cursor := ""
			for {
				result, err := mgr.ListTools(gctx, serverID, cursor)
				if err != nil {
					return err
				}
				for _, tool := range result.Tools {
					bindings = append(bindings, ToolBinding{
						Qualified:   QualifiedToolName(serverID, tool.Name),
						ServerID:    serverID,
						Tool:        tool.Name,
						Description: tool.Description,
						Parameters:  schemaToMap(tool.InputSchema),
						AutoExecute: !requireApproval,
					})
				}
				if result.NextCursor == "" {
					break
				}
				cursor = string(result.NextCursor)
			}
			mu.Lock()
			perServer[i] = bindings
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ts := &ToolSet{bindings: make(map[string]ToolBinding)}
	for _, bindings := range perServer {
		for _, b := range bindings {
			ts.add(b)
		}
	}
	for _, skill := range skills.Builtin() {
		ts.add(ToolBinding{
			Qualified:   skill.Name,
			Tool:        skill.Name,
			Description: skill.Description,
			Parameters:  skill.Parameters,
			AutoExecute: true,
			Skill:       &skill,
		})
	}

	if err := validateToolNames(ts.ordered); err != nil {
		return nil, err
	}
	return ts, nil
}

func (ts *ToolSet) add(b ToolBinding) {
	if _, exists := ts.bindings[b.Qualified]; exists {
		return
	}
	ts.bindings[b.Qualified] = b
	ts.ordered = append(ts.ordered, b)
}

// schemaToMap converts an MCP tool input schema to the generic JSON object
// the completion backend expects.
func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{"type": "object"}
	}
	if typ, ok := out["type"].(string); !ok || typ == "" {
		out["type"] = "object"
	}
	return out
}

// decodeArguments parses a tool call's streamed JSON arguments.
func decodeArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, errors.NewValidationError(
			fmt.Sprintf("malformed tool arguments: %v", err), err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
