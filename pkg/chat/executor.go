package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/inspectd/mcp-gateway/pkg/errors"
	"github.com/inspectd/mcp-gateway/pkg/llm"
	"github.com/inspectd/mcp-gateway/pkg/logger"
	"github.com/inspectd/mcp-gateway/pkg/skills"
	"github.com/inspectd/mcp-gateway/pkg/telemetry"
)

const defaultMaxSteps = 16

// Request is one chat invocation.
type Request struct {
	Model       string
	System      string
	Messages    []llm.Message
	Temperature *float64
	MaxTokens   int
}

// Executor runs the bounded agentic loop: model turn, tool calls, repeat,
// until the model stops calling tools or the step budget runs out.
type Executor struct {
	provider llm.Provider
	maxSteps int
}

// NewExecutor creates an executor over the given completion provider.
func NewExecutor(provider llm.Provider, maxSteps int) *Executor {
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	return &Executor{provider: provider, maxSteps: maxSteps}
}

// Run executes the loop, streaming UI-message events to out. The
// completion hook fires exactly once on every exit path: normal finish,
// error, and context cancellation. Run never fires it twice.
func (e *Executor) Run(ctx context.Context, mgr SessionManager, toolset *ToolSet, req Request, out *StreamWriter, hook *CompletionHook) error {
	defer hook.Fire()

	system := req.System
	if section := skills.PromptSection(); section != "" {
		if system != "" {
			system += "\n\n"
		}
		system += section
	}

	messages := append([]llm.Message(nil), req.Messages...)
	tools := toolset.ModelTools()

	steps := 0
	defer func() { telemetry.ChatSteps.Observe(float64(steps)) }()

	for step := 0; step < e.maxSteps; step++ {
		steps = step + 1
		if err := ctx.Err(); err != nil {
			return errors.NewTimeoutError("chat cancelled", err)
		}

		pending, finishReason, err := e.modelTurn(ctx, req, system, messages, tools, out)
		if err != nil {
			_ = out.Error(err)
			return err
		}

		if len(pending) == 0 {
			_ = out.Finish(finishReason)
			return out.Done()
		}

		assistant := llm.Message{Role: "assistant", ToolCalls: pending}
		messages = append(messages, assistant)

		awaitingApproval := false
		for _, call := range pending {
			binding, ok := toolset.Lookup(call.Name)
			if !ok {
				content := fmt.Sprintf("unknown tool %q", call.Name)
				_ = out.ToolResult(call.ID, call.Name, content, true)
				messages = append(messages, toolMessage(call, content))
				continue
			}

			if !binding.AutoExecute {
				// Surface the call for approval and stop the loop; the
				// client resumes with a fresh request once approved.
				_ = out.ToolCall(call.ID, call.Name, json.RawMessage(call.Arguments), false)
				awaitingApproval = true
				continue
			}

			_ = out.ToolCall(call.ID, call.Name, json.RawMessage(call.Arguments), true)
			content, isError := e.executeTool(ctx, mgr, binding, call)
			_ = out.ToolResult(call.ID, call.Name, content, isError)
			messages = append(messages, toolMessage(call, content))
		}

		if awaitingApproval {
			_ = out.Finish("tool-approval")
			return out.Done()
		}
	}

	_ = out.Finish("max-steps")
	return out.Done()
}

// modelTurn streams one completion, forwarding text deltas and collecting
// tool calls.
func (e *Executor) modelTurn(
	ctx context.Context,
	req Request,
	system string,
	messages []llm.Message,
	tools []llm.Tool,
	out *StreamWriter,
) ([]llm.ToolCall, string, error) {
	stream, err := e.provider.Complete(ctx, llm.CompletionRequest{
		Model:       req.Model,
		System:      system,
		Messages:    messages,
		Tools:       tools,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, "", err
	}
	defer stream.Close()

	var pending []llm.ToolCall
	finishReason := "stop"
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				return pending, finishReason, nil
			}
			if ctx.Err() != nil {
				return nil, "", errors.NewTimeoutError("chat cancelled", ctx.Err())
			}
			return nil, "", err
		}
		if chunk.Content != "" {
			if err := out.TextDelta(chunk.Content); err != nil {
				// The client went away; stop pulling from the model.
				return nil, "", errors.NewTimeoutError("client disconnected", err)
			}
		}
		if len(chunk.ToolCalls) > 0 {
			pending = mergeToolCalls(pending, chunk.ToolCalls)
		}
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
	}
}

// executeTool runs one approved tool call, built-in or MCP, and returns the
// textual outcome.
func (e *Executor) executeTool(ctx context.Context, mgr SessionManager, binding ToolBinding, call llm.ToolCall) (string, bool) {
	args, err := decodeArguments(call.Arguments)
	if err != nil {
		return err.Error(), true
	}

	if binding.Skill != nil {
		content, err := binding.Skill.Run(ctx, args)
		if err != nil {
			return fmt.Sprintf("tool %s failed: %v", call.Name, err), true
		}
		return content, false
	}

	result, err := mgr.CallTool(ctx, binding.ServerID, binding.Tool, args)
	if err != nil {
		logger.Warnw("tool execution failed",
			"serverId", binding.ServerID,
			"tool", binding.Tool,
			"error", err.Error())
		return fmt.Sprintf("tool %s failed: %v", call.Name, err), true
	}
	return flattenToolResult(result), result.IsError
}

func toolMessage(call llm.ToolCall, content string) llm.Message {
	return llm.Message{
		Role:       "tool",
		Content:    content,
		Name:       call.Name,
		ToolCallID: call.ID,
	}
}

// mergeToolCalls folds streamed tool-call fragments into whole calls.
// Fragments sharing an id extend that call's argument buffer.
func mergeToolCalls(existing []llm.ToolCall, incoming []llm.ToolCall) []llm.ToolCall {
	for _, call := range incoming {
		merged := false
		for i := range existing {
			if existing[i].ID == call.ID && call.ID != "" {
				existing[i].Arguments += call.Arguments
				if existing[i].Name == "" {
					existing[i].Name = call.Name
				}
				merged = true
				break
			}
		}
		if !merged {
			existing = append(existing, call)
		}
	}
	return existing
}

// flattenToolResult renders an MCP tool result as plain text for the model.
func flattenToolResult(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case mcp.EmbeddedResource:
			if text, ok := c.Resource.(mcp.TextResourceContents); ok {
				parts = append(parts, text.Text)
			}
		}
	}
	if len(parts) == 0 {
		if raw, err := json.Marshal(result); err == nil {
			return string(raw)
		}
	}
	return strings.Join(parts, "\n")
}
