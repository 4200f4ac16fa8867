package chat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/inspectd/mcp-gateway/pkg/errors"
)

// CompletionHook runs a teardown function exactly once, no matter how many
// of the stream's exit paths reach it: normal end, error, or client abort.
type CompletionHook struct {
	once sync.Once
	fn   func()
}

// NewCompletionHook wraps fn. A nil fn yields a hook that does nothing.
func NewCompletionHook(fn func()) *CompletionHook {
	return &CompletionHook{fn: fn}
}

// Fire runs the hook. Repeat calls are no-ops.
func (h *CompletionHook) Fire() {
	h.once.Do(func() {
		if h.fn != nil {
			h.fn()
		}
	})
}

// StreamWriter writes UI-message events to the HTTP response as
// server-sent events. It is safe for use from one goroutine at a time;
// the executor is its only writer.
type StreamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewStreamWriter prepares the response for streaming and returns the
// writer. It fails when the underlying connection cannot stream.
func NewStreamWriter(w http.ResponseWriter) (*StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.NewInternalError("response writer does not support streaming", nil)
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return &StreamWriter{w: w, flusher: flusher}, nil
}

func (sw *StreamWriter) send(event any) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", raw); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// TextDelta streams one text increment.
func (sw *StreamWriter) TextDelta(delta string) error {
	return sw.send(map[string]any{"type": "text-delta", "delta": delta})
}

// ToolCall reports a tool invocation the model requested. approved is false
// when the call awaits caller approval instead of having been executed.
func (sw *StreamWriter) ToolCall(id, name string, arguments json.RawMessage, approved bool) error {
	event := map[string]any{
		"type":     "tool-call",
		"id":       id,
		"toolName": name,
		"state":    "pending-approval",
	}
	if len(arguments) > 0 {
		event["arguments"] = arguments
	}
	if approved {
		event["state"] = "executing"
	}
	return sw.send(event)
}

// ToolResult reports the outcome of an executed tool call.
func (sw *StreamWriter) ToolResult(id, name, content string, isError bool) error {
	return sw.send(map[string]any{
		"type":     "tool-result",
		"id":       id,
		"toolName": name,
		"content":  content,
		"isError":  isError,
	})
}

// Error reports a terminal stream error in the shared taxonomy shape.
// Internal causes stay in the logs, not on the wire.
func (sw *StreamWriter) Error(err error) error {
	code := errors.CodeOf(err)
	message := err.Error()
	if typed, ok := errors.AsError(err); ok && typed.Message != "" {
		message = typed.Message
	}
	if code == errors.ErrInternal {
		message = "internal error"
	}
	return sw.send(map[string]any{
		"type":    "error",
		"code":    code,
		"message": message,
	})
}

// Finish marks the end of the model's turn.
func (sw *StreamWriter) Finish(reason string) error {
	return sw.send(map[string]any{"type": "finish", "reason": reason})
}

// Done terminates the event stream.
func (sw *StreamWriter) Done() error {
	if _, err := fmt.Fprint(sw.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}
