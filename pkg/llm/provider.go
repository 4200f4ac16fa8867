// Package llm adapts the gateway to its completion backend. The backend
// speaks server-sent events; this package exposes the stream as typed
// chunks the chat executor consumes.
package llm

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
)

// Provider produces completion streams.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (Stream, error)
}

// Stream yields chunks until io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// CompletionRequest is one model invocation.
type CompletionRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Chunk is one streamed increment: text, tool calls, or a finish marker.
type Chunk struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// Message is one turn in the conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Tool is a model-callable tool definition.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is the model's request to run one tool. Arguments is the raw
// JSON object as streamed.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type sseStream struct {
	resp   *http.Response
	reader *bufio.Reader
	decode func([]byte) (Chunk, error)
}

func newSSEStream(resp *http.Response, decode func([]byte) (Chunk, error)) Stream {
	return &sseStream{
		resp:   resp,
		reader: bufio.NewReader(resp.Body),
		decode: decode,
	}
}

func (s *sseStream) Close() error {
	return s.resp.Body.Close()
}

func (s *sseStream) Recv() (Chunk, error) {
	for {
		data, err := s.readEvent()
		if err != nil {
			return Chunk{}, err
		}
		payload := strings.TrimSpace(string(data))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return Chunk{}, io.EOF
		}
		chunk, err := s.decode(data)
		if err != nil {
			return Chunk{}, err
		}
		if chunk.Content == "" && len(chunk.ToolCalls) == 0 && chunk.FinishReason == "" {
			continue
		}
		return chunk, nil
	}
}

func (s *sseStream) readEvent() ([]byte, error) {
	var dataLines []string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(dataLines) > 0 {
				return []byte(strings.Join(dataLines, "\n")), nil
			}
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		if errors.Is(err, io.EOF) {
			if len(dataLines) > 0 {
				return []byte(strings.Join(dataLines, "\n")), nil
			}
			return nil, io.EOF
		}
	}
}
