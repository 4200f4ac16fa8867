package chat

import (
	"encoding/json"

	"github.com/inspectd/mcp-gateway/pkg/llm"
)

// EstimateTokens approximates the token count of a string. Four characters
// per token tracks the common tokenizers closely enough for the list-view
// estimates this feeds.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

// EstimateMessageTokens approximates the prompt size of a message list.
func EstimateMessageTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content) + 4
	}
	return total
}

// EstimateToolTokens approximates the prompt cost of advertising a tool
// binding to the model: its name, description, and schema.
func EstimateToolTokens(b ToolBinding) int {
	total := EstimateTokens(b.Qualified) + EstimateTokens(b.Description)
	if len(b.Parameters) > 0 {
		if raw, err := json.Marshal(b.Parameters); err == nil {
			total += EstimateTokens(string(raw))
		}
	}
	return total
}
