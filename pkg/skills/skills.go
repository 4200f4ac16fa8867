// Package skills provides the built-in tools every chat request carries,
// independent of which MCP servers the caller selected.
package skills

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Skill is one built-in tool. Skills run inside the gateway; they never
// touch an MCP server.
type Skill struct {
	Name        string
	Description string
	Parameters  map[string]any
	Run         func(ctx context.Context, arguments map[string]any) (string, error)
}

// now is injectable for tests.
var now = time.Now

// Builtin returns the fixed skill set.
func Builtin() []Skill {
	return []Skill{
		{
			Name:        "current_time",
			Description: "Returns the current date and time. Accepts an optional IANA timezone, defaulting to UTC.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timezone": map[string]any{
						"type":        "string",
						"description": "IANA timezone name, e.g. Europe/Amsterdam",
					},
				},
			},
			Run: currentTime,
		},
		{
			Name:        "generate_uuid",
			Description: "Generates a random UUID (version 4).",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Run: func(context.Context, map[string]any) (string, error) {
				return uuid.NewString(), nil
			},
		},
	}
}

// Lookup finds a built-in skill by name.
func Lookup(name string) (Skill, bool) {
	for _, s := range Builtin() {
		if s.Name == name {
			return s, true
		}
	}
	return Skill{}, false
}

func currentTime(_ context.Context, arguments map[string]any) (string, error) {
	loc := time.UTC
	if tz, ok := arguments["timezone"].(string); ok && tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", tz)
		}
		loc = parsed
	}
	return now().In(loc).Format(time.RFC3339), nil
}

// PromptSection renders the system-prompt paragraph that tells the model
// which built-in skills exist.
func PromptSection() string {
	var b strings.Builder
	b.WriteString("You have the following built-in tools, available in every conversation:\n")
	for _, s := range Builtin() {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
	}
	return b.String()
}
