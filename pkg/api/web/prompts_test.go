package web

import (
	"net/http"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inspectd/mcp-gateway/pkg/errors"
)

func TestListPrompts(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.authorizer.descriptors["sA"] = descriptorFor("sA")
	env.manager.prompts = map[string]*mcp.ListPromptsResult{
		"sA": {Prompts: []mcp.Prompt{{Name: "greeting"}}},
	}

	rec := env.do(t, http.MethodPost, "/prompts/list", map[string]any{
		"workspaceId": "ws1",
		"serverId":    "sA",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[listPromptsResponse](t, rec)
	require.Len(t, resp.Prompts, 1)
	assert.Equal(t, "greeting", resp.Prompts[0].Name)
}

func TestGetPrompt(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.authorizer.descriptors["sA"] = descriptorFor("sA")
	env.manager.promptValue = &mcp.GetPromptResult{Description: "a greeting"}

	rec := env.do(t, http.MethodPost, "/prompts/get", map[string]any{
		"workspaceId": "ws1",
		"serverId":    "sA",
		"promptName":  "greeting",
		"arguments":   map[string]string{"name": "dev"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"getPrompt:sA/greeting"}, env.manager.recorded())
}

func TestListPromptsMultiPartialFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.authorizer.descriptors["sA"] = descriptorFor("sA")
	env.authorizer.descriptors["sB"] = descriptorFor("sB")
	env.manager.prompts = map[string]*mcp.ListPromptsResult{
		"sA": {Prompts: []mcp.Prompt{{Name: "greeting"}}},
	}
	env.manager.promptsErr = map[string]error{
		"sB": errors.NewServerUnreachableError("sB is down", nil),
	}

	rec := env.do(t, http.MethodPost, "/prompts/list-multi", map[string]any{
		"workspaceId": "ws1",
		"serverIds":   []string{"sA", "sB"},
	})

	// One server failing never aborts the aggregate.
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[listPromptsMultiResponse](t, rec)
	require.Len(t, resp.Prompts["sA"], 1)
	// The failing server still gets a prompts key, with an empty list.
	require.Contains(t, resp.Prompts, "sB")
	assert.Empty(t, resp.Prompts["sB"])
	assert.Contains(t, resp.Errors["sB"], "sB is down")
	assert.Equal(t, int32(1), env.manager.disconnects.Load())
}

func TestListPromptsMultiAuthorizeDenial(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.authorizer.descriptors["sA"] = descriptorFor("sA")
	env.authorizer.errs["sB"] = errors.NewForbiddenError("not a member", nil)

	rec := env.do(t, http.MethodPost, "/prompts/list-multi", map[string]any{
		"workspaceId": "ws1",
		"serverIds":   []string{"sA", "sB"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[listPromptsMultiResponse](t, rec)
	assert.Contains(t, resp.Errors["sB"], "not a member")
	assert.Contains(t, resp.Prompts, "sA")
	require.Contains(t, resp.Prompts, "sB")
	assert.Empty(t, resp.Prompts["sB"])
}

func TestListPromptsMultiAllDenied(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.authorizer.errs["sA"] = errors.NewForbiddenError("not a member", nil)

	rec := env.do(t, http.MethodPost, "/prompts/list-multi", map[string]any{
		"workspaceId": "ws1",
		"serverIds":   []string{"sA"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[listPromptsMultiResponse](t, rec)
	require.Contains(t, resp.Prompts, "sA")
	assert.Empty(t, resp.Prompts["sA"])
	assert.Len(t, resp.Errors, 1)
	assert.Equal(t, int32(0), env.factoryCalls.Load(), "no manager without an authorized server")
}
