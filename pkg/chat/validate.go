package chat

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/inspectd/mcp-gateway/pkg/errors"
)

// modelToolName is the name shape the completion backend accepts.
var modelToolName = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// validateToolNames rejects a tool set whose model-visible names the
// backend would refuse, naming every offender so the caller can fix its
// server or tool names in one pass.
func validateToolNames(bindings []ToolBinding) error {
	var offenders []string
	for _, b := range bindings {
		if !modelToolName.MatchString(b.Qualified) {
			offenders = append(offenders, b.Qualified)
		}
	}
	if len(offenders) == 0 {
		return nil
	}
	return errors.NewValidationError(
		fmt.Sprintf("tool names not accepted by the model: %s", strings.Join(offenders, ", ")), nil)
}
