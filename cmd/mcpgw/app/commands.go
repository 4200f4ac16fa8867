// Package app provides the entry point for the mcpgw command-line application.
package app

import (
	"github.com/spf13/cobra"

	"github.com/inspectd/mcp-gateway/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "mcpgw",
	DisableAutoGenTag: true,
	Short:             "mcpgw is the hosted gateway between browser inspectors and MCP servers",
	Long: `mcpgw terminates authenticated browser requests, checks them against the
workspace policy service, opens request-scoped MCP sessions over streamable
HTTP or SSE, and streams chat turns from the LLM backend back to the client.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates the root command for the gateway CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
