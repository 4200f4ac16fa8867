// Package main is the entry point for the hosted MCP gateway.
package main

import (
	"os"

	"github.com/inspectd/mcp-gateway/cmd/mcpgw/app"
	"github.com/inspectd/mcp-gateway/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
