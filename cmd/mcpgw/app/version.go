package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inspectd/mcp-gateway/pkg/versions"
)

func newVersionCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the gateway version",
		RunE: func(_ *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			if outputJSON {
				raw, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(raw))
				return nil
			}
			fmt.Printf("mcpgw %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print version information as JSON")
	return cmd
}
