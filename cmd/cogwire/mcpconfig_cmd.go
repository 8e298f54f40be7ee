package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newMCPConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-config",
		Short: "Print MCP config JSON for Claude Desktop or Claude Code",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				exe = "cogwire"
			}

			snippet := map[string]any{
				"mcpServers": map[string]any{
					"cogwire": map[string]any{
						"command": exe,
						"args":    []string{"serve"},
					},
				},
			}
			raw, err := json.MarshalIndent(snippet, "", "  ")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Add this to your Claude settings:")
			fmt.Fprintln(out)
			fmt.Fprintln(out, string(raw))
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Claude Desktop: Settings > Developer > Edit Config")
			fmt.Fprintln(out, "Claude Code:    .claude/settings.json or ~/.claude/settings.json")
			return nil
		},
	}
}
