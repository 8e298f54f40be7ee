// Command cogwire is the cognitive capture MCP server and its companion
// CLI. The serve command speaks JSON-RPC over stdio; everything else is
// local administration.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cogwire:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cogwire",
		Short:         "Cognitive capture via MCP",
		Long:          "cogwire captures every MCP frame crossing its stdio transport,\nenriches it with semantic layers, and persists it for later analysis.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newInitCommand())
	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newMCPConfigCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}
