package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scrypster/cogwire/internal/config"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cogwire version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s (protocol %s)\n",
				config.ServerName, config.ServerVersion, config.ProtocolVersion)
			return err
		},
	}
}
