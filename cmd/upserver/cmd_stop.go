package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStopCmd creates the "upserver stop" subcommand.
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <customer>",
		Short: "Stop a customer's staging server",
		Long:  "Asks the daemon to terminate the customer's staging server process group\nand mark the server stopped. Stopping an already-stopped server is a no-op.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			if err := client.post(cmd.Context(), "/api/v1/staging/"+args[0]+"/stop", nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s stopped\n", args[0])
			return nil
		},
	}
}
