package main

import (
	"fmt"

	"upserver/pkg/staging"

	"github.com/spf13/cobra"
)

// newStartCmd creates the "upserver start" subcommand.
func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <customer>",
		Short: "Start a customer's staging server",
		Long:  "Asks the daemon to bring the customer's staging server to running:\ndetects the project kind, installs dependencies if needed, allocates a port,\nspawns the dev server, and waits until it answers.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var resp struct {
				Start staging.StartResult `json:"start"`
			}
			if err := client.post(cmd.Context(), "/api/v1/staging/"+args[0]+"/start", nil, &resp); err != nil {
				return err
			}

			res := resp.Start
			if res.AlreadyRunning {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already %s on port %d\n",
					res.CustomerID, renderState(res.State), res.Port)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s on port %d\n",
				res.CustomerID, renderState(res.State), res.Port)
			if res.Message != "" {
				fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			}
			return nil
		},
	}
}
