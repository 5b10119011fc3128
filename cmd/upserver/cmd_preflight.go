package main

import (
	"fmt"

	"upserver/pkg/staging"

	"github.com/spf13/cobra"
)

// newPreflightCmd creates the "upserver preflight" subcommand.
func newPreflightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preflight <customer>",
		Short: "Check a customer's staging readiness",
		Long:  "Checks everything a start would need without starting anything:\nsite directory, fixed-port assignment and availability, process liveness.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var resp struct {
				Preflight staging.Preflight `json:"preflight"`
			}
			if err := client.get(cmd.Context(), "/api/v1/staging/"+args[0]+"/preflight", &resp); err != nil {
				return err
			}
			pf := resp.Preflight

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "customer:       %s\n", pf.CustomerID)
			fmt.Fprintf(out, "site exists:    %s\n", yesNo(pf.SiteExists))
			if pf.HasFixedPort {
				fmt.Fprintf(out, "fixed port:     %d (listening: %s)\n", pf.FixedPort, yesNo(pf.PortListening))
			} else {
				fmt.Fprintf(out, "fixed port:     none (dynamic allocation)\n")
			}
			fmt.Fprintf(out, "process alive:  %s\n", yesNo(pf.ProcessAlive))
			fmt.Fprintf(out, "state:          %s\n", renderState(pf.State))
			return nil
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
