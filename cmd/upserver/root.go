package main

import (
	"fmt"

	"upserver/internal/appversion"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root upserver command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "upserver",
		Short:         "Staging server manager for customer websites",
		Long:          "upserver runs and supervises per-customer staging servers,\ntriages AI edit requests, and publishes approved changes.",
		Version:       fmt.Sprintf("upserver %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newInitCmd(),
		newServeCmd(),
		newStartCmd(),
		newStopCmd(),
		newStatusCmd(),
		newPreflightCmd(),
		newPublishCmd(),
		newHistoryCmd(),
		newRollbackCmd(),
		newReviewsCmd(),
		newTriageCmd(),
		newEventsCmd(),
		newDashCmd(),
	)

	return cmd
}
