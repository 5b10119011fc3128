package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"upserver/pkg/protocol"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the "upserver status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [customer]",
		Short: "Show staging server status",
		Long:  "Shows one customer's staging server, or all servers when no customer\nis given. Reading status also reconciles stale persisted state against\nthe live process table.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var servers []protocol.StagingServer
			if len(args) == 1 {
				var resp struct {
					Server protocol.StagingServer `json:"server"`
				}
				if err := client.get(cmd.Context(), "/api/v1/staging/"+args[0], &resp); err != nil {
					return err
				}
				servers = []protocol.StagingServer{resp.Server}
			} else {
				var resp struct {
					Servers []protocol.StagingServer `json:"servers"`
				}
				if err := client.get(cmd.Context(), "/api/v1/staging", &resp); err != nil {
					return err
				}
				servers = resp.Servers
			}

			if len(servers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no staging servers")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CUSTOMER\tSTATE\tPORT\tPID\tLAST ACTIVITY\tLAST ERROR")
			for _, s := range servers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					s.CustomerID, renderState(s.State),
					orDash(s.Port), orDash(s.PID),
					renderTime(s.LastActivityAt), s.LastError)
			}
			return w.Flush()
		},
	}
}

func orDash(n int) string {
	if n == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}

func renderTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
