package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"upserver/pkg/protocol"

	"github.com/spf13/cobra"
)

// newEventsCmd creates the "upserver events" subcommand.
func newEventsCmd() *cobra.Command {
	var customer string
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the staging/publish audit trail, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			path := "/api/v1/events?limit=" + strconv.Itoa(limit)
			if customer != "" {
				path += "&customer=" + customer
			}
			var resp struct {
				Events []protocol.Event `json:"events"`
			}
			if err := client.get(cmd.Context(), path, &resp); err != nil {
				return err
			}

			if len(resp.Events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no events")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tTYPE\tCUSTOMER\tDETAIL")
			for _, e := range resp.Events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					e.Type, e.CustomerID, e.Detail)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&customer, "customer", "", "filter by customer id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of events to show")
	return cmd
}
