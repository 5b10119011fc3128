package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"upserver/pkg/protocol"

	"github.com/spf13/cobra"
)

// newReviewsCmd creates the "upserver reviews" subcommand group.
func newReviewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reviews",
		Short: "Manage the review queue for flagged edit requests",
	}

	cmd.AddCommand(
		newReviewsListCmd(),
		newReviewsShowCmd(),
		newReviewsQuoteCmd(),
		newReviewsDecisionCmd("approve", "Approve a quoted request"),
		newReviewsDecisionCmd("reject", "Reject a quoted request"),
		newReviewsDecisionCmd("complete", "Close out a request"),
	)
	return cmd
}

func newReviewsListCmd() *cobra.Command {
	var customer string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List review requests, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			path := "/api/v1/reviews"
			if customer != "" {
				path += "?customer=" + customer
			}
			var resp struct {
				Reviews []protocol.ReviewRequest `json:"reviews"`
			}
			if err := client.get(cmd.Context(), path, &resp); err != nil {
				return err
			}

			if len(resp.Reviews) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no review requests")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCUSTOMER\tSTATUS\tSCOPE\tQUOTE\tREASON")
			for _, r := range resp.Reviews {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					shortID(r.ID), r.CustomerID, r.Status, r.Scope,
					renderCents(r.QuotedPriceCents), r.Reason)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&customer, "customer", "", "filter by customer id")
	return cmd
}

func newReviewsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show one review request in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var resp struct {
				Review protocol.ReviewRequest `json:"review"`
			}
			if err := client.get(cmd.Context(), "/api/v1/reviews/"+args[0], &resp); err != nil {
				return err
			}
			r := resp.Review

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:          %s\n", r.ID)
			fmt.Fprintf(out, "customer:    %s\n", r.CustomerID)
			fmt.Fprintf(out, "status:      %s\n", r.Status)
			fmt.Fprintf(out, "scope:       %s (confidence %.2f)\n", r.Scope, r.Confidence)
			fmt.Fprintf(out, "reason:      %s\n", r.Reason)
			fmt.Fprintf(out, "triggers:    %s\n", strings.Join(r.Triggers, ", "))
			fmt.Fprintf(out, "policy:      %s\n", r.PolicyVersion)
			if r.QuotedPriceCents > 0 {
				fmt.Fprintf(out, "quote:       %s", renderCents(r.QuotedPriceCents))
				if r.QuoteNote != "" {
					fmt.Fprintf(out, " (%s)", r.QuoteNote)
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "created:     %s\n", r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func newReviewsQuoteCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "quote <request-id> <price-cents>",
		Short: "Attach a price quote to an open request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var priceCents int64
			if _, err := fmt.Sscanf(args[1], "%d", &priceCents); err != nil {
				return fmt.Errorf("price must be an integer number of cents: %q", args[1])
			}

			client, err := newAPIClient()
			if err != nil {
				return err
			}

			body := map[string]any{"price_cents": priceCents, "note": note}
			var resp struct {
				Review protocol.ReviewRequest `json:"review"`
			}
			if err := client.post(cmd.Context(), "/api/v1/reviews/"+args[0]+"/quote", body, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s quoted at %s\n",
				shortID(resp.Review.ID), renderCents(resp.Review.QuotedPriceCents))
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note shown alongside the quote")
	return cmd
}

func newReviewsDecisionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <request-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var resp struct {
				Review protocol.ReviewRequest `json:"review"`
			}
			if err := client.post(cmd.Context(), "/api/v1/reviews/"+args[0]+"/"+action, nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", shortID(resp.Review.ID), resp.Review.Status)
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func renderCents(cents int64) string {
	if cents <= 0 {
		return "-"
	}
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
