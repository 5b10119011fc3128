package main

import (
	"fmt"
	"strconv"

	"upserver/pkg/protocol"
	"upserver/pkg/publish"

	"github.com/spf13/cobra"
)

// newPublishCmd creates the "upserver publish" subcommand.
func newPublishCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "publish <customer>",
		Short: "Publish a customer's staged changes to the live site",
		Long:  "Commits everything in the customer's working tree and pushes to the\nlive remote. A clean tree is a successful no-op.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			body := map[string]string{"message": message}
			var resp struct {
				Publish publish.Result `json:"publish"`
			}
			if err := client.post(cmd.Context(), "/api/v1/publish/"+args[0], body, &resp); err != nil {
				return err
			}
			printPublishResult(cmd, resp.Publish)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message (default: \"Publish site updates\")")
	return cmd
}

// newHistoryCmd creates the "upserver history" subcommand.
func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <customer>",
		Short: "Show a customer's publish history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var resp struct {
				Commits []protocol.Commit `json:"commits"`
			}
			path := "/api/v1/publish/" + args[0] + "/history?limit=" + strconv.Itoa(limit)
			if err := client.get(cmd.Context(), path, &resp); err != nil {
				return err
			}

			if len(resp.Commits) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no history")
				return nil
			}
			for _, c := range resp.Commits {
				hash := c.Hash
				if len(hash) > 8 {
					hash = hash[:8]
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n",
					hash, c.Time.Local().Format("2006-01-02 15:04"), c.Subject)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of commits to show")
	return cmd
}

// newRollbackCmd creates the "upserver rollback" subcommand.
func newRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <customer> <commit>",
		Short: "Restore an earlier published version",
		Long:  "Restores the tree of an earlier commit as a new commit on top of the\ncurrent history. Refused while the working tree has unpublished changes.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			body := map[string]string{"hash": args[1]}
			var resp struct {
				Rollback publish.Result `json:"rollback"`
			}
			if err := client.post(cmd.Context(), "/api/v1/publish/"+args[0]+"/rollback", body, &resp); err != nil {
				return err
			}
			printPublishResult(cmd, resp.Rollback)
			return nil
		},
	}
}

func printPublishResult(cmd *cobra.Command, res publish.Result) {
	out := cmd.OutOrStdout()
	if !res.Committed {
		fmt.Fprintln(out, res.Message)
		return
	}
	hash := res.CommitHash
	if len(hash) > 8 {
		hash = hash[:8]
	}
	fmt.Fprintf(out, "%s (%s)\n", res.Message, hash)
	if res.Warning != "" {
		fmt.Fprintf(out, "warning: %s\n", res.Warning)
	}
}
