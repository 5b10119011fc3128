package main

import (
	"encoding/json"
	"fmt"
	"io"

	"upserver/pkg/triage"

	"github.com/spf13/cobra"
)

// newTriageCmd creates the "upserver triage" subcommand: a local dry run
// of the policy engine, JSON in on stdin, JSON out on stdout. Useful for
// tuning the pattern lists against recorded turns.
func newTriageCmd() *cobra.Command {
	var maxFiles int
	var flagIncomplete bool
	cmd := &cobra.Command{
		Use:   "triage",
		Short: "Evaluate a turn against the triage policy",
		Long:  "Reads a JSON turn description from stdin and prints the triage result.\nInput shape: {\"request_text\": ..., \"files_touched\": [...],\n\"agent_succeeded\": bool, \"agent_errored\": bool}.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}

			var in struct {
				RequestText    string   `json:"request_text"`
				FilesTouched   []string `json:"files_touched"`
				AgentSucceeded bool     `json:"agent_succeeded"`
				AgentErrored   bool     `json:"agent_errored"`
			}
			if err := json.Unmarshal(data, &in); err != nil {
				return fmt.Errorf("parse input: %w", err)
			}

			res := triage.Evaluate(triage.Input{
				RequestText:    in.RequestText,
				FilesTouched:   in.FilesTouched,
				AgentSucceeded: in.AgentSucceeded,
				AgentErrored:   in.AgentErrored,
			}, triage.Policy{
				MaxFilesTouched:         maxFiles,
				FlagIncompleteWithEdits: flagIncomplete,
			})

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().IntVar(&maxFiles, "max-files", triage.DefaultPolicy().MaxFilesTouched, "wide-change-set threshold")
	cmd.Flags().BoolVar(&flagIncomplete, "flag-incomplete-with-edits", false, "flag non-success turns even when files were edited")
	return cmd
}
