// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/pdiddy/enlitens-kb/internal/diag"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect the processing log",
}

var logsAnalyzeCmd = &cobra.Command{
	Use:   "analyze [log-file]",
	Short: "Summarise levels, outcomes and recurring errors in the processing log",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Log.Path
		if len(args) == 1 {
			path = args[0]
		}
		top, _ := cmd.Flags().GetInt("top")
		rep, err := diag.AnalyzeFile(path, top)
		if err != nil {
			return err
		}
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}
		rep.Write(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	logsAnalyzeCmd.Flags().Int("top", diag.DefaultTopErrors, "number of distinct errors to list")
	logsAnalyzeCmd.Flags().Bool("json", false, "output the report as JSON")
	logsCmd.AddCommand(logsAnalyzeCmd)
	rootCmd.AddCommand(logsCmd)
}
