// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/enlitens-kb/internal/usage"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show recorded AI tool usage per day",
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := usage.New(cfg.Usage).Snapshot()
		if err != nil {
			return err
		}
		jsonOutput, _ := cmd.Flags().GetBool("json")
		return formatUsage(cmd.OutOrStdout(), u, cfg.Usage.Limits, jsonOutput)
	},
}

func formatUsage(w io.Writer, u types.UsageLedger, limits map[string]int, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(u)
	}
	days := usage.Days(u)
	if len(days) == 0 {
		fmt.Fprintln(w, "No usage recorded.")
		return nil
	}

	fmt.Fprintf(w, "%-10s  %-18s  %6s  %6s  %10s  %10s  %9s\n",
		"Day", "Tool", "Calls", "Limit", "Tokens in", "Tokens out", "Cost USD")
	fmt.Fprintln(w, strings.Repeat("-", 81))
	for _, day := range days {
		bucket := u[day]
		if bucket == nil {
			continue
		}
		tools := make([]string, 0, len(bucket.Tools))
		for t := range bucket.Tools {
			tools = append(tools, t)
		}
		sort.Strings(tools)
		for _, t := range tools {
			tu := bucket.Tools[t]
			limit := "-"
			if n := limits[t]; n > 0 {
				limit = fmt.Sprint(n)
			}
			fmt.Fprintf(w, "%-10s  %-18s  %6d  %6s  %10d  %10d  %9.4f\n",
				day, t, tu.Count, limit, tu.TokensIn, tu.TokensOut, tu.CostUSD)
		}
	}
	return nil
}

func init() {
	usageCmd.Flags().Bool("json", false, "output the usage ledger as JSON")
	rootCmd.AddCommand(usageCmd)
}
