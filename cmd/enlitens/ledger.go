// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/enlitens-kb/internal/ledger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and repair the knowledge base ledger",
}

var ledgerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the ledger status file and entry count",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Ingest.LedgerPath
		st, err := ledger.ReadStatus(ledger.StatusPath(path))
		if err != nil {
			return err
		}
		count := 0
		err = ledger.Scan(path, func(ledger.Header) error {
			count++
			return nil
		})
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}

		w := cmd.OutOrStdout()
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"ledger": path, "entries": count, "status": st})
		}
		fmt.Fprintf(w, "Ledger:  %s\nEntries: %d\nStatus:  %s\n", path, count, st.Status)
		if st.Reason != "" {
			fmt.Fprintf(w, "Reason:  %s\n", st.Reason)
		}
		if st.Timestamp != "" {
			fmt.Fprintf(w, "Since:   %s\n", st.Timestamp)
		}
		for _, id := range st.AffectedDocuments {
			fmt.Fprintf(w, "  affected: %s\n", id)
		}
		return nil
	},
}

var ledgerRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Repair an interrupted append and clear the error status",
	Long: `Recover trims a torn final line, replays a complete staged append
once, and discards an incomplete one. With --reset it also marks the
ledger available again after an operator has checked it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Ingest.LedgerPath
		rep, err := ledger.Recover(path)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "trimmed %d byte(s), replayed: %t, discarded stage: %t\n",
			rep.TrimmedBytes, rep.Replayed, rep.DiscardedStage)
		if rep.DocumentID != "" {
			fmt.Fprintf(w, "document: %s\n", rep.DocumentID)
		}

		reset, _ := cmd.Flags().GetBool("reset")
		if !reset {
			return nil
		}
		reason, _ := cmd.Flags().GetString("reason")
		if err := ledger.Reset(path, reason); err != nil {
			return err
		}
		fmt.Fprintln(w, "status reset to ok")
		return nil
	},
}

func init() {
	ledgerStatusCmd.Flags().Bool("json", false, "output status as JSON")
	ledgerRecoverCmd.Flags().Bool("reset", false, "mark the ledger ok after recovery")
	ledgerRecoverCmd.Flags().String("reason", "manual recovery", "reason recorded in the status file")

	ledgerCmd.AddCommand(ledgerStatusCmd)
	ledgerCmd.AddCommand(ledgerRecoverCmd)
	rootCmd.AddCommand(ledgerCmd)
}
