// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/enlitens-kb/internal/knowledge"
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage the searchable knowledge index (index, search, export)",
	Long: `Knowledge maintains a local SQLite index derived from the ledger.
The ledger stays the source of truth; the index can be rebuilt at any time.`,
}

// --- index subcommand ---

var knowledgeIndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index ledger entries for full-text search",
	Long: `Index reads every entry of the ledger, splits it into searchable
sections with FTS5 indexing, and writes an export file. Entries unchanged
since the last run are skipped.`,
	RunE: runKnowledgeIndex,
}

func runKnowledgeIndex(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := store.Index(context.Background(), cfg.Ingest.LedgerPath, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d entr(ies) failed indexing", summary.Failed)
	}
	return nil
}

// --- search subcommand ---

var knowledgeSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the index with full-text queries and filters",
	Long: `Search queries the index using FTS5 full-text search, structured
filters (section, tag, document), or both. Full-text results are ranked
by relevance.`,
	RunE: runKnowledgeSearch,
}

func runKnowledgeSearch(cmd *cobra.Command, args []string) error {
	opts := queryOptsFromFlags(cmd, args)
	if opts.IsEmpty() {
		return fmt.Errorf("query or filter required: provide a search query, --section, --tag, or --document")
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	results, err := store.Retrieve(context.Background(), opts)
	if err != nil {
		return err
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")
	return formatSearchOutput(cmd.OutOrStdout(), results, jsonOutput)
}

func formatSearchOutput(w io.Writer, results []knowledge.QueryResult, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return nil
	}

	fmt.Fprintf(w, "%-4s  %-28s  %-24s  %s\n", "Rank", "Document", "Section", "Content")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for i, r := range results {
		fmt.Fprintf(w, "%-4d  %-28s  %-24s  %s\n",
			i+1, clip(r.DocumentID, 28), clip(r.Section, 24), clip(strings.Join(strings.Fields(r.Content), " "), 48))
	}
	fmt.Fprintf(w, "\n%d results\n", len(results))
	return nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// --- export subcommand ---

var knowledgeExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the index to YAML or JSON",
	Long: `Export writes the full index (or a filtered subset) to export.yaml
or export.json in the index directory. Supports the same filter flags as
search for partial exports.`,
	RunE: runKnowledgeExport,
}

func runKnowledgeExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := queryOptsFromFlags(cmd, args)
	w := cmd.OutOrStdout()
	switch format {
	case "yaml", "":
		if err := store.ExportYAML(context.Background(), opts); err != nil {
			return err
		}
		fmt.Fprintln(w, "Exported to", filepath.Join(cfg.KnowledgeBase.IndexDir, "export.yaml"))
	case "json":
		if err := store.ExportJSON(context.Background(), opts); err != nil {
			return err
		}
		fmt.Fprintln(w, "Exported to", filepath.Join(cfg.KnowledgeBase.IndexDir, "export.json"))
	default:
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}
	return nil
}

// --- shared helpers ---

func openStore(cmd *cobra.Command) (*knowledge.Store, error) {
	kb := cfg.KnowledgeBase
	if dir, _ := cmd.Flags().GetString("index-dir"); dir != "" {
		kb.IndexDir = dir
	}
	if n, _ := cmd.Flags().GetInt("max-results"); n > 0 {
		kb.MaxResults = n
	}
	return knowledge.NewStore(kb)
}

func queryOptsFromFlags(cmd *cobra.Command, args []string) knowledge.QueryOptions {
	queryText, _ := cmd.Flags().GetString("query")
	if queryText == "" && len(args) > 0 {
		queryText = strings.Join(args, " ")
	}
	section, _ := cmd.Flags().GetString("section")
	tag, _ := cmd.Flags().GetString("tag")
	documentID, _ := cmd.Flags().GetString("document")
	limit, _ := cmd.Flags().GetInt("limit")

	opts := knowledge.QueryOptions{
		Query:      queryText,
		Section:    section,
		DocumentID: documentID,
		MaxResults: limit,
	}
	if tag != "" {
		opts.Tags = []string{tag}
	}
	return opts
}

func init() {
	knowledgeCmd.PersistentFlags().String("index-dir", "", "index directory (default from knowledge_base.index_dir)")
	knowledgeCmd.PersistentFlags().Int("max-results", 0, "maximum number of query results")

	for _, c := range []*cobra.Command{knowledgeSearchCmd, knowledgeExportCmd} {
		c.Flags().String("query", "", "full-text search query")
		c.Flags().String("section", "", "filter by section, e.g. findings or clinical.protocols")
		c.Flags().String("tag", "", "filter by tag")
		c.Flags().String("document", "", "filter by document ID")
		c.Flags().Int("limit", 0, "maximum results (0 = default)")
	}
	knowledgeSearchCmd.Flags().Bool("json", false, "output results as JSON")
	knowledgeExportCmd.Flags().String("format", "yaml", "export format: yaml or json")

	knowledgeCmd.AddCommand(knowledgeIndexCmd)
	knowledgeCmd.AddCommand(knowledgeSearchCmd)
	knowledgeCmd.AddCommand(knowledgeExportCmd)
	rootCmd.AddCommand(knowledgeCmd)
}
