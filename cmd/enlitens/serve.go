// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdiddy/enlitens-kb/internal/knowledge"
	"github.com/pdiddy/enlitens-kb/internal/server"
	"github.com/pdiddy/enlitens-kb/internal/usage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a read-only view of the knowledge base over HTTP",
	Long: `Serve exposes ledger status, usage, the processing log summary and
indexed entries as JSON under /api, entry pages under /entries/{id}, and
Prometheus metrics on /metrics. Entries come from the index built by
"enlitens knowledge index".`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr, _ := cmd.Flags().GetString("addr")

	opts := []server.Option{
		server.WithLogger(log),
		server.WithUsage(usage.New(cfg.Usage)),
		server.WithLogPath(cfg.Log.Path),
	}
	store, err := knowledge.NewStore(cfg.KnowledgeBase)
	if err != nil {
		log.WithError(err).Warn("knowledge index unavailable; entry routes disabled")
	} else {
		defer store.Close()
		opts = append(opts, server.WithEntries(store))
	}

	return server.New(cfg.Ingest.LedgerPath, opts...).ListenAndServe(ctx, addr)
}

func init() {
	serveCmd.Flags().String("addr", server.DefaultAddr, "listen address")
	rootCmd.AddCommand(serveCmd)
}
