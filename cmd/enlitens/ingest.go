// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdiddy/enlitens-kb/internal/ingest"
	"github.com/pdiddy/enlitens-kb/internal/ledger"
	"github.com/pdiddy/enlitens-kb/internal/lifecycle"
	"github.com/pdiddy/enlitens-kb/internal/llm"
	"github.com/pdiddy/enlitens-kb/internal/mirror"
	"github.com/pdiddy/enlitens-kb/internal/pipeline"
	"github.com/pdiddy/enlitens-kb/internal/usage"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Process every PDF in the input directory into the ledger",
	Long: `Ingest walks the input directory in name order and runs each PDF
through the pipeline. Processed files move to processed/YYYY-MM-DD/ and
failures to failed/YYYY-MM-DD/. With --resume, files whose id or checksum
is already in the ledger are skipped and left in place.

The command exits non-zero when any document failed.`,
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	autoStart, _ := cmd.Flags().GetBool("auto-start")
	autoStop, _ := cmd.Flags().GetBool("auto-stop")
	if autoStart || autoStop {
		lc, err := lifecycle.New(cfg.LLM, lifecycle.WithLogger(log))
		if err != nil {
			return err
		}
		if autoStart {
			if err := lc.Start(ctx); err != nil {
				return err
			}
		}
		if autoStop {
			defer func() {
				if err := lc.Stop(context.Background()); err != nil {
					log.WithError(err).Warn("auto-stop failed")
				}
			}()
		}
	}

	u := usage.New(cfg.Usage)
	client := llm.New(cfg.LLM, u, log)

	p, err := pipeline.Build(ctx, cfg, client, u, log)
	if err != nil {
		return err
	}

	led, err := ledger.Open(cfg.Ingest.LedgerPath,
		ledger.WithMirror(cfg.Ingest.LedgerMirror), ledger.WithLogger(log))
	if err != nil {
		return err
	}

	mirrors := mirror.FromConfig(ctx, cfg.Mirror, client, log)
	defer func() {
		if err := mirrors.Close(); err != nil {
			log.WithError(err).Warn("closing mirrors")
		}
	}()

	opts := []ingest.Option{ingest.WithLogger(log)}
	if mirrors.Len() > 0 {
		opts = append(opts, ingest.WithMirror(mirrors))
	}
	res, err := ingest.New(p, led, cfg.Ingest, opts...).Run(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if res.HasFailures() {
		return fmt.Errorf("%d document(s) failed", res.Failed)
	}
	return nil
}

func init() {
	f := ingestCmd.Flags()
	f.String("model", "", "model key recorded in entries and used for per-model prompts")
	f.String("input-dir", "", "directory of PDFs to process")
	f.String("processed-dir", "", "destination for processed PDFs")
	f.String("failed-dir", "", "destination for failed PDFs")
	f.String("ledger-mirror", "", "backup copy of the ledger refreshed after every append")
	f.Int("limit", 0, "process at most this many PDFs (0 = all)")
	f.Bool("force-extraction", false, "ignore cached structural extraction")
	f.Bool("skip-gemini", false, "disable the external consolidator")
	f.Bool("resume", true, "skip documents already in the ledger")
	f.Bool("auto-start", false, "start the local inference server before the batch")
	f.Bool("auto-stop", false, "stop the local inference server after the batch")

	for key, flag := range map[string]string{
		"llm.model_key":        "model",
		"ingest.input_dir":     "input-dir",
		"ingest.processed_dir": "processed-dir",
		"ingest.failed_dir":    "failed-dir",
		"ingest.ledger_mirror": "ledger-mirror",
		"ingest.limit":         "limit",
		"ingest.resume":        "resume",
		"convert.force":        "force-extraction",
		"consolidator.skip":    "skip-gemini",
	} {
		v.BindPFlag(key, f.Lookup(flag))
	}

	rootCmd.AddCommand(ingestCmd)
}
