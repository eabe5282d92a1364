// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the enlitens CLI: it turns a folder
// of research PDFs into the Enlitens knowledge base ledger and serves a
// read-only view of it.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pdiddy/enlitens-kb/internal/config"
	"github.com/pdiddy/enlitens-kb/internal/logging"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// v holds flags, environment, config file, secrets and defaults.
	v = config.New()

	// cfg is the typed configuration, resolved before every command.
	cfg types.PipelineConfig

	log      = logrus.StandardLogger()
	closeLog = func() error { return nil }
)

// rootCmd is the base command for the enlitens CLI.
var rootCmd = &cobra.Command{
	Use:   "enlitens",
	Short: "Build the Enlitens knowledge base from research PDFs",
	Long: `enlitens converts research PDFs into knowledge base entries. Each
document is converted to text, curated against client personas, extracted
into scientific fields, translated into clinical guidance, verified and
appended to a JSONL ledger.

Configuration comes from flags, environment variables (and a .env file),
enlitens.yaml, and key files under .secrets/, in that order.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfgFile, _ := cmd.Flags().GetString("config")
		boot := logrus.New()
		boot.SetOutput(os.Stderr)

		used, err := config.Load(v, config.Sources{ConfigFile: cfgFile}, boot)
		if err != nil {
			return err
		}
		c, err := config.Pipeline(v)
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = c

		l, closer, err := logging.New(cfg.Log, os.Stderr)
		if err != nil {
			return err
		}
		log, closeLog = l, closer
		if used != "" {
			log.WithField("config", used).Debug("using config file")
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLog()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./enlitens.yaml or ~/.config/enlitens/enlitens.yaml)")
	pf.String("ledger", "", "knowledge base ledger (JSONL)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-file", "", "JSON processing log")

	v.BindPFlag("ingest.ledger", pf.Lookup("ledger"))
	v.BindPFlag("log.level", pf.Lookup("log-level"))
	v.BindPFlag("log.path", pf.Lookup("log-file"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		closeLog()
		os.Exit(1)
	}
}
