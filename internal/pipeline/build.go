// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/enlitens-kb/internal/chunk"
	"github.com/pdiddy/enlitens-kb/internal/container"
	"github.com/pdiddy/enlitens-kb/internal/convert"
	"github.com/pdiddy/enlitens-kb/internal/curate"
	"github.com/pdiddy/enlitens-kb/internal/enrich"
	"github.com/pdiddy/enlitens-kb/internal/extract"
	"github.com/pdiddy/enlitens-kb/internal/gemini"
	"github.com/pdiddy/enlitens-kb/internal/llm"
	"github.com/pdiddy/enlitens-kb/internal/translate"
	"github.com/pdiddy/enlitens-kb/internal/usage"
	"github.com/pdiddy/enlitens-kb/internal/verify"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// DefaultFactCheckURL is the OpenAI API root used by the fact-check pass.
const DefaultFactCheckURL = "https://api.openai.com/v1"

// Build wires the production stages from cfg. client is the local
// inference client; u records usage and enforces daily caps.
func Build(ctx context.Context, cfg types.PipelineConfig, client *llm.Client, u *usage.Ledger, log logrus.FieldLogger) (*Pipeline, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	conv := convert.New(cfg.Convert, convertOptions(ctx, cfg.Convert, log)...)

	enricher := enrich.New(cfg.Enrichment, enrich.WithLogger(log))
	curOpts := []curate.Option{curate.WithLogger(log)}
	if enricher.Enabled() {
		curOpts = append(curOpts, curate.WithLookup(enricher))
	}
	cur, err := curate.NewFromConfig(client, cfg.Curation, curOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading personas: %w", err)
	}

	gc, err := gemini.New(cfg.Consolidator, gemini.WithUsage(u), gemini.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("configuring consolidator: %w", err)
	}

	extOpts := []extract.Option{
		extract.WithCache(chunk.NewCache(cfg.Extraction.CacheDir)),
		extract.WithLogger(log),
	}
	opts := []Option{
		WithLogger(log),
		WithEnricher(enricher),
		WithVerifier(verify.New(client, log)),
		WithBundleCache(NewBundleCache(bundleDir(cfg.Curation))),
	}
	if gc.Available() {
		extOpts = append(extOpts, extract.WithFallback(gc))
		opts = append(opts, WithConsolidator(gc))
		log.Info("gemini consolidator enabled")
	} else {
		log.Info("gemini consolidator disabled")
	}

	if cfg.FactCheck.APIKey != "" {
		base := cfg.FactCheck.BaseURL
		if base == "" {
			base = DefaultFactCheckURL
		}
		model := cfg.FactCheck.Model
		if model == "" {
			model = DefaultFactCheckModel
		}
		fcClient := llm.New(types.LLMConfig{
			BaseURL:   base,
			Model:     model,
			APIKey:    cfg.FactCheck.APIKey,
			Timeout:   cfg.LLM.Timeout,
			MaxTokens: factCheckMaxTokens,
		}, u, log)
		opts = append(opts, WithFactChecker(NewFactCheck(fcClient, model, u)))
	}

	ext := extract.New(client, cfg.Extraction, cfg.LLM.ModelKey, extOpts...)
	tr := translate.New(client, -1, log)
	return New(conv, cur, ext, tr, cfg.LLM.ModelKey, opts...), nil
}

func convertOptions(ctx context.Context, cfg types.ConvertConfig, log logrus.FieldLogger) []convert.Option {
	opts := []convert.Option{convert.WithLogger(log)}
	if !cfg.DisableDocling {
		if d, err := newDocling(ctx, cfg.DoclingImage); err != nil {
			log.WithError(err).Warn("docling unavailable, using text layer extraction")
		} else {
			opts = append(opts, convert.WithPrimary(d))
		}
	}
	if ocr := convert.NewOCR(); ocr.Available() {
		opts = append(opts, convert.WithOCR(ocr))
	}
	return opts
}

func newDocling(ctx context.Context, image string) (*convert.Docling, error) {
	rt, err := container.DetectRuntime(ctx)
	if err != nil {
		return nil, err
	}
	return convert.NewDocling(ctx, rt, image)
}

func bundleDir(cfg types.CurationConfig) string {
	if cfg.CacheDir != "" {
		return cfg.CacheDir
	}
	return DefaultBundleDir
}
