// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline turns one PDF into a KnowledgeEntry. It runs
// structural extraction, context curation, enrichment, scientific
// extraction and clinical translation, then assembles the entry and runs
// the optional consolidator, the output verifier and the optional
// fact-check. Persistence belongs to the caller.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/enlitens-kb/internal/curate"
	"github.com/pdiddy/enlitens-kb/internal/extract"
	"github.com/pdiddy/enlitens-kb/internal/gemini"
	"github.com/pdiddy/enlitens-kb/internal/llm"
	"github.com/pdiddy/enlitens-kb/internal/logging"
	"github.com/pdiddy/enlitens-kb/internal/metrics"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// Stage names used for timing metrics and log fields.
const (
	StageConvert     = "convert"
	StageCurate      = "curate"
	StageEnrich      = "enrich"
	StageExtract     = "extract"
	StageTranslate   = "translate"
	StageConsolidate = "consolidate"
	StageVerify      = "verify"
	StageFactCheck   = "fact_check"
)

// Converter produces the structural extraction for a PDF.
type Converter interface {
	Convert(ctx context.Context, pdfPath, documentID, sha256 string) (*types.RawDocument, error)
}

// Curator builds and re-verifies curated context bundles.
type Curator interface {
	Curate(ctx context.Context, in curate.Input) (*curate.Result, error)
	Reverify(ctx context.Context, in curate.Input, bundle *types.CuratedContext) (*curate.Result, error)
}

// Extractor runs scientific extraction.
type Extractor interface {
	Extract(ctx context.Context, doc *types.RawDocument) (*extract.Result, error)
}

// Translator turns an extraction into clinical guidance.
type Translator interface {
	Translate(ctx context.Context, ext *types.ScientificExtraction, voice string) (*types.ClinicalTranslation, error)
}

// Enricher performs external lookups.
type Enricher interface {
	Enabled() bool
	Enrich(ctx context.Context, terms, dois []string) *types.Enrichment
}

// Verifier judges the assembled entry.
type Verifier interface {
	Verify(ctx context.Context, entry *types.KnowledgeEntry) types.OutputVerification
}

// Consolidator asks an external model to merge the draft outputs.
type Consolidator interface {
	Consolidate(ctx context.Context, d gemini.Draft) (map[string]any, error)
}

// FactChecker gives a second opinion on an entry.
type FactChecker interface {
	FactCheck(ctx context.Context, entry *types.KnowledgeEntry) (*types.FactCheck, error)
}

// Document identifies the PDF being processed.
type Document struct {
	ID     string
	SHA256 string
}

// Pipeline processes one document at a time. It is not safe for
// concurrent use.
type Pipeline struct {
	convert   Converter
	curator   Curator
	extractor Extractor
	translate Translator

	enricher     Enricher
	verifier     Verifier
	consolidator Consolidator
	factCheck    FactChecker

	bundles  *BundleCache
	modelKey string
	log      logrus.FieldLogger
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEnricher sets the external enrichment client.
func WithEnricher(e Enricher) Option { return func(p *Pipeline) { p.enricher = e } }

// WithVerifier sets the output verifier.
func WithVerifier(v Verifier) Option { return func(p *Pipeline) { p.verifier = v } }

// WithConsolidator sets the external consolidator.
func WithConsolidator(c Consolidator) Option { return func(p *Pipeline) { p.consolidator = c } }

// WithFactChecker sets the fact-check pass.
func WithFactChecker(f FactChecker) Option { return func(p *Pipeline) { p.factCheck = f } }

// WithBundleCache caches curated bundles across runs.
func WithBundleCache(c *BundleCache) Option { return func(p *Pipeline) { p.bundles = c } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(p *Pipeline) { p.log = l } }

// New returns a pipeline over the four required stages.
func New(conv Converter, cur Curator, ext Extractor, tr Translator, modelKey string, opts ...Option) *Pipeline {
	p := &Pipeline{
		convert:   conv,
		curator:   cur,
		extractor: ext,
		translate: tr,
		modelKey:  modelKey,
		log:       logrus.StandardLogger(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process runs every stage for the PDF at pdfPath. Errors are hard
// failures: the document must not be written to the ledger. Degraded
// results are reported through the entry's warnings instead.
func (p *Pipeline) Process(ctx context.Context, pdfPath string, doc Document) (*types.KnowledgeEntry, error) {
	start := p.now()
	log := p.log.WithField(logging.FieldDocumentID, doc.ID)

	var raw *types.RawDocument
	if err := p.timed(StageConvert, func() (err error) {
		raw, err = p.convert.Convert(ctx, pdfPath, doc.ID, doc.SHA256)
		return err
	}); err != nil {
		return nil, fmt.Errorf("structural extraction: %w", err)
	}

	var warnings []string
	alignment, entities := alignDocument(raw)

	in := curate.Input{
		DocumentID: doc.ID,
		Title:      raw.Metadata.Title,
		Text:       raw.VerbatimText,
		Alignment:  alignment,
		Entities:   entities,
	}
	var curated *curate.Result
	if err := p.timed(StageCurate, func() (err error) {
		curated, err = p.curateDocument(ctx, in)
		return err
	}); err != nil {
		return nil, fmt.Errorf("context curation: %w", err)
	}
	warnings = append(warnings, curated.Warnings...)
	cc := curated.Context

	var enrichment *types.Enrichment
	if p.enricher != nil && p.enricher.Enabled() {
		p.timed(StageEnrich, func() error {
			enrichment = p.enricher.Enrich(ctx, entities.Flatten(), extract.ExtractDOIs(raw.VerbatimText))
			return nil
		})
	}

	var res *extract.Result
	if err := p.timed(StageExtract, func() (err error) {
		res, err = p.extractor.Extract(ctx, raw)
		return err
	}); err != nil {
		return nil, fmt.Errorf("scientific extraction: %w", err)
	}
	warnings = append(warnings, res.Warnings...)

	voice := ""
	if cc != nil {
		voice = cc.VoiceGuide
	}
	var clinical *types.ClinicalTranslation
	if err := p.timed(StageTranslate, func() (err error) {
		clinical, err = p.translate.Translate(ctx, res.Extraction, voice)
		return err
	}); err != nil {
		if llm.IsServiceError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("clinical translation: %w", err)
		}
		log.WithError(err).Warn("clinical translation failed")
		warnings = append(warnings, fmt.Sprintf("clinical translation failed: %v", err))
	}

	entry := p.assemble(pdfPath, doc, raw, alignment, cc, enrichment, res, clinical)
	entry.Warnings = append(entry.Warnings, warnings...)

	p.consolidate(ctx, entry, log)

	if p.verifier != nil {
		p.timed(StageVerify, func() error {
			ov := p.verifier.Verify(ctx, entry)
			entry.OutputVerification = &ov
			entry.Warnings = append(entry.Warnings, prefixed("output verification", ov.Warnings)...)
			return nil
		})
	}

	if p.factCheck != nil {
		p.timed(StageFactCheck, func() error {
			fc, err := p.factCheck.FactCheck(ctx, entry)
			switch {
			case errors.Is(err, ErrFactCheckSkipped):
				log.WithError(err).Debug("fact-check skipped")
			case err != nil:
				log.WithError(err).Warn("fact-check failed")
				entry.Warnings = append(entry.Warnings, fmt.Sprintf("fact-check failed: %v", err))
			default:
				entry.FactCheck = fc
			}
			return nil
		})
	}

	entry.Warnings = dedupe(entry.Warnings)
	entry.Processing = types.ProcessingInfo{
		Seconds:   p.now().Sub(start).Seconds(),
		Timestamp: entry.Metadata.ProcessedAt,
	}
	log.WithFields(logrus.Fields{
		"validation_passed": entry.ValidationPassed,
		"warnings":          len(entry.Warnings),
		"strategy":          entry.Quality.Strategy,
	}).Info("knowledge entry assembled")
	return entry, nil
}

// curateDocument reuses a cached bundle after re-verifying it, otherwise
// runs the full loop and caches the result.
func (p *Pipeline) curateDocument(ctx context.Context, in curate.Input) (*curate.Result, error) {
	log := p.log.WithField(logging.FieldDocumentID, in.DocumentID)
	if cached, ok := p.bundles.Load(in.DocumentID); ok {
		log.Info("reusing cached curation bundle")
		res, err := p.curator.Reverify(ctx, in, cached)
		if err != nil {
			return nil, err
		}
		p.storeBundle(in.DocumentID, res, log)
		return res, nil
	}
	res, err := p.curator.Curate(ctx, in)
	if err != nil {
		return nil, err
	}
	p.storeBundle(in.DocumentID, res, log)
	return res, nil
}

func (p *Pipeline) storeBundle(documentID string, res *curate.Result, log logrus.FieldLogger) {
	if res == nil || res.Context == nil {
		return
	}
	if err := p.bundles.Store(documentID, res.Context); err != nil {
		log.WithError(err).Warn("caching curation bundle failed")
	}
}

// consolidate runs the external consolidator. A failure keeps the draft
// and marks the entry as not validated.
func (p *Pipeline) consolidate(ctx context.Context, entry *types.KnowledgeEntry, log logrus.FieldLogger) {
	entry.GeminiValidated = false
	if p.consolidator == nil {
		return
	}
	p.timed(StageConsolidate, func() error {
		obj, err := p.consolidator.Consolidate(ctx, draftFor(entry))
		if err != nil {
			log.WithError(err).Warn("consolidation rejected, keeping draft")
			return nil
		}
		entry.GeminiValidated = true
		entry.Consolidated = obj
		return nil
	})
}

func draftFor(entry *types.KnowledgeEntry) gemini.Draft {
	outputs := map[string]any{"extraction": entry.Extraction}
	if entry.ClinicalTranslation != nil {
		outputs["clinical_translation"] = entry.ClinicalTranslation
	}
	if entry.AlignmentProfile != nil {
		outputs["alignment_profile"] = entry.AlignmentProfile
	}
	text := ""
	if entry.Docling != nil {
		text = entry.Docling.VerbatimText
	}
	return gemini.Draft{
		DocumentID: entry.DocumentID,
		Text:       text,
		Outputs:    outputs,
		Quality:    entry.Quality,
	}
}

func (p *Pipeline) timed(stage string, fn func() error) error {
	start := p.now()
	err := fn()
	secs := p.now().Sub(start).Seconds()
	metrics.StageDuration.WithLabelValues(stage).Observe(secs)
	p.log.WithFields(logrus.Fields{logging.FieldStage: stage, logging.FieldSeconds: secs}).Debug("stage finished")
	return err
}
