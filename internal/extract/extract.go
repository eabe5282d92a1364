// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extract produces a schema-constrained scientific summary of a
// paper. Long documents are chunked and summarized first; the summary is
// then extracted in one shot or field by field, validated against
// per-model length rules, and repaired through a rescue and fallback
// cascade. Only inference transport failures escalate.
package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/enlitens-kb/internal/chunk"
	"github.com/pdiddy/enlitens-kb/internal/llm"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

const (
	defaultMaxChars            = 400000
	defaultDirectThreshold     = 10000
	defaultSequentialThreshold = 24000
	defaultFieldAttempts       = 3
	maxFieldAttempts           = 4
	defaultJSONAttempts        = 3
	defaultMaxRetries          = 2
	rescueAttempts             = 3

	chunkListItems   = 12
	chunkItemChars   = 600
	extractMaxTokens = 8192
	fieldMaxTokens   = 3072
	chunkMaxTokens   = 2048
)

// Strategy names the path an extraction took.
const (
	StrategySingleShot = "single_shot"
	StrategySequential = "sequential"
)

// Generator is the subset of the inference client the extractor uses.
type Generator interface {
	GenerateJSON(ctx context.Context, req llm.Request, maxAttempts int) (map[string]any, error)
}

// FieldFallback completes one field out of process when the inference
// server keeps failing it. The reply is raw model text holding a JSON
// object with the field as its only key.
type FieldFallback interface {
	Name() string
	CompleteField(ctx context.Context, prompt string) (string, error)
}

// Result is the outcome of one extraction.
type Result struct {
	Extraction *types.ScientificExtraction
	Strategy   string
	Direct     bool
	ChunkCount int

	// Repaired lists fields fixed by rescue or fallback.
	Repaired []string

	// Degraded lists fields set to the placeholder or accepted shallow.
	Degraded []string

	Warnings []string
}

// Extractor runs scientific extraction for one model.
type Extractor struct {
	gen      Generator
	fallback FieldFallback
	cache    *chunk.Cache
	cfg      types.ExtractionConfig
	modelKey string
	rules    RuleSet
	parser   *llm.Parser
	log      logrus.FieldLogger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithFallback sets the out-of-process field fallback.
func WithFallback(f FieldFallback) Option {
	return func(e *Extractor) { e.fallback = f }
}

// WithCache sets the chunk summary cache.
func WithCache(c *chunk.Cache) Option {
	return func(e *Extractor) { e.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Extractor) { e.log = l }
}

// New returns an extractor for modelKey with defaults filled into cfg.
func New(gen Generator, cfg types.ExtractionConfig, modelKey string, opts ...Option) *Extractor {
	e := &Extractor{
		gen:      gen,
		cfg:      withDefaults(cfg),
		modelKey: modelKey,
		rules:    RulesFor(modelKey),
		parser:   &llm.Parser{},
		log:      logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func withDefaults(cfg types.ExtractionConfig) types.ExtractionConfig {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = defaultMaxChars
	}
	if cfg.DirectThreshold <= 0 {
		cfg.DirectThreshold = defaultDirectThreshold
	}
	if cfg.SequentialThreshold <= 0 {
		cfg.SequentialThreshold = defaultSequentialThreshold
	}
	if cfg.FieldAttempts <= 0 {
		cfg.FieldAttempts = defaultFieldAttempts
	}
	if cfg.FieldAttempts > maxFieldAttempts {
		cfg.FieldAttempts = maxFieldAttempts
	}
	if cfg.JSONAttempts <= 0 {
		cfg.JSONAttempts = defaultJSONAttempts
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.ChunkWindow <= 0 {
		cfg.ChunkWindow = chunk.DefaultWindow
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = chunk.DefaultOverlap
	}
	if cfg.Shallow == "" {
		cfg.Shallow = types.ShallowPlaceholder
	}
	return cfg
}

// Rules returns the active rule set.
func (e *Extractor) Rules() RuleSet { return e.rules }

// Extract runs the full extraction for doc.
func (e *Extractor) Extract(ctx context.Context, doc *types.RawDocument) (*Result, error) {
	log := e.log.WithField("document_id", doc.DocumentID)
	text := CapText(doc.VerbatimText, e.cfg.MaxChars)

	res := &Result{}
	source := text
	if utf8.RuneCountInString(text) <= e.cfg.DirectThreshold {
		res.Direct = true
	} else {
		summaries, err := e.summarize(ctx, doc.DocumentID, text)
		if err != nil {
			return nil, err
		}
		res.ChunkCount = len(summaries)
		source = aggregateContext(summaries)
	}

	var (
		ext *types.ScientificExtraction
		err error
	)
	if e.useSequential(source) {
		res.Strategy = StrategySequential
		ext, err = e.extractSequential(ctx, source)
	} else {
		res.Strategy = StrategySingleShot
		ext, err = e.extractSingleShot(ctx, source)
	}
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"strategy": res.Strategy, "chunks": res.ChunkCount}).Info("extraction pass complete")

	if report := Validate(ext, e.rules); !report.OK() {
		if err := e.repair(ctx, ext, source, report, res); err != nil {
			return nil, err
		}
	}

	Finalize(ext, e.rules)
	ext.Metadata = doc.Metadata
	res.Extraction = ext
	return res, nil
}

// CapText truncates text to max runes and appends the truncation marker.
func CapText(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	return string([]rune(text)[:max]) + types.TruncationMarker
}

func (e *Extractor) useSequential(source string) bool {
	if utf8.RuneCountInString(source) > e.cfg.SequentialThreshold {
		return true
	}
	key := strings.ToLower(e.modelKey)
	for _, m := range e.cfg.SequentialModels {
		if m != "" && strings.Contains(key, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

var chunkSummarySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"chunk_summary":     map[string]any{"type": "string"},
		"background_points": stringList,
		"method_points":     stringList,
		"finding_points":    stringList,
		"statistics":        stringList,
		"limitations":       stringList,
		"citations":         stringList,
		"verbatim_quotes":   stringList,
	},
	"required": []string{"chunk_summary"},
}

var stringList = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

// extractionSchema constrains a reply to the named extraction fields.
// Narratives are strings and citations a string list.
func extractionSchema(fields ...string) map[string]any {
	props := make(map[string]any, len(fields))
	for _, f := range fields {
		if f == types.FieldCitations {
			props[f] = stringList
			continue
		}
		props[f] = map[string]any{"type": "string"}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   fields,
	}
}

var fullExtractionSchema = extractionSchema(types.ExtractionFields...)

// summarize produces one ChunkSummary per chunk, reusing the cache when
// the chunks are unchanged. A chunk that cannot be summarized fails the
// whole extraction.
func (e *Extractor) summarize(ctx context.Context, documentID, text string) ([]types.ChunkSummary, error) {
	chunks := chunk.Split(text, e.cfg.ChunkWindow, e.cfg.ChunkOverlap)
	fp := chunk.Fingerprint(chunks)
	if cached, ok := e.cache.Load(documentID, fp); ok && len(cached) == len(chunks) {
		e.log.WithField("document_id", documentID).Info("reusing cached chunk summaries")
		return cached, nil
	}

	summaries := make([]types.ChunkSummary, 0, len(chunks))
	for i, c := range chunks {
		s, err := e.summarizeChunk(ctx, i+1, len(chunks), c)
		if err != nil {
			return nil, fmt.Errorf("summarizing chunk %d of %d: %w", i+1, len(chunks), err)
		}
		summaries = append(summaries, s)
	}

	if err := e.cache.Store(documentID, fp, summaries); err != nil {
		e.log.WithError(err).Warn("storing chunk summaries")
	}
	return summaries, nil
}

// summarizeChunk retries a summary shorter than ChunkSummaryRule.MinChars
// with a length reminder and keeps the longest reply. An empty summary
// after every attempt is an error; a short one is kept with a warning.
func (e *Extractor) summarizeChunk(ctx context.Context, index, total int, text string) (types.ChunkSummary, error) {
	var (
		best     types.ChunkSummary
		bestLen  int
		reminder string
	)
	for attempt := 1; attempt <= e.cfg.FieldAttempts; attempt++ {
		obj, err := e.gen.GenerateJSON(ctx, llm.Request{
			Tool:         "chunk_summary",
			SystemPrompt: systemPrompt,
			Prompt:       renderChunkPrompt(index, total, text, reminder),
			MaxTokens:    chunkMaxTokens,
			Schema:       chunkSummarySchema,
		}, e.cfg.JSONAttempts)
		if err != nil {
			return types.ChunkSummary{}, err
		}
		s := chunkSummaryFrom(index, obj)
		n := utf8.RuneCountInString(strings.TrimSpace(s.ChunkSummary))
		if n > bestLen || attempt == 1 {
			best, bestLen = s, n
		}
		if bestLen >= ChunkSummaryRule.MinChars {
			return best, nil
		}
		reminder = fmt.Sprintf("Your previous chunk_summary had %d characters. Write at least %d characters of summary this time.", n, ChunkSummaryRule.MinChars)
	}
	if bestLen == 0 {
		return types.ChunkSummary{}, fmt.Errorf("%w: empty chunk_summary", llm.ErrMalformed)
	}
	e.log.WithFields(logrus.Fields{"chunk": index, "chars": bestLen}).Warn("chunk summary below minimum length")
	return best, nil
}

func chunkSummaryFrom(index int, obj map[string]any) types.ChunkSummary {
	clip := func(key string) []string {
		items := listValue(obj[key])
		if len(items) > chunkListItems {
			items = items[:chunkListItems]
		}
		for i, it := range items {
			items[i] = truncateRunes(it, chunkItemChars)
		}
		return items
	}
	return types.ChunkSummary{
		ChunkIndex:       index,
		ChunkSummary:     truncateRunes(narrativeValue(obj["chunk_summary"]), ChunkSummaryRule.MaxChars),
		BackgroundPoints: clip("background_points"),
		MethodPoints:     clip("method_points"),
		FindingPoints:    clip("finding_points"),
		Statistics:       clip("statistics"),
		Limitations:      clip("limitations"),
		Citations:        clip("citations"),
		VerbatimQuotes:   clip("verbatim_quotes"),
	}
}

// extractSingleShot asks for every field at once, up to max_retries+1
// times, merging the best value per field across attempts.
func (e *Extractor) extractSingleShot(ctx context.Context, source string) (*types.ScientificExtraction, error) {
	acc := &types.ScientificExtraction{}
	report := Validate(acc, e.rules)
	for attempt := 1; attempt <= e.cfg.MaxRetries+1; attempt++ {
		obj, err := e.gen.GenerateJSON(ctx, llm.Request{
			Tool:         "scientific_extraction",
			SystemPrompt: systemPrompt,
			Prompt:       renderFullPrompt(source, e.rules, correctiveSuffix(attempt, report, e.rules)),
			MaxTokens:    extractMaxTokens,
			Schema:       fullExtractionSchema,
		}, e.cfg.JSONAttempts)
		if err != nil {
			if llm.IsServiceError(err) {
				return nil, err
			}
			e.log.WithError(err).WithField("attempt", attempt).Warn("single-shot extraction attempt failed")
			continue
		}
		mergeBetter(acc, extractionFrom(obj))
		report = Validate(acc, e.rules)
		if report.OK() {
			break
		}
	}
	return acc, nil
}

// extractSequential asks for one field at a time in a fixed order.
func (e *Extractor) extractSequential(ctx context.Context, source string) (*types.ScientificExtraction, error) {
	acc := &types.ScientificExtraction{}
	for _, field := range types.ExtractionFields {
		rule := e.rules[field]
		reminder := ""
		for attempt := 1; attempt <= e.cfg.FieldAttempts; attempt++ {
			obj, err := e.gen.GenerateJSON(ctx, llm.Request{
				Tool:         "field_extraction",
				SystemPrompt: systemPrompt,
				Prompt:       renderFieldPrompt(source, field, rule, reminder),
				MaxTokens:    fieldMaxTokens,
				Schema:       extractionSchema(field),
			}, e.cfg.JSONAttempts)
			if err != nil {
				if llm.IsServiceError(err) {
					return nil, err
				}
				reminder = fieldReminder(field, rule, 0)
				continue
			}
			candidate := extractionFrom(obj)
			mergeField(acc, candidate, field)
			if fieldState(acc, field, rule) == stateOK {
				break
			}
			reminder = fieldReminder(field, rule, fieldSize(acc, field))
		}
	}
	return acc, nil
}

// mergeBetter copies each field of cand into acc when it improves on it.
func mergeBetter(acc, cand *types.ScientificExtraction) {
	for _, f := range types.ExtractionFields {
		mergeField(acc, cand, f)
	}
}

// mergeField keeps the longer narrative, or the union of citations.
func mergeField(acc, cand *types.ScientificExtraction, field string) {
	if field == types.FieldCitations {
		acc.Citations = NormalizeCitations(append(acc.Citations, cand.Citations...), 0)
		return
	}
	if narrativeLen(field, cand.Narrative(field)) > narrativeLen(field, acc.Narrative(field)) {
		acc.SetNarrative(field, strings.TrimSpace(cand.Narrative(field)))
	}
}

func fieldSize(ext *types.ScientificExtraction, field string) int {
	if field == types.FieldCitations {
		return len(ext.Citations)
	}
	return narrativeLen(field, ext.Narrative(field))
}

// extractionFrom reads whatever known fields obj holds.
func extractionFrom(obj map[string]any) *types.ScientificExtraction {
	ext := &types.ScientificExtraction{}
	if nested, ok := obj["extraction"].(map[string]any); ok {
		obj = nested
	}
	for _, f := range types.ExtractionFields {
		v, ok := obj[f]
		if !ok {
			continue
		}
		if f == types.FieldCitations {
			ext.Citations = listValue(v)
			continue
		}
		ext.SetNarrative(f, narrativeValue(v))
	}
	return ext
}

// narrativeValue coerces a decoded JSON value into prose.
func narrativeValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, it := range t {
			if s := strings.TrimSpace(narrativeValue(it)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		if s, ok := t["text"].(string); ok {
			return s
		}
	}
	return fmt.Sprint(v)
}

// listValue coerces a decoded JSON value into a string list.
func listValue(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, it := range t {
			if s := strings.TrimSpace(narrativeValue(it)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{fmt.Sprint(v)}
}
