// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pdiddy/enlitens-kb/internal/llm"
	"github.com/pdiddy/enlitens-kb/internal/usage"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// DefaultFactCheckModel is used when no model is configured.
const DefaultFactCheckModel = "gpt-4o-mini"

// ErrFactCheckSkipped is returned when the daily fact-check cap is reached.
var ErrFactCheckSkipped = errors.New("fact-check daily limit reached")

const (
	factCheckSourceChars = 12000
	factCheckMaxTokens   = 1024
)

// JSONGenerator is the subset of the inference client the fact-check uses.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, req llm.Request, maxAttempts int) (map[string]any, error)
}

// Allower reports whether a tool is under its daily cap.
type Allower interface {
	Allow(tool string) bool
}

// FactCheck compares the extraction against the source text with a second
// model.
type FactCheck struct {
	gen   JSONGenerator
	usage Allower
	model string
}

// NewFactCheck returns a fact-check over gen. A nil usage imposes no cap.
func NewFactCheck(gen JSONGenerator, model string, u Allower) *FactCheck {
	if model == "" {
		model = DefaultFactCheckModel
	}
	return &FactCheck{gen: gen, usage: u, model: model}
}

const factCheckPrompt = `You are fact-checking a structured summary of a research paper against the paper itself.

List every claim in the summary that the source text does not support. Numbers, effect sizes and sample sizes must match exactly.

Reply with JSON: {"supported": true or false, "unsupported_claims": [], "notes": ""}

SUMMARY:
%s

SOURCE TEXT (excerpt):
%s
`

// FactCheck implements FactChecker.
func (f *FactCheck) FactCheck(ctx context.Context, entry *types.KnowledgeEntry) (*types.FactCheck, error) {
	if f.usage != nil && !f.usage.Allow(usage.ToolFactCheck) {
		return nil, ErrFactCheckSkipped
	}
	summary, err := json.MarshalIndent(entry.Extraction, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling extraction: %w", err)
	}
	source := ""
	if entry.Docling != nil {
		source = entry.Docling.VerbatimText
	}
	if r := []rune(source); len(r) > factCheckSourceChars {
		source = string(r[:factCheckSourceChars])
	}

	obj, err := f.gen.GenerateJSON(ctx, llm.Request{
		Tool:        usage.ToolFactCheck,
		Prompt:      fmt.Sprintf(factCheckPrompt, summary, source),
		MaxTokens:   factCheckMaxTokens,
		Temperature: llm.Temp(0),
	}, 2)
	if err != nil {
		return nil, err
	}

	fc := &types.FactCheck{Model: f.model}
	fc.Supported, _ = obj["supported"].(bool)
	fc.Notes, _ = obj["notes"].(string)
	if items, ok := obj["unsupported_claims"].([]any); ok {
		for _, it := range items {
			if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
				fc.UnsupportedClaims = append(fc.UnsupportedClaims, strings.TrimSpace(s))
			}
		}
	}
	if len(fc.UnsupportedClaims) > 0 {
		fc.Supported = false
	}
	return fc, nil
}
