// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package verify runs the final judge over an assembled knowledge entry.
// Its verdict is recorded but never blocks persistence.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/enlitens-kb/internal/llm"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

const (
	contextExcerpt = 3000
	outputExcerpt  = 6000
	maxTokens      = 1536
	jsonAttempts   = 2
)

// Generator is the subset of the inference client the verifier uses.
type Generator interface {
	GenerateJSON(ctx context.Context, req llm.Request, maxAttempts int) (map[string]any, error)
}

// Verifier judges assembled agent outputs.
type Verifier struct {
	gen Generator
	log logrus.FieldLogger
}

// New returns a verifier.
func New(gen Generator, log logrus.FieldLogger) *Verifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Verifier{gen: gen, log: log}
}

var promptTmpl = template.Must(template.New("verify").Parse(`You are the final reviewer of a research knowledge entry.

Check that the extraction and clinical translation are faithful to each other, grounded in the curated context, and free of invented statistics. Papers linked to the client personas by mechanism rather than population are acceptable (alignment: {{.Confidence}}).

Reply with JSON: {"status": "pass" or "revise", "warnings": [], "recommendations": []}

Paper: {{.Title}}

Curated context (excerpt):
{{.Context}}

Agent outputs (excerpt):
{{.Outputs}}
`))

// Verify judges entry. A failed call returns revise with a warning.
func (v *Verifier) Verify(ctx context.Context, entry *types.KnowledgeEntry) types.OutputVerification {
	prompt, err := render(entry)
	if err != nil {
		return unavailable(err)
	}
	obj, err := v.gen.GenerateJSON(ctx, llm.Request{
		Tool:        "output_verification",
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: llm.Temp(0.1),
	}, jsonAttempts)
	if err != nil {
		v.log.WithError(err).WithField("document_id", entry.DocumentID).Warn("output verifier unavailable")
		return unavailable(err)
	}
	return From(obj)
}

// From reads a verifier reply. Any status other than pass is revise.
func From(obj map[string]any) types.OutputVerification {
	out := types.OutputVerification{
		Status:          types.StatusRevise,
		Warnings:        list(obj["warnings"]),
		Recommendations: list(obj["recommendations"]),
	}
	if s, _ := obj["status"].(string); strings.EqualFold(strings.TrimSpace(s), string(types.StatusPass)) {
		out.Status = types.StatusPass
	}
	return out
}

func unavailable(err error) types.OutputVerification {
	return types.OutputVerification{
		Status:   types.StatusRevise,
		Warnings: []string{fmt.Sprintf("verifier unavailable: %v", err)},
	}
}

func render(entry *types.KnowledgeEntry) (string, error) {
	outputs, err := json.Marshal(struct {
		Extraction          *types.ScientificExtraction `json:"extraction"`
		ClinicalTranslation *types.ClinicalTranslation  `json:"clinical_translation"`
	}{entry.Extraction, entry.ClinicalTranslation})
	if err != nil {
		return "", fmt.Errorf("marshaling outputs: %w", err)
	}

	var curated, confidence string
	if cc := entry.CuratedContext; cc != nil {
		curated = cc.PersonasText + "\n\n" + cc.HealthBrief
		confidence = string(cc.AlignmentProfile.AlignmentConfidence)
	}
	if entry.AlignmentProfile != nil {
		confidence = string(entry.AlignmentProfile.AlignmentConfidence)
	}

	var buf bytes.Buffer
	err = promptTmpl.Execute(&buf, map[string]string{
		"Confidence": confidence,
		"Title":      entry.Metadata.Title,
		"Context":    excerpt(curated, contextExcerpt),
		"Outputs":    excerpt(string(outputs), outputExcerpt),
	})
	return buf.String(), err
}

func excerpt(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return strings.TrimSpace(string(r[:n])) + " ..."
}

func list(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return []string{strings.TrimSpace(s)}
		}
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s := strings.TrimSpace(fmt.Sprint(it)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
