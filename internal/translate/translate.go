// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package translate rewrites a scientific extraction into practitioner
// guidance in the brand voice.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/enlitens-kb/internal/llm"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// MinLongField is the minimum length of interventions, protocols and
// evidence_summary.
const MinLongField = 1000

const (
	defaultMaxRetries = 2
	jsonAttempts      = 3
	maxTokens         = 6144
	voiceExcerpt      = 2000
)

// ErrIncomplete is returned when every attempt left a field empty or too
// brief.
var ErrIncomplete = errors.New("clinical translation incomplete")

// Required lists every key a translation must carry, in prompt order.
var Required = []string{"interventions", "protocols", "assessments", "contraindications", "monitoring", "evidence_summary"}

var longFields = map[string]bool{"interventions": true, "protocols": true, "evidence_summary": true}

// Generator is the subset of the inference client the translator uses.
type Generator interface {
	GenerateStructured(ctx context.Context, req llm.Request, out any, maxRetries int) error
}

// schema constrains a reply to the Required keys as prose strings.
var schema = func() map[string]any {
	props := make(map[string]any, len(Required))
	for _, k := range Required {
		props[k] = map[string]any{"type": "string"}
	}
	return map[string]any{"type": "object", "properties": props, "required": Required}
}()

// Translator runs the clinical translation call.
type Translator struct {
	gen        Generator
	maxRetries int
	log        logrus.FieldLogger
}

// New returns a translator. A negative maxRetries uses the default.
func New(gen Generator, maxRetries int, log logrus.FieldLogger) *Translator {
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Translator{gen: gen, maxRetries: maxRetries, log: log}
}

const systemPrompt = `You translate neuroscience research into practical guidance for clinicians who work with neurodivergent adults. Stay faithful to the evidence. Reply with JSON only.`

var promptTmpl = template.Must(template.New("translate").Parse(`Rewrite the research extraction below as clinical guidance.

Return a JSON object with these keys, each a plain prose string:
- interventions: concrete interventions the findings support (at least {{.Min}} characters)
- protocols: step-by-step protocols a practitioner could follow (at least {{.Min}} characters)
- assessments: assessments or measures relevant to the findings
- contraindications: cautions, contraindications and populations where the evidence does not apply
- monitoring: what to monitor and how often
- evidence_summary: strength and limits of the evidence, citing the statistics (at least {{.Min}} characters)
{{if .Voice}}
Write in this voice:
{{.Voice}}
{{end}}{{if .Suffix}}
{{.Suffix}}
{{end}}
Research extraction:
{{.Extraction}}
`))

// Translate produces a ClinicalTranslation from ext. voice is an optional
// voice guide excerpt. Transport failures are returned as is; any other
// failure after every attempt wraps ErrIncomplete.
func (t *Translator) Translate(ctx context.Context, ext *types.ScientificExtraction, voice string) (*types.ClinicalTranslation, error) {
	payload, err := json.MarshalIndent(ext, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling extraction: %w", err)
	}
	voice = truncate(voice, voiceExcerpt)

	var (
		best    map[string]string
		problem []string
	)
	for attempt := 1; attempt <= t.maxRetries+1; attempt++ {
		var obj map[string]any
		err := t.gen.GenerateStructured(ctx, llm.Request{
			Tool:         "clinical_translation",
			SystemPrompt: systemPrompt,
			Prompt:       render(string(payload), voice, suffix(attempt, problem)),
			MaxTokens:    maxTokens,
			Creative:     true,
			Schema:       schema,
		}, &obj, jsonAttempts)
		if err != nil {
			if llm.IsServiceError(err) {
				return nil, err
			}
			t.log.WithError(err).WithField("attempt", attempt).Warn("clinical translation attempt failed")
			problem = []string{"the reply was not a valid JSON object"}
			continue
		}
		fields := fieldsFrom(obj)
		best = merge(best, fields)
		problem = Problems(best)
		if len(problem) == 0 {
			return toTranslation(best), nil
		}
		t.log.WithFields(logrus.Fields{"attempt": attempt, "problems": problem}).Info("clinical translation too brief")
	}
	return nil, fmt.Errorf("%w: %s", ErrIncomplete, strings.Join(problem, "; "))
}

// Problems lists the validation failures of a translation.
func Problems(fields map[string]string) []string {
	var out []string
	for _, k := range Required {
		v := strings.TrimSpace(fields[k])
		switch {
		case v == "":
			out = append(out, k+" is missing")
		case longFields[k] && utf8.RuneCountInString(v) < MinLongField:
			out = append(out, fmt.Sprintf("%s is too brief (%d of %d characters)", k, utf8.RuneCountInString(v), MinLongField))
		}
	}
	return out
}

func suffix(attempt int, problems []string) string {
	if attempt <= 1 || len(problems) == 0 {
		return ""
	}
	list := strings.Join(problems, "; ")
	if attempt == 2 {
		return "Your previous answer was too brief: " + list + ". Expand every listed field with specific, practical detail."
	}
	return "IMPORTANT: earlier answers were still too brief (" + list + "). Each listed field MUST reach its minimum length. Write full paragraphs."
}

func render(extraction, voice, suffix string) string {
	var buf bytes.Buffer
	err := promptTmpl.Execute(&buf, struct {
		Min                       int
		Voice, Suffix, Extraction string
	}{MinLongField, voice, suffix, extraction})
	if err != nil {
		panic(fmt.Sprintf("rendering translation prompt: %v", err))
	}
	return buf.String()
}

func fieldsFrom(obj map[string]any) map[string]string {
	if nested, ok := obj["clinical_translation"].(map[string]any); ok {
		obj = nested
	}
	out := make(map[string]string, len(Required))
	for _, k := range Required {
		out[k] = strings.TrimSpace(text(obj[k]))
	}
	return out
}

// merge keeps the longer value per key.
func merge(best, cand map[string]string) map[string]string {
	if best == nil {
		return cand
	}
	for k, v := range cand {
		if utf8.RuneCountInString(v) > utf8.RuneCountInString(best[k]) {
			best[k] = v
		}
	}
	return best
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, it := range t {
			if s := strings.TrimSpace(text(it)); s != "" {
				parts = append(parts, "- "+s)
			}
		}
		return strings.Join(parts, "\n")
	}
	return fmt.Sprint(v)
}

func toTranslation(f map[string]string) *types.ClinicalTranslation {
	return &types.ClinicalTranslation{
		Interventions:     f["interventions"],
		Protocols:         f["protocols"],
		Assessments:       f["assessments"],
		Contraindications: f["contraindications"],
		Monitoring:        f["monitoring"],
		EvidenceSummary:   f["evidence_summary"],
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
