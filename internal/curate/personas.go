// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package curate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pdiddy/enlitens-kb/internal/llm"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

const (
	defaultTopK     = 5
	minTopK         = 5
	maxTopK         = 10
	challengeChars  = 160
	selectionTokens = 2048
)

// catalogSizes and selectionTemps are indexed by attempt - 1; later
// attempts reuse the last value.
var (
	catalogSizes   = []int{30, 25, 20}
	selectionTemps = []float64{0.40, 0.35, 0.30}
)

var personaFileRe = regexp.MustCompile(`(?:persona|profile)_\w+\.json`)

// Persona is one client persona record loaded from disk.
type Persona struct {
	Filename string
	Record   map[string]any

	// text is the lower-cased raw file content, used for scoring.
	text string
}

// LoadPersonas reads every persona_*.json and profile_*.json under dir in
// filename order. Unreadable or invalid files are skipped.
func LoadPersonas(dir string) ([]Persona, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading persona dir: %w", err)
	}
	var out []Persona
	for _, e := range entries {
		if e.IsDir() || !personaFileRe.MatchString(e.Name()) || personaFileRe.FindString(e.Name()) != e.Name() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, Persona{Filename: e.Name(), Record: rec, text: strings.ToLower(string(data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

// NewPersona builds a persona from an in-memory record.
func NewPersona(filename string, rec map[string]any) Persona {
	data, _ := json.Marshal(rec)
	return Persona{Filename: filename, Record: rec, text: strings.ToLower(string(data))}
}

// Field returns the first non-empty value among keys, looking at the top
// level and then inside common nesting objects.
func (p Persona) Field(keys ...string) string {
	scopes := []map[string]any{p.Record}
	for _, nest := range []string{"demographics", "identity", "profile", "clinical"} {
		if m, ok := p.Record[nest].(map[string]any); ok {
			scopes = append(scopes, m)
		}
	}
	for _, scope := range scopes {
		for _, k := range keys {
			if s := flatten(scope[k]); s != "" {
				return s
			}
		}
	}
	return ""
}

// Diagnoses returns the persona's diagnoses, lower-cased.
func (p Persona) Diagnoses() []string {
	return splitList(p.Field("diagnoses", "diagnosis", "conditions"))
}

// Challenges returns the persona's stated challenges.
func (p Persona) Challenges() []string {
	return splitList(p.Field("challenges", "struggles", "pain_points", "stressors"))
}

// CatalogLine is the condensed form shown to the selecting model.
func (p Persona) CatalogLine() string {
	parts := []string{"id=" + p.Filename}
	add := func(label, v string) {
		if v != "" {
			parts = append(parts, label+"="+v)
		}
	}
	add("age", p.Field("age", "age_range"))
	add("gender", p.Field("gender", "gender_identity"))
	add("locality", p.Field("locality", "location", "city", "neighborhood"))
	add("diagnoses", strings.Join(p.Diagnoses(), ", "))
	add("life_stage", p.Field("life_stage", "stage"))
	add("challenges", clip(strings.Join(p.Challenges(), "; "), challengeChars))
	return strings.Join(parts, " | ")
}

func flatten(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, it := range t {
			if s := flatten(it); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	case float64:
		return fmt.Sprintf("%g", t)
	case map[string]any:
		return ""
	}
	return fmt.Sprint(v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' }) {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}

func clampTopK(k int) int {
	switch {
	case k <= 0:
		return defaultTopK
	case k < minTopK:
		return minTopK
	case k > maxTopK:
		return maxTopK
	}
	return k
}

// selection is the outcome of one persona selection step.
type selection struct {
	personas []types.SelectedPersona
	warnings []string
}

var selectTmpl = mustTemplate("select", `Choose exactly {{.TopK}} client personas whose lives this research speaks to.

Paper: {{.Title}}
Mechanisms: {{.Topics}}
Persona themes: {{.Themes}}
Alignment: {{.Confidence}} - {{.Note}}
Entities: {{.Entities}}
{{if .Feedback}}
Reviewer feedback from the previous attempt:
{{.Feedback}}
{{end}}
Treat papers that do not study these clients directly but share a mechanism as valid matches.

Persona catalog:
{{range .Catalog}}- {{.}}
{{end}}
Reply with JSON: {"selected": [{"filename": "<id>", "justification": "<one sentence>"}]}
`)

// selectPersonas asks the model for topK personas and pads any shortfall
// deterministically.
func (c *Curator) selectPersonas(ctx context.Context, in Input, attempt int, fb *Feedback) (selection, error) {
	var sel selection
	if len(c.personas) == 0 {
		sel.warnings = append(sel.warnings, "no personas available")
		return sel, nil
	}
	topK := clampTopK(c.cfg.TopK)
	if topK > len(c.personas) {
		topK = len(c.personas)
	}

	entities := in.Entities.Flatten()
	docTokens := documentTokens(in.Text)
	ranked := rankPersonas(c.personas, entities, docTokens)

	size := pick(catalogSizes, attempt)
	if size > len(ranked) {
		size = len(ranked)
	}
	catalog := make([]string, 0, size)
	for _, r := range ranked[:size] {
		catalog = append(catalog, r.persona.CatalogLine())
	}

	prompt := render(selectTmpl, map[string]any{
		"TopK":       topK,
		"Title":      in.Title,
		"Topics":     orNone(in.Alignment.PrimaryTopics),
		"Themes":     orNone(in.Alignment.RelatedPersonaThemes),
		"Confidence": in.Alignment.AlignmentConfidence,
		"Note":       in.Alignment.AlignmentNote,
		"Entities":   orNone(entities),
		"Feedback":   fb.personaText(),
		"Catalog":    catalog,
	})
	raw, err := c.gen.Generate(ctx, llm.Request{
		Tool:        "persona_selection",
		Prompt:      prompt,
		MaxTokens:   selectionTokens,
		Temperature: llm.Temp(pick(selectionTemps, attempt)),
	})
	if err != nil {
		if llm.IsServiceError(err) {
			return sel, err
		}
		sel.warnings = append(sel.warnings, fmt.Sprintf("persona selection failed: %v", err))
	}

	byName := make(map[string]Persona, len(c.personas))
	for _, p := range c.personas {
		byName[p.Filename] = p
	}
	chosen := map[string]bool{}
	for _, choice := range c.parseSelection(ctx, raw) {
		p, ok := byName[choice.filename]
		if !ok || chosen[p.Filename] {
			continue
		}
		chosen[p.Filename] = true
		sel.personas = append(sel.personas, types.SelectedPersona{
			Filename:      p.Filename,
			Persona:       p.Record,
			SelectionMeta: types.SelectionMeta{LLMSelected: true, Justification: choice.justification},
		})
		if len(sel.personas) == topK {
			break
		}
	}

	if short := topK - len(sel.personas); short > 0 {
		sel.warnings = append(sel.warnings, fmt.Sprintf("persona selection returned %d of %d; padded %d by fallback score", len(sel.personas), topK, short))
		for _, r := range ranked {
			if len(sel.personas) == topK {
				break
			}
			if chosen[r.persona.Filename] {
				continue
			}
			score := r.score
			chosen[r.persona.Filename] = true
			sel.personas = append(sel.personas, types.SelectedPersona{
				Filename:      r.persona.Filename,
				Persona:       r.persona.Record,
				SelectionMeta: types.SelectionMeta{FallbackScore: &score, Justification: "keyword overlap with paper entities"},
			})
		}
	}
	return sel, nil
}

type selectionPick struct {
	filename      string
	justification string
}

// parseSelection reads the model's picks. When the reply does not parse,
// persona filenames are recovered from the raw text.
func (c *Curator) parseSelection(ctx context.Context, raw string) []selectionPick {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	v, _, err := c.parser.Parse(ctx, raw)
	if err == nil {
		if picks := picksFrom(v); namesPersonaFile(picks) {
			return picks
		}
	}
	var picks []selectionPick
	for _, m := range personaFileRe.FindAllString(raw, -1) {
		picks = append(picks, selectionPick{filename: m})
	}
	return picks
}

func picksFrom(v any) []selectionPick {
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case map[string]any:
		for _, k := range []string{"selected", "personas", "selected_personas", "selections"} {
			if list, ok := t[k].([]any); ok {
				items = list
				break
			}
		}
	}
	var out []selectionPick
	for _, it := range items {
		switch p := it.(type) {
		case string:
			out = append(out, selectionPick{filename: strings.TrimSpace(p)})
		case map[string]any:
			name := firstString(p, "filename", "id", "persona", "file")
			if name == "" {
				continue
			}
			out = append(out, selectionPick{filename: name, justification: firstString(p, "justification", "reason", "rationale")})
		}
	}
	return out
}

func namesPersonaFile(picks []selectionPick) bool {
	for _, p := range picks {
		if personaFileRe.MatchString(p.filename) {
			return true
		}
	}
	return false
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func pick[T any](values []T, attempt int) T {
	i := attempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(values) {
		i = len(values) - 1
	}
	return values[i]
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "none identified"
	}
	return strings.Join(items, ", ")
}
