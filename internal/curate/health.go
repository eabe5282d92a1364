// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package curate

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/pdiddy/enlitens-kb/internal/align"
	"github.com/pdiddy/enlitens-kb/internal/llm"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

const (
	reportChars    = 8000
	digestChars    = 3000
	minKeyNumbers  = 4
	maxLocalStats  = 5
	statSnippetMax = 240
	healthTokens   = 3072
)

// BriefSections is the fixed section order of a health brief.
var BriefSections = []string{
	"Headline",
	"Mechanism Bridge",
	"Key Numbers",
	"How It Lands",
	"What We Need To Say",
	"Local Solutions vs Gaps",
}

// defaultStatistics is used when the regional report yields no numbers.
var defaultStatistics = []string{
	"About 1 in 5 adults experiences a mental health condition in a given year.",
	"An estimated 4% of adults meet criteria for ADHD, and most were never diagnosed in childhood.",
}

// VoiceGuardrails closes every health brief.
const VoiceGuardrails = "Voice guardrails: speak plainly and warmly, name the brain mechanism before the advice, never blame the client, and keep statistics tied to their source."

var (
	digitRe  = regexp.MustCompile(`\d`)
	bulletRe = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
)

var healthTmpl = mustTemplate("health", `Write a regional health brief that grounds this research in the lives of local clients.

Use exactly these markdown sections, each as a "## " heading:
{{range .Sections}}- {{.}}
{{end}}
"Key Numbers" must hold at least {{.MinNumbers}} bullet points, each with a number taken from the regional report.
"Mechanism Bridge" must connect the paper's mechanisms ({{.Topics}}) to the persona themes ({{.Themes}}).

Paper: {{.Title}}
Alignment: {{.Confidence}} - {{.Note}}

Selected client demographics:
{{.Demographics}}
{{if .Feedback}}
Feedback from the previous attempt:
{{.Feedback}}
{{end}}{{if .Digest}}
Recent digest snapshot:
{{.Digest}}
{{end}}
Regional health report:
{{.Report}}
`)

// synthHealth asks for a health brief and enforces the section layout.
func (c *Curator) synthHealth(ctx context.Context, in Input, personas []types.SelectedPersona, fb *Feedback) (string, []string, error) {
	var warnings []string
	prompt := render(healthTmpl, map[string]any{
		"Sections":     BriefSections,
		"MinNumbers":   minKeyNumbers,
		"Topics":       orNone(in.Alignment.PrimaryTopics),
		"Themes":       orNone(in.Alignment.RelatedPersonaThemes),
		"Title":        in.Title,
		"Confidence":   in.Alignment.AlignmentConfidence,
		"Note":         in.Alignment.AlignmentNote,
		"Demographics": DemographicSummary(personas),
		"Feedback":     fb.healthText(),
		"Digest":       truncate(c.digest, digestChars),
		"Report":       truncate(c.report, reportChars),
	})
	raw, err := c.gen.Generate(ctx, llm.Request{
		Tool:      "health_brief",
		Prompt:    prompt,
		MaxTokens: healthTokens,
		Creative:  true,
	})
	if err != nil {
		if llm.IsServiceError(err) {
			return "", nil, err
		}
		warnings = append(warnings, fmt.Sprintf("health brief generation failed: %v", err))
		raw = ""
	}

	stats := NumericSnippets(c.report, maxLocalStats)
	brief, missing := EnsureSections(raw, sectionFills(in.Alignment, stats))
	if len(missing) > 0 {
		warnings = append(warnings, fmt.Sprintf("health brief missing sections filled: %s", strings.Join(missing, ", ")))
	}

	if len(stats) == 0 {
		stats = defaultStatistics
	}
	var b strings.Builder
	b.WriteString(brief)
	b.WriteString("\n\n## Key Local Statistics\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "- %s\n", s)
	}
	b.WriteString("\n")
	b.WriteString(VoiceGuardrails)
	return Sanitize(b.String()), warnings, nil
}

type section struct {
	title string
	body  string
}

// EnsureSections rebuilds brief in the fixed section order. Missing
// sections take their text from fills; Key Numbers is topped up to the
// minimum bullet count from the Key Numbers fill. It returns the names of
// filled sections.
func EnsureSections(brief string, fills map[string]string) (string, []string) {
	found := map[string]string{}
	for _, s := range parseSections(brief) {
		key := normalizeHeading(s.title)
		if _, dup := found[key]; !dup {
			found[key] = strings.TrimSpace(s.body)
		}
	}

	var (
		b      strings.Builder
		filled []string
	)
	for i, name := range BriefSections {
		body, ok := found[normalizeHeading(name)]
		if !ok || body == "" {
			body = fills[name]
			filled = append(filled, name)
		}
		if name == "Key Numbers" {
			body = topUpNumbers(body, fills[name])
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n%s", name, strings.TrimSpace(body))
	}
	return b.String(), filled
}

// parseSections splits markdown at its headings.
func parseSections(src string) []section {
	source := []byte(src)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	type mark struct {
		title      string
		start, end int
	}
	var marks []mark
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		seg := h.Lines().At(0)
		start := strings.LastIndex(src[:seg.Start], "\n") + 1
		end := strings.Index(src[seg.Stop:], "\n")
		if end < 0 {
			end = len(src)
		} else {
			end += seg.Stop + 1
		}
		marks = append(marks, mark{title: inlineText(h, source), start: start, end: end})
	}

	out := make([]section, 0, len(marks))
	for i, m := range marks {
		stop := len(src)
		if i+1 < len(marks) {
			stop = marks[i+1].start
		}
		body := ""
		if m.end < stop {
			body = src[m.end:stop]
		}
		out = append(out, section{title: m.title, body: body})
	}
	return out
}

func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
			continue
		}
		b.WriteString(inlineText(c, source))
	}
	return b.String()
}

func normalizeHeading(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NumericBullets counts bullet lines that carry a digit.
func NumericBullets(body string) int {
	n := 0
	for _, line := range strings.Split(body, "\n") {
		if bulletRe.MatchString(line) && digitRe.MatchString(bulletRe.ReplaceAllString(line, "")) {
			n++
		}
	}
	return n
}

func topUpNumbers(body, fill string) string {
	have := NumericBullets(body)
	if have >= minKeyNumbers {
		return body
	}
	existing := map[string]bool{}
	for _, line := range strings.Split(body, "\n") {
		existing[strings.TrimSpace(line)] = true
	}
	lines := []string{strings.TrimSpace(body)}
	for _, line := range strings.Split(fill, "\n") {
		if have >= minKeyNumbers {
			break
		}
		line = strings.TrimSpace(line)
		if existing[line] || !bulletRe.MatchString(line) || !digitRe.MatchString(line) {
			continue
		}
		lines = append(lines, line)
		have++
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// NumericSnippets returns up to max report sentences that carry a number,
// in report order.
func NumericSnippets(report string, max int) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range align.Sentences(report, 1<<16) {
		if !digitRe.MatchString(s) || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, clip(s, statSnippetMax))
		if len(out) == max {
			break
		}
	}
	return out
}

func sectionFills(ap types.AlignmentProfile, stats []string) map[string]string {
	numbers := append(append([]string{}, stats...), defaultStatistics...)
	var nb strings.Builder
	for _, s := range numbers {
		fmt.Fprintf(&nb, "- %s\n", s)
	}
	return map[string]string{
		"Headline":                "New research on " + orNone(ap.PrimaryTopics) + " and what it means for local clients.",
		"Mechanism Bridge":        "The paper's mechanisms (" + orNone(ap.PrimaryTopics) + ") connect to " + orNone(ap.RelatedPersonaThemes) + ".",
		"Key Numbers":             nb.String(),
		"How It Lands":            "Clients may recognise these patterns in their own focus, energy and stress.",
		"What We Need To Say":     "Explain the mechanism in plain language before offering any strategy.",
		"Local Solutions vs Gaps": "Local services exist but access and wait times remain uneven.",
	}
}

// DemographicSummary aggregates the selected personas for prompts.
func DemographicSummary(personas []types.SelectedPersona) string {
	if len(personas) == 0 {
		return "No personas selected."
	}
	localities := map[string]int{}
	diagnoses := map[string]int{}
	stages := map[string]int{}
	for _, sp := range personas {
		p := NewPersona(sp.Filename, sp.Persona)
		if l := p.Field("locality", "location", "city", "neighborhood"); l != "" {
			localities[l]++
		}
		for _, d := range p.Diagnoses() {
			diagnoses[d]++
		}
		if s := p.Field("life_stage", "stage"); s != "" {
			stages[s]++
		}
	}
	return fmt.Sprintf("%d personas. Localities: %s. Diagnoses: %s. Life stages: %s.",
		len(personas), tally(localities), tally(diagnoses), tally(stages))
}

func tally(m map[string]int) string {
	if len(m) == 0 {
		return "none recorded"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s (%d)", k, m[k])
	}
	return strings.Join(parts, ", ")
}
