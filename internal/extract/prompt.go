// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/pdiddy/enlitens-kb/pkg/types"
)

const systemPrompt = `You are a scientific extraction system for neuroscience and mental-health research. Report only what the paper says. Never invent statistics, citations or findings. Reply with JSON only.`

var chunkPromptTmpl = template.Must(template.New("chunk").Parse(`Summarize chunk {{.Index}} of {{.Total}} of a research paper.

Return a JSON object with these keys:
- chunk_summary: {{.Min}} to {{.Max}} characters of faithful prose summary
- background_points, method_points, finding_points, statistics, limitations, citations, verbatim_quotes: lists of short strings (at most 12 items each, each under 600 characters)

Use empty lists when the chunk has nothing for a key. Copy numbers and citations exactly.
{{if .Reminder}}
{{.Reminder}}
{{end}}
Chunk text:
{{.Text}}
`))

var fullPromptTmpl = template.Must(template.New("full").Parse(`Extract a structured scientific summary of the following research paper.

Return a JSON object with exactly these keys:
{{range .Fields}}- {{.Name}}: {{.Describe}}
{{end}}
Write narrative fields as plain prose paragraphs. Do not use double quotation marks inside field values.
{{if .Suffix}}
{{.Suffix}}
{{end}}
Paper content:
{{.Context}}
`))

var fieldPromptTmpl = template.Must(template.New("field").Parse(`From the research paper below, write only the "{{.Name}}" section: {{.Describe}}

Return a JSON object with the single key "{{.Name}}".
{{if .Reminder}}
{{.Reminder}}
{{end}}
Paper content:
{{.Context}}
`))

var rescuePromptTmpl = template.Must(template.New("rescue").Parse(`An earlier extraction of this paper left the "{{.Name}}" section {{.Problem}}. Re-read the paper and write that section in full: {{.Describe}}
{{if .Previous}}
The earlier draft was:
{{.Previous}}
{{end}}
Return a JSON object with the single key "{{.Name}}".

Paper content:
{{.Context}}
`))

var fieldDescriptions = map[string]string{
	types.FieldBackground:  "the research problem, prior work and the motivation stated by the authors",
	types.FieldMethods:     "participants, design, measures, procedures and analysis methods",
	types.FieldFindings:    "the main results as reported, including direction and size of effects",
	types.FieldStatistics:  "every reported statistic: sample sizes, effect sizes, p-values, confidence intervals",
	types.FieldLimitations: "limitations acknowledged by the authors and evident from the design",
	types.FieldConclusions: "the authors' conclusions and stated implications",
	types.FieldCitations:   "a list of the key works cited, one reference per item",
}

type fieldSpec struct {
	Name     string
	Describe string
}

func describe(field string, rule FieldRule) string {
	d := fieldDescriptions[field]
	if field == types.FieldCitations {
		return fmt.Sprintf("%s (%d to %d items)", d, rule.MinItems, rule.MaxItems)
	}
	return fmt.Sprintf("%s (%d to %d characters)", d, rule.MinChars, rule.MaxChars)
}

func render(tmpl *template.Template, data any) string {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		// Templates are static and data is always a known struct.
		panic(fmt.Sprintf("rendering %s prompt: %v", tmpl.Name(), err))
	}
	return buf.String()
}

func renderChunkPrompt(index, total int, text, reminder string) string {
	return render(chunkPromptTmpl, struct {
		Index, Total, Min, Max int
		Text, Reminder         string
	}{index, total, ChunkSummaryRule.MinChars, ChunkSummaryRule.MaxChars, text, reminder})
}

func renderFullPrompt(context string, rules RuleSet, suffix string) string {
	specs := make([]fieldSpec, 0, len(types.ExtractionFields))
	for _, f := range types.ExtractionFields {
		specs = append(specs, fieldSpec{Name: f, Describe: describe(f, rules[f])})
	}
	return render(fullPromptTmpl, struct {
		Fields  []fieldSpec
		Suffix  string
		Context string
	}{specs, suffix, context})
}

func renderFieldPrompt(context, field string, rule FieldRule, reminder string) string {
	return render(fieldPromptTmpl, struct {
		Name, Describe, Reminder, Context string
	}{field, describe(field, rule), reminder, context})
}

func renderRescuePrompt(context, field string, rule FieldRule, problem, previous string) string {
	return render(rescuePromptTmpl, struct {
		Name, Describe, Problem, Previous, Context string
	}{field, describe(field, rule), problem, previous, context})
}

// correctiveSuffix escalates in strength with the attempt number.
func correctiveSuffix(attempt int, report Report, rules RuleSet) string {
	if attempt <= 1 || report.OK() {
		return ""
	}
	var parts []string
	for _, f := range report.Missing {
		parts = append(parts, fmt.Sprintf("%s is missing", f))
	}
	for _, f := range report.Shallow {
		r := rules[f]
		if f == types.FieldCitations {
			parts = append(parts, fmt.Sprintf("%s needs at least %d items", f, r.MinItems))
		} else {
			parts = append(parts, fmt.Sprintf("%s needs at least %d characters", f, r.MinChars))
		}
	}
	list := strings.Join(parts, "; ")
	if attempt == 2 {
		return "Your previous answer was incomplete: " + list + ". Expand those fields using the paper content."
	}
	return "IMPORTANT: earlier answers repeatedly failed the length requirements (" + list + "). Every listed field MUST meet its minimum. Write detailed, faithful prose drawn from the paper."
}

// fieldReminder nudges the model after a failed single-field attempt.
func fieldReminder(field string, rule FieldRule, got int) string {
	if field == types.FieldCitations {
		return fmt.Sprintf("Your previous answer listed %d citations. List at least %d distinct references from the paper.", got, rule.MinItems)
	}
	if got == 0 {
		return fmt.Sprintf("Your previous answer did not contain the %q key. Reply with that key only.", field)
	}
	return fmt.Sprintf("Your previous answer had %d characters. Write at least %d characters.", got, rule.MinChars)
}

// aggregateContext renders chunk summaries as one structured text.
func aggregateContext(summaries []types.ChunkSummary) string {
	var b strings.Builder
	for _, s := range summaries {
		fmt.Fprintf(&b, "### Chunk %d\n%s\n", s.ChunkIndex, strings.TrimSpace(s.ChunkSummary))
		writeList(&b, "Background", s.BackgroundPoints)
		writeList(&b, "Methods", s.MethodPoints)
		writeList(&b, "Findings", s.FindingPoints)
		writeList(&b, "Statistics", s.Statistics)
		writeList(&b, "Limitations", s.Limitations)
		writeList(&b, "Citations", s.Citations)
		writeList(&b, "Quotes", s.VerbatimQuotes)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}
