// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package server

import (
	"fmt"
	"html"
	"strings"

	"github.com/pdiddy/enlitens-kb/internal/knowledge"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

func title(e *types.KnowledgeEntry) string {
	if t := strings.TrimSpace(e.Metadata.Title); t != "" {
		return t
	}
	return e.DocumentID
}

func htmlTitle(e *types.KnowledgeEntry) string { return html.EscapeString(title(e)) }

// Markdown renders an entry as a Markdown document: a title, a provenance
// list, one heading per searchable section, then warnings.
func Markdown(e *types.KnowledgeEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", oneLine(title(e)))

	fmt.Fprintf(&b, "- Document: `%s`\n", e.DocumentID)
	if len(e.Metadata.Authors) > 0 {
		fmt.Fprintf(&b, "- Authors: %s\n", oneLine(strings.Join(e.Metadata.Authors, ", ")))
	}
	if e.Metadata.ProcessedAt != "" {
		fmt.Fprintf(&b, "- Processed: %s\n", e.Metadata.ProcessedAt)
	}
	if e.ModelKey != "" {
		fmt.Fprintf(&b, "- Model: %s\n", e.ModelKey)
	}
	if len(e.Metadata.Tags) > 0 {
		fmt.Fprintf(&b, "- Tags: %s\n", strings.Join(e.Metadata.Tags, ", "))
	}
	fmt.Fprintf(&b, "- Validation: %s\n", passFail(e.ValidationPassed))
	if e.FactCheck != nil {
		fmt.Fprintf(&b, "- Fact check: %s\n", passFail(e.FactCheck.Supported))
	}
	b.WriteString("\n")

	for _, sec := range knowledge.Sections(e) {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", heading(sec.Name), strings.TrimSpace(sec.Content))
	}

	if len(e.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range e.Warnings {
			fmt.Fprintf(&b, "- %s\n", oneLine(w))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// heading turns a section name such as "clinical.evidence_summary" into
// "Clinical: Evidence summary".
func heading(name string) string {
	prefix := ""
	if rest, ok := strings.CutPrefix(name, "clinical."); ok {
		prefix, name = "Clinical: ", rest
	}
	words := strings.ReplaceAll(name, "_", " ")
	if words == "" {
		return prefix
	}
	return prefix + strings.ToUpper(words[:1]) + words[1:]
}

func passFail(ok bool) string {
	if ok {
		return "passed"
	}
	return "failed"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
