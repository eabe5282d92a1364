// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package curate

import (
	"fmt"
	"strings"

	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// BridgeBlock connects the paper's mechanisms to each persona's
// stressors in a fixed layout.
func BridgeBlock(ap types.AlignmentProfile, personas []types.SelectedPersona) string {
	var b strings.Builder
	b.WriteString("MECHANISM BRIDGE\n")
	fmt.Fprintf(&b, "Paper mechanisms: %s\n", orNone(ap.PrimaryTopics))
	fmt.Fprintf(&b, "Persona themes: %s\n", orNone(ap.RelatedPersonaThemes))
	fmt.Fprintf(&b, "Alignment: %s", ap.AlignmentConfidence)
	if ap.AlignmentNote != "" {
		fmt.Fprintf(&b, " - %s", ap.AlignmentNote)
	}
	b.WriteString("\n")
	mechanism := "the mechanisms in this paper"
	if len(ap.PrimaryTopics) > 0 {
		mechanism = strings.Join(ap.PrimaryTopics, ", ")
	}
	for _, sp := range personas {
		stressor := "their day-to-day stressors"
		if ch := NewPersona(sp.Filename, sp.Persona).Challenges(); len(ch) > 0 {
			stressor = clip(ch[0], challengeChars)
		}
		fmt.Fprintf(&b, "- %s: %s helps explain %s.\n", sp.Filename, mechanism, stressor)
	}
	return strings.TrimRight(b.String(), "\n")
}

// PersonasText renders the bridge block followed by one section per
// selected persona.
func PersonasText(ap types.AlignmentProfile, personas []types.SelectedPersona) string {
	var b strings.Builder
	b.WriteString(BridgeBlock(ap, personas))
	for _, sp := range personas {
		p := NewPersona(sp.Filename, sp.Persona)
		fmt.Fprintf(&b, "\n\n### %s\n%s", sp.Filename, p.CatalogLine())
		if sp.SelectionMeta.Justification != "" {
			fmt.Fprintf(&b, "\nWhy selected: %s", sp.SelectionMeta.Justification)
		}
	}
	return Sanitize(b.String())
}
