// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// doiRe matches a DOI like 10.1016/j.neuron.2020.01.002.
	doiRe = regexp.MustCompile(`\b(10\.\d{4,9}/[-._;()/:A-Za-z0-9]+)`)

	// bulletRe matches list bullets and numbering at the start of a line.
	bulletRe = regexp.MustCompile(`^\s*(?:[-*•·–]+|\[\d+\]|\d+[.)])\s*`)

	// yearRe matches a 4-digit year.
	yearRe = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
)

// NormalizeCitations splits raw citation strings on newlines and
// semicolons, strips bullets and whitespace, drops case-insensitive
// duplicates and keeps at most maxItems (zero means no cap).
func NormalizeCitations(raw []string, maxItems int) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, r := range raw {
		for _, line := range strings.Split(r, "\n") {
			for _, part := range splitCitationLine(line) {
				c := strings.TrimSpace(bulletRe.ReplaceAllString(part, ""))
				c = strings.TrimRight(c, ",")
				if len(c) < 3 {
					continue
				}
				key := strings.ToLower(c)
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, c)
				if maxItems > 0 && len(out) >= maxItems {
					return out
				}
			}
		}
	}
	return out
}

// splitCitationLine splits on ';' without breaking a DOI that contains one.
func splitCitationLine(line string) []string {
	dois := doiRe.FindAllString(line, -1)
	for i, d := range dois {
		line = strings.Replace(line, d, fmt.Sprintf("\x00%d\x00", i), 1)
	}
	parts := strings.Split(line, ";")
	for i := range parts {
		for j, d := range dois {
			parts[i] = strings.Replace(parts[i], fmt.Sprintf("\x00%d\x00", j), d, 1)
		}
	}
	return parts
}

// ExtractDOIs returns unique DOIs found in texts, in first-seen order,
// with trailing punctuation removed and lower-cased.
func ExtractDOIs(texts ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range texts {
		for _, m := range doiRe.FindAllString(t, -1) {
			doi := strings.ToLower(strings.TrimRight(m, ".,;)"))
			if seen[doi] {
				continue
			}
			seen[doi] = true
			out = append(out, doi)
		}
	}
	return out
}

// extractYear finds the first 4-digit year (19xx or 20xx) in the text.
func extractYear(text string) string {
	m := yearRe.FindStringSubmatch(text)
	if len(m) >= 2 {
		return m[1]
	}
	return ""
}

// CitationYears returns the publication year of each citation that names
// one, keyed by citation.
func CitationYears(citations []string) map[string]string {
	out := make(map[string]string)
	for _, c := range citations {
		if y := extractYear(c); y != "" {
			out[c] = y
		}
	}
	return out
}
