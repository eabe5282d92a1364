// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package align profiles document text and maps its topics onto the
// persona themes used during curation.
package align

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/pdiddy/enlitens-kb/pkg/types"
)

const (
	topTermCount     = 12
	leadingSentences = 3
	previewChars     = 400
)

var termRe = regexp.MustCompile(`[A-Za-z][A-Za-z\-']{2,}`)

var stopwords = map[string]bool{
	"about": true, "above": true, "after": true, "again": true, "also": true, "among": true,
	"been": true, "before": true, "being": true, "between": true, "both": true, "could": true,
	"does": true, "during": true, "each": true, "from": true, "further": true, "have": true,
	"having": true, "here": true, "however": true, "into": true, "more": true, "most": true,
	"only": true, "other": true, "over": true, "same": true, "should": true, "such": true,
	"than": true, "that": true, "their": true, "them": true, "then": true, "there": true,
	"these": true, "they": true, "this": true, "those": true, "through": true, "under": true,
	"were": true, "what": true, "when": true, "where": true, "which": true, "while": true,
	"will": true, "with": true, "within": true, "without": true, "would": true, "your": true,
	"study": true, "studies": true, "results": true, "using": true, "used": true,
	"et-al": true, "figure": true, "table": true, "participants": true, "analysis": true,
}

// Profile computes a cheap lexical profile of text.
func Profile(text string) types.DataProfile {
	return types.DataProfile{
		WordCount:        len(strings.Fields(text)),
		TopTerms:         TopTerms(text, topTermCount),
		LeadingSentences: Sentences(text, leadingSentences),
		Preview:          preview(text, previewChars),
	}
}

// TopTerms returns the n most frequent content terms of text, lower-cased.
// Ties are broken alphabetically.
func TopTerms(text string, n int) []string {
	counts := make(map[string]int)
	for _, m := range termRe.FindAllString(text, -1) {
		term := strings.ToLower(strings.Trim(m, "-'"))
		if len(term) <= 3 || stopwords[term] {
			continue
		}
		counts[term]++
	}
	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

// Sentences returns up to n leading sentences of text.
func Sentences(text string, n int) []string {
	var out []string
	runes := []rune(strings.Join(strings.Fields(text), " "))
	start := 0
	for i, r := range runes {
		if len(out) == n {
			break
		}
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if len(out) < n {
		if s := strings.TrimSpace(string(runes[min(start, len(runes)):])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func preview(text string, max int) string {
	r := []rune(strings.Join(strings.Fields(text), " "))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max])
}
