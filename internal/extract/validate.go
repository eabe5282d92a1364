// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// placeholderFormat is the sentinel written into a field that could not be
// extracted after every repair step.
const placeholderFormat = "[Content unavailable - extraction failed for %s]"

// Placeholder returns the sentinel for field.
func Placeholder(field string) string {
	return fmt.Sprintf(placeholderFormat, field)
}

// IsPlaceholder reports whether value is the sentinel for field.
func IsPlaceholder(field, value string) bool {
	return value == Placeholder(field)
}

// Report lists fields that fail their rules.
type Report struct {
	Missing []string
	Shallow []string
}

// OK reports whether every field satisfies its rule.
func (r Report) OK() bool { return len(r.Missing) == 0 && len(r.Shallow) == 0 }

// Failing returns missing then shallow fields.
func (r Report) Failing() []string {
	return append(append([]string{}, r.Missing...), r.Shallow...)
}

// Validate checks every field of ext against rules. Placeholders count as
// missing so the repair cascade still gets a chance at them.
func Validate(ext *types.ScientificExtraction, rules RuleSet) Report {
	var r Report
	for _, field := range types.ExtractionFields {
		switch fieldState(ext, field, rules[field]) {
		case stateMissing:
			r.Missing = append(r.Missing, field)
		case stateShallow:
			r.Shallow = append(r.Shallow, field)
		}
	}
	return r
}

type state int

const (
	stateOK state = iota
	stateMissing
	stateShallow
)

func fieldState(ext *types.ScientificExtraction, field string, rule FieldRule) state {
	if field == types.FieldCitations {
		switch {
		case len(ext.Citations) == 0:
			return stateMissing
		case len(ext.Citations) < rule.MinItems:
			return stateShallow
		}
		return stateOK
	}
	v := strings.TrimSpace(ext.Narrative(field))
	switch {
	case v == "" || IsPlaceholder(field, v):
		return stateMissing
	case utf8.RuneCountInString(v) < rule.MinChars:
		return stateShallow
	}
	return stateOK
}

// narrativeLen returns the rune length of a field value, zero for the
// placeholder.
func narrativeLen(field, v string) int {
	if IsPlaceholder(field, v) {
		return 0
	}
	return utf8.RuneCountInString(strings.TrimSpace(v))
}

// Finalize normalizes an extraction in place: narrative quotes, length
// caps and citation cleanup.
func Finalize(ext *types.ScientificExtraction, rules RuleSet) {
	for _, field := range types.ExtractionFields {
		if field == types.FieldCitations {
			continue
		}
		v := ext.Narrative(field)
		if IsPlaceholder(field, v) {
			continue
		}
		v = normalizeQuotes(strings.TrimSpace(v))
		v = truncateRunes(v, rules[field].MaxChars)
		ext.SetNarrative(field, v)
	}
	ext.Citations = NormalizeCitations(ext.Citations, rules[types.FieldCitations].MaxItems)
}

// normalizeQuotes replaces straight double quotes in narrative text so the
// field never carries an unescaped quote into downstream prompts.
func normalizeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, "'")
}

// truncateRunes cuts s to at most max runes, backing up to a word
// boundary when one exists in the last tenth.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := max
	for i := max; i > max-max/10 && i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimSpace(string(runes[:cut]))
}
