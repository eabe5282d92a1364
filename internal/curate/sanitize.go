// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package curate

import (
	"regexp"
	"strings"
	"unicode"
)

// bannedWords maps each banned word to its singular and plural
// replacements.
var bannedWords = map[string][2]string{
	"journey": {"experience", "experiences"},
	"pathway": {"process", "processes"},
	"roadmap": {"plan", "plans"},
}

var bannedRe = regexp.MustCompile(`(?i)\b(journey|pathway|roadmap)(s?)\b`)

// Sanitize replaces banned words, keeping case and plural form.
func Sanitize(s string) string {
	return bannedRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := bannedRe.FindStringSubmatch(m)
		word, plural := sub[1], sub[2]
		forms := bannedWords[strings.ToLower(word)]
		repl := forms[0]
		if plural != "" {
			repl = forms[1]
		}
		switch {
		case len(m) > 1 && strings.ToUpper(m) == m:
			return strings.ToUpper(repl)
		case unicode.IsUpper([]rune(word)[0]):
			r := []rune(repl)
			r[0] = unicode.ToUpper(r[0])
			return string(r)
		}
		return repl
	})
}
