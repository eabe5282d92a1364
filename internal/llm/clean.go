// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"regexp"
	"strings"
)

var (
	reThinkBlock      = regexp.MustCompile(`(?is)<think>.*?</think>`)
	reReflectionBlock = regexp.MustCompile(`(?is)<reflection>.*?</reflection>`)
	reDanglingThink   = regexp.MustCompile(`(?is)^.*?</think>`)
	reFinalTag        = regexp.MustCompile(`(?i)</?final>`)
	reCodeFence       = regexp.MustCompile("(?m)^[ \t]*```[A-Za-z0-9_-]*[ \t]*$\n?")
	reConfidenceLine  = regexp.MustCompile(`(?im)^[ \t]*confidence[ \t]*[:=][ \t]*[0-9.]+%?[ \t]*$\n?`)
)

// Clean strips reasoning blocks, final tags, code fences, and standalone
// confidence lines from a model reply. It is applied until the text stops
// changing, so Clean(Clean(s)) == Clean(s).
func Clean(s string) string {
	for {
		next := cleanOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func cleanOnce(s string) string {
	s = reThinkBlock.ReplaceAllString(s, "")
	s = reReflectionBlock.ReplaceAllString(s, "")
	s = reDanglingThink.ReplaceAllString(s, "")
	s = reFinalTag.ReplaceAllString(s, "")
	s = reCodeFence.ReplaceAllString(s, "")
	s = reConfidenceLine.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ExtractJSONObject returns the first JSON object embedded in s. Each '{'
// or '[' is tried as a start position and the balanced span it opens must
// decode as strict JSON; brackets inside string literals are ignored. An
// array is returned directly only when it holds objects; other arrays,
// such as a "[1]" citation marker in a preamble, are kept as a last
// resort behind any later object. Spans nested in a balanced span that
// does not decode are skipped so later stages see the outer span. When no
// span decodes it falls back to the widest span between the first '{' and
// the last '}'. ok is false when s holds no candidate at all.
func ExtractJSONObject(s string) (span string, ok bool) {
	if strings.IndexAny(s, "{[") < 0 {
		return "", false
	}
	firstArray := ""
	// Spans inside a balanced span that failed to decode belong to it.
	enclosed := -1
	for start := 0; start < len(s); start++ {
		if s[start] != '{' && s[start] != '[' {
			continue
		}
		end, balanced := balancedEnd(s, start)
		if !balanced || start <= enclosed {
			continue
		}
		candidate := s[start : end+1]
		v, err := ParseStrict(candidate)
		if err != nil {
			enclosed = end
			continue
		}
		if holdsObjects(v) {
			return candidate, true
		}
		if firstArray == "" {
			firstArray = candidate
		}
		start = end
	}
	if firstArray != "" {
		return firstArray, true
	}
	return fallbackSpan(s)
}

// balancedEnd returns the index of the bracket closing the one at start.
func balancedEnd(s string, start int) (int, bool) {
	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return -1, false
}

// holdsObjects reports whether v is an object or a non-empty array of
// objects.
func holdsObjects(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		return true
	case []any:
		if len(t) == 0 {
			return false
		}
		for _, el := range t {
			if _, ok := el.(map[string]any); !ok {
				return false
			}
		}
		return true
	}
	return false
}

func fallbackSpan(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 {
		return "", false
	}
	if end <= start {
		return s[start:], true
	}
	return s[start : end+1], true
}
