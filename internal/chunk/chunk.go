// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package chunk splits long document text into overlapping windows and
// caches per-chunk summaries keyed by document id.
package chunk

import (
	"unicode"
)

const (
	DefaultWindow  = 2500
	DefaultOverlap = 150

	// boundarySlack is how far back from a window edge a whitespace break
	// is searched for.
	boundarySlack = 200
)

// Split cuts text into windows of at most window runes, each starting
// overlap runes before the previous window ended. Window edges move back
// to the nearest whitespace within a small slack so words stay whole.
// Concatenating the chunks minus their overlaps reproduces text exactly.
func Split(text string, window, overlap int) []string {
	if window <= 0 {
		window = DefaultWindow
	}
	if overlap < 0 || overlap >= window {
		overlap = 0
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= window {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + window
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		end = softBoundary(runes, start, end)
		chunks = append(chunks, string(runes[start:end]))

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// softBoundary moves end back to just after a whitespace rune when one
// exists within boundarySlack, never below the midpoint of the window.
func softBoundary(runes []rune, start, end int) int {
	floor := end - boundarySlack
	if mid := start + (end-start)/2; floor < mid {
		floor = mid
	}
	for i := end; i > floor; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}
