// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package curate

import (
	"regexp"
	"sort"
	"strings"
)

// Fallback scoring weights.
const (
	scoreBaseline       = 0.5
	scoreEntityHit      = 2.0
	scoreDiagnosisInDoc = 1.5
	scoreChallengeMatch = 0.75
)

var wordRe = regexp.MustCompile(`[a-z][a-z\-']+`)

type rankedPersona struct {
	persona Persona
	score   float64
}

// FallbackScore scores a persona against document entities and tokens.
// The result depends only on its inputs.
func FallbackScore(p Persona, entities []string, docTokens map[string]bool) float64 {
	score := scoreBaseline
	for _, e := range entities {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" && strings.Contains(p.text, e) {
			score += scoreEntityHit
		}
	}
	for _, d := range p.Diagnoses() {
		for _, w := range wordRe.FindAllString(d, -1) {
			if len(w) > 2 && docTokens[w] {
				score += scoreDiagnosisInDoc
				break
			}
		}
	}
	for _, ch := range p.Challenges() {
		for _, w := range wordRe.FindAllString(ch, -1) {
			if len(w) >= 5 && docTokens[w] {
				score += scoreChallengeMatch
				break
			}
		}
	}
	return score
}

// rankPersonas orders personas by fallback score, highest first, with
// ties broken by filename.
func rankPersonas(personas []Persona, entities []string, docTokens map[string]bool) []rankedPersona {
	out := make([]rankedPersona, len(personas))
	for i, p := range personas {
		out[i] = rankedPersona{persona: p, score: FallbackScore(p, entities, docTokens)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].persona.Filename < out[j].persona.Filename
	})
	return out
}

func documentTokens(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		out[w] = true
	}
	return out
}
