// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package align

import (
	"fmt"
	"strings"

	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// themes maps mechanism keywords to persona themes.
var themes = []struct {
	keyword string
	themes  []string
}{
	{"adhd", []string{"adhd self-regulation", "executive function"}},
	{"autism", []string{"sensory regulation", "social energy management"}},
	{"autistic", []string{"sensory regulation", "social energy management"}},
	{"dopamine", []string{"adhd self-regulation", "motivational scaffolding"}},
	{"prefrontal", []string{"executive function", "adhd self-regulation"}},
	{"executive", []string{"executive function"}},
	{"working", []string{"executive function"}},
	{"reward", []string{"motivational scaffolding"}},
	{"motivation", []string{"motivational scaffolding"}},
	{"amygdala", []string{"emotional regulation", "threat response"}},
	{"anxiety", []string{"emotional regulation", "threat response"}},
	{"cortisol", []string{"stress physiology", "threat response"}},
	{"stress", []string{"stress physiology"}},
	{"trauma", []string{"threat response", "trauma-informed care"}},
	{"ptsd", []string{"threat response", "trauma-informed care"}},
	{"serotonin", []string{"mood regulation"}},
	{"depression", []string{"mood regulation"}},
	{"sleep", []string{"sleep and circadian rhythm"}},
	{"melatonin", []string{"sleep and circadian rhythm"}},
	{"insomnia", []string{"sleep and circadian rhythm"}},
	{"sensory", []string{"sensory regulation"}},
	{"interoception", []string{"sensory regulation", "emotional regulation"}},
	{"insula", []string{"sensory regulation", "emotional regulation"}},
	{"dyslexia", []string{"learning differences"}},
	{"attention", []string{"adhd self-regulation"}},
	{"mindfulness", []string{"emotional regulation"}},
	{"exercise", []string{"stress physiology", "motivational scaffolding"}},
}

// neurodivergent tokens mark a direct match with the client population.
var neurodivergent = map[string]bool{
	"adhd": true, "attention-deficit": true, "autism": true, "autistic": true, "asd": true,
	"dyslexia": true, "dyspraxia": true, "dyscalculia": true, "tourette": true, "neurodivergent": true,
}

// Align maps a profile and entities onto persona themes.
func Align(profile types.DataProfile, entities types.EntityBuckets) types.AlignmentProfile {
	tokens := tokenize(append(append([]string{}, profile.TopTerms...), entities.Flatten()...))

	var (
		topics  []string
		related []string
		seen    = map[string]bool{}
		direct  bool
	)
	for _, tok := range tokens {
		if neurodivergent[tok] {
			direct = true
		}
	}
	for _, th := range themes {
		if !contains(tokens, th.keyword) {
			continue
		}
		topics = append(topics, th.keyword)
		for _, t := range th.themes {
			if !seen[t] {
				seen[t] = true
				related = append(related, t)
			}
		}
	}

	conf := types.AlignmentWeak
	switch {
	case direct:
		conf = types.AlignmentDirect
	case len(related) > 0:
		conf = types.AlignmentAdjacent
	}
	return types.AlignmentProfile{
		PrimaryTopics:        topics,
		RelatedPersonaThemes: related,
		AlignmentNote:        note(conf, topics, related),
		AlignmentConfidence:  conf,
		Profile:              profile,
	}
}

// Analyze profiles text, extracts entities and aligns them.
func Analyze(text string) (types.AlignmentProfile, types.EntityBuckets) {
	entities := ExtractEntities(text)
	return Align(Profile(text), entities), entities
}

func note(conf types.AlignmentConfidence, topics, related []string) string {
	switch conf {
	case types.AlignmentDirect:
		return fmt.Sprintf("Paper studies a neurodivergent population directly; mechanisms (%s) map onto %s.", strings.Join(topics, ", "), strings.Join(related, ", "))
	case types.AlignmentAdjacent:
		return fmt.Sprintf("Paper does not study neurodivergent clients directly, but its mechanisms (%s) bear on %s.", strings.Join(topics, ", "), strings.Join(related, ", "))
	}
	return "No mechanism overlap with persona themes was found; treat persona links as illustrative only."
}

// tokenize lower-cases and splits phrases, keeping order and dropping
// duplicates.
func tokenize(phrases []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range phrases {
		for _, tok := range strings.Fields(strings.ToLower(p)) {
			tok = strings.Trim(tok, ".,;:()'\"")
			if tok != "" && !seen[tok] {
				seen[tok] = true
				out = append(out, tok)
			}
		}
	}
	return out
}

func contains(tokens []string, s string) bool {
	for _, t := range tokens {
		if t == s {
			return true
		}
	}
	return false
}
