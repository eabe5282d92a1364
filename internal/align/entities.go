// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package align

import (
	"regexp"
	"strings"

	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// dictionary holds the known terms of each entity bucket.
var dictionary = map[string][]string{
	"diagnoses": {
		"adhd", "attention-deficit", "autism", "autistic", "asd", "dyslexia", "dyspraxia",
		"dyscalculia", "tourette", "anxiety", "depression", "ptsd", "ocd", "bipolar",
		"insomnia", "trauma",
	},
	"neurotransmitters": {
		"dopamine", "serotonin", "norepinephrine", "noradrenaline", "gaba", "glutamate",
		"acetylcholine", "oxytocin", "cortisol", "melatonin",
	},
	"brain_regions": {
		"prefrontal cortex", "prefrontal", "amygdala", "hippocampus", "striatum",
		"anterior cingulate", "basal ganglia", "insula", "cerebellum", "thalamus",
		"default mode network", "locus coeruleus",
	},
	"interventions": {
		"cognitive behavioral therapy", "cbt", "mindfulness", "stimulant", "methylphenidate",
		"neurofeedback", "exercise", "medication", "psychotherapy", "coaching",
		"occupational therapy", "sleep hygiene",
	},
	"populations": {
		"adults", "adolescents", "children", "women", "students", "veterans",
		"older adults", "neurodivergent", "parents",
	},
}

var entityPatterns = compileEntityPatterns()

func compileEntityPatterns() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp)
	for _, terms := range dictionary {
		for _, t := range terms {
			out[t] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t) + `\b`)
		}
	}
	return out
}

// ExtractEntities finds dictionary entities in text, bucket by bucket,
// in dictionary order. Buckets with no hits are absent.
func ExtractEntities(text string) types.EntityBuckets {
	buckets := types.EntityBuckets{}
	for _, bucket := range types.EntityBucketNames {
		for _, term := range dictionary[bucket] {
			if entityPatterns[term].MatchString(text) {
				buckets[bucket] = append(buckets[bucket], term)
			}
		}
	}
	return buckets
}

// CountMentions returns how often each term occurs in text, case
// insensitive. Unknown terms are matched literally.
func CountMentions(text string, terms []string) map[string]int {
	out := make(map[string]int, len(terms))
	for _, t := range terms {
		re, ok := entityPatterns[strings.ToLower(t)]
		if !ok {
			re = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t) + `\b`)
		}
		out[t] = len(re.FindAllStringIndex(text, -1))
	}
	return out
}
