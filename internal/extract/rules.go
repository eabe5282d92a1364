// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"strings"

	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// FieldRule bounds one extracted field. Narrative fields use MinChars and
// MaxChars; the citations list uses MinItems and MaxItems.
type FieldRule struct {
	MinChars int
	MaxChars int
	MinItems int
	MaxItems int
}

// ChunkSummaryRule bounds the prose summary of one chunk.
var ChunkSummaryRule = FieldRule{MinChars: 400, MaxChars: 6000}

// RuleSet maps field name to its rule.
type RuleSet map[string]FieldRule

var defaultRules = RuleSet{
	types.FieldBackground:  {MinChars: 800, MaxChars: 6000},
	types.FieldMethods:     {MinChars: 800, MaxChars: 6000},
	types.FieldFindings:    {MinChars: 800, MaxChars: 6000},
	types.FieldStatistics:  {MinChars: 400, MaxChars: 5000},
	types.FieldLimitations: {MinChars: 400, MaxChars: 4000},
	types.FieldConclusions: {MinChars: 400, MaxChars: 4000},
	types.FieldCitations:   {MinItems: 3, MaxItems: 40},
}

var medgemmaRules = RuleSet{
	types.FieldBackground:  {MinChars: 500, MaxChars: 4000},
	types.FieldMethods:     {MinChars: 500, MaxChars: 4000},
	types.FieldFindings:    {MinChars: 500, MaxChars: 4000},
	types.FieldStatistics:  {MinChars: 250, MaxChars: 3500},
	types.FieldLimitations: {MinChars: 250, MaxChars: 3000},
	types.FieldConclusions: {MinChars: 250, MaxChars: 3000},
	types.FieldCitations:   {MinItems: 2, MaxItems: 25},
}

// RulesFor returns the rule set for a model key. Any key containing
// "medgemma" gets the medgemma rules; everything else gets the defaults.
func RulesFor(modelKey string) RuleSet {
	if strings.Contains(strings.ToLower(modelKey), "medgemma") {
		return medgemmaRules
	}
	return defaultRules
}
