// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/enlitens-kb/pkg/types"
)

const (
	maxTermChars = 80
	maxTermWords = 8

	defaultMaxTerms = 8
	defaultMaxDOIs  = 10
)

// SanitizeTerm trims term and reports whether it is fit for a lookup.
// Terms that look like serialized data, run past 80 characters, or span
// more than 8 words are rejected.
func SanitizeTerm(term string) (string, bool) {
	t := strings.Join(strings.Fields(term), " ")
	t = strings.Trim(t, ".,;:")
	if t == "" {
		return "", false
	}
	if strings.ContainsAny(t, "{[") || strings.Contains(t, `":`) {
		return "", false
	}
	if utf8.RuneCountInString(t) > maxTermChars || len(strings.Fields(t)) > maxTermWords {
		return "", false
	}
	return t, true
}

// Enrich looks up terms on Wikipedia and dois on Crossref and Semantic
// Scholar. Failed lookups are logged and leave no record; the result is
// never nil.
func (c *Client) Enrich(ctx context.Context, terms, dois []string) *types.Enrichment {
	out := &types.Enrichment{
		Wikipedia: map[string]json.RawMessage{},
		Citations: map[string]map[string]json.RawMessage{},
	}
	maxTerms := c.cfg.MaxTerms
	if maxTerms <= 0 {
		maxTerms = defaultMaxTerms
	}
	maxDOIs := c.cfg.MaxDOIs
	if maxDOIs <= 0 {
		maxDOIs = defaultMaxDOIs
	}

	seen := map[string]bool{}
	for _, term := range terms {
		if len(out.Wikipedia) >= maxTerms || ctx.Err() != nil {
			break
		}
		clean, ok := SanitizeTerm(term)
		key := strings.ToLower(clean)
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		rec, err := c.Wikipedia(ctx, clean)
		if err != nil {
			c.log.WithFields(logrus.Fields{"source": srcWikipedia.name, "term": clean}).Infof("enrichment lookup failed: %v", err)
			continue
		}
		data, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		out.Wikipedia[key] = data
	}

	seen = map[string]bool{}
	n := 0
	for _, doi := range dois {
		if n >= maxDOIs || ctx.Err() != nil {
			break
		}
		doi = normalizeDOI(doi)
		if doi == "" || seen[doi] {
			continue
		}
		seen[doi] = true
		n++
		records := map[string]json.RawMessage{}
		lookups := []struct {
			name string
			fn   func(context.Context, string) (json.RawMessage, error)
		}{
			{srcCrossref.name, c.Crossref},
			{srcSemantic.name, c.SemanticScholar},
		}
		for _, l := range lookups {
			rec, err := l.fn(ctx, doi)
			if err != nil {
				c.log.WithFields(logrus.Fields{"source": l.name, "doi": doi}).Infof("enrichment lookup failed: %v", err)
				continue
			}
			records[l.name] = rec
		}
		if len(records) > 0 {
			out.Citations[doi] = records
		}
	}
	return out
}
