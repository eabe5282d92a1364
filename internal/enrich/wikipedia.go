// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// wikipediaAPIBase is the REST summary endpoint. Declared as a var so
// tests can substitute an httptest server.
var wikipediaAPIBase = "https://en.wikipedia.org/api/rest_v1/page/summary/"

// WikipediaRecord is the stored summary of one page.
type WikipediaRecord struct {
	Term        string `json:"term"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Extract     string `json:"extract"`
	URL         string `json:"url,omitempty"`
}

type wikiSummary struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// Wikipedia returns the summary record for term. The term must pass
// SanitizeTerm.
func (c *Client) Wikipedia(ctx context.Context, term string) (*WikipediaRecord, error) {
	clean, ok := SanitizeTerm(term)
	if !ok {
		return nil, fmt.Errorf("unusable term %q", term)
	}
	title := url.PathEscape(strings.ReplaceAll(clean, " ", "_"))
	raw, err := c.lookup(ctx, srcWikipedia, strings.ToLower(clean), wikipediaAPIBase+title, func(body []byte) (json.RawMessage, error) {
		var s wikiSummary
		if err := json.Unmarshal(body, &s); err != nil {
			return nil, err
		}
		if strings.TrimSpace(s.Extract) == "" {
			return nil, fmt.Errorf("summary for %q has no extract", clean)
		}
		return json.Marshal(WikipediaRecord{
			Term:        clean,
			Title:       s.Title,
			Description: s.Description,
			Extract:     s.Extract,
			URL:         s.ContentURLs.Desktop.Page,
		})
	})
	if err != nil {
		return nil, err
	}
	var rec WikipediaRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding cached wikipedia record: %w", err)
	}
	return &rec, nil
}

// Define returns a one-paragraph definition of term.
func (c *Client) Define(ctx context.Context, term string) (string, error) {
	rec, err := c.Wikipedia(ctx, term)
	if err != nil {
		return "", err
	}
	return rec.Extract, nil
}
