// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// API endpoints. Declared as vars so tests can substitute httptest servers.
var (
	crossrefAPIBase = "https://api.crossref.org/works/"
	semanticAPIBase = "https://api.semanticscholar.org/graph/v1/paper/DOI:"
)

const semanticFields = "title,year,venue,citationCount,influentialCitationCount,externalIds,authors"

// CitationRecord is the stored bibliographic record for one DOI from
// one source.
type CitationRecord struct {
	DOI           string   `json:"doi"`
	Title         string   `json:"title"`
	Venue         string   `json:"venue,omitempty"`
	Year          int      `json:"year,omitempty"`
	Authors       []string `json:"authors,omitempty"`
	CitationCount int      `json:"citation_count,omitempty"`
	Influential   int      `json:"influential_citation_count,omitempty"`
}

// Crossref returns the Crossref record for doi.
func (c *Client) Crossref(ctx context.Context, doi string) (json.RawMessage, error) {
	doi = normalizeDOI(doi)
	if doi == "" {
		return nil, fmt.Errorf("empty DOI")
	}
	return c.lookup(ctx, srcCrossref, doi, crossrefAPIBase+url.PathEscape(doi), func(body []byte) (json.RawMessage, error) {
		var cr crossrefResponse
		if err := json.Unmarshal(body, &cr); err != nil {
			return nil, err
		}
		m := cr.Message
		rec := CitationRecord{DOI: doi}
		if len(m.Title) > 0 {
			rec.Title = m.Title[0]
		}
		if len(m.ContainerTitle) > 0 {
			rec.Venue = m.ContainerTitle[0]
		}
		if len(m.Issued.DateParts) > 0 && len(m.Issued.DateParts[0]) > 0 {
			rec.Year = m.Issued.DateParts[0][0]
		}
		for _, a := range m.Author {
			name := strings.TrimSpace(a.Given + " " + a.Family)
			if name != "" {
				rec.Authors = append(rec.Authors, name)
			}
		}
		rec.CitationCount = m.ReferencedBy
		return json.Marshal(rec)
	})
}

// SemanticScholar returns the Semantic Scholar record for doi.
func (c *Client) SemanticScholar(ctx context.Context, doi string) (json.RawMessage, error) {
	doi = normalizeDOI(doi)
	if doi == "" {
		return nil, fmt.Errorf("empty DOI")
	}
	reqURL := semanticAPIBase + doi + "?" + url.Values{"fields": {semanticFields}}.Encode()
	return c.lookup(ctx, srcSemantic, doi, reqURL, func(body []byte) (json.RawMessage, error) {
		var p semanticPaper
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		rec := CitationRecord{
			DOI:           doi,
			Title:         p.Title,
			Venue:         p.Venue,
			Year:          p.Year,
			CitationCount: p.CitationCount,
			Influential:   p.InfluentialCitationCount,
		}
		for _, a := range p.Authors {
			rec.Authors = append(rec.Authors, a.Name)
		}
		return json.Marshal(rec)
	})
}

// normalizeDOI strips resolver prefixes and lowercases the DOI.
func normalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	for _, p := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "doi:"} {
		if len(doi) >= len(p) && strings.EqualFold(doi[:len(p)], p) {
			doi = doi[len(p):]
		}
	}
	return strings.ToLower(strings.TrimRight(doi, ".,;"))
}

// Crossref API JSON structures.
type crossrefResponse struct {
	Status  string          `json:"status"`
	Message crossrefMessage `json:"message"`
}

type crossrefMessage struct {
	DOI            string   `json:"DOI"`
	Title          []string `json:"title"`
	ContainerTitle []string `json:"container-title"`
	ReferencedBy   int      `json:"is-referenced-by-count"`
	Issued         struct {
		DateParts [][]int `json:"date-parts"`
	} `json:"issued"`
	Author []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
	} `json:"author"`
}

// Semantic Scholar API JSON structures.
type semanticPaper struct {
	PaperID                  string `json:"paperId"`
	Title                    string `json:"title"`
	Venue                    string `json:"venue"`
	Year                     int    `json:"year"`
	CitationCount            int    `json:"citationCount"`
	InfluentialCitationCount int    `json:"influentialCitationCount"`
	Authors                  []struct {
		Name string `json:"name"`
	} `json:"authors"`
}
