// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdiddy/enlitens-kb/internal/align"
	"github.com/pdiddy/enlitens-kb/internal/extract"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

const maxTags = 12

func alignDocument(raw *types.RawDocument) (types.AlignmentProfile, types.EntityBuckets) {
	return align.Analyze(raw.VerbatimText)
}

func (p *Pipeline) assemble(
	pdfPath string,
	doc Document,
	raw *types.RawDocument,
	alignment types.AlignmentProfile,
	cc *types.CuratedContext,
	enrichment *types.Enrichment,
	res *extract.Result,
	clinical *types.ClinicalTranslation,
) *types.KnowledgeEntry {
	processedAt := p.now().UTC().Format(time.RFC3339)
	entry := &types.KnowledgeEntry{
		DocumentID: doc.ID,
		ModelKey:   p.modelKey,
		Source: types.SourceInfo{
			PDFPath:          pdfPath,
			SHA256:           doc.SHA256,
			OriginalFilename: filepath.Base(pdfPath),
		},
		Metadata: types.EntryMetadata{
			ProcessedAt:    processedAt,
			ModelKey:       p.modelKey,
			DoclingVersion: raw.ConverterVersion,
			Tags:           Tags(raw.Metadata, alignment),
			Checksum:       doc.SHA256,
			Title:          raw.Metadata.Title,
			Authors:        raw.Metadata.Authors,
			PageCount:      raw.Metadata.PageCount,
		},
		Docling:             raw,
		Extraction:          res.Extraction,
		Enrichment:          enrichment,
		AlignmentProfile:    &alignment,
		CuratedContext:      cc,
		ClinicalTranslation: clinical,
		Quality: types.QualityReport{
			Strategy:       res.Strategy,
			ChunkCount:     res.ChunkCount,
			RepairedFields: res.Repaired,
			DegradedFields: res.Degraded,
		},
	}
	if cc != nil {
		v := cc.Verification
		entry.Verification = &v
		entry.Quality.CurationStatus = string(v.FinalStatus)
	}
	for _, f := range res.Degraded {
		entry.Warnings = append(entry.Warnings, fmt.Sprintf("field %s degraded", f))
	}
	entry.ValidationPassed = len(res.Degraded) == 0 && clinical != nil
	return entry
}

// Tags derives up to twelve lowercase tags from PDF keywords, subjects
// and the primary topics of the alignment profile, in that order.
func Tags(md types.DocumentMetadata, alignment types.AlignmentProfile) []string {
	seen := map[string]bool{}
	var out []string
	for _, group := range [][]string{md.Keywords, md.Subjects, alignment.PrimaryTopics} {
		for _, t := range group {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
			if len(out) == maxTags {
				return out
			}
		}
	}
	return out
}

func prefixed(prefix string, items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, prefix+": "+s)
		}
	}
	return out
}

func dedupe(items []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(items))
	for _, s := range items {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
