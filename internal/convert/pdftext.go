// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"

	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// PDFText reads the PDF text layer with a pure-Go parser. It recovers
// text, page count and the info dictionary title and author, but no
// table structure.
type PDFText struct{}

// Method returns the provenance tag.
func (PDFText) Method() types.ExtractionMethod { return types.MethodPDFText }

// Extract reads every page's plain text. Pages that fail to decode are
// skipped.
func (PDFText) Extract(ctx context.Context, pdfPath string) (*types.RawDocument, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("opening PDF %s: %w", pdfPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", pdfPath, err)
	}

	r, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF reader: %w", err)
	}

	pages := r.NumPage()
	var b strings.Builder
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if cleaned := cleanPageText(text); cleaned != "" {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(cleaned)
		}
	}

	doc := &types.RawDocument{
		VerbatimText:     b.String(),
		Tables:           []types.Table{},
		Figures:          []types.Figure{},
		ConverterVersion: "ledongthuc/pdf",
		Metadata:         types.DocumentMetadata{PageCount: pages, Authors: []string{}},
	}
	if trailer := r.Trailer(); !trailer.IsNull() {
		meta := trailer.Key("Info")
		doc.Metadata.Title = strings.TrimSpace(meta.Key("Title").Text())
		if a := strings.TrimSpace(meta.Key("Author").Text()); a != "" {
			doc.Metadata.Authors = splitAuthors(a)
		}
		if kw := strings.TrimSpace(meta.Key("Keywords").Text()); kw != "" {
			doc.Metadata.Keywords = splitAuthors(kw)
		}
		if s := strings.TrimSpace(meta.Key("Subject").Text()); s != "" {
			doc.Metadata.Subjects = []string{s}
		}
	}
	return doc, nil
}

// cleanPageText removes NUL bytes and collapses runs of horizontal
// whitespace while keeping line breaks.
func cleanPageText(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	var b strings.Builder
	space := false
	for _, r := range text {
		switch {
		case r == '\n':
			b.WriteRune('\n')
			space = false
		case unicode.IsSpace(r):
			if !space {
				b.WriteRune(' ')
				space = true
			}
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(b.String())
}
