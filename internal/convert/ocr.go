// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdiddy/enlitens-kb/internal/extcli"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// OCR renders pages with pdftoppm and reads them with tesseract.
type OCR struct {
	Render    extcli.Command // pdftoppm
	Recognize extcli.Command // tesseract
	DPI       int
}

// NewOCR returns an OCR extractor using the binaries on PATH.
func NewOCR() *OCR {
	return &OCR{
		Render:    extcli.Command{Name: "pdftoppm"},
		Recognize: extcli.Command{Name: "tesseract"},
		DPI:       300,
	}
}

// Method returns the provenance tag.
func (o *OCR) Method() types.ExtractionMethod { return types.MethodPDFTextOCR }

// Available reports whether both binaries resolve.
func (o *OCR) Available() bool { return o.Render.Available() && o.Recognize.Available() }

// Extract renders every page to PNG in a temp dir and concatenates the
// recognized text in page order.
func (o *OCR) Extract(ctx context.Context, pdfPath string) (*types.RawDocument, error) {
	dir, err := os.MkdirTemp("", "enlitens-ocr-")
	if err != nil {
		return nil, fmt.Errorf("creating OCR workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	dpi := o.DPI
	if dpi <= 0 {
		dpi = 300
	}
	prefix := filepath.Join(dir, "page")
	if _, err := o.Render.Run(ctx, "", "-r", fmt.Sprint(dpi), "-png", pdfPath, prefix); err != nil {
		return nil, fmt.Errorf("rendering pages: %w", err)
	}

	pages, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("pdftoppm rendered no pages for %s", pdfPath)
	}
	sortPages(pages)

	var b strings.Builder
	for _, p := range pages {
		text, err := o.Recognize.Run(ctx, "", p, "stdout")
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if cleaned := cleanPageText(text); cleaned != "" {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(cleaned)
		}
	}
	return &types.RawDocument{
		VerbatimText:     b.String(),
		Tables:           []types.Table{},
		Figures:          []types.Figure{},
		ConverterVersion: "pdftoppm+tesseract",
		Metadata:         types.DocumentMetadata{PageCount: len(pages), Authors: []string{}},
	}, nil
}

// sortPages orders page-N.png files numerically. pdftoppm zero-pads to
// the width of the page count, so lengths differ only across documents.
func sortPages(pages []string) {
	sort.Slice(pages, func(i, j int) bool {
		if len(pages[i]) != len(pages[j]) {
			return len(pages[i]) < len(pages[j])
		}
		return pages[i] < pages[j]
	})
}
