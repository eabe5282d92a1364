// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pdiddy/enlitens-kb/internal/container"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// DefaultDoclingImage is the converter image used when none is configured.
// It reads a PDF on stdin and writes a docling JSON document to stdout.
const DefaultDoclingImage = "ghcr.io/enlitens/docling-json:latest"

// Docling converts PDFs by piping them through the docling container
// image on a container.Runtime.
type Docling struct {
	runtime container.Runtime
	image   string
}

// NewDocling returns a docling extractor. It verifies that the image
// exists locally before returning.
func NewDocling(ctx context.Context, rt container.Runtime, image string) (*Docling, error) {
	if image == "" {
		image = DefaultDoclingImage
	}
	if err := rt.ImageExists(ctx, image); err != nil {
		return nil, fmt.Errorf("docling image not available in %s: %w", rt.Name(), err)
	}
	return &Docling{runtime: rt, image: image}, nil
}

// Method returns the provenance tag.
func (d *Docling) Method() types.ExtractionMethod { return types.MethodDocling }

// Version returns the image reference for entry metadata.
func (d *Docling) Version() string { return d.image }

// Extract pipes the PDF through the container and decodes the result.
func (d *Docling) Extract(ctx context.Context, pdfPath string) (*types.RawDocument, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("opening PDF %s: %w", pdfPath, err)
	}
	defer f.Close()

	var out bytes.Buffer
	if err := d.runtime.Run(ctx, d.image, []string{"--to", "json"}, f, &out); err != nil {
		return nil, fmt.Errorf("converting %s with docling: %w", pdfPath, err)
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("docling produced empty output for %s", pdfPath)
	}
	doc, err := ParseDocling(out.Bytes())
	if err != nil {
		return nil, err
	}
	doc.ConverterVersion = d.image
	return doc, nil
}

// doclingDocument is the subset of the docling JSON export we read.
type doclingDocument struct {
	Name   string `json:"name"`
	Origin struct {
		Filename string `json:"filename"`
	} `json:"origin"`
	Texts    []doclingText     `json:"texts"`
	Tables   []doclingTable    `json:"tables"`
	Pictures []doclingPicture  `json:"pictures"`
	Pages    map[string]any    `json:"pages"`
	Meta     map[string]string `json:"metadata,omitempty"`
}

type doclingProv struct {
	PageNo int `json:"page_no"`
	BBox   struct {
		L float64 `json:"l"`
		T float64 `json:"t"`
		R float64 `json:"r"`
		B float64 `json:"b"`
	} `json:"bbox"`
}

type doclingRef struct {
	Ref string `json:"$ref"`
}

type doclingText struct {
	Label string        `json:"label"`
	Text  string        `json:"text"`
	Prov  []doclingProv `json:"prov"`
}

type doclingTable struct {
	Captions []doclingRef  `json:"captions"`
	Prov     []doclingProv `json:"prov"`
	Data     struct {
		Grid [][]struct {
			Text string `json:"text"`
		} `json:"grid"`
	} `json:"data"`
}

type doclingPicture struct {
	Captions []doclingRef  `json:"captions"`
	Prov     []doclingProv `json:"prov"`
}

// ParseDocling decodes a docling JSON document into a RawDocument.
// Caption references of the form "#/texts/N" are resolved against the
// text items; captions are excluded from the verbatim body.
func ParseDocling(data []byte) (*types.RawDocument, error) {
	var dd doclingDocument
	if err := json.Unmarshal(data, &dd); err != nil {
		return nil, fmt.Errorf("parsing docling output: %w", err)
	}

	captionIdx := map[int]bool{}
	caption := func(refs []doclingRef) string {
		var parts []string
		for _, r := range refs {
			i, ok := textIndex(r.Ref)
			if !ok || i >= len(dd.Texts) {
				continue
			}
			captionIdx[i] = true
			parts = append(parts, strings.TrimSpace(dd.Texts[i].Text))
		}
		return strings.Join(parts, " ")
	}

	doc := &types.RawDocument{Tables: []types.Table{}, Figures: []types.Figure{}}
	for _, t := range dd.Tables {
		tbl := types.Table{Caption: caption(t.Captions), Page: firstPage(t.Prov)}
		for _, row := range t.Data.Grid {
			cells := make([]string, len(row))
			for j, cell := range row {
				cells[j] = strings.TrimSpace(cell.Text)
			}
			tbl.Rows = append(tbl.Rows, cells)
		}
		doc.Tables = append(doc.Tables, tbl)
	}
	for _, p := range dd.Pictures {
		fig := types.Figure{Caption: caption(p.Captions), Page: firstPage(p.Prov)}
		if len(p.Prov) > 0 {
			b := p.Prov[0].BBox
			fig.BBox = []float64{b.L, b.T, b.R, b.B}
		}
		doc.Figures = append(doc.Figures, fig)
	}

	var body strings.Builder
	maxPage := 0
	for i, t := range dd.Texts {
		if p := firstPage(t.Prov); p > maxPage {
			maxPage = p
		}
		text := strings.TrimSpace(t.Text)
		if text == "" || captionIdx[i] || t.Label == "page_header" || t.Label == "page_footer" {
			continue
		}
		if t.Label == "title" && doc.Metadata.Title == "" {
			doc.Metadata.Title = text
		}
		if body.Len() > 0 {
			body.WriteString("\n\n")
		}
		body.WriteString(text)
	}
	doc.VerbatimText = body.String()

	doc.Metadata.PageCount = len(dd.Pages)
	if doc.Metadata.PageCount == 0 {
		doc.Metadata.PageCount = maxPage
	}
	if v := dd.Meta["title"]; v != "" {
		doc.Metadata.Title = v
	}
	if v := dd.Meta["authors"]; v != "" {
		doc.Metadata.Authors = splitAuthors(v)
	}
	if v := dd.Meta["doi"]; v != "" {
		doc.Metadata.DOI = v
	}
	if doc.Metadata.Authors == nil {
		doc.Metadata.Authors = []string{}
	}
	return doc, nil
}

func textIndex(ref string) (int, bool) {
	const prefix = "#/texts/"
	if !strings.HasPrefix(ref, prefix) {
		return 0, false
	}
	i, err := strconv.Atoi(ref[len(prefix):])
	return i, err == nil && i >= 0
}

func firstPage(prov []doclingProv) int {
	if len(prov) == 0 {
		return 0
	}
	return prov[0].PageNo
}

// splitAuthors splits an author string on ";" or "," when no ";" occurs.
func splitAuthors(s string) []string {
	sep := ";"
	if !strings.Contains(s, ";") {
		sep = ","
	}
	var out []string
	for _, a := range strings.Split(s, sep) {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
