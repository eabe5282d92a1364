// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// ExtractionMethod records which structural extractor produced a RawDocument.
// The text-layer and OCR tiers are tagged pymupdf and pymupdf_ocr in the
// ledger.
type ExtractionMethod string

const (
	MethodDocling    ExtractionMethod = "docling"
	MethodPDFText    ExtractionMethod = "pymupdf"
	MethodPDFTextOCR ExtractionMethod = "pymupdf_ocr"
)

// TruncationMarker is appended to verbatim text cut at the character cap.
const TruncationMarker = "\n\n[TRUNCATED: document exceeded 400000 characters]"

// Table is one table recovered from the PDF.
type Table struct {
	Caption string     `json:"caption" yaml:"caption"`
	Rows    [][]string `json:"rows" yaml:"rows"`
	Page    int        `json:"page" yaml:"page"`
}

// Figure is one figure reference recovered from the PDF.
type Figure struct {
	Caption string    `json:"caption" yaml:"caption"`
	Page    int       `json:"page" yaml:"page"`
	BBox    []float64 `json:"bbox,omitempty" yaml:"bbox,omitempty"`
}

// DocumentMetadata holds bibliographic fields read from the PDF.
type DocumentMetadata struct {
	Title     string   `json:"title" yaml:"title"`
	Authors   []string `json:"authors" yaml:"authors"`
	PageCount int      `json:"page_count" yaml:"page_count"`
	Keywords  []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Subjects  []string `json:"subjects,omitempty" yaml:"subjects,omitempty"`
	DOI       string   `json:"doi,omitempty" yaml:"doi,omitempty"`
}

// RawDocument is the structural extraction result for one PDF. It is
// read-only once created.
type RawDocument struct {
	// DocumentID is slug(filename) + "-" + the first 8 hex chars of the checksum.
	DocumentID string `json:"document_id" yaml:"document_id"`

	// VerbatimText is the full text, capped at 400000 characters.
	VerbatimText string `json:"verbatim_text" yaml:"verbatim_text"`

	Tables  []Table  `json:"tables" yaml:"tables"`
	Figures []Figure `json:"figures" yaml:"figures"`

	Metadata DocumentMetadata `json:"metadata" yaml:"metadata"`

	ExtractionMethod ExtractionMethod `json:"extraction_method" yaml:"extraction_method"`

	// ConverterVersion identifies the extractor build (docling image tag,
	// library name for the text path).
	ConverterVersion string `json:"converter_version,omitempty" yaml:"converter_version,omitempty"`

	SourceSHA256 string `json:"source_sha256" yaml:"source_sha256"`
}
