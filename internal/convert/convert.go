// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package convert turns a PDF into a RawDocument through a chain of
// extractors: the docling converter in a container, a pure-Go text layer
// reader, and OCR over rendered pages when the text layer is too thin.
// Results are cached by document id.
package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/enlitens-kb/internal/metrics"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// MaxVerbatimChars caps the stored verbatim text.
const MaxVerbatimChars = 400000

const defaultOCRMinChars = 1000

// ErrAllMethodsFailed is returned when no extractor produced text.
var ErrAllMethodsFailed = errors.New("all structural extraction methods failed")

// Extractor produces a structural document from one PDF. Implementations
// fill text, tables, figures and metadata; the Converter sets identity
// and provenance fields.
type Extractor interface {
	Method() types.ExtractionMethod
	Extract(ctx context.Context, pdfPath string) (*types.RawDocument, error)
}

// Converter runs the extractor chain with an on-disk cache.
type Converter struct {
	primary Extractor
	text    Extractor
	ocr     Extractor
	cfg     types.ConvertConfig
	log     logrus.FieldLogger
	now     func() time.Time
}

// Option configures a Converter.
type Option func(*Converter)

// WithPrimary sets the full-fidelity extractor (docling).
func WithPrimary(e Extractor) Option { return func(c *Converter) { c.primary = e } }

// WithText sets the text layer extractor.
func WithText(e Extractor) Option { return func(c *Converter) { c.text = e } }

// WithOCR sets the OCR extractor.
func WithOCR(e Extractor) Option { return func(c *Converter) { c.ocr = e } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(c *Converter) { c.log = l } }

// New returns a Converter. Without options it uses only the text layer
// extractor.
func New(cfg types.ConvertConfig, opts ...Option) *Converter {
	if cfg.OCRMinChars <= 0 {
		cfg.OCRMinChars = defaultOCRMinChars
	}
	c := &Converter{
		text: &PDFText{},
		cfg:  cfg,
		log:  logrus.StandardLogger(),
		now:  time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Convert returns the RawDocument for pdfPath, from cache unless the
// converter was configured with Force.
func (c *Converter) Convert(ctx context.Context, pdfPath, documentID, sha256 string) (*types.RawDocument, error) {
	log := c.log.WithFields(logrus.Fields{"document_id": documentID, "pdf": filepath.Base(pdfPath)})
	if !c.cfg.Force {
		if doc, ok := c.load(documentID, sha256); ok {
			log.WithField("method", doc.ExtractionMethod).Debug("structural extraction cache hit")
			return doc, nil
		}
	}

	start := c.now()
	doc, err := c.extract(ctx, pdfPath, log)
	metrics.StageDuration.WithLabelValues("structural_extraction").Observe(c.now().Sub(start).Seconds())
	if err != nil {
		return nil, err
	}
	doc.DocumentID = documentID
	doc.SourceSHA256 = sha256
	doc.VerbatimText = CapVerbatim(doc.VerbatimText)
	if doc.Tables == nil {
		doc.Tables = []types.Table{}
	}
	if doc.Figures == nil {
		doc.Figures = []types.Figure{}
	}
	if doc.Metadata.Authors == nil {
		doc.Metadata.Authors = []string{}
	}

	if err := c.store(doc); err != nil {
		log.WithError(err).Warn("structural extraction cache write failed")
	}
	log.WithFields(logrus.Fields{"method": doc.ExtractionMethod, "chars": utf8.RuneCountInString(doc.VerbatimText)}).Info("structural extraction complete")
	return doc, nil
}

func (c *Converter) extract(ctx context.Context, pdfPath string, log logrus.FieldLogger) (*types.RawDocument, error) {
	var errs []error
	if c.primary != nil && !c.cfg.DisableDocling {
		doc, err := c.primary.Extract(ctx, pdfPath)
		if err == nil && strings.TrimSpace(doc.VerbatimText) != "" {
			doc.ExtractionMethod = c.primary.Method()
			return doc, nil
		}
		if err == nil {
			err = errors.New("no text")
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.WithError(err).Warn("docling extraction failed, falling back to text layer")
		errs = append(errs, fmt.Errorf("%s: %w", c.primary.Method(), err))
	}

	var textDoc *types.RawDocument
	if c.text != nil {
		doc, err := c.text.Extract(ctx, pdfPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.text.Method(), err))
		} else {
			doc.ExtractionMethod = c.text.Method()
			textDoc = doc
		}
	}

	if textDoc == nil || utf8.RuneCountInString(strings.TrimSpace(textDoc.VerbatimText)) < c.cfg.OCRMinChars {
		if c.ocr != nil {
			doc, err := c.ocr.Extract(ctx, pdfPath)
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("%s: %w", c.ocr.Method(), err))
			case textDoc == nil || len(doc.VerbatimText) > len(textDoc.VerbatimText):
				doc.ExtractionMethod = c.ocr.Method()
				if textDoc != nil && doc.Metadata.Title == "" {
					doc.Metadata = textDoc.Metadata
				}
				textDoc = doc
			}
		}
	}

	if textDoc == nil || strings.TrimSpace(textDoc.VerbatimText) == "" {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w", pdfPath, errors.Join(append([]error{ErrAllMethodsFailed}, errs...)...))
	}
	return textDoc, nil
}

// CapVerbatim truncates text to MaxVerbatimChars and appends the
// truncation marker.
func CapVerbatim(text string) string {
	if utf8.RuneCountInString(text) <= MaxVerbatimChars {
		return text
	}
	r := []rune(text)
	return string(r[:MaxVerbatimChars]) + types.TruncationMarker
}

func (c *Converter) path(documentID string) string {
	return filepath.Join(c.cfg.CacheDir, documentID+".json")
}

func (c *Converter) load(documentID, sha256 string) (*types.RawDocument, bool) {
	if c.cfg.CacheDir == "" {
		return nil, false
	}
	data, err := os.ReadFile(c.path(documentID))
	if err != nil {
		return nil, false
	}
	var doc types.RawDocument
	if err := json.Unmarshal(data, &doc); err != nil || doc.VerbatimText == "" {
		return nil, false
	}
	if sha256 != "" && doc.SourceSHA256 != sha256 {
		return nil, false
	}
	return &doc, true
}

func (c *Converter) store(doc *types.RawDocument) error {
	if c.cfg.CacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.cfg.CacheDir, 0o755); err != nil {
		return fmt.Errorf("creating extraction cache: %w", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling raw document: %w", err)
	}
	tmp := c.path(doc.DocumentID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing extraction cache: %w", err)
	}
	return os.Rename(tmp, c.path(doc.DocumentID))
}
