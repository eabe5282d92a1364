// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ingest runs the batch orchestrator: it walks the input
// directory, deduplicates against the ledger, runs the pipeline for each
// PDF, persists the entry and routes the file to processed/ or failed/.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/enlitens-kb/internal/ledger"
	"github.com/pdiddy/enlitens-kb/internal/logging"
	"github.com/pdiddy/enlitens-kb/internal/metrics"
	"github.com/pdiddy/enlitens-kb/internal/pipeline"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// Processor turns one PDF into a knowledge entry.
type Processor interface {
	Process(ctx context.Context, pdfPath string, doc pipeline.Document) (*types.KnowledgeEntry, error)
}

// Ledger is the subset of the JSONL ledger the orchestrator uses.
type Ledger interface {
	Append(entry *types.KnowledgeEntry) error
	Has(documentID string) bool
	HasChecksum(sha256 string) (string, bool)
}

// Mirror receives a copy of every persisted entry.
type Mirror interface {
	Upsert(ctx context.Context, entry *types.KnowledgeEntry) error
}

// Outcome is the result of one document.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// ItemResult records what happened to one PDF.
type ItemResult struct {
	Path        string
	DocumentID  string
	Outcome     Outcome
	Reason      string
	Destination string
	Seconds     float64
}

// Orchestrator processes PDFs sequentially.
type Orchestrator struct {
	proc   Processor
	ledger Ledger
	mirror Mirror
	cfg    types.IngestConfig
	log    logrus.FieldLogger
	now    func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMirror sets the persistence mirrors.
func WithMirror(m Mirror) Option { return func(o *Orchestrator) { o.mirror = m } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(o *Orchestrator) { o.log = l } }

// New returns an orchestrator.
func New(proc Processor, led Ledger, cfg types.IngestConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		proc:   proc,
		ledger: led,
		cfg:    cfg,
		log:    logrus.StandardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ListPDFs returns the *.pdf files directly under dir in sorted order.
func ListPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading input directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}

// Run processes every PDF in the input directory, up to cfg.Limit. It
// prints one status line per document to w and a summary at the end.
// Per-document failures never stop the batch; only a cancelled context
// or an unreadable input directory return an error.
func (o *Orchestrator) Run(ctx context.Context, w io.Writer) (BatchResult, error) {
	var result BatchResult
	paths, err := ListPDFs(o.cfg.InputDir)
	if err != nil {
		return result, err
	}
	if o.cfg.Limit > 0 && len(paths) > o.cfg.Limit {
		paths = paths[:o.cfg.Limit]
	}
	o.log.WithField("documents", len(paths)).Info("batch started")

	start := o.now()
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			result.WriteSummary(w)
			return result, err
		}
		item := o.IngestFile(ctx, p, w)
		result.add(item)
	}

	o.log.WithFields(logrus.Fields{
		logging.FieldEvent:   logging.EventBatchFinished,
		"processed":          result.Processed,
		"skipped":            result.Skipped,
		"failed":             result.Failed,
		logging.FieldSeconds: o.now().Sub(start).Seconds(),
	}).Info("batch finished")
	result.WriteSummary(w)
	return result, nil
}

// IngestFile processes one PDF. It recovers from panics in the pipeline
// and reports them as failures.
func (o *Orchestrator) IngestFile(ctx context.Context, path string, w io.Writer) (item ItemResult) {
	item = ItemResult{Path: path}
	start := o.now()
	log := o.log.WithField("pdf", filepath.Base(path))

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			log.WithField("stack", string(debug.Stack())).WithError(err).Error("pipeline panicked")
			item = o.fail(item, err, w, log)
		}
		item.Seconds = o.now().Sub(start).Seconds()
		metrics.Documents.WithLabelValues(string(item.Outcome)).Inc()
	}()

	sha, err := Checksum(path)
	if err != nil {
		return o.fail(item, err, w, log)
	}
	item.DocumentID = DocumentID(path, sha)
	log = log.WithField(logging.FieldDocumentID, item.DocumentID)

	if o.cfg.Resume {
		if reason, dup := o.duplicate(item.DocumentID, sha); dup {
			return o.skip(item, reason, w, log)
		}
	}

	fmt.Fprintf(w, "processing: %s (%s)\n", filepath.Base(path), item.DocumentID)
	entry, err := o.proc.Process(ctx, path, pipeline.Document{ID: item.DocumentID, SHA256: sha})
	if err != nil {
		return o.fail(item, err, w, log)
	}
	entry.Processing.Seconds = o.now().Sub(start).Seconds()

	if err := o.ledger.Append(entry); err != nil {
		if errors.Is(err, ledger.ErrDuplicate) {
			reason, _ := o.duplicate(entry.DocumentID, sha)
			if o.ledger.Has(entry.DocumentID) {
				o.upsert(ctx, entry, log)
			}
			return o.skip(item, reason, w, log)
		}
		return o.fail(item, fmt.Errorf("ledger: %w", err), w, log)
	}
	o.upsert(ctx, entry, log)

	dest, err := Route(path, o.cfg.ProcessedDir, o.now())
	if err != nil {
		log.WithError(err).Warn("moving processed PDF failed")
	}
	item.Outcome = OutcomeProcessed
	item.Destination = dest
	secs := o.now().Sub(start).Seconds()
	fmt.Fprintf(w, "processed: %s -> %s (%.1fs)\n", item.DocumentID, dest, secs)
	log.WithFields(logrus.Fields{
		logging.FieldEvent:   logging.EventDocumentProcessed,
		logging.FieldSeconds: secs,
		"validation_passed":  entry.ValidationPassed,
		"warnings":           len(entry.Warnings),
	}).Info("document processed")
	return item
}

func (o *Orchestrator) duplicate(id, sha string) (string, bool) {
	if o.ledger.Has(id) {
		return "already in ledger", true
	}
	if other, ok := o.ledger.HasChecksum(sha); ok {
		return "same checksum as " + other, true
	}
	return "", false
}

func (o *Orchestrator) upsert(ctx context.Context, entry *types.KnowledgeEntry, log logrus.FieldLogger) {
	if o.mirror == nil {
		return
	}
	if err := o.mirror.Upsert(ctx, entry); err != nil {
		log.WithError(err).Warn("mirror upsert incomplete")
	}
}

func (o *Orchestrator) skip(item ItemResult, reason string, w io.Writer, log logrus.FieldLogger) ItemResult {
	item.Outcome = OutcomeSkipped
	item.Reason = reason
	fmt.Fprintf(w, "skipped: %s (%s)\n", filepath.Base(item.Path), reason)
	log.WithField(logging.FieldEvent, logging.EventDocumentSkipped).WithField("reason", reason).Info("document skipped")
	return item
}

func (o *Orchestrator) fail(item ItemResult, err error, w io.Writer, log logrus.FieldLogger) ItemResult {
	item.Outcome = OutcomeFailed
	item.Reason = err.Error()
	fmt.Fprintf(w, "failed:  %s (%v)\n", filepath.Base(item.Path), err)
	log.WithField(logging.FieldEvent, logging.EventDocumentFailed).WithError(err).Error("document failed")

	if _, statErr := os.Stat(item.Path); statErr != nil {
		return item
	}
	dest, rerr := Route(item.Path, o.cfg.FailedDir, o.now())
	if rerr != nil {
		log.WithError(rerr).Warn("moving failed PDF failed")
		return item
	}
	item.Destination = dest
	return item
}

// Checksum returns the hex SHA-256 of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DocumentID is slug(filename) + "-" + the first 8 hex chars of sha.
func DocumentID(path, sha string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if len(sha) > 8 {
		sha = sha[:8]
	}
	return Slug(stem) + "-" + sha
}

const maxSlug = 80

// Slug lowercases s and replaces every run of characters outside
// [a-z0-9] with a single hyphen.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if len(out) > maxSlug {
		out = strings.TrimSuffix(out[:maxSlug], "-")
	}
	if out == "" {
		return "document"
	}
	return out
}
