// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package logging configures the process logger: human-readable text on
// stderr and one JSON object per line in the processing log, which the
// diag package analyses.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// DefaultPath is the processing log location.
const DefaultPath = "logs/processing.log"

// Structured fields and events shared by the ingest orchestrator and the
// log analyser.
const (
	FieldEvent      = "event"
	FieldDocumentID = "document_id"
	FieldSeconds    = "seconds"
	FieldStage      = "stage"

	EventDocumentProcessed = "document_processed"
	EventDocumentFailed    = "document_failed"
	EventDocumentSkipped   = "document_skipped"
	EventBatchFinished     = "batch_finished"
)

// New returns a logger writing text to stderr and JSON lines to cfg.Path.
// An empty path disables the file. The returned func closes the file.
func New(cfg types.LogConfig, stderr io.Writer) (*logrus.Logger, func() error, error) {
	log := logrus.New()
	log.SetOutput(stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level := logrus.InfoLevel
	if cfg.Level != "" {
		l, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		level = l
	}
	log.SetLevel(level)

	if cfg.Path == "" {
		return log, func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	log.AddHook(NewFileHook(f))
	return log, f.Close, nil
}

// FileHook writes every entry as JSON to w.
type FileHook struct {
	mu        sync.Mutex
	w         io.Writer
	formatter logrus.Formatter
}

// NewFileHook returns a hook formatting entries with logrus.JSONFormatter.
func NewFileHook(w io.Writer) *FileHook {
	return &FileHook{w: w, formatter: &logrus.JSONFormatter{}}
}

// Levels implements logrus.Hook.
func (h *FileHook) Levels() []logrus.Level { return logrus.AllLevels }

// Fire implements logrus.Hook.
func (h *FileHook) Fire(e *logrus.Entry) error {
	line, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(line)
	return err
}
