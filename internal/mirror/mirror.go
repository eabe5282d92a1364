// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package mirror copies ledger entries into optional external stores: a
// relational table, a vector collection, a citation graph and an object
// archive. Mirrors are best effort; the JSONL ledger stays the source of
// truth and a mirror failure never fails an ingest.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/enlitens-kb/internal/metrics"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// Mirror receives every entry after it is appended to the ledger.
type Mirror interface {
	Name() string
	Upsert(ctx context.Context, entry *types.KnowledgeEntry) error
	Close() error
}

// Multi fans an entry out to several mirrors.
type Multi struct {
	mirrors []Mirror
	log     logrus.FieldLogger
}

// NewMulti returns a Multi over mirrors. A nil logger uses the standard
// logger.
func NewMulti(log logrus.FieldLogger, mirrors ...Mirror) *Multi {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Multi{mirrors: mirrors, log: log}
}

// Len returns the number of configured mirrors.
func (m *Multi) Len() int {
	if m == nil {
		return 0
	}
	return len(m.mirrors)
}

// Names lists the configured mirrors.
func (m *Multi) Names() []string {
	if m == nil {
		return nil
	}
	names := make([]string, len(m.mirrors))
	for i, mi := range m.mirrors {
		names[i] = mi.Name()
	}
	return names
}

// Upsert writes entry to every mirror. Each failure is logged; the joined
// errors are returned so callers can count them.
func (m *Multi) Upsert(ctx context.Context, entry *types.KnowledgeEntry) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, mi := range m.mirrors {
		if err := mi.Upsert(ctx, entry); err != nil {
			metrics.MirrorWrites.WithLabelValues(mi.Name(), "error").Inc()
			m.log.WithError(err).WithFields(logrus.Fields{
				"mirror":      mi.Name(),
				"document_id": entry.DocumentID,
			}).Warn("mirror upsert failed")
			errs = append(errs, fmt.Errorf("%s: %w", mi.Name(), err))
			continue
		}
		metrics.MirrorWrites.WithLabelValues(mi.Name(), "ok").Inc()
	}
	return errors.Join(errs...)
}

// Close closes every mirror.
func (m *Multi) Close() error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, mi := range m.mirrors {
		if err := mi.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", mi.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// FromConfig connects every enabled mirror. A mirror that cannot connect
// is logged and left out.
func FromConfig(ctx context.Context, cfg types.MirrorConfig, emb Embedder, log logrus.FieldLogger) *Multi {
	if log == nil {
		log = logrus.StandardLogger()
	}
	var mirrors []Mirror
	add := func(name string, mi Mirror, err error) {
		if err != nil {
			log.WithError(err).WithField("mirror", name).Warn("mirror disabled")
			return
		}
		log.WithField("mirror", name).Info("mirror enabled")
		mirrors = append(mirrors, mi)
	}

	if cfg.PostgresEnabled {
		mi, err := NewPostgres(ctx, cfg.PostgresDSN)
		add("postgres", mi, err)
	}
	if cfg.QdrantEnabled {
		mi, err := NewQdrant(ctx, cfg, emb)
		add("qdrant", mi, err)
	}
	if cfg.Neo4jEnabled {
		mi, err := NewNeo4j(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		add("neo4j", mi, err)
	}
	if cfg.S3Enabled {
		mi, err := NewS3(ctx, cfg)
		add("s3", mi, err)
	}
	return NewMulti(log, mirrors...)
}

// summaryText is the text embedded for vector search.
func summaryText(e *types.KnowledgeEntry) string {
	var b strings.Builder
	b.WriteString(e.Metadata.Title)
	if x := e.Extraction; x != nil {
		for _, part := range []string{x.Background, x.Findings, x.Conclusions} {
			if part == "" {
				continue
			}
			b.WriteString("\n\n")
			b.WriteString(part)
		}
	}
	s := strings.TrimSpace(b.String())
	if r := []rune(s); len(r) > maxEmbedChars {
		s = string(r[:maxEmbedChars])
	}
	return s
}

const maxEmbedChars = 8000

// citations returns the references an entry cites: extracted citations in
// order, then enriched DOIs sorted. Keys are lowercased and unique.
func citations(e *types.KnowledgeEntry) []string {
	seen := map[string]bool{}
	var out []string
	add := func(doi string) {
		doi = strings.ToLower(strings.TrimSpace(doi))
		if doi == "" || seen[doi] {
			return
		}
		seen[doi] = true
		out = append(out, doi)
	}
	if e.Extraction != nil {
		for _, c := range e.Extraction.Citations {
			add(c)
		}
	}
	if e.Enrichment != nil {
		dois := make([]string, 0, len(e.Enrichment.Citations))
		for doi := range e.Enrichment.Citations {
			dois = append(dois, doi)
		}
		sort.Strings(dois)
		for _, doi := range dois {
			add(doi)
		}
	}
	return out
}
