// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// ErrNotFound is returned when a document is not in the index.
var ErrNotFound = errors.New("document not found")

// QueryOptions holds parameters for index queries.
type QueryOptions struct {
	// Query is the FTS5 full-text search string.
	Query string

	// Section filters by section name (e.g. "findings", "clinical.protocols").
	Section string

	// Tags filters by one or more document tags with AND semantics.
	Tags []string

	// DocumentID filters by document.
	DocumentID string

	// MaxResults limits result count. Zero uses the store default.
	MaxResults int
}

// IsEmpty reports whether the query has no search terms or filters.
func (q QueryOptions) IsEmpty() bool {
	return q.Query == "" && q.Section == "" && len(q.Tags) == 0 && q.DocumentID == ""
}

// QueryResult is one section with its document metadata.
type QueryResult struct {
	ID         string   `json:"id" yaml:"id"`
	DocumentID string   `json:"document_id" yaml:"document_id"`
	Section    string   `json:"section" yaml:"section"`
	Content    string   `json:"content" yaml:"content"`
	Title      string   `json:"title" yaml:"title"`
	Authors    []string `json:"authors" yaml:"authors"`
	Tags       []string `json:"tags" yaml:"tags"`
}

// Retrieve queries the index with optional full-text search and
// structured filters. Full-text results are ranked by relevance;
// structured-only results are sorted by document and section.
func (s *Store) Retrieve(ctx context.Context, opts QueryOptions) ([]QueryResult, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = s.maxResults
	}

	var (
		qb     strings.Builder
		args   []any
		useFTS = opts.Query != ""
	)

	if useFTS {
		qb.WriteString(
			`SELECT sec.id, sec.document_id, sec.section, sec.content,
				d.title, d.authors, d.tags, sections_fts.rank
			FROM sections_fts
			JOIN sections sec ON sec.rowid = sections_fts.rowid
			LEFT JOIN documents d ON sec.document_id = d.id
			WHERE sections_fts MATCH ?`)
		args = append(args, opts.Query)
	} else {
		qb.WriteString(
			`SELECT sec.id, sec.document_id, sec.section, sec.content,
				d.title, d.authors, d.tags, 0 AS rank
			FROM sections sec
			LEFT JOIN documents d ON sec.document_id = d.id
			WHERE 1=1`)
	}

	if opts.Section != "" {
		qb.WriteString(` AND sec.section = ?`)
		args = append(args, opts.Section)
	}

	if opts.DocumentID != "" {
		qb.WriteString(` AND sec.document_id = ?`)
		args = append(args, opts.DocumentID)
	}

	for _, tag := range opts.Tags {
		qb.WriteString(` AND EXISTS (SELECT 1 FROM json_each(d.tags) WHERE value = ?)`)
		args = append(args, tag)
	}

	if useFTS {
		qb.WriteString(` ORDER BY sections_fts.rank`)
	} else {
		qb.WriteString(` ORDER BY sec.document_id, sec.rowid`)
	}

	qb.WriteString(` LIMIT ?`)
	args = append(args, maxResults)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge index: %w", err)
	}
	defer rows.Close()

	var results []QueryResult
	for rows.Next() {
		var (
			qr          QueryResult
			title       sql.NullString
			authorsJSON sql.NullString
			tagsJSON    sql.NullString
			rank        float64
		)

		if err := rows.Scan(
			&qr.ID, &qr.DocumentID, &qr.Section, &qr.Content,
			&title, &authorsJSON, &tagsJSON, &rank,
		); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		if title.Valid {
			qr.Title = title.String
		}
		if authorsJSON.Valid {
			json.Unmarshal([]byte(authorsJSON.String), &qr.Authors)
		}
		if tagsJSON.Valid {
			json.Unmarshal([]byte(tagsJSON.String), &qr.Tags)
		}

		results = append(results, qr)
	}

	return results, rows.Err()
}

// DocumentSummary is one row of the documents listing.
type DocumentSummary struct {
	ID               string   `json:"id" yaml:"id"`
	Title            string   `json:"title" yaml:"title"`
	Tags             []string `json:"tags" yaml:"tags"`
	ProcessedAt      string   `json:"processed_at" yaml:"processed_at"`
	ValidationPassed bool     `json:"validation_passed" yaml:"validation_passed"`
}

// Documents lists indexed documents by id. A limit of zero uses the store
// default.
func (s *Store) Documents(ctx context.Context, limit int) ([]DocumentSummary, error) {
	if limit <= 0 {
		limit = s.maxResults
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, tags, processed_at, validation_passed FROM documents ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentSummary
	for rows.Next() {
		var (
			d        DocumentSummary
			title    sql.NullString
			tagsJSON sql.NullString
			at       sql.NullString
		)
		if err := rows.Scan(&d.ID, &title, &tagsJSON, &at, &d.ValidationPassed); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		d.Title = title.String
		d.ProcessedAt = at.String
		if tagsJSON.Valid {
			json.Unmarshal([]byte(tagsJSON.String), &d.Tags)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Entry returns the full indexed entry for documentID.
func (s *Store) Entry(ctx context.Context, documentID string) (*types.KnowledgeEntry, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT entry FROM documents WHERE id = ?`, documentID,
	).Scan(&body)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", documentID, ErrNotFound)
		}
		return nil, fmt.Errorf("looking up document: %w", err)
	}

	var e types.KnowledgeEntry
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", documentID, err)
	}
	return &e, nil
}
