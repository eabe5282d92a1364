// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package knowledge builds a local full-text index over the JSONL ledger.
// Each entry is split into sections (the extraction narratives and the
// clinical translation fields) stored in SQLite with an FTS5 table. The
// index is derived data: it can be dropped and rebuilt from the ledger.
package knowledge

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/enlitens-kb/internal/ledger"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

const dbFile = "knowledge.db"

// Store manages the knowledge index database.
type Store struct {
	db         *sql.DB
	indexDir   string
	maxResults int
}

// NewStore opens or creates the index at IndexDir/knowledge.db and creates
// the schema if it does not exist.
func NewStore(cfg types.KnowledgeBaseConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.IndexDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	dbPath := filepath.Join(cfg.IndexDir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}

	s := &Store{
		db:         db,
		indexDir:   cfg.IndexDir,
		maxResults: maxResults,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT,
			authors TEXT,
			tags TEXT,
			sha256 TEXT,
			processed_at TEXT,
			validation_passed INTEGER,
			entry TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sections (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			document_id TEXT NOT NULL REFERENCES documents(id),
			section TEXT NOT NULL,
			content TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sections_document_id ON sections(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sections_section ON sections(section)`,
		`CREATE TABLE IF NOT EXISTS indexing_status (
			document_id TEXT PRIMARY KEY,
			digest TEXT
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	// FTS5 virtual table with triggers for sync.
	var ftsExists int
	if err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='sections_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}

	if ftsExists == 0 {
		ftsStatements := []string{
			`CREATE VIRTUAL TABLE sections_fts USING fts5(content, content=sections, content_rowid=rowid)`,
			`CREATE TRIGGER sections_ai AFTER INSERT ON sections BEGIN
				INSERT INTO sections_fts(rowid, content) VALUES (new.rowid, new.content);
			END`,
			`CREATE TRIGGER sections_ad AFTER DELETE ON sections BEGIN
				INSERT INTO sections_fts(sections_fts, rowid, content) VALUES('delete', old.rowid, old.content);
			END`,
			`CREATE TRIGGER sections_au AFTER UPDATE ON sections BEGIN
				INSERT INTO sections_fts(sections_fts, rowid, content) VALUES('delete', old.rowid, old.content);
				INSERT INTO sections_fts(rowid, content) VALUES (new.rowid, new.content);
			END`,
		}
		for _, stmt := range ftsStatements {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("creating FTS infrastructure: %w", err)
			}
		}
	}

	return nil
}

// IndexSummary holds counts from an indexing run.
type IndexSummary struct {
	Indexed int
	Updated int
	Skipped int
	Failed  int
}

// Total returns the number of entries processed.
func (s IndexSummary) Total() int {
	return s.Indexed + s.Updated + s.Skipped + s.Failed
}

// Section is one searchable passage of an entry.
type Section struct {
	Name    string
	Content string
}

// Sections splits an entry into its non-empty searchable passages:
// extraction narratives first, then clinical translation fields prefixed
// with "clinical.".
func Sections(e *types.KnowledgeEntry) []Section {
	var out []Section
	if x := e.Extraction; x != nil {
		for _, f := range types.ExtractionFields {
			if f == types.FieldCitations {
				continue
			}
			if v := x.Narrative(f); v != "" {
				out = append(out, Section{Name: f, Content: v})
			}
		}
	}
	if c := e.ClinicalTranslation; c != nil {
		for _, kv := range []struct{ name, value string }{
			{"interventions", c.Interventions},
			{"protocols", c.Protocols},
			{"assessments", c.Assessments},
			{"contraindications", c.Contraindications},
			{"monitoring", c.Monitoring},
			{"evidence_summary", c.EvidenceSummary},
		} {
			if kv.value != "" {
				out = append(out, Section{Name: "clinical." + kv.name, Content: kv.value})
			}
		}
	}
	return out
}

// Index reads every entry of the ledger at ledgerPath and populates the
// database. Entries whose serialized form is unchanged since the last run
// are skipped. On success it writes export.yaml.
func (s *Store) Index(ctx context.Context, ledgerPath string, w io.Writer) (IndexSummary, error) {
	var summary IndexSummary

	err := ledger.Each(ledgerPath, func(entry *types.KnowledgeEntry) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		id := entry.DocumentID
		body, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", id, err)
			summary.Failed++
			return nil
		}
		sum := sha256.Sum256(body)
		digest := hex.EncodeToString(sum[:])

		var stored string
		err = s.db.QueryRowContext(ctx,
			`SELECT digest FROM indexing_status WHERE document_id = ?`, id,
		).Scan(&stored)
		if err == nil && stored == digest {
			fmt.Fprintf(w, "skipped %s\n", id)
			summary.Skipped++
			return nil
		}
		isUpdate := err == nil

		sections := Sections(entry)
		if err := s.indexEntry(ctx, entry, body, sections, digest); err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", id, err)
			summary.Failed++
			return nil
		}

		if isUpdate {
			fmt.Fprintf(w, "updated %s (%d sections)\n", id, len(sections))
			summary.Updated++
		} else {
			fmt.Fprintf(w, "indexing %s (%d sections)\n", id, len(sections))
			summary.Indexed++
		}
		return nil
	})
	if err != nil {
		return summary, fmt.Errorf("reading ledger %s: %w", ledgerPath, err)
	}

	fmt.Fprintf(w, "\nindexed: %d, updated: %d, skipped: %d, failed: %d\n",
		summary.Indexed, summary.Updated, summary.Skipped, summary.Failed)

	if summary.Indexed > 0 || summary.Updated > 0 {
		if err := s.ExportYAML(ctx, QueryOptions{}); err != nil {
			fmt.Fprintf(w, "warning: export.yaml write failed: %v\n", err)
		}
	}

	return summary, nil
}

func (s *Store) indexEntry(ctx context.Context, e *types.KnowledgeEntry, body []byte, sections []Section, digest string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sections WHERE document_id = ?`, e.DocumentID); err != nil {
		return fmt.Errorf("deleting old sections: %w", err)
	}

	authorsJSON, _ := json.Marshal(e.Metadata.Authors)
	tagsJSON, _ := json.Marshal(e.Metadata.Tags)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, title, authors, tags, sha256, processed_at, validation_passed, entry)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, authors=excluded.authors, tags=excluded.tags,
			sha256=excluded.sha256, processed_at=excluded.processed_at,
			validation_passed=excluded.validation_passed, entry=excluded.entry`,
		e.DocumentID, e.Metadata.Title, string(authorsJSON), string(tagsJSON),
		e.Source.SHA256, e.Metadata.ProcessedAt, e.ValidationPassed, string(body),
	)
	if err != nil {
		return fmt.Errorf("upserting document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sections (id, document_id, section, content) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, sec := range sections {
		if _, err := stmt.ExecContext(ctx, SectionID(e.DocumentID, sec.Name), e.DocumentID, sec.Name, sec.Content); err != nil {
			return fmt.Errorf("inserting section %s: %w", sec.Name, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO indexing_status (document_id, digest) VALUES (?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET digest=excluded.digest`,
		e.DocumentID, digest,
	)
	if err != nil {
		return fmt.Errorf("updating indexing status: %w", err)
	}

	return tx.Commit()
}

// SectionID returns the id of a section row.
func SectionID(documentID, section string) string {
	return documentID + "#" + section
}
