// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/enlitens-kb/internal/ledger"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// --- test helpers ---

func testSetup(t *testing.T) (*Store, string) {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := types.KnowledgeBaseConfig{
		IndexDir:   filepath.Join(tmpDir, "index"),
		MaxResults: 20,
	}
	store, err := NewStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	return store, tmpDir
}

func sampleEntry(id string) *types.KnowledgeEntry {
	return &types.KnowledgeEntry{
		DocumentID: id,
		Source:     types.SourceInfo{SHA256: "sha-" + id},
		Metadata: types.EntryMetadata{
			Title:   "Dopamine and Attention in Adolescents",
			Authors: []string{"Smith, J.", "Doe, A."},
			Tags:    []string{"adhd", "dopamine"},
		},
		Extraction: &types.ScientificExtraction{
			Background:  "Dopamine signalling in the prefrontal cortex shapes sustained attention.",
			Methods:     "A cohort of 212 adolescents completed a continuous performance task.",
			Findings:    "Lower striatal dopamine predicted more omission errors.",
			Statistics:  "r = -0.41, p < 0.001",
			Limitations: "Cross-sectional design.",
			Conclusions: "Attention deficits track dopamine availability.",
			Citations:   []string{"Volkow 2009"},
		},
		ClinicalTranslation: &types.ClinicalTranslation{
			Interventions:   "Structured movement breaks before focused work.",
			EvidenceSummary: "Moderate evidence from one cohort.",
		},
		ValidationPassed: true,
	}
}

func writeLedger(t *testing.T, path string, entries ...*types.KnowledgeEntry) {
	t.Helper()
	var b strings.Builder
	for _, e := range entries {
		line, err := ledger.Canonical(e)
		if err != nil {
			t.Fatal(err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
}

// indexHelper writes a ledger with one entry per id and indexes it.
func indexHelper(t *testing.T, store *Store, tmpDir string, ids ...string) string {
	t.Helper()
	path := filepath.Join(tmpDir, "knowledge_base.jsonl")
	var entries []*types.KnowledgeEntry
	for _, id := range ids {
		entries = append(entries, sampleEntry(id))
	}
	writeLedger(t, path, entries...)
	var buf strings.Builder
	if _, err := store.Index(context.Background(), path, &buf); err != nil {
		t.Fatal(err)
	}
	return path
}

// --- schema tests ---

func TestNewStoreCreatesSchema(t *testing.T) {
	store, _ := testSetup(t)

	tables := []string{"documents", "sections", "sections_fts", "indexing_status"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRow(
			`SELECT count(*) FROM sqlite_master WHERE type IN ('table','view') AND name = ?`, table,
		).Scan(&count)
		if err != nil {
			t.Fatalf("checking table %s: %v", table, err)
		}
		if count == 0 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestNewStoreCreatesDBFile(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "index", dbFile)

	store, err := NewStore(types.KnowledgeBaseConfig{IndexDir: filepath.Join(tmpDir, "index")})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("database file not created at %s", dbPath)
	}
	if store.maxResults != 20 {
		t.Errorf("maxResults = %d, want default 20", store.maxResults)
	}
}

// --- section tests ---

func TestSections(t *testing.T) {
	secs := Sections(sampleEntry("doc"))
	var names []string
	for _, s := range secs {
		names = append(names, s.Name)
	}
	want := "background,methods,findings,statistics,limitations,conclusions,clinical.interventions,clinical.evidence_summary"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("sections = %s, want %s", got, want)
	}

	if got := Sections(&types.KnowledgeEntry{DocumentID: "empty"}); len(got) != 0 {
		t.Errorf("empty entry gave %d sections", len(got))
	}
}

// --- index tests ---

func TestIndex(t *testing.T) {
	tests := []struct {
		name        string
		docs        int
		wantIndexed int
	}{
		{"single document", 1, 1},
		{"multiple documents", 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, tmpDir := testSetup(t)
			path := filepath.Join(tmpDir, "kb.jsonl")

			var entries []*types.KnowledgeEntry
			for i := 0; i < tt.docs; i++ {
				entries = append(entries, sampleEntry(fmt.Sprintf("doc-%d", i)))
			}
			writeLedger(t, path, entries...)

			var buf strings.Builder
			summary, err := store.Index(context.Background(), path, &buf)
			if err != nil {
				t.Fatalf("Index: %v", err)
			}
			if summary.Indexed != tt.wantIndexed {
				t.Errorf("Indexed = %d, want %d", summary.Indexed, tt.wantIndexed)
			}
			if summary.Failed != 0 {
				t.Errorf("Failed = %d, want 0; output: %s", summary.Failed, buf.String())
			}
			if summary.Total() != tt.docs {
				t.Errorf("Total = %d, want %d", summary.Total(), tt.docs)
			}
		})
	}
}

func TestIndexMissingLedger(t *testing.T) {
	store, tmpDir := testSetup(t)
	var buf strings.Builder
	if _, err := store.Index(context.Background(), filepath.Join(tmpDir, "nope.jsonl"), &buf); err == nil {
		t.Error("expected error for a missing ledger")
	}
}

func TestIndexSkipsUnchanged(t *testing.T) {
	store, tmpDir := testSetup(t)
	path := indexHelper(t, store, tmpDir, "skip-doc")

	var buf strings.Builder
	summary, err := store.Index(context.Background(), path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Skipped != 1 || summary.Indexed != 0 {
		t.Errorf("summary = %+v, want 1 skipped", summary)
	}
	if !strings.Contains(buf.String(), "skipped skip-doc") {
		t.Errorf("output missing skip line: %s", buf.String())
	}
}

func TestIndexUpdatesChanged(t *testing.T) {
	store, tmpDir := testSetup(t)
	path := indexHelper(t, store, tmpDir, "upd-doc")

	changed := sampleEntry("upd-doc")
	changed.ClinicalTranslation = nil
	changed.Extraction.Findings = "Revised finding about norepinephrine."
	writeLedger(t, path, changed)

	var buf strings.Builder
	summary, err := store.Index(context.Background(), path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Updated != 1 {
		t.Errorf("Updated = %d, want 1", summary.Updated)
	}

	var count int
	if err := store.db.QueryRow(`SELECT count(*) FROM sections WHERE document_id = ?`, "upd-doc").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 6 {
		t.Errorf("sections after update = %d, want 6", count)
	}

	results, err := store.Retrieve(context.Background(), QueryOptions{Query: "norepinephrine"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results for revised text, want 1", len(results))
	}
}

func TestIndexWritesExportYAML(t *testing.T) {
	store, tmpDir := testSetup(t)
	indexHelper(t, store, tmpDir, "exp-doc")

	if _, err := os.Stat(filepath.Join(tmpDir, "index", "export.yaml")); err != nil {
		t.Errorf("export.yaml not written: %v", err)
	}
}

// --- retrieve tests ---

func TestRetrieveFullTextSearch(t *testing.T) {
	store, tmpDir := testSetup(t)
	indexHelper(t, store, tmpDir, "fts-doc")

	tests := []struct {
		name          string
		query         string
		wantMin       int
		wantInContent string
	}{
		{"matching term", "dopamine", 3, "dopamine"},
		{"exact phrase", `"continuous performance"`, 1, "continuous performance"},
		{"no match", "quantum entanglement xyzzy", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := store.Retrieve(context.Background(), QueryOptions{Query: tt.query})
			if err != nil {
				t.Fatal(err)
			}
			if len(results) < tt.wantMin {
				t.Errorf("got %d results, want >= %d", len(results), tt.wantMin)
			}
			if tt.wantInContent != "" {
				for _, r := range results {
					if !strings.Contains(strings.ToLower(r.Content), strings.ToLower(tt.wantInContent)) {
						t.Errorf("result content %q does not contain %q", r.Content, tt.wantInContent)
					}
				}
			}
		})
	}
}

func TestRetrieveIncludesDocumentMetadata(t *testing.T) {
	store, tmpDir := testSetup(t)
	indexHelper(t, store, tmpDir, "meta-doc")

	results, err := store.Retrieve(context.Background(), QueryOptions{Query: "omission"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.Title != "Dopamine and Attention in Adolescents" {
		t.Errorf("Title = %q", r.Title)
	}
	if len(r.Authors) != 2 {
		t.Errorf("Authors = %v, want 2", r.Authors)
	}
	if r.Section != types.FieldFindings {
		t.Errorf("Section = %q, want findings", r.Section)
	}
	if r.ID != SectionID("meta-doc", "findings") {
		t.Errorf("ID = %q", r.ID)
	}
}

func TestRetrieveRespectsMaxResults(t *testing.T) {
	store, tmpDir := testSetup(t)
	indexHelper(t, store, tmpDir, "a", "b", "c")

	results, err := store.Retrieve(context.Background(), QueryOptions{Query: "dopamine", MaxResults: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2", len(results))
	}
}

func TestRetrieveFilters(t *testing.T) {
	store, tmpDir := testSetup(t)
	path := filepath.Join(tmpDir, "kb.jsonl")
	other := sampleEntry("other-doc")
	other.Metadata.Tags = []string{"sleep"}
	writeLedger(t, path, sampleEntry("main-doc"), other)
	var buf strings.Builder
	if _, err := store.Index(context.Background(), path, &buf); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opts QueryOptions
		want int
	}{
		{"by section", QueryOptions{Section: "clinical.interventions"}, 2},
		{"by document", QueryOptions{DocumentID: "other-doc"}, 8},
		{"by tag", QueryOptions{Tags: []string{"adhd"}}, 8},
		{"by two tags", QueryOptions{Tags: []string{"adhd", "dopamine"}}, 8},
		{"tag mismatch", QueryOptions{Tags: []string{"adhd", "sleep"}}, 0},
		{"combined", QueryOptions{Query: "dopamine", Tags: []string{"sleep"}, Section: "findings"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := store.Retrieve(context.Background(), tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(results) != tt.want {
				t.Errorf("got %d results, want %d", len(results), tt.want)
			}
		})
	}
}

func TestRetrieveStructuredQuerySortOrder(t *testing.T) {
	store, tmpDir := testSetup(t)
	indexHelper(t, store, tmpDir, "b-doc", "a-doc")

	results, err := store.Retrieve(context.Background(), QueryOptions{Section: "background"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].DocumentID != "a-doc" {
		t.Errorf("want a-doc first, got %+v", results)
	}
}

func TestQueryOptionsIsEmpty(t *testing.T) {
	if !(QueryOptions{MaxResults: 5}).IsEmpty() {
		t.Error("options with only MaxResults should be empty")
	}
	if (QueryOptions{Section: "findings"}).IsEmpty() {
		t.Error("section filter is not empty")
	}
}

// --- document tests ---

func TestEntryRoundTrip(t *testing.T) {
	store, tmpDir := testSetup(t)
	indexHelper(t, store, tmpDir, "entry-doc")

	e, err := store.Entry(context.Background(), "entry-doc")
	if err != nil {
		t.Fatal(err)
	}
	if e.Extraction == nil || e.Extraction.Statistics != "r = -0.41, p < 0.001" {
		t.Errorf("entry not restored: %+v", e.Extraction)
	}

	if _, err := store.Entry(context.Background(), "missing"); err == nil || !strings.Contains(err.Error(), ErrNotFound.Error()) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestDocuments(t *testing.T) {
	store, tmpDir := testSetup(t)
	indexHelper(t, store, tmpDir, "z-doc", "m-doc")

	docs, err := store.Documents(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0].ID != "m-doc" {
		t.Fatalf("documents = %+v", docs)
	}
	if !docs[0].ValidationPassed || len(docs[0].Tags) != 2 {
		t.Errorf("document summary incomplete: %+v", docs[0])
	}
}

// --- export tests ---

func TestExportYAML(t *testing.T) {
	store, tmpDir := testSetup(t)
	indexHelper(t, store, tmpDir, "export-yaml-doc")

	if err := store.ExportYAML(context.Background(), QueryOptions{}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, "index", "export.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	var entries []ExportEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if len(entries) != 8 {
		t.Errorf("got %d entries, want 8", len(entries))
	}
	for _, e := range entries {
		if e.Document == nil {
			t.Errorf("entry %s missing document metadata", e.ID)
		}
	}
}

func TestExportJSONFiltered(t *testing.T) {
	store, tmpDir := testSetup(t)
	indexHelper(t, store, tmpDir, "export-json-doc")

	if err := store.ExportJSON(context.Background(), QueryOptions{Section: "methods"}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, "index", "export.json"))
	if err != nil {
		t.Fatal(err)
	}

	var entries []ExportEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(entries) != 1 || entries[0].Section != "methods" {
		t.Errorf("got %+v, want one methods entry", entries)
	}
}
