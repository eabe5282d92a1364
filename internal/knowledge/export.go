// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"
)

// ExportEntry holds a section with its document metadata for export.
type ExportEntry struct {
	ID         string          `json:"id" yaml:"id"`
	DocumentID string          `json:"document_id" yaml:"document_id"`
	Section    string          `json:"section" yaml:"section"`
	Content    string          `json:"content" yaml:"content"`
	Tags       []string        `json:"tags" yaml:"tags"`
	Document   *ExportDocument `json:"document,omitempty" yaml:"document,omitempty"`
}

// ExportDocument holds the document-level fields included in each export
// entry.
type ExportDocument struct {
	Title   string   `json:"title" yaml:"title"`
	Authors []string `json:"authors" yaml:"authors"`
}

const exportLimit = 100000

// ExportYAML writes the index to IndexDir/export.yaml. It supports the
// same filters as Retrieve.
func (s *Store) ExportYAML(ctx context.Context, opts QueryOptions) error {
	entries, err := s.exportEntries(ctx, opts)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return os.WriteFile(filepath.Join(s.indexDir, "export.yaml"), data, 0o644)
}

// ExportJSON writes the index to IndexDir/export.json. It supports the
// same filters as Retrieve.
func (s *Store) ExportJSON(ctx context.Context, opts QueryOptions) error {
	entries, err := s.exportEntries(ctx, opts)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	return os.WriteFile(filepath.Join(s.indexDir, "export.json"), data, 0o644)
}

func (s *Store) exportEntries(ctx context.Context, opts QueryOptions) ([]ExportEntry, error) {
	opts.MaxResults = exportLimit
	results, err := s.Retrieve(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("querying for export: %w", err)
	}

	entries := make([]ExportEntry, len(results))
	for i, r := range results {
		entries[i] = ExportEntry{
			ID:         r.ID,
			DocumentID: r.DocumentID,
			Section:    r.Section,
			Content:    r.Content,
			Tags:       r.Tags,
		}
		if r.Title != "" || len(r.Authors) > 0 {
			entries[i].Document = &ExportDocument{
				Title:   r.Title,
				Authors: r.Authors,
			}
		}
	}

	return entries, nil
}
