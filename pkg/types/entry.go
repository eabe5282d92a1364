// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "encoding/json"

// SourceInfo identifies the PDF an entry was built from.
type SourceInfo struct {
	PDFPath          string `json:"pdf_path" yaml:"pdf_path"`
	SHA256           string `json:"sha256" yaml:"sha256"`
	OriginalFilename string `json:"original_filename" yaml:"original_filename"`
}

// ProcessingInfo records timing for one ingest.
type ProcessingInfo struct {
	Seconds   float64 `json:"seconds" yaml:"seconds"`
	Timestamp string  `json:"timestamp" yaml:"timestamp"`
}

// EntryMetadata carries provenance fields for a knowledge entry.
type EntryMetadata struct {
	ProcessedAt    string   `json:"processed_at" yaml:"processed_at"`
	ModelKey       string   `json:"model_key" yaml:"model_key"`
	DoclingVersion string   `json:"docling_version" yaml:"docling_version"`
	Tags           []string `json:"tags" yaml:"tags"`
	Checksum       string   `json:"checksum" yaml:"checksum"`
	Title          string   `json:"title" yaml:"title"`
	Authors        []string `json:"authors" yaml:"authors"`
	PageCount      int      `json:"page_count" yaml:"page_count"`
}

// OutputVerification is the non-blocking judge verdict over agent outputs.
type OutputVerification struct {
	Status          VerificationStatus `json:"status" yaml:"status"`
	Warnings        []string           `json:"warnings" yaml:"warnings"`
	Recommendations []string           `json:"recommendations" yaml:"recommendations"`
}

// FactCheck is the optional second-opinion verdict on the extraction.
type FactCheck struct {
	Model             string   `json:"model" yaml:"model"`
	Supported         bool     `json:"supported" yaml:"supported"`
	UnsupportedClaims []string `json:"unsupported_claims" yaml:"unsupported_claims"`
	Notes             string   `json:"notes" yaml:"notes"`
}

// QualityReport summarizes extraction quality for an entry.
type QualityReport struct {
	Strategy       string   `json:"strategy" yaml:"strategy"`
	ChunkCount     int      `json:"chunk_count" yaml:"chunk_count"`
	RepairedFields []string `json:"repaired_fields" yaml:"repaired_fields"`
	DegradedFields []string `json:"degraded_fields" yaml:"degraded_fields"`
	CurationStatus string   `json:"curation_status" yaml:"curation_status"`
}

// Enrichment holds external lookups for an entry.
type Enrichment struct {
	// Wikipedia maps a sanitized term to its summary record.
	Wikipedia map[string]json.RawMessage `json:"wikipedia" yaml:"wikipedia"`

	// Citations maps a DOI to per-source records ("crossref", "semantic_scholar").
	Citations map[string]map[string]json.RawMessage `json:"citations" yaml:"citations"`
}

// KnowledgeEntry is one ledger row: the fused result of processing a PDF.
// It is appended once per ingest, idempotent by DocumentID.
type KnowledgeEntry struct {
	DocumentID string         `json:"document_id" yaml:"document_id"`
	ModelKey   string         `json:"model_key" yaml:"model_key"`
	Source     SourceInfo     `json:"source" yaml:"source"`
	Processing ProcessingInfo `json:"processing" yaml:"processing"`
	Metadata   EntryMetadata  `json:"metadata" yaml:"metadata"`

	Docling    *RawDocument          `json:"docling" yaml:"docling"`
	Extraction *ScientificExtraction `json:"extraction" yaml:"extraction"`
	Enrichment *Enrichment           `json:"enrichment,omitempty" yaml:"enrichment,omitempty"`

	AlignmentProfile    *AlignmentProfile    `json:"alignment_profile" yaml:"alignment_profile"`
	CuratedContext      *CuratedContext      `json:"curated_context" yaml:"curated_context"`
	Verification        *VerificationLog     `json:"verification" yaml:"verification"`
	ClinicalTranslation *ClinicalTranslation `json:"clinical_translation" yaml:"clinical_translation"`
	OutputVerification  *OutputVerification  `json:"output_verification" yaml:"output_verification"`
	FactCheck           *FactCheck           `json:"fact_check,omitempty" yaml:"fact_check,omitempty"`

	ValidationPassed bool          `json:"validation_passed" yaml:"validation_passed"`
	Warnings         []string      `json:"warnings" yaml:"warnings"`
	Quality          QualityReport `json:"quality" yaml:"quality"`

	GeminiValidated bool           `json:"gemini_validated,omitempty" yaml:"gemini_validated,omitempty"`
	Consolidated    map[string]any `json:"knowledge_entry,omitempty" yaml:"knowledge_entry,omitempty"`
}
