// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Narrative field names of a ScientificExtraction, in extraction order.
const (
	FieldBackground  = "background"
	FieldMethods     = "methods"
	FieldFindings    = "findings"
	FieldStatistics  = "statistics"
	FieldLimitations = "limitations"
	FieldConclusions = "conclusions"
	FieldCitations   = "citations"
)

// ExtractionFields lists every extracted field in the fixed sequential order.
var ExtractionFields = []string{
	FieldBackground, FieldMethods, FieldFindings, FieldStatistics,
	FieldLimitations, FieldConclusions, FieldCitations,
}

// ChunkSummary is the bounded summary of one chunk of a long document.
type ChunkSummary struct {
	// ChunkIndex is 1-based.
	ChunkIndex int `json:"chunk_index" yaml:"chunk_index"`

	ChunkSummary     string   `json:"chunk_summary" yaml:"chunk_summary"`
	BackgroundPoints []string `json:"background_points" yaml:"background_points"`
	MethodPoints     []string `json:"method_points" yaml:"method_points"`
	FindingPoints    []string `json:"finding_points" yaml:"finding_points"`
	Statistics       []string `json:"statistics" yaml:"statistics"`
	Limitations      []string `json:"limitations" yaml:"limitations"`
	Citations        []string `json:"citations" yaml:"citations"`
	VerbatimQuotes   []string `json:"verbatim_quotes" yaml:"verbatim_quotes"`
}

// ScientificExtraction is the faithful structured summary of a paper.
type ScientificExtraction struct {
	Background  string   `json:"background" yaml:"background"`
	Methods     string   `json:"methods" yaml:"methods"`
	Findings    string   `json:"findings" yaml:"findings"`
	Statistics  string   `json:"statistics" yaml:"statistics"`
	Limitations string   `json:"limitations" yaml:"limitations"`
	Conclusions string   `json:"conclusions" yaml:"conclusions"`
	Citations   []string `json:"citations" yaml:"citations"`

	Metadata DocumentMetadata `json:"metadata" yaml:"metadata"`
}

// Narrative returns the value of a narrative field by name.
func (s *ScientificExtraction) Narrative(field string) string {
	switch field {
	case FieldBackground:
		return s.Background
	case FieldMethods:
		return s.Methods
	case FieldFindings:
		return s.Findings
	case FieldStatistics:
		return s.Statistics
	case FieldLimitations:
		return s.Limitations
	case FieldConclusions:
		return s.Conclusions
	}
	return ""
}

// SetNarrative assigns a narrative field by name. Unknown names are ignored.
func (s *ScientificExtraction) SetNarrative(field, value string) {
	switch field {
	case FieldBackground:
		s.Background = value
	case FieldMethods:
		s.Methods = value
	case FieldFindings:
		s.Findings = value
	case FieldStatistics:
		s.Statistics = value
	case FieldLimitations:
		s.Limitations = value
	case FieldConclusions:
		s.Conclusions = value
	}
}

// ClinicalTranslation rewrites findings for practitioners.
type ClinicalTranslation struct {
	Interventions     string `json:"interventions" yaml:"interventions"`
	Protocols         string `json:"protocols" yaml:"protocols"`
	Assessments       string `json:"assessments" yaml:"assessments"`
	Contraindications string `json:"contraindications" yaml:"contraindications"`
	Monitoring        string `json:"monitoring" yaml:"monitoring"`
	EvidenceSummary   string `json:"evidence_summary" yaml:"evidence_summary"`
}

// AlignmentConfidence grades how well a paper's mechanisms map onto
// persona themes.
type AlignmentConfidence string

const (
	AlignmentDirect   AlignmentConfidence = "direct"
	AlignmentAdjacent AlignmentConfidence = "adjacent"
	AlignmentWeak     AlignmentConfidence = "weak"
)

// DataProfile is a cheap lexical profile of document text.
type DataProfile struct {
	WordCount        int      `json:"word_count" yaml:"word_count"`
	TopTerms         []string `json:"top_terms" yaml:"top_terms"`
	LeadingSentences []string `json:"leading_sentences" yaml:"leading_sentences"`
	Preview          string   `json:"preview" yaml:"preview"`
}

// AlignmentProfile maps a paper's topics onto persona themes.
type AlignmentProfile struct {
	PrimaryTopics        []string            `json:"primary_topics" yaml:"primary_topics"`
	RelatedPersonaThemes []string            `json:"related_persona_themes" yaml:"related_persona_themes"`
	AlignmentNote        string              `json:"alignment_note" yaml:"alignment_note"`
	AlignmentConfidence  AlignmentConfidence `json:"alignment_confidence" yaml:"alignment_confidence"`
	Profile              DataProfile         `json:"data_profile" yaml:"data_profile"`
}

// EntityBuckets groups domain entities found in a document.
type EntityBuckets map[string][]string

// Flatten returns every entity across buckets, sorted bucket by bucket.
func (b EntityBuckets) Flatten() []string {
	var out []string
	for _, k := range EntityBucketNames {
		out = append(out, b[k]...)
	}
	return out
}

// EntityBucketNames is the fixed bucket order.
var EntityBucketNames = []string{"diagnoses", "neurotransmitters", "brain_regions", "interventions", "populations"}
