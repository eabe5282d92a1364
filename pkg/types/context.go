// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// SelectionMeta records how a persona entered the selection.
type SelectionMeta struct {
	// LLMSelected is true when the model chose the persona.
	LLMSelected bool `json:"llm_selected" yaml:"llm_selected"`

	// FallbackScore is set on entries added by deterministic padding.
	FallbackScore *float64 `json:"fallback_score" yaml:"fallback_score"`

	Justification string `json:"justification,omitempty" yaml:"justification,omitempty"`
}

// SelectedPersona is one persona record chosen for a document. The record
// itself is opaque and passed through as-is.
type SelectedPersona struct {
	Filename      string         `json:"filename" yaml:"filename"`
	Persona       map[string]any `json:"persona" yaml:"persona"`
	SelectionMeta SelectionMeta  `json:"selection_meta" yaml:"selection_meta"`
}

// ReviewResult is the reviewer's judgement of one curation attempt.
type ReviewResult struct {
	OverallPass          bool     `json:"overall_pass" yaml:"overall_pass"`
	MechanismAlignmentOK bool     `json:"mechanism_alignment_ok" yaml:"mechanism_alignment_ok"`
	StatisticalSupportOK bool     `json:"statistical_support_ok" yaml:"statistical_support_ok"`
	VoiceOK              bool     `json:"liz_voice_ok" yaml:"liz_voice_ok"`
	MechanismFeedback    string   `json:"mechanism_feedback" yaml:"mechanism_feedback"`
	StatisticsFeedback   string   `json:"statistics_feedback" yaml:"statistics_feedback"`
	VoiceFeedback        string   `json:"voice_feedback" yaml:"voice_feedback"`
	Issues               []string `json:"issues" yaml:"issues"`
}

// VerificationStatus is the verifier's verdict.
type VerificationStatus string

const (
	StatusPass   VerificationStatus = "pass"
	StatusRevise VerificationStatus = "revise"
	StatusError  VerificationStatus = "error"
)

// VerificationResult is the verifier's judgement of one curation attempt.
type VerificationResult struct {
	Status          VerificationStatus `json:"status" yaml:"status"`
	PersonaFeedback string             `json:"persona_feedback" yaml:"persona_feedback"`
	HealthFeedback  string             `json:"health_feedback" yaml:"health_feedback"`
	VoiceFeedback   string             `json:"voice_feedback" yaml:"voice_feedback"`
	Issues          []string           `json:"issues" yaml:"issues"`
	PersonasOK      bool               `json:"personas_ok" yaml:"personas_ok"`
	HealthOK        bool               `json:"health_ok" yaml:"health_ok"`
	VoiceOK         bool               `json:"voice_ok" yaml:"voice_ok"`
}

// ReviewLog accumulates review attempts.
type ReviewLog struct {
	Attempts  []ReviewResult `json:"attempts" yaml:"attempts"`
	FinalPass bool           `json:"final_pass" yaml:"final_pass"`
}

// VerificationLog accumulates verification attempts.
type VerificationLog struct {
	Attempts    []VerificationResult `json:"attempts" yaml:"attempts"`
	FinalStatus VerificationStatus   `json:"final_status" yaml:"final_status"`
}

// TokenEstimate holds chars/4 estimates per context block.
type TokenEstimate struct {
	Personas    int `json:"personas" yaml:"personas"`
	HealthBrief int `json:"health_brief" yaml:"health_brief"`
	VoiceGuide  int `json:"voice_guide" yaml:"voice_guide"`
	Total       int `json:"total" yaml:"total"`
}

// LocalResource is one nearby service returned by a places lookup.
type LocalResource struct {
	Name    string  `json:"name" yaml:"name"`
	Address string  `json:"address" yaml:"address"`
	Rating  float64 `json:"rating,omitempty" yaml:"rating,omitempty"`
}

// CuratedContext is the per-document grounding bundle.
type CuratedContext struct {
	SelectedPersonas []SelectedPersona `json:"selected_personas" yaml:"selected_personas"`
	PersonasText     string            `json:"personas_text" yaml:"personas_text"`
	HealthBrief      string            `json:"health_brief" yaml:"health_brief"`
	VoiceGuide       string            `json:"voice_guide" yaml:"voice_guide"`

	Review       ReviewLog       `json:"review" yaml:"review"`
	Verification VerificationLog `json:"verification" yaml:"verification"`

	TokenEstimate    TokenEstimate    `json:"token_estimate" yaml:"token_estimate"`
	AlignmentProfile AlignmentProfile `json:"alignment_profile" yaml:"alignment_profile"`

	LocalResources    []LocalResource   `json:"local_resources,omitempty" yaml:"local_resources,omitempty"`
	EntityDefinitions map[string]string `json:"entity_definitions,omitempty" yaml:"entity_definitions,omitempty"`
}
