// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the data structures shared by the pipeline stages:
// configuration, the structural document, curated context, extraction
// results, and the knowledge entry written to the ledger.
package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "enlitens-kb/0.1 (mailto:ops@enlitens.example)").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// LLMConfig holds settings for the OpenAI-compatible inference server.
type LLMConfig struct {
	// BaseURL is the API root, e.g. "http://localhost:8000/v1".
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Model is the served model name sent with each request.
	Model string `json:"model" yaml:"model"`

	// ModelKey names the model family used to select field rules
	// ("default" or "medgemma").
	ModelKey string `json:"model_key" yaml:"model_key"`

	// APIKey is sent as a bearer token when non-empty.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Timeout bounds a single completion request (default 900s).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// LongTimeout bounds long extraction requests (default 1800s).
	LongTimeout time.Duration `json:"long_timeout" yaml:"long_timeout"`

	// MaxTokens is the default completion budget.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// MaxTokensCap bounds dynamic max_tokens growth on truncated replies.
	MaxTokensCap int `json:"max_tokens_cap" yaml:"max_tokens_cap"`

	// EmbeddingModel is the model used for /embeddings (vector mirror).
	EmbeddingModel string `json:"embedding_model,omitempty" yaml:"embedding_model,omitempty"`

	// JSONFormatters are external commands that receive broken JSON on
	// stdin and print repaired JSON on stdout. Each entry is a shell-style
	// command line.
	JSONFormatters []string `json:"json_formatters,omitempty" yaml:"json_formatters,omitempty"`

	// FormatterTimeout bounds one formatter run (default 180s).
	FormatterTimeout time.Duration `json:"formatter_timeout" yaml:"formatter_timeout"`

	// StartCommand and StopCommand manage a local inference server when
	// --auto-start / --auto-stop are given.
	StartCommand string `json:"start_command,omitempty" yaml:"start_command,omitempty"`
	StopCommand  string `json:"stop_command,omitempty" yaml:"stop_command,omitempty"`

	// StartupTimeout bounds the health poll after StartCommand.
	StartupTimeout time.Duration `json:"startup_timeout" yaml:"startup_timeout"`
}

// ShallowPolicy decides what happens to a field that stays below its
// minimum length after every repair step.
type ShallowPolicy string

const (
	ShallowPlaceholder ShallowPolicy = "placeholder"
	ShallowAccept      ShallowPolicy = "accept"
)

// ExtractionConfig holds settings for the scientific extraction stage.
type ExtractionConfig struct {
	// MaxRetries is the number of corrective reattempts after the first
	// single-shot attempt (default 2).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// JSONAttempts is the number of parse attempts inside one call (default 3).
	JSONAttempts int `json:"json_attempts" yaml:"json_attempts"`

	// FieldAttempts is the per-field attempt budget on the sequential path
	// (default 3, maximum 4).
	FieldAttempts int `json:"field_attempts" yaml:"field_attempts"`

	// MaxChars caps the verbatim text fed to extraction (default 400000).
	MaxChars int `json:"max_chars" yaml:"max_chars"`

	// DirectThreshold is the largest text sent without chunking (default 10000).
	DirectThreshold int `json:"direct_threshold" yaml:"direct_threshold"`

	// SequentialThreshold is the largest context handled single-shot
	// (default 24000).
	SequentialThreshold int `json:"sequential_threshold" yaml:"sequential_threshold"`

	// SequentialModels lists model keys that always use the sequential path.
	SequentialModels []string `json:"sequential_models,omitempty" yaml:"sequential_models,omitempty"`

	// ChunkWindow and ChunkOverlap control chunking (defaults 2500 / 150).
	ChunkWindow  int `json:"chunk_window" yaml:"chunk_window"`
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`

	// Shallow selects the degradation policy for stubbornly short fields.
	Shallow ShallowPolicy `json:"shallow_policy" yaml:"shallow_policy"`

	// CacheDir holds chunk summaries keyed by document id.
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`
}

// CurationConfig holds settings for the context curation loop.
type CurationConfig struct {
	// PersonaDir contains persona_*.json / profile_*.json records.
	PersonaDir string `json:"persona_dir" yaml:"persona_dir"`

	// TopK is the number of personas to select (clamped to 5..10).
	TopK int `json:"top_k" yaml:"top_k"`

	// MaxAttempts bounds the plan-review-verify loop (default 3).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// HealthReportPath is the regional health report text file.
	HealthReportPath string `json:"health_report_path" yaml:"health_report_path"`

	// DigestPath is an optional digest snapshot appended to the brief prompt.
	DigestPath string `json:"digest_path,omitempty" yaml:"digest_path,omitempty"`

	// TranscriptsPath and FrameworkPaths feed the voice guide.
	TranscriptsPath string   `json:"transcripts_path" yaml:"transcripts_path"`
	FrameworkPaths  []string `json:"framework_paths,omitempty" yaml:"framework_paths,omitempty"`

	// Region is used for local resource lookups (e.g. "St. Louis, MO").
	Region string `json:"region" yaml:"region"`

	// EntityDefinitions turns on Wikipedia definitions for top entities.
	EntityDefinitions bool `json:"entity_definitions" yaml:"entity_definitions"`

	// CacheDir stores curated bundles keyed by document id.
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`
}

// EnrichmentConfig holds settings for the external enrichment client.
type EnrichmentConfig struct {
	HTTPConfig `yaml:",inline"`

	// Enabled turns enrichment on.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// CacheDir is the root of the per-source file cache.
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// AllowedHosts restricts outbound requests.
	AllowedHosts []string `json:"allowed_hosts" yaml:"allowed_hosts"`

	// RatePerSecond is the per-host request rate (default 1).
	RatePerSecond float64 `json:"rate_per_second" yaml:"rate_per_second"`

	// MaxTerms and MaxDOIs bound the lookups per document.
	MaxTerms int `json:"max_terms" yaml:"max_terms"`
	MaxDOIs  int `json:"max_dois" yaml:"max_dois"`

	// WikimediaUser and WikimediaPassword enable Enterprise basic auth.
	WikimediaUser     string `json:"wikimedia_user,omitempty" yaml:"wikimedia_user,omitempty"`
	WikimediaPassword string `json:"-" yaml:"-"`

	// SemanticScholarAPIKey raises Semantic Scholar rate limits.
	SemanticScholarAPIKey string `json:"-" yaml:"-"`

	// GoogleMapsAPIKey enables local resource lookups.
	GoogleMapsAPIKey string `json:"-" yaml:"-"`
}

// ConvertConfig holds settings for structural PDF extraction.
type ConvertConfig struct {
	// DoclingImage is the container image that runs the docling converter.
	DoclingImage string `json:"docling_image" yaml:"docling_image"`

	// DisableDocling skips the container converter.
	DisableDocling bool `json:"disable_docling" yaml:"disable_docling"`

	// OCRMinChars triggers OCR when the text layer is shorter (default 1000).
	OCRMinChars int `json:"ocr_min_chars" yaml:"ocr_min_chars"`

	// CacheDir stores structural extraction results keyed by document id.
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// Force bypasses the cache.
	Force bool `json:"force" yaml:"force"`
}

// IngestConfig holds settings for the batch orchestrator.
type IngestConfig struct {
	InputDir     string `json:"input_dir" yaml:"input_dir"`
	ProcessedDir string `json:"processed_dir" yaml:"processed_dir"`
	FailedDir    string `json:"failed_dir" yaml:"failed_dir"`
	LedgerPath   string `json:"ledger" yaml:"ledger"`
	LedgerMirror string `json:"ledger_mirror,omitempty" yaml:"ledger_mirror,omitempty"`

	// Limit caps the number of documents per run (0 = no limit).
	Limit int `json:"limit" yaml:"limit"`

	// Resume skips documents whose id or checksum is already in the ledger.
	Resume bool `json:"resume" yaml:"resume"`
}

// ConsolidatorConfig controls the optional Gemini CLI consolidation pass.
type ConsolidatorConfig struct {
	// CLIPath is the gemini executable; empty disables consolidation.
	CLIPath string `json:"cli_path,omitempty" yaml:"cli_path,omitempty"`

	// Skip disables consolidation even when CLIPath is set.
	Skip bool `json:"skip" yaml:"skip"`

	// MaxChars truncates the text sent to the CLI (default 800000).
	MaxChars int `json:"max_chars" yaml:"max_chars"`

	// Timeout bounds one CLI invocation.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// FactCheckConfig controls the optional OpenAI fact-check pass.
type FactCheckConfig struct {
	APIKey  string `json:"-" yaml:"-"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// MirrorConfig enables the optional persistence mirrors.
type MirrorConfig struct {
	PostgresEnabled bool   `json:"postgres_enabled" yaml:"postgres_enabled"`
	PostgresDSN     string `json:"-" yaml:"-"`

	QdrantEnabled    bool   `json:"qdrant_enabled" yaml:"qdrant_enabled"`
	QdrantHost       string `json:"qdrant_host" yaml:"qdrant_host"`
	QdrantPort       int    `json:"qdrant_port" yaml:"qdrant_port"`
	QdrantCollection string `json:"qdrant_collection" yaml:"qdrant_collection"`
	VectorSize       int    `json:"vector_size" yaml:"vector_size"`

	Neo4jEnabled  bool   `json:"neo4j_enabled" yaml:"neo4j_enabled"`
	Neo4jURI      string `json:"neo4j_uri" yaml:"neo4j_uri"`
	Neo4jUser     string `json:"neo4j_user" yaml:"neo4j_user"`
	Neo4jPassword string `json:"-" yaml:"-"`

	S3Enabled   bool   `json:"s3_enabled" yaml:"s3_enabled"`
	S3Endpoint  string `json:"s3_endpoint" yaml:"s3_endpoint"`
	S3AccessKey string `json:"-" yaml:"-"`
	S3SecretKey string `json:"-" yaml:"-"`
	S3Bucket    string `json:"s3_bucket" yaml:"s3_bucket"`
	S3UseSSL    bool   `json:"s3_use_ssl" yaml:"s3_use_ssl"`
}

// UsageConfig holds the usage ledger location and daily caps per tool.
type UsageConfig struct {
	Path string `json:"path" yaml:"path"`

	// Limits maps tool name to the maximum calls per day (0 = unlimited).
	Limits map[string]int `json:"limits" yaml:"limits"`

	// CostPer1K maps tool name to USD per 1000 tokens.
	CostPer1K map[string]float64 `json:"cost_per_1k,omitempty" yaml:"cost_per_1k,omitempty"`
}

// KnowledgeBaseConfig holds settings for the local searchable index.
type KnowledgeBaseConfig struct {
	// IndexDir contains the SQLite index database.
	IndexDir string `json:"index_dir" yaml:"index_dir"`

	// MaxResults is the default maximum number of query results (default 20).
	MaxResults int `json:"max_results" yaml:"max_results"`
}

// LogConfig controls logging.
type LogConfig struct {
	// Path is the JSON log file (default logs/processing.log).
	Path string `json:"path" yaml:"path"`

	// Level is a logrus level name.
	Level string `json:"level" yaml:"level"`
}

// PipelineConfig groups all stage configurations for the pipeline.
type PipelineConfig struct {
	LLM           LLMConfig           `json:"llm" yaml:"llm"`
	Extraction    ExtractionConfig    `json:"extraction" yaml:"extraction"`
	Curation      CurationConfig      `json:"curation" yaml:"curation"`
	Enrichment    EnrichmentConfig    `json:"enrichment" yaml:"enrichment"`
	Convert       ConvertConfig       `json:"convert" yaml:"convert"`
	Ingest        IngestConfig        `json:"ingest" yaml:"ingest"`
	Consolidator  ConsolidatorConfig  `json:"consolidator" yaml:"consolidator"`
	FactCheck     FactCheckConfig     `json:"fact_check" yaml:"fact_check"`
	Mirror        MirrorConfig        `json:"mirror" yaml:"mirror"`
	Usage         UsageConfig         `json:"usage" yaml:"usage"`
	KnowledgeBase KnowledgeBaseConfig `json:"knowledge_base" yaml:"knowledge_base"`
	Log           LogConfig           `json:"log" yaml:"log"`
}
