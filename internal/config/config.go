// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package config builds the typed pipeline configuration from, in order
// of precedence: command-line flags bound by the caller, environment
// variables (including a .env file), the enlitens.yaml config file,
// secrets from .secrets/ and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/pdiddy/enlitens-kb/internal/secrets"
	"github.com/pdiddy/enlitens-kb/internal/usage"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// ConfigName is the config file stem searched in . and ~/.config/enlitens.
const ConfigName = "enlitens"

// binding ties a config key to the environment variables that set it.
type binding struct {
	key  string
	envs []string
}

var bindings = []binding{
	{"llm.provider", []string{"LLM_PROVIDER"}},
	{"llm.base_url", []string{"LLM_BASE_URL"}},
	{"llm.model", []string{"LLM_MODEL_DEFAULT"}},
	{"llm.model_key", []string{"ENLITENS_MODEL_KEY"}},
	{"llm.api_key", []string{"LLM_API_KEY"}},
	{"llm.embedding_model", []string{"ENLITENS_EMBEDDING_MODEL"}},
	{"llm.timeout", []string{"ENLITENS_LLM_TIMEOUT"}},
	{"llm.long_timeout", []string{"ENLITENS_LLM_LONG_TIMEOUT"}},
	{"llm.start_command", []string{"ENLITENS_LLM_START_CMD"}},
	{"llm.stop_command", []string{"ENLITENS_LLM_STOP_CMD"}},
	{"llm.gemini_formatter", []string{"GEMINI_JSON_FORMATTER_CMD"}},
	{"llm.codex_formatter", []string{"CODEX_JSON_FORMATTER_CMD"}},
	{"llm.formatter_timeout", []string{"EXTERNAL_JSON_FORMATTER_TIMEOUT"}},

	{"extraction.sequential_threshold", []string{"ENLITENS_SEQUENTIAL_THRESHOLD_CHARS"}},
	{"extraction.shallow_policy", []string{"ENLITENS_SHALLOW_POLICY"}},

	{"curation.persona_dir", []string{"ENLITENS_PERSONA_DIR"}},
	{"curation.health_report_path", []string{"ENLITENS_HEALTH_REPORT"}},
	{"curation.transcripts_path", []string{"ENLITENS_TRANSCRIPTS"}},
	{"curation.region", []string{"ENLITENS_REGION"}},

	{"enrichment.enabled", []string{"ENLITENS_ENABLE_ENRICHMENT"}},
	{"enrichment.google_maps_api_key", []string{"GOOGLE_MAPS_API_KEY"}},
	{"enrichment.wikimedia_user", []string{"WIKIMEDIA_ENTERPRISE_USERNAME"}},
	{"enrichment.wikimedia_password", []string{"WIKIMEDIA_ENTERPRISE_PASSWORD"}},
	{"enrichment.semantic_scholar_api_key", []string{"SEMANTIC_SCHOLAR_API_KEY"}},

	{"consolidator.cli_path", []string{"GEMINI_CLI_PATH"}},
	{"consolidator.timeout", []string{"GEMINI_CLI_TIMEOUT"}},

	{"fact_check.api_key", []string{"OPENAI_API_KEY"}},
	{"fact_check.model", []string{"OPENAI_FACTCHECK_MODEL"}},
	{"fact_check.base_url", []string{"OPENAI_BASE_URL"}},

	{"usage.limits." + usage.ToolGemini, []string{"GEMINI_DAILY_LIMIT"}},
	{"usage.limits." + usage.ToolDeepResearch, []string{"DEEP_RESEARCH_DAILY_LIMIT"}},
	{"usage.limits." + usage.ToolCodexLocal, []string{"CODEX_LOCAL_LIMIT"}},
	{"usage.limits." + usage.ToolFactCheck, []string{"OPENAI_FACTCHECK_LIMIT"}},

	{"mirror.postgres_enabled", []string{"ENLITENS_ENABLE_POSTGRES"}},
	{"mirror.postgres_dsn", []string{"ENLITENS_POSTGRES_DSN"}},
	{"mirror.qdrant_enabled", []string{"ENLITENS_ENABLE_QDRANT"}},
	{"mirror.qdrant_host", []string{"ENLITENS_QDRANT_HOST"}},
	{"mirror.qdrant_port", []string{"ENLITENS_QDRANT_PORT"}},
	{"mirror.qdrant_collection", []string{"ENLITENS_QDRANT_COLLECTION"}},
	{"mirror.vector_size", []string{"ENLITENS_VECTOR_SIZE"}},
	{"mirror.neo4j_enabled", []string{"ENLITENS_ENABLE_NEO4J"}},
	{"mirror.neo4j_uri", []string{"ENLITENS_NEO4J_URI"}},
	{"mirror.neo4j_user", []string{"ENLITENS_NEO4J_USER"}},
	{"mirror.neo4j_password", []string{"ENLITENS_NEO4J_PASSWORD"}},
	{"mirror.s3_enabled", []string{"ENLITENS_ENABLE_S3"}},
	{"mirror.s3_endpoint", []string{"ENLITENS_S3_ENDPOINT"}},
	{"mirror.s3_access_key", []string{"ENLITENS_S3_ACCESS_KEY"}},
	{"mirror.s3_secret_key", []string{"ENLITENS_S3_SECRET_KEY"}},
	{"mirror.s3_bucket", []string{"ENLITENS_S3_BUCKET"}},
	{"mirror.s3_use_ssl", []string{"ENLITENS_S3_USE_SSL"}},

	{"log.level", []string{"ENLITENS_LOG_LEVEL"}},
	{"log.path", []string{"ENLITENS_LOG_PATH"}},
}

var defaults = map[string]any{
	"llm.base_url":          "http://localhost:8000/v1",
	"llm.model":             "default",
	"llm.model_key":         "default",
	"llm.timeout":           "900s",
	"llm.long_timeout":      "1800s",
	"llm.max_tokens":        4096,
	"llm.max_tokens_cap":    16384,
	"llm.startup_timeout":   "600s",
	"llm.formatter_timeout": "180s",

	"extraction.max_retries":          2,
	"extraction.json_attempts":        3,
	"extraction.field_attempts":       3,
	"extraction.max_chars":            400000,
	"extraction.direct_threshold":     10000,
	"extraction.sequential_threshold": 24000,
	"extraction.chunk_window":         2500,
	"extraction.chunk_overlap":        150,
	"extraction.shallow_policy":       string(types.ShallowPlaceholder),
	"extraction.cache_dir":            "cache/chunk_summaries",

	"curation.persona_dir":        "enlitens_client_profiles",
	"curation.top_k":              5,
	"curation.max_attempts":       3,
	"curation.health_report_path": "data/st_louis_health_report.txt",
	"curation.transcripts_path":   "data/transcripts.txt",
	"curation.region":             "St. Louis, MO",
	"curation.cache_dir":          "cache/curation",

	"enrichment.enabled":         false,
	"enrichment.cache_dir":       "cache/enrichment",
	"enrichment.rate_per_second": 1.0,
	"enrichment.timeout":         "30s",
	"enrichment.user_agent":      "enlitens-kb/0.1",

	"convert.docling_image": "",
	"convert.ocr_min_chars": 1000,
	"convert.cache_dir":     "cache/docling_outputs",

	"ingest.input_dir":     "enlitens_corpus/input_pdfs",
	"ingest.processed_dir": "enlitens_corpus/processed",
	"ingest.failed_dir":    "enlitens_corpus/failed",
	"ingest.ledger":        "data/knowledge_base/enliten_knowledge_base.jsonl",
	"ingest.ledger_mirror": "data/knowledge_base/enliten_knowledge_base.jsonl.bak",
	"ingest.resume":        true,

	"consolidator.max_chars": 800000,
	"consolidator.timeout":   "600s",

	"usage.path": "logs/ai_usage.json",

	"mirror.qdrant_host":       "localhost",
	"mirror.qdrant_port":       6334,
	"mirror.qdrant_collection": "enlitens_knowledge",
	"mirror.vector_size":       768,
	"mirror.neo4j_uri":         "neo4j://localhost:7687",
	"mirror.neo4j_user":        "neo4j",
	"mirror.s3_endpoint":       "localhost:9000",
	"mirror.s3_bucket":         "enlitens-kb",

	"knowledge_base.index_dir":   "data/knowledge_base/index",
	"knowledge_base.max_results": 20,

	"log.path":  "logs/processing.log",
	"log.level": "info",
}

var providers = map[string]bool{
	"": true, "vllm": true, "openai": true, "openai_compatible": true, "ollama": true, "lmstudio": true, "llamacpp": true,
}

// New returns a viper instance with defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	for _, b := range bindings {
		v.BindEnv(append([]string{b.key}, b.envs...)...)
	}
	return v
}

// Sources names the files Load reads. Empty fields use the defaults.
type Sources struct {
	// ConfigFile is an explicit config path; empty searches for enlitens.yaml.
	ConfigFile string

	// DotEnv is the .env file (default ".env"). A missing file is ignored.
	DotEnv string

	// SecretsDir is the secrets directory (default ".secrets").
	SecretsDir string
}

// Load reads .env into the process environment, the config file and the
// secrets directory into v. It returns the config file used, if any.
func Load(v *viper.Viper, src Sources, log logrus.FieldLogger) (string, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	dotenv := src.DotEnv
	if dotenv == "" {
		dotenv = ".env"
	}
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("loading %s: %w", dotenv, err)
	}

	if src.ConfigFile != "" {
		v.SetConfigFile(src.ConfigFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "enlitens"))
		}
	}
	used := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || src.ConfigFile != "" {
			return "", fmt.Errorf("reading config: %w", err)
		}
	} else {
		used = v.ConfigFileUsed()
	}

	dir := src.SecretsDir
	if dir == "" {
		dir = secrets.DefaultDir
	}
	s, err := secrets.Load(dir, log)
	if err != nil {
		return used, err
	}
	applySecrets(v, s)
	if len(s) > 0 {
		log.WithField("secrets", secrets.Names(s)).Info("loaded secrets")
	}
	return used, nil
}

// applySecrets fills keys whose environment variable is unset and which
// the config file leaves empty.
func applySecrets(v *viper.Viper, s map[string]string) {
	byEnv := map[string]string{}
	for _, b := range bindings {
		for _, e := range b.envs {
			byEnv[e] = b.key
		}
	}
	for env, value := range secrets.Env(s) {
		key, ok := byEnv[env]
		if !ok || os.Getenv(env) != "" || v.InConfig(key) {
			continue
		}
		v.SetDefault(key, value)
	}
}

// Pipeline returns the typed configuration held by v.
func Pipeline(v *viper.Viper) (types.PipelineConfig, error) {
	var cfg types.PipelineConfig
	var errs []error
	dur := func(key string) time.Duration {
		d, err := Seconds(v.GetString(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}

	provider := strings.ToLower(strings.TrimSpace(v.GetString("llm.provider")))
	if !providers[provider] {
		errs = append(errs, fmt.Errorf("llm.provider: %q is not an OpenAI-compatible server", provider))
	}

	cfg.LLM = types.LLMConfig{
		BaseURL:          v.GetString("llm.base_url"),
		Model:            v.GetString("llm.model"),
		ModelKey:         v.GetString("llm.model_key"),
		APIKey:           v.GetString("llm.api_key"),
		Timeout:          dur("llm.timeout"),
		LongTimeout:      dur("llm.long_timeout"),
		MaxTokens:        v.GetInt("llm.max_tokens"),
		MaxTokensCap:     v.GetInt("llm.max_tokens_cap"),
		EmbeddingModel:   v.GetString("llm.embedding_model"),
		JSONFormatters:   nonEmpty(v.GetString("llm.gemini_formatter"), v.GetString("llm.codex_formatter")),
		FormatterTimeout: dur("llm.formatter_timeout"),
		StartCommand:     v.GetString("llm.start_command"),
		StopCommand:      v.GetString("llm.stop_command"),
		StartupTimeout:   dur("llm.startup_timeout"),
	}

	shallow := types.ShallowPolicy(v.GetString("extraction.shallow_policy"))
	if shallow != types.ShallowPlaceholder && shallow != types.ShallowAccept {
		errs = append(errs, fmt.Errorf("extraction.shallow_policy: unknown policy %q", shallow))
	}
	cfg.Extraction = types.ExtractionConfig{
		MaxRetries:          v.GetInt("extraction.max_retries"),
		JSONAttempts:        v.GetInt("extraction.json_attempts"),
		FieldAttempts:       v.GetInt("extraction.field_attempts"),
		MaxChars:            v.GetInt("extraction.max_chars"),
		DirectThreshold:     v.GetInt("extraction.direct_threshold"),
		SequentialThreshold: v.GetInt("extraction.sequential_threshold"),
		SequentialModels:    v.GetStringSlice("extraction.sequential_models"),
		ChunkWindow:         v.GetInt("extraction.chunk_window"),
		ChunkOverlap:        v.GetInt("extraction.chunk_overlap"),
		Shallow:             shallow,
		CacheDir:            v.GetString("extraction.cache_dir"),
	}

	cfg.Curation = types.CurationConfig{
		PersonaDir:        v.GetString("curation.persona_dir"),
		TopK:              v.GetInt("curation.top_k"),
		MaxAttempts:       v.GetInt("curation.max_attempts"),
		HealthReportPath:  v.GetString("curation.health_report_path"),
		DigestPath:        v.GetString("curation.digest_path"),
		TranscriptsPath:   v.GetString("curation.transcripts_path"),
		FrameworkPaths:    v.GetStringSlice("curation.framework_paths"),
		Region:            v.GetString("curation.region"),
		EntityDefinitions: v.GetBool("curation.entity_definitions"),
		CacheDir:          v.GetString("curation.cache_dir"),
	}

	cfg.Enrichment = types.EnrichmentConfig{
		HTTPConfig: types.HTTPConfig{
			Timeout:   dur("enrichment.timeout"),
			UserAgent: v.GetString("enrichment.user_agent"),
		},
		Enabled:               v.GetBool("enrichment.enabled"),
		CacheDir:              v.GetString("enrichment.cache_dir"),
		AllowedHosts:          v.GetStringSlice("enrichment.allowed_hosts"),
		RatePerSecond:         v.GetFloat64("enrichment.rate_per_second"),
		MaxTerms:              v.GetInt("enrichment.max_terms"),
		MaxDOIs:               v.GetInt("enrichment.max_dois"),
		WikimediaUser:         v.GetString("enrichment.wikimedia_user"),
		WikimediaPassword:     v.GetString("enrichment.wikimedia_password"),
		SemanticScholarAPIKey: v.GetString("enrichment.semantic_scholar_api_key"),
		GoogleMapsAPIKey:      v.GetString("enrichment.google_maps_api_key"),
	}

	cfg.Convert = types.ConvertConfig{
		DoclingImage:   v.GetString("convert.docling_image"),
		DisableDocling: v.GetBool("convert.disable_docling"),
		OCRMinChars:    v.GetInt("convert.ocr_min_chars"),
		CacheDir:       v.GetString("convert.cache_dir"),
		Force:          v.GetBool("convert.force"),
	}

	cfg.Ingest = types.IngestConfig{
		InputDir:     v.GetString("ingest.input_dir"),
		ProcessedDir: v.GetString("ingest.processed_dir"),
		FailedDir:    v.GetString("ingest.failed_dir"),
		LedgerPath:   v.GetString("ingest.ledger"),
		LedgerMirror: v.GetString("ingest.ledger_mirror"),
		Limit:        v.GetInt("ingest.limit"),
		Resume:       v.GetBool("ingest.resume"),
	}
	if cfg.Ingest.Limit < 0 {
		errs = append(errs, fmt.Errorf("ingest.limit: must not be negative"))
	}

	cfg.Consolidator = types.ConsolidatorConfig{
		CLIPath:  v.GetString("consolidator.cli_path"),
		Skip:     v.GetBool("consolidator.skip"),
		MaxChars: v.GetInt("consolidator.max_chars"),
		Timeout:  dur("consolidator.timeout"),
	}

	cfg.FactCheck = types.FactCheckConfig{
		APIKey:  v.GetString("fact_check.api_key"),
		Model:   v.GetString("fact_check.model"),
		BaseURL: v.GetString("fact_check.base_url"),
	}

	cfg.Mirror = types.MirrorConfig{
		PostgresEnabled:  v.GetBool("mirror.postgres_enabled"),
		PostgresDSN:      v.GetString("mirror.postgres_dsn"),
		QdrantEnabled:    v.GetBool("mirror.qdrant_enabled"),
		QdrantHost:       v.GetString("mirror.qdrant_host"),
		QdrantPort:       v.GetInt("mirror.qdrant_port"),
		QdrantCollection: v.GetString("mirror.qdrant_collection"),
		VectorSize:       v.GetInt("mirror.vector_size"),
		Neo4jEnabled:     v.GetBool("mirror.neo4j_enabled"),
		Neo4jURI:         v.GetString("mirror.neo4j_uri"),
		Neo4jUser:        v.GetString("mirror.neo4j_user"),
		Neo4jPassword:    v.GetString("mirror.neo4j_password"),
		S3Enabled:        v.GetBool("mirror.s3_enabled"),
		S3Endpoint:       v.GetString("mirror.s3_endpoint"),
		S3AccessKey:      v.GetString("mirror.s3_access_key"),
		S3SecretKey:      v.GetString("mirror.s3_secret_key"),
		S3Bucket:         v.GetString("mirror.s3_bucket"),
		S3UseSSL:         v.GetBool("mirror.s3_use_ssl"),
	}

	cfg.Usage = types.UsageConfig{
		Path:      v.GetString("usage.path"),
		Limits:    map[string]int{},
		CostPer1K: map[string]float64{},
	}
	for _, tool := range []string{usage.ToolGemini, usage.ToolDeepResearch, usage.ToolCodexLocal, usage.ToolFactCheck} {
		if n := v.GetInt("usage.limits." + tool); n > 0 {
			cfg.Usage.Limits[tool] = n
		}
	}
	for tool, c := range v.GetStringMap("usage.cost_per_1k") {
		if f, err := strconv.ParseFloat(fmt.Sprint(c), 64); err == nil {
			cfg.Usage.CostPer1K[tool] = f
		}
	}

	cfg.KnowledgeBase = types.KnowledgeBaseConfig{
		IndexDir:   v.GetString("knowledge_base.index_dir"),
		MaxResults: v.GetInt("knowledge_base.max_results"),
	}
	cfg.Log = types.LogConfig{
		Path:  v.GetString("log.path"),
		Level: v.GetString("log.level"),
	}

	return cfg, errors.Join(errs...)
}

// Seconds parses a duration. A bare number is a count of seconds, so
// environment values like "180" mean three minutes.
func Seconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

func nonEmpty(items ...string) []string {
	var out []string
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
