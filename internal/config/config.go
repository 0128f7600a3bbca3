package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the pipeline. Values come from an optional
// YAML file, overridden by environment variables, falling back to defaults.
type Config struct {
	// Model selects the Gemini model for categorization and structure calls.
	Model string `yaml:"model"`
	// EmbeddingModel selects the embedding model for the semantic matcher.
	EmbeddingModel string `yaml:"embedding_model"`
	// ModelBackend is "gemini" or "openai" (any OpenAI-compatible endpoint).
	ModelBackend string `yaml:"model_backend"`
	// OpenAIBaseURL points an OpenAI-compatible backend at a local server.
	OpenAIBaseURL string `yaml:"openai_base_url"`
	// Simulate routes categorization to a deterministic offline categorizer.
	Simulate bool `yaml:"simulate"`

	// Matching thresholds.
	FuzzyThreshold          float64 `yaml:"fuzzy_threshold"`
	MerchantFuzzyThreshold  float64 `yaml:"merchant_fuzzy_threshold"`
	SemanticAutoDistance    float64 `yaml:"semantic_auto_distance"`
	SemanticContextDistance float64 `yaml:"semantic_context_distance"`
	// HistoryLimit caps how many categorized transactions the matcher reads.
	HistoryLimit int `yaml:"history_limit"`

	// Batching.
	BatchSize int `yaml:"batch_size"`
	BatchMin  int `yaml:"batch_min"`
	BatchMax  int `yaml:"batch_max"`

	// Model call resilience.
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	ModelTimeout   time.Duration `yaml:"model_timeout"`

	// Structure detection sampling.
	SamplePercent float64 `yaml:"sample_percent"`
	SampleFloor   int     `yaml:"sample_floor"`
	DateParseRate float64 `yaml:"date_parse_rate"`

	// Template noise learning.
	TemplateMinSample     int     `yaml:"template_min_sample"`
	TemplateFreqThreshold float64 `yaml:"template_freq_threshold"`

	// StuckGracePeriod is how long an upload may sit in processing before
	// the watchdog re-claims it.
	StuckGracePeriod time.Duration `yaml:"stuck_grace_period"`

	// GCS archival.
	ArchiveBucket string `yaml:"archive_bucket"`

	// BigQuery deployment.
	ProjectID string `yaml:"project_id"`
	Dataset   string `yaml:"dataset"`
}

// Default returns the configuration used when no file and no env are present.
func Default() *Config {
	return &Config{
		Model:                   "gemini-2.0-flash",
		EmbeddingModel:          "gemini-embedding-001",
		ModelBackend:            "gemini",
		FuzzyThreshold:          0.80,
		MerchantFuzzyThreshold:  0.85,
		SemanticAutoDistance:    0.06,
		SemanticContextDistance: 0.25,
		HistoryLimit:            2000,
		BatchSize:               15,
		BatchMin:                10,
		BatchMax:                25,
		MaxRetries:              5,
		RetryBaseDelay:          2 * time.Second,
		ModelTimeout:            60 * time.Second,
		SamplePercent:           0.2,
		SampleFloor:             5,
		DateParseRate:           0.8,
		TemplateMinSample:       150,
		TemplateFreqThreshold:   0.35,
		StuckGracePeriod:        10 * time.Minute,
		Dataset:                 "spesalog",
	}
}

// Load reads the YAML file at path (if it exists), applies environment
// overrides, and validates the result. An empty path skips the file step.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("load config %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML, used by the CLI init command.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.Model, "SPESALOG_MODEL")
	setString(&c.EmbeddingModel, "SPESALOG_EMBEDDING_MODEL")
	setString(&c.ModelBackend, "SPESALOG_MODEL_BACKEND")
	setString(&c.OpenAIBaseURL, "SPESALOG_OPENAI_BASE_URL")
	setBool(&c.Simulate, "SPESALOG_SIMULATE")
	setFloat(&c.FuzzyThreshold, "SPESALOG_FUZZY_THRESHOLD")
	setFloat(&c.MerchantFuzzyThreshold, "SPESALOG_MERCHANT_FUZZY_THRESHOLD")
	setFloat(&c.SemanticAutoDistance, "SPESALOG_SEMANTIC_AUTO_DISTANCE")
	setFloat(&c.SemanticContextDistance, "SPESALOG_SEMANTIC_CONTEXT_DISTANCE")
	setInt(&c.HistoryLimit, "SPESALOG_HISTORY_LIMIT")
	setInt(&c.BatchSize, "SPESALOG_BATCH_SIZE")
	setInt(&c.BatchMin, "SPESALOG_BATCH_MIN")
	setInt(&c.BatchMax, "SPESALOG_BATCH_MAX")
	setInt(&c.MaxRetries, "SPESALOG_MAX_RETRIES")
	setDuration(&c.RetryBaseDelay, "SPESALOG_RETRY_BASE_DELAY")
	setDuration(&c.ModelTimeout, "SPESALOG_MODEL_TIMEOUT")
	setFloat(&c.SamplePercent, "SPESALOG_SAMPLE_PERCENT")
	setInt(&c.SampleFloor, "SPESALOG_SAMPLE_FLOOR")
	setDuration(&c.StuckGracePeriod, "SPESALOG_STUCK_GRACE_PERIOD")
	setString(&c.ArchiveBucket, "SPESALOG_ARCHIVE_BUCKET")
	setString(&c.ProjectID, "SPESALOG_PROJECT_ID")
	setString(&c.Dataset, "SPESALOG_DATASET")
}

// Validate rejects configurations the pipeline cannot run under.
func (c *Config) Validate() error {
	if c.BatchMin <= 0 || c.BatchSize < c.BatchMin || c.BatchMax < c.BatchSize {
		return fmt.Errorf("config: batch bounds must satisfy 0 < min <= size <= max, got %d/%d/%d",
			c.BatchMin, c.BatchSize, c.BatchMax)
	}
	if c.FuzzyThreshold <= 0 || c.FuzzyThreshold > 1 {
		return fmt.Errorf("config: fuzzy_threshold %v out of (0,1]", c.FuzzyThreshold)
	}
	if c.SemanticAutoDistance > c.SemanticContextDistance {
		return fmt.Errorf("config: semantic_auto_distance %v exceeds semantic_context_distance %v",
			c.SemanticAutoDistance, c.SemanticContextDistance)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: max_retries must not be negative")
	}
	if c.RetryBaseDelay < 0 {
		return fmt.Errorf("config: retry_base_delay must not be negative, got %v", c.RetryBaseDelay)
	}
	switch c.ModelBackend {
	case "gemini", "openai":
	default:
		return fmt.Errorf("config: unknown model_backend %q", c.ModelBackend)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
