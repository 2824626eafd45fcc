// Package config loads the essaypipe configuration with the precedence
// defaults, then the TOML config file, then dotenv/environment, then CLI
// overrides. Validation failures carry the CONFIG_INVALID prefix so the CLI
// can map them to exit code 2.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the full runtime configuration.
type Config struct {
	// DataDir holds the SQLite database, the LLM cache and the filesystem
	// object store.
	DataDir string `toml:"data_dir"`

	Logging    LoggingConfig    `toml:"logging"`
	Worker     WorkerConfig     `toml:"worker"`
	OCR        OCRConfig        `toml:"ocr"`
	Extractor  ExtractorConfig  `toml:"extractor"`
	Analyzer   AnalyzerConfig   `toml:"analyzer"`
	Validation ValidationConfig `toml:"validation"`
	Storage    StorageConfig    `toml:"storage"`
	Metrics    MetricsConfig    `toml:"metrics"`

	// API keys are runtime-only: they come from the environment, never from
	// the config file, and are never persisted.
	GeminiAPIKey string `toml:"-"`
}

type LoggingConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
	JSON  bool   `toml:"json"`
}

type WorkerConfig struct {
	PollIntervalMS int `toml:"poll_interval_ms"`
	// MaxAttempts caps the attempts of each retryable pipeline stage (OCR,
	// LLM, object store, DB) within one run.
	MaxAttempts int `toml:"max_attempts"`
	// RequeueLimit caps how many times a transiently failed job is handed
	// back to the queue before it is marked failed.
	RequeueLimit   int `toml:"requeue_limit"`
	JobTimeoutS    int `toml:"job_timeout_s"`
	SweepIntervalS int `toml:"sweep_interval_s"`
}

func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMS) * time.Millisecond
}

func (w WorkerConfig) JobTimeout() time.Duration {
	return time.Duration(w.JobTimeoutS) * time.Second
}

func (w WorkerConfig) SweepInterval() time.Duration {
	return time.Duration(w.SweepIntervalS) * time.Second
}

type OCRConfig struct {
	// Provider selects the recognition backend: "stub" or "google".
	// Unknown values fall back to the default provider with a warning.
	Provider    string `toml:"provider"`
	Parallelism int    `toml:"parallelism"`
	// DocAIProcessor is the full Document AI processor resource name,
	// projects/{p}/locations/{l}/processors/{id}.
	DocAIProcessor string `toml:"docai_processor"`
}

type ExtractorConfig struct {
	Model string `toml:"model"`
	// LLMTemperature must stay 0; extraction output feeds a deterministic
	// verification pass and a nonzero temperature breaks reproducibility.
	LLMTemperature float64 `toml:"llm_temperature"`
	CacheEnabled   bool    `toml:"cache_enabled"`
}

type AnalyzerConfig struct {
	HeaderScoreThreshold      float64 `toml:"header_score_threshold"`
	HeaderScoreThresholdImage float64 `toml:"header_score_threshold_image"`
}

type ValidationConfig struct {
	// RequiredFields maps a document class name to its required-field set;
	// classes not listed require all of essay, grade, school, student.
	RequiredFields         map[string][]string `toml:"required_fields"`
	LowConfidenceThreshold float64             `toml:"low_confidence_threshold"`
	EscalationThreshold    float64             `toml:"escalation_threshold"`
	ShortEssayWords        int                 `toml:"short_essay_words"`
}

type StorageConfig struct {
	// Backend is "fs" or "gcs".
	Backend string `toml:"backend"`
	Bucket  string `toml:"bucket"`
	// Artifacts enables per-stage artifact persistence (OCR text,
	// structured fields, validation verdict, trace) next to the original.
	Artifacts bool `toml:"artifacts"`
	// BaseURL prefixes storage paths in CSV exports.
	BaseURL string `toml:"base_url"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

func Default() Config {
	return Config{
		DataDir: ".essaypipe",
		Logging: LoggingConfig{Level: "info"},
		Worker: WorkerConfig{
			PollIntervalMS: 1000,
			MaxAttempts:    2,
			RequeueLimit:   3,
			JobTimeoutS:    3600,
			SweepIntervalS: 300,
		},
		OCR: OCRConfig{
			Provider:    "stub",
			Parallelism: 4,
		},
		Extractor: ExtractorConfig{
			Model:          "gemini-2.0-flash",
			LLMTemperature: 0,
			CacheEnabled:   true,
		},
		Analyzer: AnalyzerConfig{
			HeaderScoreThreshold:      0.20,
			HeaderScoreThresholdImage: 0.15,
		},
		Validation: ValidationConfig{
			LowConfidenceThreshold: 0.5,
			EscalationThreshold:    0.3,
			ShortEssayWords:        50,
		},
		Storage: StorageConfig{Backend: "fs"},
		Metrics: MetricsConfig{Listen: "127.0.0.1:9090"},
	}
}

// DBPath is the SQLite database location under the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "essaypipe.db")
}

// ObjectDir is the filesystem object store root.
func (c *Config) ObjectDir() string {
	return filepath.Join(c.DataDir, "objects")
}

// LLMCacheDir holds the cached model responses.
func (c *Config) LLMCacheDir() string {
	return filepath.Join(c.DataDir, "llm_cache")
}

// EnsureDirs creates the data directories the configured backends need.
func (c *Config) EnsureDirs() error {
	dirs := []string{c.DataDir, c.LLMCacheDir()}
	if c.Storage.Backend == "fs" {
		dirs = append(dirs, c.ObjectDir())
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
