package config

import (
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

var validFields = map[string]bool{
	"essay": true, "grade": true, "school": true, "student": true,
}

// Validate checks the assembled configuration. Errors carry the
// CONFIG_INVALID prefix and map to exit code 2 in the CLI.
func Validate(cfg *Config) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("CONFIG_INVALID: "+format, args...)
	}

	if strings.TrimSpace(cfg.DataDir) == "" {
		return fail("data_dir is required")
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fail("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}

	if cfg.Worker.PollIntervalMS <= 0 {
		return fail("worker.poll_interval_ms must be positive, got %d", cfg.Worker.PollIntervalMS)
	}
	if cfg.Worker.MaxAttempts <= 0 {
		return fail("worker.max_attempts must be positive, got %d", cfg.Worker.MaxAttempts)
	}
	if cfg.Worker.RequeueLimit <= 0 {
		return fail("worker.requeue_limit must be positive, got %d", cfg.Worker.RequeueLimit)
	}
	if cfg.Worker.JobTimeoutS <= 0 {
		return fail("worker.job_timeout_s must be positive, got %d", cfg.Worker.JobTimeoutS)
	}

	if cfg.Extractor.LLMTemperature != 0 {
		return fail("extractor.llm_temperature must be 0, got %v", cfg.Extractor.LLMTemperature)
	}
	if cfg.OCR.Parallelism < 1 {
		return fail("ocr.parallelism must be at least 1, got %d", cfg.OCR.Parallelism)
	}
	if cfg.OCR.Provider == "google" && strings.TrimSpace(cfg.OCR.DocAIProcessor) == "" {
		return fail("ocr.provider is google but ocr.docai_processor is empty")
	}

	if t := cfg.Analyzer.HeaderScoreThreshold; t < 0 || t > 1 {
		return fail("analyzer.header_score_threshold must be in [0,1], got %v", t)
	}
	if t := cfg.Analyzer.HeaderScoreThresholdImage; t < 0 || t > 1 {
		return fail("analyzer.header_score_threshold_image must be in [0,1], got %v", t)
	}
	if t := cfg.Validation.LowConfidenceThreshold; t < 0 || t > 1 {
		return fail("validation.low_confidence_threshold must be in [0,1], got %v", t)
	}
	if t := cfg.Validation.EscalationThreshold; t < 0 || t > 1 {
		return fail("validation.escalation_threshold must be in [0,1], got %v", t)
	}
	if cfg.Validation.ShortEssayWords < 0 {
		return fail("validation.short_essay_words must not be negative, got %d", cfg.Validation.ShortEssayWords)
	}
	for class, fields := range cfg.Validation.RequiredFields {
		for _, f := range fields {
			if !validFields[f] {
				return fail("validation.required_fields[%s] contains unknown field %q", class, f)
			}
		}
	}

	switch cfg.Storage.Backend {
	case "fs":
	case "gcs":
		if strings.TrimSpace(cfg.Storage.Bucket) == "" {
			return fail("storage.backend is gcs but storage.bucket is empty")
		}
	default:
		return fail("storage.backend %q is not one of fs, gcs", cfg.Storage.Backend)
	}

	return nil
}
