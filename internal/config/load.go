package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// DefaultConfigFile is the file name searched in the working directory.
const DefaultConfigFile = "essaypipe.toml"

// Options for loading config.
type Options struct {
	// ConfigPath overrides the default file location. A missing default
	// file is fine; a missing explicit path is an error.
	ConfigPath   string
	SkipValidate bool
	// Overrides apply last: flags beat env beats file beats defaults.
	Overrides *Overrides
}

// Overrides holds CLI flag values. Only non-nil fields are applied.
type Overrides struct {
	DataDir     string
	OCRProvider string
	LogLevel    string
}

// Load builds the configuration with precedence defaults, file, env,
// overrides.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	// Developer-local dotenv files, lowest env precedence. Real env vars
	// win because godotenv never overwrites an existing variable.
	for _, name := range []string{".env.local", ".env"} {
		if _, err := os.Stat(name); err == nil {
			if err := godotenv.Load(name); err != nil {
				return nil, fmt.Errorf("CONFIG_INVALID: load %s: %w", name, err)
			}
		}
	}

	path := opts.ConfigPath
	explicit := path != ""
	if path == "" {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("CONFIG_INVALID: malformed TOML in %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No config file, defaults apply.
	default:
		return nil, fmt.Errorf("CONFIG_INVALID: cannot read config file %s: %w", path, err)
	}

	applyEnv(&cfg)
	if opts.Overrides != nil {
		applyOverrides(&cfg, opts.Overrides)
	}

	if !opts.SkipValidate {
		if err := Validate(&cfg); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ESSAYPIPE_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("ESSAYPIPE_OCR_PROVIDER")); v != "" {
		cfg.OCR.Provider = v
	}
	if v := strings.TrimSpace(os.Getenv("ESSAYPIPE_DOCAI_PROCESSOR")); v != "" {
		cfg.OCR.DocAIProcessor = v
	}
	if v := strings.TrimSpace(os.Getenv("ESSAYPIPE_STORAGE_BUCKET")); v != "" {
		cfg.Storage.Backend = "gcs"
		cfg.Storage.Bucket = v
	}
	if v := strings.TrimSpace(os.Getenv("ESSAYPIPE_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("ESSAYPIPE_POLL_INTERVAL_MS")); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Worker.PollIntervalMS = ms
		}
	}
}

func applyOverrides(cfg *Config, o *Overrides) {
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	if o.OCRProvider != "" {
		cfg.OCR.Provider = o.OCRProvider
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
}

// Save writes the persistable part of the configuration as TOML. Secrets
// never land in the file.
func Save(path string, cfg *Config) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write config file %s: %w", path, err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
