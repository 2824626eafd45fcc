package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"essaypipe/internal/config"
	"essaypipe/internal/export"
	"essaypipe/internal/extract"
	"essaypipe/internal/ingest"
	"essaypipe/internal/llm"
	"essaypipe/internal/model"
	"essaypipe/internal/objstore"
	"essaypipe/internal/ocr"
	"essaypipe/internal/pipeline"
	"essaypipe/internal/review"
	"essaypipe/internal/store"
	"essaypipe/internal/validate"
	"essaypipe/internal/worker"
)

// app is the assembled application: every capability constructed once,
// shared by the commands.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	store *store.SQLiteStore

	objects  model.ObjectStore
	audit    *pipeline.AuditWriter
	runner   *pipeline.Runner
	worker   *worker.Worker
	reviewer *review.Reviewer
	exporter *export.Exporter

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("create data directories: %w", err)
	}

	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, func() error {
		_ = log.Sync()
		return nil
	})

	a.store = store.NewSQLiteStore(cfg.DBPath())
	if err := a.store.Init(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	if err := a.buildObjects(ctx); err != nil {
		a.Close()
		return nil, err
	}

	googleOCR, defaultOCR, err := a.buildOCR(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	extractionLLM, err := a.buildLLM(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	analyzer := ingest.NewAnalyzer(ingest.NoopRasterizer{}, googleOCR, ingest.AnalyzerConfig{
		HeaderScoreThreshold:      cfg.Analyzer.HeaderScoreThreshold,
		HeaderScoreThresholdImage: cfg.Analyzer.HeaderScoreThresholdImage,
	}, log)
	extractor := extract.NewExtractor(extractionLLM, log)

	// worker.max_attempts caps the per-stage retries inside one run.
	backoff := pipeline.DefaultBackoff()
	backoff.Attempts = cfg.Worker.MaxAttempts

	a.audit = pipeline.NewAuditWriter(a.store, backoff, 0, log)
	a.runner = pipeline.NewRunner(analyzer, extractor, defaultOCR, googleOCR,
		a.store, a.objects, a.audit, pipeline.Config{
			Rules:            rulesFromConfig(cfg),
			Backoff:          backoff,
			OCRParallelism:   cfg.OCR.Parallelism,
			PersistArtifacts: cfg.Storage.Artifacts,
		}, log)
	a.worker = worker.New(a.store, a.store, a.audit, a.runner, worker.Config{
		PollInterval:  cfg.Worker.PollInterval(),
		JobTimeout:    cfg.Worker.JobTimeout(),
		RequeueLimit:  cfg.Worker.RequeueLimit,
		SweepInterval: cfg.Worker.SweepInterval(),
	}, log)
	a.reviewer = review.NewReviewer(a.store, a.audit, rulesFromConfig(cfg), log)
	a.exporter = export.NewExporter(a.store, log)

	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.log != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
}

func (a *app) buildObjects(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case "gcs":
		gcs, err := objstore.NewGCSStore(ctx, a.cfg.Storage.Bucket)
		if err != nil {
			return fmt.Errorf("open gcs bucket %s: %w", a.cfg.Storage.Bucket, err)
		}
		a.objects = gcs
	default:
		a.objects = objstore.NewFSStore(a.cfg.ObjectDir())
	}
	return nil
}

// buildOCR returns the Document AI provider (nil unless configured) and
// the provider uploads use when they carry no hint.
func (a *app) buildOCR(ctx context.Context) (model.OCR, model.OCR, error) {
	stub := ocr.NewStub(a.log)
	if a.cfg.OCR.Provider != "google" {
		return nil, stub, nil
	}
	docai, err := ocr.NewDocAI(ctx, a.cfg.OCR.DocAIProcessor, a.log)
	if err != nil {
		return nil, nil, fmt.Errorf("init document ai: %w", err)
	}
	a.closers = append(a.closers, docai.Close)
	return docai, docai, nil
}

// buildLLM returns the extraction model, disk-cached when enabled, or nil
// when no API key is configured. A nil model degrades extraction to the
// rule-based path.
func (a *app) buildLLM(ctx context.Context) (model.LLM, error) {
	if a.cfg.GeminiAPIKey == "" {
		a.log.Warn("no GEMINI_API_KEY set, extraction runs rule-based only")
		return nil, nil
	}
	gemini, err := llm.NewGemini(ctx, a.cfg.GeminiAPIKey, a.cfg.Extractor.Model,
		a.cfg.Extractor.LLMTemperature, a.log)
	if err != nil {
		return nil, fmt.Errorf("init extraction model: %w", err)
	}
	if !a.cfg.Extractor.CacheEnabled {
		return gemini, nil
	}
	return llm.NewCache(gemini, a.cfg.LLMCacheDir(), a.log), nil
}

func rulesFromConfig(cfg *config.Config) validate.Rules {
	rules := validate.Rules{
		LowConfidenceThreshold: cfg.Validation.LowConfidenceThreshold,
		EscalationThreshold:    cfg.Validation.EscalationThreshold,
		ShortEssayWords:        cfg.Validation.ShortEssayWords,
	}
	if len(cfg.Validation.RequiredFields) > 0 {
		rules.RequiredFields = make(map[model.DocClass][]string, len(cfg.Validation.RequiredFields))
		for class, fields := range cfg.Validation.RequiredFields {
			rules.RequiredFields[model.DocClass(class)] = fields
		}
	}
	return rules
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("CONFIG_INVALID: logging.level: %w", err)
	}
	var zcfg zap.Config
	if cfg.Logging.JSON || globalFlags.JSON {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if globalFlags.Quiet && level < zapcore.WarnLevel {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	return zcfg.Build()
}
