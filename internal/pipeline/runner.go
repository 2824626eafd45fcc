// Package pipeline orchestrates a single submission through analysis, OCR,
// extraction, validation and persistence, building the decision trace as it
// goes. One run produces one record and one trace; multi-document uploads
// recurse into a fresh run per child.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"essaypipe/internal/extract"
	"essaypipe/internal/ingest"
	"essaypipe/internal/metrics"
	"essaypipe/internal/model"
	"essaypipe/internal/objstore"
	"essaypipe/internal/ocr"
	"essaypipe/internal/validate"
)

// Timeouts bound the pipeline's suspension points.
type Timeouts struct {
	OCR    time.Duration // per chunk
	LLM    time.Duration // per call
	Object time.Duration // per put/get
	Record time.Duration // per DB write
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		OCR:    60 * time.Second,
		LLM:    30 * time.Second,
		Object: 20 * time.Second,
		Record: 10 * time.Second,
	}
}

// Config tunes one runner.
type Config struct {
	Rules            validate.Rules
	Timeouts         Timeouts
	Backoff          Backoff
	OCRParallelism   int
	PersistArtifacts bool
}

// Runner executes the submission pipeline. All capabilities are injected;
// the runner owns no global state and all intermediate state lives on the
// stack of a single run.
type Runner struct {
	analyzer   *ingest.Analyzer
	extractor  *extract.Extractor
	ocrDefault model.OCR
	ocrGoogle  model.OCR
	records    model.RecordStore
	objects    model.ObjectStore
	audit      *AuditWriter
	cfg        Config
	log        *zap.Logger
}

func NewRunner(
	analyzer *ingest.Analyzer,
	extractor *extract.Extractor,
	ocrDefault, ocrGoogle model.OCR,
	records model.RecordStore,
	objects model.ObjectStore,
	audit *AuditWriter,
	cfg Config,
	log *zap.Logger,
) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeouts == (Timeouts{}) {
		cfg.Timeouts = DefaultTimeouts()
	}
	if cfg.Backoff.Base == 0 && cfg.Backoff.Attempts == 0 {
		cfg.Backoff = DefaultBackoff()
	}
	return &Runner{
		analyzer:   analyzer,
		extractor:  extractor,
		ocrDefault: ocrDefault,
		ocrGoogle:  ocrGoogle,
		records:    records,
		objects:    objects,
		audit:      audit,
		cfg:        cfg,
		log:        log,
	}
}

// Request is one pipeline run's input. SubmissionID is derived from the
// bytes when empty; children arrive with theirs preset.
type Request struct {
	FileBytes       []byte
	Filename        string
	OwnerID         string
	UploadBatchID   string
	OCRProviderHint string

	SubmissionID       string
	ParentSubmissionID string
	ChildIndex         int
	MultiEntrySource   bool
}

// Run drives one submission through all stages. The record is persisted
// even on failure (status FAILED) as long as its original bytes landed in
// object storage. The returned error, if any, is the terminal stage error
// or a trace-persistence failure.
func (r *Runner) Run(ctx context.Context, req Request) (*model.SubmissionRecord, *model.AuditTrace, error) {
	sid := req.SubmissionID
	if sid == "" {
		sid = ingest.SubmissionID(req.FileBytes)
	}
	tb := newTraceBuilder(sid, req.OwnerID, ingest.Fingerprint(req.FileBytes), r.audit)

	rec := &model.SubmissionRecord{
		SubmissionID:       sid,
		OwnerID:            req.OwnerID,
		UploadBatchID:      req.UploadBatchID,
		ParentSubmissionID: req.ParentSubmissionID,
		ChildIndex:         req.ChildIndex,
		MultiEntrySource:   req.MultiEntrySource,
		Filename:           req.Filename,
		Status:             model.StatusPendingReview,
	}

	rec, trace, err := r.run(ctx, req, rec, tb)
	if saveErr := r.audit.SaveTrace(ctx, trace); saveErr != nil {
		r.log.Error("trace persistence failed", zap.String("submission_id", sid), zap.Error(saveErr))
		if err == nil {
			err = saveErr
		}
	}
	return rec, trace, err
}

func (r *Runner) run(ctx context.Context, req Request, rec *model.SubmissionRecord, tb *traceBuilder) (*model.SubmissionRecord, *model.AuditTrace, error) {
	sid := rec.SubmissionID

	// Stage: ingest. Losing the original bytes is terminal; a submission
	// cannot exist without them.
	key := objstore.OriginalKey(req.OwnerID, sid, fileExt(req.Filename))
	err := tb.stage(ctx, "ingest", model.EventIngested, func() error {
		return r.cfg.Backoff.retry(ctx, r.cfg.Timeouts.Object, func(ctx context.Context) error {
			if err := r.objects.Put(ctx, key, req.FileBytes); err != nil {
				return model.NewStageError(model.KindStorageError, "ingest", err)
			}
			return nil
		})
	})
	if err != nil {
		return r.finalizeFailed(ctx, rec, tb, err)
	}
	rec.StoragePath = key

	// Stage: analyze.
	var analysis *model.DocumentAnalysis
	err = tb.stage(ctx, "analyze", "", func() error {
		var aerr error
		analysis, aerr = r.analyzer.Analyze(ctx, req.FileBytes, req.Filename)
		return aerr
	})
	if err != nil {
		return r.finalizeFailed(ctx, rec, tb, err)
	}
	tb.signals(analysis.Signals)
	rec.DocClass = analysis.DocClass
	rec.DocFormat = analysis.Format

	if cancelErr := checkCancelled(ctx); cancelErr != nil {
		return r.finalizeFailed(ctx, rec, tb, cancelErr)
	}

	// Stage: split. A multi-document upload becomes one fresh run per
	// child; the parent survives only as a non-reviewable container row so
	// child parent references resolve.
	if analysis.Structure == model.StructureMulti && len(analysis.ChunkRanges) > 1 {
		return r.runSplit(ctx, req, rec, tb, analysis)
	}

	// Stage: ocr. Vendor failure is a degradation, not an abort: the
	// record continues with ocr_failed set and the validator flags it.
	var ocrRes *model.OcrResult
	err = tb.stage(ctx, "ocr", model.EventOCRComplete, func() error {
		var oerr error
		ocrRes, oerr = r.recognize(ctx, req, analysis)
		return oerr
	})
	if err != nil {
		return r.finalizeFailed(ctx, rec, tb, err)
	}
	rec.OCRFailed = ocrRes.OCRFailed
	rec.OCRConfidenceAvg = ocrRes.ConfidenceAvg
	if ocrRes.OCRFailed {
		metrics.OCRFailures.Inc()
		tb.signal("ocr_failed")
	}
	r.putArtifactJSON(ctx, req.OwnerID, sid, "ocr.json", ocrRes)
	r.putArtifact(ctx, req.OwnerID, sid, "raw_text.txt", []byte(ocrRes.FullText))

	// Stage: segment.
	var seg ingest.Segments
	_ = tb.stage(ctx, "segment", "", func() error {
		seg = ingest.Segment(ocrRes.FullText, analysis.DocClass)
		return nil
	})

	if cancelErr := checkCancelled(ctx); cancelErr != nil {
		return r.finalizeFailed(ctx, rec, tb, cancelErr)
	}

	// Stage: extract.
	var exRes *extract.Result
	err = tb.stage(ctx, "extract", model.EventExtractionComplete, func() error {
		return r.cfg.Backoff.retry(ctx, r.cfg.Timeouts.LLM, func(ctx context.Context) error {
			var eerr error
			exRes, eerr = r.extractor.Extract(ctx, analysis.FormLayout, seg, ocrRes.FullText)
			return eerr
		})
	})
	if err != nil {
		return r.finalizeFailed(ctx, rec, tb, err)
	}
	if exRes.FromCache {
		metrics.LLMCacheHits.Inc()
		r.audit.Emit(ctx, sid, model.EventCachedLLMResult, "")
	}
	tb.rules(exRes.RulesApplied)
	tb.signals(exRes.Signals)
	rec.Fields = exRes.Fields
	r.putArtifactJSON(ctx, req.OwnerID, sid, "structured.json", exRes.Fields)

	// Stage: classify. Deterministic; the model proposal never overrides.
	_ = tb.stage(ctx, "classify", "", func() error {
		final, feats, sigs := extract.Classify(ocrRes.FullText, analysis, exRes.ProposedDocType)
		rec.DocClass = final
		tb.signals(sigs)
		if b, err := json.Marshal(feats); err == nil {
			tb.signal("features: " + string(b))
		}
		return nil
	})

	// Stage: validate.
	var verdict validate.Outcome
	_ = tb.stage(ctx, "validate", model.EventValidationComplete, func() error {
		verdict = validate.Validate(r.cfg.Rules, validate.Input{
			DocClass:         rec.DocClass,
			Fields:           rec.Fields,
			SegmentedEssay:   seg.EssayBlock,
			RawText:          ocrRes.FullText,
			OCRConfidenceAvg: rec.OCRConfidenceAvg,
			OCRFailed:        rec.OCRFailed,
		})
		return nil
	})
	rec.WordCount = verdict.WordCount
	rec.NeedsReview = verdict.NeedsReview
	rec.ReviewReasonCodes = verdict.Codes
	if verdict.Codes.Contains(model.ReasonEscalated) {
		r.audit.Emit(ctx, sid, model.EventEscalated,
			fmt.Sprintf(`{"ocr_confidence_avg":%.3f}`, rec.OCRConfidenceAvg))
	}
	if verdict.EssaySource != "" {
		tb.signal("essay_source: " + verdict.EssaySource)
	}
	r.putArtifactJSON(ctx, req.OwnerID, sid, "validation.json", verdict)

	if rec.NeedsReview {
		rec.Status = model.StatusPendingReview
	} else {
		rec.Status = model.StatusProcessed
	}

	// Stage: save. A record-store failure here is terminal; the job stays
	// failed for operator inspection.
	err = tb.stage(ctx, "save", model.EventSaved, func() error {
		return r.cfg.Backoff.retry(ctx, r.cfg.Timeouts.Record, func(ctx context.Context) error {
			if err := r.records.Save(ctx, rec); err != nil {
				return model.NewStageError(model.KindRecordError, "save", err)
			}
			return nil
		})
	})
	if err != nil {
		tb.outcome(string(model.StatusFailed))
		return rec, &tb.trace, err
	}

	tb.outcome(string(rec.Status))
	r.putArtifactJSON(ctx, req.OwnerID, sid, "audit_trace.json", tb.trace)
	return rec, &tb.trace, nil
}

// runSplit persists the parent container and runs each child through a
// fresh pipeline. A failing child does not stop its siblings.
func (r *Runner) runSplit(ctx context.Context, req Request, rec *model.SubmissionRecord, tb *traceBuilder, analysis *model.DocumentAnalysis) (*model.SubmissionRecord, *model.AuditTrace, error) {
	var children []ingest.Child
	err := tb.stage(ctx, "split", "", func() error {
		var serr error
		children, serr = ingest.Split(rec.SubmissionID, req.FileBytes, analysis)
		return serr
	})
	if err != nil {
		return r.finalizeFailed(ctx, rec, tb, err)
	}

	childIDs := make([]string, 0, len(children))
	failures := 0
	for _, child := range children {
		childIDs = append(childIDs, child.ID)
		childReq := Request{
			FileBytes:          child.Bytes,
			Filename:           req.Filename,
			OwnerID:            req.OwnerID,
			UploadBatchID:      req.UploadBatchID,
			OCRProviderHint:    req.OCRProviderHint,
			SubmissionID:       child.ID,
			ParentSubmissionID: rec.SubmissionID,
			ChildIndex:         childIndexOf(child.ID),
			MultiEntrySource:   analysis.DocClass != model.DocClassBulkScannedBatch,
		}
		if _, _, cerr := r.Run(ctx, childReq); cerr != nil {
			failures++
			tb.signal(fmt.Sprintf("child_failed: %s", child.ID))
			r.log.Warn("child run failed",
				zap.String("parent", rec.SubmissionID),
				zap.String("child", child.ID),
				zap.Error(cerr))
		}
	}

	// The parent is a container, never reviewable: it holds the batch
	// together without entering review listings or exports.
	rec.Container = true
	rec.Status = model.StatusProcessed
	rec.NeedsReview = false
	err = r.cfg.Backoff.retry(ctx, r.cfg.Timeouts.Record, func(ctx context.Context) error {
		if err := r.records.Save(ctx, rec); err != nil {
			return model.NewStageError(model.KindRecordError, "save", err)
		}
		return nil
	})
	if err != nil {
		tb.outcome(string(model.StatusFailed))
		return rec, &tb.trace, err
	}

	tb.signal(fmt.Sprintf("children: %s", strings.Join(childIDs, ",")))
	tb.outcome(fmt.Sprintf("SPLIT:%d", len(children)))
	if failures > 0 {
		tb.outcome(fmt.Sprintf("SPLIT:%d FAILED_CHILDREN:%d", len(children), failures))
	}
	return rec, &tb.trace, nil
}

// recognize picks the text source for one chunk: the embedded text layer
// for native-text PDFs, a recognition provider otherwise.
func (r *Runner) recognize(ctx context.Context, req Request, analysis *model.DocumentAnalysis) (*model.OcrResult, error) {
	if analysis.Format == model.FormatNativeText {
		res, err := ingest.ReadTextLayer(req.FileBytes, model.PageRange{Start: 0, End: analysis.PageCount})
		if err != nil {
			// The analyzer already read this PDF once; a failure now means
			// the text layer is unreliable, so degrade to a failed read.
			return &model.OcrResult{OCRFailed: true}, nil
		}
		return res, nil
	}

	provider := ocr.ForHint(req.OCRProviderHint, r.ocrGoogle, r.ocrDefault, r.log)
	var res *model.OcrResult
	err := r.cfg.Backoff.retry(ctx, r.cfg.Timeouts.OCR, func(ctx context.Context) error {
		var oerr error
		if isImageFile(req.Filename) {
			res, oerr = provider.OCRImage(ctx, req.FileBytes)
		} else {
			res, oerr = ocr.PerPage(ctx, provider, req.FileBytes, model.PageRange{Start: 0, End: analysis.PageCount}, r.cfg.OCRParallelism)
		}
		if oerr != nil {
			return model.NewStageError(model.KindOCRError, "ocr", oerr)
		}
		return nil
	})
	if err != nil {
		// The capability contract: recognition trouble degrades, the
		// pipeline continues.
		return &model.OcrResult{OCRFailed: true}, nil
	}
	return res, nil
}

func (r *Runner) finalizeFailed(ctx context.Context, rec *model.SubmissionRecord, tb *traceBuilder, cause error) (*model.SubmissionRecord, *model.AuditTrace, error) {
	rec.Status = model.StatusFailed
	rec.NeedsReview = true
	tb.outcome(string(model.StatusFailed))

	// Best effort: keep the failed record visible unless the record store
	// itself is the problem.
	err := r.cfg.Backoff.retry(ctx, r.cfg.Timeouts.Record, func(ctx context.Context) error {
		if err := r.records.Save(ctx, rec); err != nil {
			return model.NewStageError(model.KindRecordError, "save", err)
		}
		return nil
	})
	if err != nil {
		r.log.Error("failed-record persistence failed",
			zap.String("submission_id", rec.SubmissionID), zap.Error(err))
	}
	return rec, &tb.trace, cause
}

func (r *Runner) putArtifact(ctx context.Context, ownerID, sid, name string, data []byte) {
	if !r.cfg.PersistArtifacts {
		return
	}
	key := objstore.ArtifactKey(ownerID, sid, name)
	if err := r.objects.Put(ctx, key, data); err != nil {
		r.log.Warn("artifact write failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Runner) putArtifactJSON(ctx context.Context, ownerID, sid, name string, v any) {
	if !r.cfg.PersistArtifacts {
		return
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	r.putArtifact(ctx, ownerID, sid, name, b)
}

func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return model.NewStageError(model.KindCancelled, "pipeline", err)
	}
	return nil
}

func fileExt(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

func isImageFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".webp", ".heic":
		return true
	}
	return false
}

// childIndexOf recovers the numeric suffix of a {parent}_pN or {parent}_eN
// child ID.
func childIndexOf(childID string) int {
	i := strings.LastIndex(childID, "_")
	if i < 0 || i+2 >= len(childID) {
		return 0
	}
	var n int
	if _, err := fmt.Sscanf(childID[i+2:], "%d", &n); err != nil {
		return 0
	}
	return n
}
