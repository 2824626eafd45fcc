// Package worker drains the persistent job queue, one submission pipeline
// run per job. Jobs are claimed strictly oldest-first; a crashed worker's
// claims return to the queue through the stale sweep.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"essaypipe/internal/ingest"
	"essaypipe/internal/metrics"
	"essaypipe/internal/model"
	"essaypipe/internal/pipeline"
)

// Pipeline is the per-submission processing capability the worker drives.
type Pipeline interface {
	Run(ctx context.Context, req pipeline.Request) (*model.SubmissionRecord, *model.AuditTrace, error)
}

// Config tunes the poll loop. RequeueLimit counts queue claims of one job,
// not the per-stage retries inside a pipeline run.
type Config struct {
	PollInterval  time.Duration // default 1s
	JobTimeout    time.Duration // default 1h
	RequeueLimit  int           // default 3
	SweepInterval time.Duration // default 5m
}

func DefaultConfig() Config {
	return Config{
		PollInterval:  time.Second,
		JobTimeout:    time.Hour,
		RequeueLimit:  3,
		SweepInterval: 5 * time.Minute,
	}
}

// Worker owns one poll loop over one queue.
type Worker struct {
	queue    model.Queue
	records  model.RecordStore
	audit    *pipeline.AuditWriter
	pipeline Pipeline
	cfg      Config
	log      *zap.Logger
}

func New(queue model.Queue, records model.RecordStore, audit *pipeline.AuditWriter, p Pipeline, cfg Config, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Hour
	}
	if cfg.RequeueLimit <= 0 {
		cfg.RequeueLimit = 3
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	return &Worker{queue: queue, records: records, audit: audit, pipeline: p, cfg: cfg, log: log}
}

// Enqueue serializes one upload request onto the queue.
func Enqueue(ctx context.Context, queue model.Queue, req *model.UploadRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode upload request: %w", err)
	}
	return queue.Enqueue(ctx, payload)
}

// Run polls until the context ends. Each tick drains the queue completely,
// so a burst of uploads does not wait one poll interval per job.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Int("requeue_limit", w.cfg.RequeueLimit))

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	sweep := time.NewTicker(w.cfg.SweepInterval)
	defer sweep.Stop()

	w.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopping")
			return ctx.Err()
		case <-sweep.C:
			if n, err := w.queue.ResetStale(ctx); err != nil {
				w.log.Warn("stale sweep failed", zap.Error(err))
			} else if n > 0 {
				w.log.Info("stale jobs requeued", zap.Int("count", n))
			}
		case <-ticker.C:
			w.Drain(ctx)
		}
	}
}

// Drain claims and processes jobs until the queue is empty or the context
// ends.
func (w *Worker) Drain(ctx context.Context) {
	for ctx.Err() == nil {
		job, err := w.queue.Claim(ctx)
		if err != nil {
			if err != model.ErrNoJob {
				w.log.Error("claim failed", zap.Error(err))
			}
			return
		}
		metrics.JobsClaimed.Inc()
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *model.Job) {
	start := time.Now()
	defer func() {
		metrics.JobDuration.Observe(time.Since(start).Seconds())
	}()

	var req model.UploadRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		// An undecodable payload can never succeed; fail without retry.
		w.fail(ctx, job.JobID, fmt.Sprintf("bad payload: %v", err), model.KindInputError)
		return
	}

	sid := ingest.SubmissionID(req.FileBytes)
	log := w.log.With(zap.String("job_id", job.JobID), zap.String("submission_id", sid))

	// Same bytes, finalized record: skip the pipeline entirely.
	if existing, err := w.records.GetAny(ctx, sid); err == nil && existing.Status.Finalized() {
		metrics.DuplicatesSkipped.Inc()
		w.audit.Emit(ctx, sid, model.EventDuplicateSkipped,
			fmt.Sprintf(`{"existing_status":%q,"reason":%q}`, existing.Status, model.ReasonDuplicateSkipped))
		if err := w.queue.Finish(ctx, job.JobID, outcomeJSON(sid, "DUPLICATE_SKIPPED", false)); err != nil {
			log.Error("finish failed", zap.Error(err))
		}
		metrics.JobsFinished.Inc()
		log.Info("duplicate skipped", zap.String("existing_status", string(existing.Status)))
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	rec, _, err := w.pipeline.Run(jobCtx, pipeline.Request{
		FileBytes:       req.FileBytes,
		Filename:        req.Filename,
		OwnerID:         req.OwnerID,
		UploadBatchID:   req.UploadBatchID,
		OCRProviderHint: req.OCRProviderHint,
		SubmissionID:    sid,
	})
	if err != nil {
		kind := model.KindOf(err)
		if kind.Transient() && job.Attempts < w.cfg.RequeueLimit {
			log.Warn("job requeued", zap.String("kind", string(kind)),
				zap.Int("attempt", job.Attempts), zap.Error(err))
			if rerr := w.queue.Requeue(ctx, job.JobID); rerr != nil {
				log.Error("requeue failed", zap.Error(rerr))
				w.fail(ctx, job.JobID, err.Error(), kind)
			}
			return
		}
		w.fail(ctx, job.JobID, err.Error(), kind)
		log.Error("job failed", zap.String("kind", string(kind)),
			zap.Int("attempts", job.Attempts), zap.Error(err))
		return
	}

	if err := w.queue.Finish(ctx, job.JobID, outcomeJSON(rec.SubmissionID, string(rec.Status), rec.NeedsReview)); err != nil {
		log.Error("finish failed", zap.Error(err))
	}
	metrics.JobsFinished.Inc()
	log.Info("job finished",
		zap.String("status", string(rec.Status)),
		zap.Bool("needs_review", rec.NeedsReview),
		zap.Duration("took", time.Since(start)))
}

func (w *Worker) fail(ctx context.Context, jobID, outcome string, kind model.ErrorKind) {
	metrics.JobsFailed.Inc()
	metrics.StageErrors.WithLabelValues(string(kind)).Inc()
	if err := w.queue.Fail(ctx, jobID, outcome); err != nil {
		w.log.Error("fail write failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func outcomeJSON(submissionID, status string, needsReview bool) string {
	b, _ := json.Marshal(map[string]any{
		"submission_id": submissionID,
		"status":        status,
		"needs_review":  needsReview,
	})
	return string(b)
}
