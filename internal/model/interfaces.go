package model

import "context"

// RecordStore persists submission records. Get and List are owner-scoped;
// GetAny bypasses the owner gate and exists for privileged paths (idempotency
// lookups, review tooling).
type RecordStore interface {
	Save(ctx context.Context, rec *SubmissionRecord) error
	Get(ctx context.Context, ownerID, submissionID string) (*SubmissionRecord, error)
	GetAny(ctx context.Context, submissionID string) (*SubmissionRecord, error)
	List(ctx context.Context, ownerID string, filter RecordFilter) ([]SubmissionRecord, error)
	Children(ctx context.Context, parentSubmissionID string) ([]SubmissionRecord, error)
	SetStatus(ctx context.Context, submissionID string, status Status, needsReview bool, codes ReasonCodes) error
}

// AuditStore persists traces and events. Both tables are append-only.
type AuditStore interface {
	SaveTrace(ctx context.Context, trace *AuditTrace) error
	AppendEvent(ctx context.Context, ev *AuditEvent) error
	Traces(ctx context.Context, submissionID string) ([]AuditTrace, error)
	Events(ctx context.Context, submissionID string) ([]AuditEvent, error)
}

// Queue is the persistent FIFO job queue. Claim atomically transitions the
// oldest queued job to started; it returns ErrNoJob when the queue is empty.
type Queue interface {
	Enqueue(ctx context.Context, payload []byte) (jobID string, err error)
	Claim(ctx context.Context) (*Job, error)
	Finish(ctx context.Context, jobID string, outcome string) error
	Fail(ctx context.Context, jobID string, outcome string) error
	Requeue(ctx context.Context, jobID string) error
	ResetStale(ctx context.Context) (int, error)
	Depth(ctx context.Context) (queued, started int, err error)
}

// ObjectStore is the artifact sink (original uploads plus optional per-stage
// artifacts). Keys are slash-separated paths.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// OCR turns page images or scanned PDFs into text. Implementations never
// return a vendor error for a failed read; they set OCRFailed on the result
// so the pipeline can degrade instead of abort.
type OCR interface {
	OCRImage(ctx context.Context, image []byte) (*OcrResult, error)
	OCRPDFPages(ctx context.Context, pdf []byte, pages PageRange) (*OcrResult, error)
}

// LLM is the model-assisted extraction capability. Implementations pin
// temperature to zero; responses are raw strings the caller parses.
type LLM interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Rasterizer renders one PDF page to an image for pixel-level analysis.
// Optional: the analyzer degrades to text-layer signals when rendering fails.
type Rasterizer interface {
	RenderPage(ctx context.Context, pdf []byte, page int) ([]byte, error)
}
