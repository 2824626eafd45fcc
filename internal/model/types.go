package model

import (
	"strings"
	"time"
)

// DocClass is the code-verified final document category. The validator keys
// its required-field matrix on this value.
type DocClass string

const (
	DocClassSingleTyped      DocClass = "SINGLE_TYPED"
	DocClassSingleScanned    DocClass = "SINGLE_SCANNED"
	DocClassMultiPageSingle  DocClass = "MULTI_PAGE_SINGLE"
	DocClassBulkScannedBatch DocClass = "BULK_SCANNED_BATCH"
	DocClassEssayHeader      DocClass = "ESSAY_WITH_HEADER_METADATA"
)

// DocFormat describes how text is carried by the source document.
type DocFormat string

const (
	FormatNativeText DocFormat = "native_text"
	FormatImageOnly  DocFormat = "image_only"
	FormatHybrid     DocFormat = "hybrid"
)

// DocStructure distinguishes one submission from a stack of them.
type DocStructure string

const (
	StructureSingle DocStructure = "single"
	StructureMulti  DocStructure = "multi"
)

// FormLayout selects the extraction path: the official typed form gets
// positional extraction, everything else goes through the LLM.
type FormLayout string

const (
	LayoutTypedForm FormLayout = "typed_form"
	LayoutFreeform  FormLayout = "freeform"
)

// Status is the submission lifecycle state.
type Status string

const (
	StatusPendingReview Status = "PENDING_REVIEW"
	StatusProcessed     Status = "PROCESSED"
	StatusApproved      Status = "APPROVED"
	StatusFailed        Status = "FAILED"
)

// Finalized reports whether a record in this status short-circuits
// reprocessing of the same content hash.
func (s Status) Finalized() bool {
	return s == StatusProcessed || s == StatusApproved
}

// ReasonCode is the closed vocabulary explaining why a record needs review.
type ReasonCode string

const (
	ReasonMissingStudentName ReasonCode = "MISSING_STUDENT_NAME"
	ReasonMissingSchoolName  ReasonCode = "MISSING_SCHOOL_NAME"
	ReasonMissingGrade       ReasonCode = "MISSING_GRADE"
	ReasonEmptyEssay         ReasonCode = "EMPTY_ESSAY"
	ReasonShortEssay         ReasonCode = "SHORT_ESSAY"
	ReasonLowConfidence      ReasonCode = "LOW_CONFIDENCE"
	ReasonOCRFailed          ReasonCode = "OCR_FAILED"
	ReasonEscalated          ReasonCode = "ESCALATED"
	ReasonTemplateOnly       ReasonCode = "TEMPLATE_ONLY"
	ReasonOffPrompt          ReasonCode = "OFF_PROMPT"
	ReasonDuplicateSkipped   ReasonCode = "DUPLICATE_SKIPPED"
)

// ReasonCodes is an ordered, duplicate-free code set. Insertion order is
// preserved because the serialized form is part of the export contract.
type ReasonCodes []ReasonCode

func (r ReasonCodes) Contains(code ReasonCode) bool {
	for _, c := range r {
		if c == code {
			return true
		}
	}
	return false
}

// Add appends code unless it is already present.
func (r ReasonCodes) Add(code ReasonCode) ReasonCodes {
	if r.Contains(code) {
		return r
	}
	return append(r, code)
}

// String renders the semicolon-joined serialization used in the record row
// and the CSV export.
func (r ReasonCodes) String() string {
	parts := make([]string, len(r))
	for i, c := range r {
		parts[i] = string(c)
	}
	return strings.Join(parts, ";")
}

// ParseReasonCodes is the inverse of String. Empty input yields nil.
func ParseReasonCodes(s string) ReasonCodes {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out ReasonCodes
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = out.Add(ReasonCode(part))
		}
	}
	return out
}

// ExtractedFields is the structured student metadata pulled out of a
// submission. Empty string means the field is absent; the persistence layer
// maps empty to NULL.
type ExtractedFields struct {
	StudentName      string `json:"student_name"`
	SchoolName       string `json:"school_name"`
	Grade            string `json:"grade"`
	TeacherName      string `json:"teacher_name"`
	FatherFigureName string `json:"father_figure_name"`
	Phone            string `json:"phone"`
	Email            string `json:"email"`
	CityOrLocation   string `json:"city_or_location"`
	EssayText        string `json:"essay_text"`
}

// Empty reports whether no field carries a value.
func (f ExtractedFields) Empty() bool {
	return f == ExtractedFields{}
}

// SubmissionRecord is the authoritative per-submission row.
type SubmissionRecord struct {
	SubmissionID       string
	OwnerID            string
	UploadBatchID      string
	ParentSubmissionID string
	ChildIndex         int
	MultiEntrySource   bool
	// Container marks the parent row of a split upload. Container rows hold
	// the batch together so child parent references resolve; they never enter
	// review listings, approval or exports.
	Container bool

	Filename           string
	DocClass           DocClass
	DocFormat          DocFormat
	Fields             ExtractedFields
	WordCount          int
	OCRConfidenceAvg   float64
	OCRFailed          bool
	NeedsReview        bool
	Status             Status
	ReviewReasonCodes  ReasonCodes
	StoragePath        string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// OcrLine is one extracted text line with its quality score.
type OcrLine struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// OcrResult is the in-memory output of one OCR (or text-layer) pass over a
// chunk. ConfidenceAvg is the deterministic quality proxy, not a vendor
// probability.
type OcrResult struct {
	FullText          string    `json:"full_text"`
	Lines             []OcrLine `json:"lines"`
	ConfidenceAvg     float64   `json:"confidence_avg"`
	OCRFailed         bool      `json:"ocr_failed"`
	PerPageConfidence []float64 `json:"per_page_confidence,omitempty"`
}

// PageRange is a half-open page index range [Start, End).
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// DocumentAnalysis is the analyzer verdict for one uploaded file.
type DocumentAnalysis struct {
	Format                   DocFormat
	Structure                DocStructure
	FormLayout               FormLayout
	PageCount                int
	ChunkRanges              []PageRange
	DocClass                 DocClass
	IsScannedMultiSubmission bool

	// Signals collects non-fatal analyzer observations for the trace.
	Signals []string
}

// AuditTrace is the one-per-run decision trace. Append-only; never updated.
type AuditTrace struct {
	SubmissionID     string
	OwnerID          string
	InputFingerprint string
	Signals          []string
	RulesApplied     []string
	Outcome          string
	Errors           []string
	CreatedAt        time.Time
}

// ActorRole identifies who produced an audit event.
type ActorRole string

const (
	ActorSystem   ActorRole = "system"
	ActorReviewer ActorRole = "reviewer"
)

// EventType is the closed audit event vocabulary.
type EventType string

const (
	EventIngested           EventType = "INGESTED"
	EventOCRComplete        EventType = "OCR_COMPLETE"
	EventExtractionComplete EventType = "EXTRACTION_COMPLETE"
	EventValidationComplete EventType = "VALIDATION_COMPLETE"
	EventSaved              EventType = "SAVED"
	EventApproved           EventType = "APPROVED"
	EventRejected           EventType = "REJECTED"
	EventDuplicateSkipped   EventType = "DUPLICATE_SKIPPED"
	EventEscalated          EventType = "ESCALATED"
	EventError              EventType = "ERROR"
	EventCachedLLMResult    EventType = "CACHED_LLM_RESULT"
)

// AuditEvent is one stage-level audit entry. Events for a submission are
// totally ordered by insertion.
type AuditEvent struct {
	SubmissionID string
	ActorRole    ActorRole
	EventType    EventType
	Payload      string
	CreatedAt    time.Time
}

// JobStatus is the queue element lifecycle.
type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobStarted  JobStatus = "started"
	JobFinished JobStatus = "finished"
	JobFailed   JobStatus = "failed"
)

// Job is one queue element. The payload is an opaque encoding of the upload
// request; records and audit rows are the durable truth, jobs are ephemeral
// beyond retention.
type Job struct {
	JobID      string
	Payload    []byte
	EnqueuedAt time.Time
	StartedAt  time.Time
	Attempts   int
	Status     JobStatus
	Outcome    string
}

// UploadRequest is the queue payload for one uploaded file.
type UploadRequest struct {
	FileBytes       []byte `json:"file_bytes"`
	Filename        string `json:"filename"`
	OwnerID         string `json:"owner_id"`
	AccessToken     string `json:"access_token,omitempty"`
	UploadBatchID   string `json:"upload_batch_id,omitempty"`
	OCRProviderHint string `json:"ocr_provider_hint,omitempty"`
}

// UploadBatch groups records from one bulk upload.
type UploadBatch struct {
	BatchID   string
	OwnerID   string
	Label     string
	CreatedAt time.Time
}

// RecordFilter narrows List queries.
type RecordFilter struct {
	Status        Status
	NeedsReview   *bool
	UploadBatchID string
	Limit         int
	Offset        int
}
