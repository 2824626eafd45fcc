package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"essaypipe/internal/extract"
	"essaypipe/internal/ingest"
	"essaypipe/internal/model"
	"essaypipe/internal/validate"
)

type memRecords struct {
	mu   sync.Mutex
	rows map[string]model.SubmissionRecord
	fail bool
}

func newMemRecords() *memRecords {
	return &memRecords{rows: map[string]model.SubmissionRecord{}}
}

func (m *memRecords) Save(ctx context.Context, rec *model.SubmissionRecord) error {
	if m.fail {
		return errors.New("db locked")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[rec.SubmissionID] = *rec
	return nil
}

func (m *memRecords) Get(ctx context.Context, ownerID, id string) (*model.SubmissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok || rec.OwnerID != ownerID {
		return nil, model.ErrNotFound
	}
	return &rec, nil
}

func (m *memRecords) GetAny(ctx context.Context, id string) (*model.SubmissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &rec, nil
}

func (m *memRecords) List(ctx context.Context, ownerID string, f model.RecordFilter) ([]model.SubmissionRecord, error) {
	return nil, nil
}

func (m *memRecords) Children(ctx context.Context, parentID string) ([]model.SubmissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SubmissionRecord
	for _, rec := range m.rows {
		if rec.ParentSubmissionID == parentID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memRecords) SetStatus(ctx context.Context, id string, status model.Status, needsReview bool, codes model.ReasonCodes) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return model.ErrNotFound
	}
	rec.Status = status
	rec.NeedsReview = needsReview
	rec.ReviewReasonCodes = codes
	m.rows[id] = rec
	return nil
}

type memAudit struct {
	mu        sync.Mutex
	traces    []model.AuditTrace
	events    []model.AuditEvent
	failTrace bool
}

func (m *memAudit) SaveTrace(ctx context.Context, trace *model.AuditTrace) error {
	if m.failTrace {
		return errors.New("audit table gone")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces = append(m.traces, *trace)
	return nil
}

func (m *memAudit) AppendEvent(ctx context.Context, ev *model.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func (m *memAudit) Traces(ctx context.Context, id string) ([]model.AuditTrace, error) {
	return m.traces, nil
}

func (m *memAudit) Events(ctx context.Context, id string) ([]model.AuditEvent, error) {
	return m.events, nil
}

func (m *memAudit) eventTypes(id string) []model.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.EventType
	for _, ev := range m.events {
		if ev.SubmissionID == id {
			out = append(out, ev.EventType)
		}
	}
	return out
}

type memObjects struct {
	mu      sync.Mutex
	blob    map[string][]byte
	fail    bool
	failSub string // keys containing this substring fail
}

func newMemObjects() *memObjects { return &memObjects{blob: map[string][]byte{}} }

func (m *memObjects) Put(ctx context.Context, key string, data []byte) error {
	if m.fail || (m.failSub != "" && strings.Contains(key, m.failSub)) {
		return errors.New("bucket unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob[key] = data
	return nil
}

func (m *memObjects) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blob[key]
	if !ok {
		return nil, model.ErrNotFound
	}
	return b, nil
}

type fakeOCR struct {
	text string
	conf float64
	fail bool
}

func (f *fakeOCR) result() *model.OcrResult {
	if f.fail {
		return &model.OcrResult{OCRFailed: true}
	}
	return &model.OcrResult{FullText: f.text, ConfidenceAvg: f.conf}
}

func (f *fakeOCR) OCRImage(ctx context.Context, image []byte) (*model.OcrResult, error) {
	return f.result(), nil
}

func (f *fakeOCR) OCRPDFPages(ctx context.Context, pdf []byte, pages model.PageRange) (*model.OcrResult, error) {
	return f.result(), nil
}

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string) (string, error) {
	return f.response, f.err
}

const scanText = `Student's Name: Maria Lopez
School / Escuela: Lincoln Middle School
Grade / Grado: 5
Tell us about your father figure:
My father figure is my grandfather and he has always been there for me
when things were hard and he taught me how to fix things around the
house and how to be patient with people even when they are unkind.
He wakes up early every morning and makes breakfast before anyone else
is awake and he never complains about the work he does for our family.
I want to grow up to be as steady and as generous as he is every day.`

const llmJSON = `{"student_name":"Maria Lopez","school_name":"Lincoln Middle School","grade":"5","teacher_name":null,"father_figure_name":null,"phone":null,"email":null,"city_or_location":null,"essay_text":"My father figure is my grandfather and he has always been there for me when things were hard and he taught me how to fix things around the house and how to be patient with people even when they are unkind. He wakes up early every morning and makes breakfast before anyone else is awake and he never complains about the work he does for our family. I want to grow up to be as steady and as generous as he is every day.","doc_type":"SINGLE_SCANNED"}`

func testRunner(t *testing.T, ocrProv model.OCR, llm model.LLM, records *memRecords, audit *memAudit, objects *memObjects) *Runner {
	t.Helper()
	backoff := Backoff{Base: time.Millisecond, Cap: time.Millisecond, Attempts: 2, Sleep: func(time.Duration) {}}
	writer := NewAuditWriter(audit, backoff, time.Second, nil)
	analyzer := ingest.NewAnalyzer(nil, nil, ingest.AnalyzerConfig{}, nil)
	extractor := extract.NewExtractor(llm, nil)
	return NewRunner(analyzer, extractor, ocrProv, nil, records, objects, writer, Config{
		Rules:   validate.DefaultRules(),
		Backoff: backoff,
	}, nil)
}

func TestRunImageSubmissionClean(t *testing.T) {
	records := newMemRecords()
	audit := &memAudit{}
	objects := newMemObjects()
	ocrProv := &fakeOCR{text: scanText, conf: 0.92}
	r := testRunner(t, ocrProv, &fakeLLM{response: llmJSON}, records, audit, objects)

	rec, trace, err := r.Run(context.Background(), Request{
		FileBytes: []byte("fake-png-bytes"),
		Filename:  "essay.png",
		OwnerID:   "owner-1",
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusProcessed, rec.Status)
	assert.False(t, rec.NeedsReview)
	assert.Empty(t, rec.ReviewReasonCodes)
	assert.Equal(t, "Maria Lopez", rec.Fields.StudentName)
	assert.Equal(t, "Lincoln Middle School", rec.Fields.SchoolName)
	assert.Equal(t, "5", rec.Fields.Grade)
	assert.Greater(t, rec.WordCount, 50)
	assert.Equal(t, model.DocClassSingleScanned, rec.DocClass)

	// Persisted copies line up with the returned values.
	saved, err := records.GetAny(context.Background(), rec.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, rec.Status, saved.Status)

	_, err = objects.Get(context.Background(), rec.StoragePath)
	require.NoError(t, err)

	assert.Equal(t, string(model.StatusProcessed), trace.Outcome)
	types := audit.eventTypes(rec.SubmissionID)
	assert.Contains(t, types, model.EventIngested)
	assert.Contains(t, types, model.EventOCRComplete)
	assert.Contains(t, types, model.EventExtractionComplete)
	assert.Contains(t, types, model.EventValidationComplete)
	assert.Contains(t, types, model.EventSaved)
	require.Len(t, audit.traces, 1)
}

func TestRunOCRFailureDegrades(t *testing.T) {
	records := newMemRecords()
	audit := &memAudit{}
	objects := newMemObjects()
	r := testRunner(t, &fakeOCR{fail: true}, &fakeLLM{err: errors.New("quota")}, records, audit, objects)

	rec, trace, err := r.Run(context.Background(), Request{
		FileBytes: []byte("scan"),
		Filename:  "scan.jpg",
		OwnerID:   "owner-1",
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusPendingReview, rec.Status)
	assert.True(t, rec.NeedsReview)
	assert.True(t, rec.OCRFailed)
	assert.True(t, rec.ReviewReasonCodes.Contains(model.ReasonOCRFailed))
	assert.Contains(t, trace.Signals, "ocr_failed")
}

func TestRunObjectStoreFailureIsTerminal(t *testing.T) {
	records := newMemRecords()
	audit := &memAudit{}
	objects := newMemObjects()
	objects.fail = true
	r := testRunner(t, &fakeOCR{text: scanText, conf: 0.9}, &fakeLLM{response: llmJSON}, records, audit, objects)

	rec, trace, err := r.Run(context.Background(), Request{
		FileBytes: []byte("bytes"),
		Filename:  "essay.png",
		OwnerID:   "owner-1",
	})
	require.Error(t, err)
	assert.Equal(t, model.KindStorageError, model.KindOf(err))
	assert.Equal(t, model.StatusFailed, rec.Status)
	assert.Equal(t, string(model.StatusFailed), trace.Outcome)

	// The failed record is still visible for operators.
	saved, gerr := records.GetAny(context.Background(), rec.SubmissionID)
	require.NoError(t, gerr)
	assert.Equal(t, model.StatusFailed, saved.Status)

	// An ERROR event names the stage that broke.
	var sawError bool
	for _, ev := range audit.events {
		if ev.EventType == model.EventError && strings.Contains(ev.Payload, `"stage":"ingest"`) {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestRunTracePersistenceFailureReported(t *testing.T) {
	records := newMemRecords()
	audit := &memAudit{failTrace: true}
	objects := newMemObjects()
	r := testRunner(t, &fakeOCR{text: scanText, conf: 0.9}, &fakeLLM{response: llmJSON}, records, audit, objects)

	rec, _, err := r.Run(context.Background(), Request{
		FileBytes: []byte("bytes"),
		Filename:  "essay.png",
		OwnerID:   "owner-1",
	})
	require.Error(t, err)
	assert.Equal(t, model.KindAuditError, model.KindOf(err))
	// The record itself stays processed; only the trace write failed.
	assert.Equal(t, model.StatusProcessed, rec.Status)
}

func TestRunCancelledContext(t *testing.T) {
	records := newMemRecords()
	audit := &memAudit{}
	objects := newMemObjects()
	r := testRunner(t, &fakeOCR{text: scanText, conf: 0.9}, &fakeLLM{response: llmJSON}, records, audit, objects)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := r.Run(ctx, Request{
		FileBytes: []byte("bytes"),
		Filename:  "essay.png",
		OwnerID:   "owner-1",
	})
	require.Error(t, err)
	assert.Equal(t, model.KindCancelled, model.KindOf(err))
}

// makePDF assembles a minimal valid PDF with one Helvetica text line per
// page, computing xref offsets as it writes. Page texts must not contain
// parentheses or backslashes.
func makePDF(t *testing.T, pageTexts []string) []byte {
	t.Helper()
	n := len(pageTexts)
	var buf bytes.Buffer
	var offsets []int
	add := func(body string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(body)
	}

	buf.WriteString("%PDF-1.4\n")
	kids := make([]string, n)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", 4+i)
	}
	add("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	add(fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n",
		strings.Join(kids, " "), n))
	add("3 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")
	for i := range pageTexts {
		add(fmt.Sprintf("%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
			"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>\nendobj\n",
			4+i, 4+n+i))
	}
	for i, text := range pageTexts {
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		add(fmt.Sprintf("%d 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n",
			4+n+i, len(content), content))
	}

	xrefOffset := buf.Len()
	size := 4 + 2*n
	fmt.Fprintf(&buf, "xref\n0 %d\n", size)
	buf.WriteString("0000000000 65535 f\r\n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n\r\n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		size, xrefOffset)
	return buf.Bytes()
}

// multiEntryPDF is two submissions back to back: a labeled header page and
// an essay page per entry, which the analyzer chunks at the header pages.
func multiEntryPDF(t *testing.T) []byte {
	t.Helper()
	return makePDF(t, []string{
		"Student's Name: Maria Lopez  School / Escuela: Lincoln Middle School  Grade / Grado: 5  Teacher: Mr. Diaz",
		"My grandfather wakes up early and makes breakfast before anyone is awake",
		"Student's Name: Diego Ruiz  School / Escuela: Washington Elementary  Grade / Grado: 6  Teacher: Ms. Lee",
		"He teaches me to be patient and brave and I want to be like him",
	})
}

func TestRunMultiEntryUploadSplits(t *testing.T) {
	records := newMemRecords()
	audit := &memAudit{}
	objects := newMemObjects()
	r := testRunner(t, &fakeOCR{text: scanText, conf: 0.9}, &fakeLLM{response: llmJSON}, records, audit, objects)

	pdfBytes := multiEntryPDF(t)
	parent, trace, err := r.Run(context.Background(), Request{
		FileBytes: pdfBytes,
		Filename:  "batch.pdf",
		OwnerID:   "owner-1",
	})
	require.NoError(t, err)

	// The parent is a non-reviewable container row.
	assert.True(t, parent.Container)
	assert.Equal(t, model.StatusProcessed, parent.Status)
	assert.False(t, parent.NeedsReview)
	assert.Equal(t, model.DocClassMultiPageSingle, parent.DocClass)
	assert.Equal(t, "SPLIT:2", trace.Outcome)
	assert.Contains(t, trace.Signals, "multi_entry_pattern")

	saved, err := records.GetAny(context.Background(), parent.SubmissionID)
	require.NoError(t, err)
	assert.True(t, saved.Container)

	children, err := records.Children(context.Background(), parent.SubmissionID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	for _, child := range children {
		assert.Equal(t, parent.SubmissionID, child.ParentSubmissionID)
		assert.True(t, child.MultiEntrySource)
		assert.False(t, child.Container)
		assert.Equal(t, model.StatusPendingReview, child.Status)
	}
	e0, err := records.GetAny(context.Background(), ingest.ChildEntryID(parent.SubmissionID, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, e0.ChildIndex)
	e1, err := records.GetAny(context.Background(), ingest.ChildEntryID(parent.SubmissionID, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, e1.ChildIndex)
}

func TestRunSplitChildFailureDoesNotStopSiblings(t *testing.T) {
	records := newMemRecords()
	audit := &memAudit{}
	objects := newMemObjects()
	objects.failSub = "_e0"
	r := testRunner(t, &fakeOCR{text: scanText, conf: 0.9}, &fakeLLM{response: llmJSON}, records, audit, objects)

	parent, trace, err := r.Run(context.Background(), Request{
		FileBytes: multiEntryPDF(t),
		Filename:  "batch.pdf",
		OwnerID:   "owner-1",
	})
	require.NoError(t, err)

	// The parent container survives and accounts for the lost child.
	assert.True(t, parent.Container)
	assert.Equal(t, model.StatusProcessed, parent.Status)
	assert.Equal(t, "SPLIT:2 FAILED_CHILDREN:1", trace.Outcome)
	assert.Contains(t, trace.Signals, "child_failed: "+ingest.ChildEntryID(parent.SubmissionID, 0))

	e0, err := records.GetAny(context.Background(), ingest.ChildEntryID(parent.SubmissionID, 0))
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, e0.Status)

	e1, err := records.GetAny(context.Background(), ingest.ChildEntryID(parent.SubmissionID, 1))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingReview, e1.Status)
}

func TestRunDeterministicIDs(t *testing.T) {
	records := newMemRecords()
	audit := &memAudit{}
	objects := newMemObjects()
	r := testRunner(t, &fakeOCR{text: scanText, conf: 0.9}, &fakeLLM{response: llmJSON}, records, audit, objects)

	bytes := []byte("same upload bytes")
	rec1, _, err := r.Run(context.Background(), Request{FileBytes: bytes, Filename: "a.png", OwnerID: "o"})
	require.NoError(t, err)
	rec2, _, err := r.Run(context.Background(), Request{FileBytes: bytes, Filename: "b.png", OwnerID: "o"})
	require.NoError(t, err)
	assert.Equal(t, rec1.SubmissionID, rec2.SubmissionID)
	assert.Len(t, rec1.SubmissionID, 12)
}
