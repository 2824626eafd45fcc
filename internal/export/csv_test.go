package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"essaypipe/internal/model"
)

type listRecords struct {
	rows       []model.SubmissionRecord
	lastFilter model.RecordFilter
}

func (m *listRecords) Save(ctx context.Context, rec *model.SubmissionRecord) error { return nil }

func (m *listRecords) Get(ctx context.Context, ownerID, id string) (*model.SubmissionRecord, error) {
	return nil, model.ErrNotFound
}

func (m *listRecords) GetAny(ctx context.Context, id string) (*model.SubmissionRecord, error) {
	return nil, model.ErrNotFound
}

func (m *listRecords) List(ctx context.Context, ownerID string, f model.RecordFilter) ([]model.SubmissionRecord, error) {
	m.lastFilter = f
	var out []model.SubmissionRecord
	for _, rec := range m.rows {
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if f.NeedsReview != nil && rec.NeedsReview != *f.NeedsReview {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *listRecords) Children(ctx context.Context, parentID string) ([]model.SubmissionRecord, error) {
	return nil, nil
}

func (m *listRecords) SetStatus(ctx context.Context, id string, status model.Status, needsReview bool, codes model.ReasonCodes) error {
	return nil
}

func sampleRecords() *listRecords {
	created := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	return &listRecords{rows: []model.SubmissionRecord{
		{
			SubmissionID: "aaa111bbb222",
			Status:       model.StatusApproved,
			Filename:     "lopez.pdf",
			StoragePath:  "o/aaa111bbb222/original.pdf",
			Fields: model.ExtractedFields{
				StudentName: "Maria Lopez",
				SchoolName:  "Lincoln Middle School",
				Grade:       "5",
			},
			WordCount:        312,
			OCRConfidenceAvg: 0.9125,
			CreatedAt:        created,
		},
		{
			SubmissionID:      "ccc333ddd444",
			Status:            model.StatusPendingReview,
			NeedsReview:       true,
			ReviewReasonCodes: model.ReasonCodes{model.ReasonMissingGrade, model.ReasonShortEssay},
			CreatedAt:         created,
		},
	}}
}

func TestExportDefaultsToApproved(t *testing.T) {
	records := sampleRecords()
	var buf bytes.Buffer

	n, err := NewExporter(records, nil).Export(context.Background(), "o", &buf, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.StatusApproved, records.lastFilter.Status)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Header, rows[0])

	got := rows[1]
	assert.Equal(t, "aaa111bbb222", got[0])
	assert.Equal(t, "Maria Lopez", got[1])
	assert.Equal(t, "Lincoln Middle School", got[2])
	assert.Equal(t, "5", got[3])
	assert.Equal(t, "312", got[9])
	assert.Equal(t, "0.913", got[10])
	assert.Equal(t, "false", got[11])
	assert.Equal(t, "o/aaa111bbb222/original.pdf", got[14])
	assert.Equal(t, "2025-03-14T09:30:00Z", got[15])
}

func TestExportNeedsReviewPartition(t *testing.T) {
	records := sampleRecords()
	var buf bytes.Buffer

	n, err := NewExporter(records, nil).Export(context.Background(), "o", &buf, Options{NeedsReviewOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NotNil(t, records.lastFilter.NeedsReview)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ccc333ddd444", rows[1][0])
	assert.Equal(t, "MISSING_GRADE;SHORT_ESSAY", rows[1][12])
	assert.Equal(t, "true", rows[1][11])
}

func TestExportBaseURL(t *testing.T) {
	records := sampleRecords()
	var buf bytes.Buffer

	_, err := NewExporter(records, nil).Export(context.Background(), "o", &buf, Options{BaseURL: "https://files.example.com"})
	require.NoError(t, err)
	assert.True(t, strings.Contains(buf.String(), "https://files.example.com/o/aaa111bbb222/original.pdf"))
}
