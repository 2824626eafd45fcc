// Package export renders submission records to the contest roster CSV. The
// column set is frozen; downstream spreadsheets key on it by position.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"

	"essaypipe/internal/model"
)

// Header is the frozen column order.
var Header = []string{
	"submission_id",
	"student_name",
	"school_name",
	"grade",
	"teacher_name",
	"city_or_location",
	"father_figure_name",
	"phone",
	"email",
	"word_count",
	"ocr_confidence_avg",
	"needs_review",
	"review_reason_codes",
	"filename",
	"pdf_url",
	"created_at",
}

// Options narrows one export run.
type Options struct {
	// Status filters the exported records; empty means APPROVED, the
	// contest roster default.
	Status model.Status

	// NeedsReviewOnly exports the review partition instead: records still
	// waiting on a decision, regardless of Status.
	NeedsReviewOnly bool

	// BaseURL, when set, is prefixed to the storage path to form pdf_url.
	BaseURL string

	Limit int
}

// Exporter streams records to CSV.
type Exporter struct {
	records model.RecordStore
	log     *zap.Logger
}

func NewExporter(records model.RecordStore, log *zap.Logger) *Exporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Exporter{records: records, log: log}
}

// Export writes the header plus one row per matching record and returns the
// row count.
func (e *Exporter) Export(ctx context.Context, ownerID string, w io.Writer, opts Options) (int, error) {
	filter := model.RecordFilter{Limit: opts.Limit}
	if opts.NeedsReviewOnly {
		needs := true
		filter.NeedsReview = &needs
	} else {
		filter.Status = opts.Status
		if filter.Status == "" {
			filter.Status = model.StatusApproved
		}
	}

	recs, err := e.records.List(ctx, ownerID, filter)
	if err != nil {
		return 0, model.NewStageError(model.KindRecordError, "export", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	for i := range recs {
		if err := cw.Write(row(&recs[i], opts.BaseURL)); err != nil {
			return 0, fmt.Errorf("write row %s: %w", recs[i].SubmissionID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, err
	}

	e.log.Info("export written",
		zap.String("owner_id", ownerID),
		zap.Int("rows", len(recs)),
		zap.Bool("needs_review_only", opts.NeedsReviewOnly))
	return len(recs), nil
}

func row(rec *model.SubmissionRecord, baseURL string) []string {
	url := rec.StoragePath
	if baseURL != "" && url != "" {
		url = baseURL + "/" + url
	}
	return []string{
		rec.SubmissionID,
		rec.Fields.StudentName,
		rec.Fields.SchoolName,
		rec.Fields.Grade,
		rec.Fields.TeacherName,
		rec.Fields.CityOrLocation,
		rec.Fields.FatherFigureName,
		rec.Fields.Phone,
		rec.Fields.Email,
		strconv.Itoa(rec.WordCount),
		strconv.FormatFloat(rec.OCRConfidenceAvg, 'f', 3, 64),
		strconv.FormatBool(rec.NeedsReview),
		rec.ReviewReasonCodes.String(),
		rec.Filename,
		url,
		rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}
