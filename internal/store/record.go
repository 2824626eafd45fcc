package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"essaypipe/internal/model"
)

const recordColumns = `submission_id, owner_id, upload_batch_id, parent_submission_id,
  child_index, multi_entry_source, is_container, filename, doc_class, doc_format,
  student_name, school_name, grade, teacher_name, father_figure_name,
  phone, email, city_or_location, essay_text,
  word_count, ocr_confidence_avg, ocr_failed, needs_review, status,
  review_reason_codes, storage_path, created_at, updated_at`

// Save upserts a submission record. The created_at of an existing row is
// preserved; updated_at always moves.
func (s *SQLiteStore) Save(ctx context.Context, rec *model.SubmissionRecord) error {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return err
	}
	if rec.SubmissionID == "" {
		return errors.New("submission_id is required")
	}
	if rec.OwnerID == "" {
		return errors.New("owner_id is required")
	}

	now := time.Now()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err = db.ExecContext(
		ctx,
		`INSERT INTO submissions(`+recordColumns+`)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(submission_id) DO UPDATE SET
		   owner_id=excluded.owner_id,
		   upload_batch_id=excluded.upload_batch_id,
		   parent_submission_id=excluded.parent_submission_id,
		   child_index=excluded.child_index,
		   multi_entry_source=excluded.multi_entry_source,
		   is_container=excluded.is_container,
		   filename=excluded.filename,
		   doc_class=excluded.doc_class,
		   doc_format=excluded.doc_format,
		   student_name=excluded.student_name,
		   school_name=excluded.school_name,
		   grade=excluded.grade,
		   teacher_name=excluded.teacher_name,
		   father_figure_name=excluded.father_figure_name,
		   phone=excluded.phone,
		   email=excluded.email,
		   city_or_location=excluded.city_or_location,
		   essay_text=excluded.essay_text,
		   word_count=excluded.word_count,
		   ocr_confidence_avg=excluded.ocr_confidence_avg,
		   ocr_failed=excluded.ocr_failed,
		   needs_review=excluded.needs_review,
		   status=excluded.status,
		   review_reason_codes=excluded.review_reason_codes,
		   storage_path=excluded.storage_path,
		   updated_at=excluded.updated_at`,
		rec.SubmissionID,
		rec.OwnerID,
		nullIfEmpty(rec.UploadBatchID),
		nullIfEmpty(rec.ParentSubmissionID),
		rec.ChildIndex,
		boolToInt(rec.MultiEntrySource),
		boolToInt(rec.Container),
		rec.Filename,
		string(rec.DocClass),
		string(rec.DocFormat),
		nullIfEmpty(rec.Fields.StudentName),
		nullIfEmpty(rec.Fields.SchoolName),
		nullIfEmpty(rec.Fields.Grade),
		nullIfEmpty(rec.Fields.TeacherName),
		nullIfEmpty(rec.Fields.FatherFigureName),
		nullIfEmpty(rec.Fields.Phone),
		nullIfEmpty(rec.Fields.Email),
		nullIfEmpty(rec.Fields.CityOrLocation),
		nullIfEmpty(rec.Fields.EssayText),
		rec.WordCount,
		rec.OCRConfidenceAvg,
		boolToInt(rec.OCRFailed),
		boolToInt(rec.NeedsReview),
		string(rec.Status),
		rec.ReviewReasonCodes.String(),
		rec.StoragePath,
		formatTime(created),
		formatTime(now),
	)
	return err
}

// Get returns the record only when it belongs to ownerID.
func (s *SQLiteStore) Get(ctx context.Context, ownerID, submissionID string) (*model.SubmissionRecord, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(
		ctx,
		`SELECT `+recordColumns+` FROM submissions WHERE submission_id = ? AND owner_id = ?`,
		submissionID, ownerID,
	)
	return scanRecord(row)
}

// GetAny bypasses the owner gate. Reserved for the worker's idempotency
// probe and review tooling acting as the system.
func (s *SQLiteStore) GetAny(ctx context.Context, submissionID string) (*model.SubmissionRecord, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(
		ctx,
		`SELECT `+recordColumns+` FROM submissions WHERE submission_id = ?`,
		submissionID,
	)
	return scanRecord(row)
}

// List returns the owner's records, newest first. Container parents of split
// uploads, bulk batches and multi-entry documents alike, are excluded; their
// children stand alone.
func (s *SQLiteStore) List(ctx context.Context, ownerID string, filter model.RecordFilter) ([]model.SubmissionRecord, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	where := []string{"owner_id = ?", "is_container = 0"}
	args := []any{ownerID}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.NeedsReview != nil {
		where = append(where, "needs_review = ?")
		args = append(args, boolToInt(*filter.NeedsReview))
	}
	if strings.TrimSpace(filter.UploadBatchID) != "" {
		where = append(where, "upload_batch_id = ?")
		args = append(args, filter.UploadBatchID)
	}
	args = append(args, limit, offset)

	query := `SELECT ` + recordColumns + ` FROM submissions WHERE ` +
		strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, submission_id LIMIT ? OFFSET ?`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.SubmissionRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Children returns the child records of a parent, ordered by child index.
func (s *SQLiteStore) Children(ctx context.Context, parentSubmissionID string) ([]model.SubmissionRecord, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(
		ctx,
		`SELECT `+recordColumns+` FROM submissions WHERE parent_submission_id = ? ORDER BY child_index`,
		parentSubmissionID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.SubmissionRecord
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// SetStatus updates the review state of one record.
func (s *SQLiteStore) SetStatus(ctx context.Context, submissionID string, status model.Status, needsReview bool, codes model.ReasonCodes) error {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(
		ctx,
		`UPDATE submissions SET status = ?, needs_review = ?, review_reason_codes = ?, updated_at = ?
		 WHERE submission_id = ?`,
		string(status), boolToInt(needsReview), codes.String(), formatTime(time.Now()), submissionID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row *sql.Row) (*model.SubmissionRecord, error) {
	rec, err := scanRecordRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return rec, err
}

func scanRecordRows(row rowScanner) (*model.SubmissionRecord, error) {
	var (
		rec                                 model.SubmissionRecord
		batchID, parentID                   sql.NullString
		student, school, grade, teacher     sql.NullString
		father, phone, email, city, essay   sql.NullString
		multiEntry, container               int
		ocrFailed, needsReview              int
		status, codes, createdAt, updatedAt string
	)
	err := row.Scan(
		&rec.SubmissionID,
		&rec.OwnerID,
		&batchID,
		&parentID,
		&rec.ChildIndex,
		&multiEntry,
		&container,
		&rec.Filename,
		&rec.DocClass,
		&rec.DocFormat,
		&student, &school, &grade, &teacher,
		&father, &phone, &email, &city, &essay,
		&rec.WordCount,
		&rec.OCRConfidenceAvg,
		&ocrFailed,
		&needsReview,
		&status,
		&codes,
		&rec.StoragePath,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.UploadBatchID = stringOr(batchID)
	rec.ParentSubmissionID = stringOr(parentID)
	rec.MultiEntrySource = multiEntry == 1
	rec.Container = container == 1
	rec.Fields = model.ExtractedFields{
		StudentName:      stringOr(student),
		SchoolName:       stringOr(school),
		Grade:            stringOr(grade),
		TeacherName:      stringOr(teacher),
		FatherFigureName: stringOr(father),
		Phone:            stringOr(phone),
		Email:            stringOr(email),
		CityOrLocation:   stringOr(city),
		EssayText:        stringOr(essay),
	}
	rec.OCRFailed = ocrFailed == 1
	rec.NeedsReview = needsReview == 1
	rec.Status = model.Status(status)
	rec.ReviewReasonCodes = model.ParseReasonCodes(codes)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

// CreateBatch registers an upload batch.
func (s *SQLiteStore) CreateBatch(ctx context.Context, batch *model.UploadBatch) error {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return err
	}
	created := batch.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = db.ExecContext(
		ctx,
		`INSERT INTO upload_batches(batch_id, owner_id, label, created_at) VALUES(?, ?, ?, ?)
		 ON CONFLICT(batch_id) DO NOTHING`,
		batch.BatchID, batch.OwnerID, batch.Label, formatTime(created),
	)
	return err
}

// BatchSummary counts the batch's records per status.
func (s *SQLiteStore) BatchSummary(ctx context.Context, batchID string) (map[model.Status]int, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(
		ctx,
		`SELECT status, COUNT(*) FROM submissions WHERE upload_batch_id = ? GROUP BY status`,
		batchID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[model.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[model.Status(status)] = n
	}
	return out, rows.Err()
}

// CountByStatus summarizes all records for the status command.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM submissions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[model.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[model.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	return out, nil
}
