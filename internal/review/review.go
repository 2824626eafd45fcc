// Package review implements the human approval gate. Approval is the only
// transition into APPROVED, and it re-checks the blocking codes at decision
// time so a stale review queue cannot wave a broken record through.
package review

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"essaypipe/internal/model"
	"essaypipe/internal/pipeline"
	"essaypipe/internal/validate"
)

// ErrBlocked is wrapped into approval errors caused by outstanding blocking
// codes.
var ErrBlocked = fmt.Errorf("blocking reason codes outstanding")

// Reviewer applies approve and reject decisions to records. It carries the
// live validation rules so the blocking gate reflects the current policy,
// not the one in force when the record was processed.
type Reviewer struct {
	records model.RecordStore
	audit   *pipeline.AuditWriter
	rules   validate.Rules
	log     *zap.Logger
}

func NewReviewer(records model.RecordStore, audit *pipeline.AuditWriter, rules validate.Rules, log *zap.Logger) *Reviewer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reviewer{records: records, audit: audit, rules: rules, log: log}
}

// Approve transitions a record to APPROVED. Records whose fields fail the
// current required-field rules (missing student, school or grade) cannot be
// approved; failed and container records cannot either.
func (r *Reviewer) Approve(ctx context.Context, reviewerID, submissionID string) (*model.SubmissionRecord, error) {
	rec, err := r.records.GetAny(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if rec.Container {
		return nil, fmt.Errorf("approve %s: record is a split container", submissionID)
	}
	if rec.Status == model.StatusFailed {
		return nil, fmt.Errorf("approve %s: record is failed", submissionID)
	}
	if rec.Status == model.StatusApproved {
		return rec, nil
	}
	if blocking := validate.BlockingFor(r.rules, rec); len(blocking) > 0 {
		return nil, fmt.Errorf("approve %s: %w: %s", submissionID, ErrBlocked, blocking.String())
	}

	if err := r.records.SetStatus(ctx, submissionID, model.StatusApproved, false, rec.ReviewReasonCodes); err != nil {
		return nil, model.NewStageError(model.KindRecordError, "approve", err)
	}
	r.audit.EmitAs(ctx, submissionID, model.ActorReviewer, model.EventApproved,
		fmt.Sprintf(`{"reviewer":%q}`, reviewerID))
	r.log.Info("submission approved",
		zap.String("submission_id", submissionID),
		zap.String("reviewer", reviewerID))

	rec.Status = model.StatusApproved
	rec.NeedsReview = false
	return rec, nil
}

// Reject marks a record FAILED with the reviewer's reason in the audit
// trail. Reason codes stay on the record so the rejection context survives.
func (r *Reviewer) Reject(ctx context.Context, reviewerID, submissionID, reason string) (*model.SubmissionRecord, error) {
	rec, err := r.records.GetAny(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if rec.Container {
		return nil, fmt.Errorf("reject %s: record is a split container", submissionID)
	}
	if rec.Status == model.StatusApproved {
		return nil, fmt.Errorf("reject %s: record already approved", submissionID)
	}

	if err := r.records.SetStatus(ctx, submissionID, model.StatusFailed, false, rec.ReviewReasonCodes); err != nil {
		return nil, model.NewStageError(model.KindRecordError, "reject", err)
	}
	r.audit.EmitAs(ctx, submissionID, model.ActorReviewer, model.EventRejected,
		fmt.Sprintf(`{"reviewer":%q,"reason":%q}`, reviewerID, reason))
	r.log.Info("submission rejected",
		zap.String("submission_id", submissionID),
		zap.String("reviewer", reviewerID),
		zap.String("reason", reason))

	rec.Status = model.StatusFailed
	rec.NeedsReview = false
	return rec, nil
}

// Queue lists the records awaiting a decision for one owner.
func (r *Reviewer) Queue(ctx context.Context, ownerID string, limit int) ([]model.SubmissionRecord, error) {
	needs := true
	return r.records.List(ctx, ownerID, model.RecordFilter{
		Status:      model.StatusPendingReview,
		NeedsReview: &needs,
		Limit:       limit,
	})
}
