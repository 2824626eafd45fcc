package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"essaypipe/internal/model"
)

// traceBuilder accumulates the per-run decision trace and forwards stage
// events to the audit writer as they happen.
type traceBuilder struct {
	trace  model.AuditTrace
	events *AuditWriter
}

func newTraceBuilder(submissionID, ownerID, fingerprint string, events *AuditWriter) *traceBuilder {
	return &traceBuilder{
		trace: model.AuditTrace{
			SubmissionID:     submissionID,
			OwnerID:          ownerID,
			InputFingerprint: fingerprint,
			CreatedAt:        time.Now(),
		},
		events: events,
	}
}

func (t *traceBuilder) signal(s string)     { t.trace.Signals = append(t.trace.Signals, s) }
func (t *traceBuilder) signals(ss []string) { t.trace.Signals = append(t.trace.Signals, ss...) }
func (t *traceBuilder) rules(rs []string)   { t.trace.RulesApplied = append(t.trace.RulesApplied, rs...) }
func (t *traceBuilder) fail(err error)      { t.trace.Errors = append(t.trace.Errors, err.Error()) }
func (t *traceBuilder) outcome(o string)    { t.trace.Outcome = o }

// stage wraps one pipeline stage: the signal lands in the trace, the stage
// event is emitted on success and ERROR on failure.
func (t *traceBuilder) stage(ctx context.Context, name string, event model.EventType, fn func() error) error {
	if err := fn(); err != nil {
		t.signal(name + "_failed")
		t.fail(err)
		t.events.Emit(ctx, t.trace.SubmissionID, model.EventError,
			fmt.Sprintf(`{"stage":%q,"kind":%q,"error":%q}`, name, model.KindOf(err), err.Error()))
		return err
	}
	t.signal(name)
	if event != "" {
		t.events.Emit(ctx, t.trace.SubmissionID, event, "")
	}
	return nil
}

// AuditWriter is the retrying front of the audit store. Event emission is
// best effort; trace persistence retries once and reports failure so the
// job can be marked failed without undoing the record.
type AuditWriter struct {
	store   model.AuditStore
	backoff Backoff
	timeout time.Duration
	log     *zap.Logger
}

func NewAuditWriter(store model.AuditStore, backoff Backoff, timeout time.Duration, log *zap.Logger) *AuditWriter {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &AuditWriter{store: store, backoff: backoff, timeout: timeout, log: log}
}

// Emit appends one event, retrying once. A persistent failure is logged and
// swallowed; event loss degrades the audit trail, not the record.
func (w *AuditWriter) Emit(ctx context.Context, submissionID string, event model.EventType, payload string) {
	err := w.backoff.retry(ctx, w.timeout, func(ctx context.Context) error {
		if err := w.store.AppendEvent(ctx, &model.AuditEvent{
			SubmissionID: submissionID,
			ActorRole:    model.ActorSystem,
			EventType:    event,
			Payload:      payload,
		}); err != nil {
			return model.NewStageError(model.KindAuditError, "audit", err)
		}
		return nil
	})
	if err != nil {
		w.log.Error("audit event write failed",
			zap.String("submission_id", submissionID),
			zap.String("event", string(event)),
			zap.Error(err))
	}
}

// EmitAs appends one event with an explicit actor role, without retry
// decoration beyond the standard policy.
func (w *AuditWriter) EmitAs(ctx context.Context, submissionID string, role model.ActorRole, event model.EventType, payload string) {
	err := w.backoff.retry(ctx, w.timeout, func(ctx context.Context) error {
		if err := w.store.AppendEvent(ctx, &model.AuditEvent{
			SubmissionID: submissionID,
			ActorRole:    role,
			EventType:    event,
			Payload:      payload,
		}); err != nil {
			return model.NewStageError(model.KindAuditError, "audit", err)
		}
		return nil
	})
	if err != nil {
		w.log.Error("audit event write failed",
			zap.String("submission_id", submissionID),
			zap.String("event", string(event)),
			zap.Error(err))
	}
}

// SaveTrace persists the finalized trace, retrying once. The returned error
// carries the audit kind so the worker can fail the job while keeping the
// record.
func (w *AuditWriter) SaveTrace(ctx context.Context, trace *model.AuditTrace) error {
	return w.backoff.retry(ctx, w.timeout, func(ctx context.Context) error {
		if err := w.store.SaveTrace(ctx, trace); err != nil {
			return model.NewStageError(model.KindAuditError, "audit", err)
		}
		return nil
	})
}
