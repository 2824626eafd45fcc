package store

import (
	"context"
	"encoding/json"
	"time"

	"essaypipe/internal/model"
)

// SaveTrace appends one decision trace. Traces are never updated.
func (s *SQLiteStore) SaveTrace(ctx context.Context, trace *model.AuditTrace) error {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return err
	}
	created := trace.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = db.ExecContext(
		ctx,
		`INSERT INTO audit_traces(submission_id, owner_id, input_fingerprint, signals, rules_applied, outcome, errors, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		trace.SubmissionID,
		trace.OwnerID,
		trace.InputFingerprint,
		jsonList(trace.Signals),
		jsonList(trace.RulesApplied),
		trace.Outcome,
		jsonList(trace.Errors),
		formatTime(created),
	)
	return err
}

// AppendEvent appends one audit event. Insertion order is the event order.
func (s *SQLiteStore) AppendEvent(ctx context.Context, ev *model.AuditEvent) error {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return err
	}
	created := ev.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	role := ev.ActorRole
	if role == "" {
		role = model.ActorSystem
	}
	_, err = db.ExecContext(
		ctx,
		`INSERT INTO audit_events(submission_id, actor_role, event_type, payload, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		ev.SubmissionID, string(role), string(ev.EventType), ev.Payload, formatTime(created),
	)
	return err
}

// Traces returns a submission's traces in insertion order.
func (s *SQLiteStore) Traces(ctx context.Context, submissionID string) ([]model.AuditTrace, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(
		ctx,
		`SELECT submission_id, owner_id, input_fingerprint, signals, rules_applied, outcome, errors, created_at
		 FROM audit_traces WHERE submission_id = ? ORDER BY trace_id`,
		submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.AuditTrace
	for rows.Next() {
		var tr model.AuditTrace
		var signals, rules, errs, created string
		if err := rows.Scan(&tr.SubmissionID, &tr.OwnerID, &tr.InputFingerprint, &signals, &rules, &tr.Outcome, &errs, &created); err != nil {
			return nil, err
		}
		tr.Signals = parseJSONList(signals)
		tr.RulesApplied = parseJSONList(rules)
		tr.Errors = parseJSONList(errs)
		tr.CreatedAt = parseTime(created)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Events returns a submission's events in insertion order.
func (s *SQLiteStore) Events(ctx context.Context, submissionID string) ([]model.AuditEvent, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(
		ctx,
		`SELECT submission_id, actor_role, event_type, payload, created_at
		 FROM audit_events WHERE submission_id = ? ORDER BY event_id`,
		submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.AuditEvent
	for rows.Next() {
		var ev model.AuditEvent
		var role, typ, created string
		if err := rows.Scan(&ev.SubmissionID, &role, &typ, &ev.Payload, &created); err != nil {
			return nil, err
		}
		ev.ActorRole = model.ActorRole(role)
		ev.EventType = model.EventType(typ)
		ev.CreatedAt = parseTime(created)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// PruneAuditBefore deletes audit rows older than the cutoff. Retention is an
// operator decision; nothing in the pipeline calls this.
func (s *SQLiteStore) PruneAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, table := range []string{"audit_traces", "audit_events"} {
		res, err := db.ExecContext(ctx, `DELETE FROM `+table+` WHERE created_at < ?`, formatTime(cutoff))
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func jsonList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func parseJSONList(s string) []string {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
