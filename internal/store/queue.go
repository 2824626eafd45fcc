package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"essaypipe/internal/model"
)

// Enqueue persists a job in state queued and returns its ID.
func (s *SQLiteStore) Enqueue(ctx context.Context, payload []byte) (string, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return "", err
	}
	jobID := uuid.NewString()
	_, err = db.ExecContext(
		ctx,
		`INSERT INTO jobs(job_id, payload, enqueued_at, attempts, status) VALUES(?, ?, ?, 0, 'queued')`,
		jobID, payload, formatTime(time.Now()),
	)
	if err != nil {
		return "", err
	}
	return jobID, nil
}

// Claim atomically flips the oldest queued job to started and returns it.
// The single UPDATE serializes competing workers; no two can claim the same
// job. Returns model.ErrNoJob when the queue is empty.
func (s *SQLiteStore) Claim(ctx context.Context) (*model.Job, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(
		ctx,
		`UPDATE jobs SET status = 'started', started_at = ?, attempts = attempts + 1
		 WHERE job_id = (
		   SELECT job_id FROM jobs WHERE status = 'queued' ORDER BY enqueued_at, job_id LIMIT 1
		 )
		 RETURNING job_id, payload, enqueued_at, started_at, attempts, status, outcome`,
		formatTime(time.Now()),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNoJob
	}
	return job, err
}

// Finish marks a job done with its outcome blob.
func (s *SQLiteStore) Finish(ctx context.Context, jobID string, outcome string) error {
	return s.setJobStatus(ctx, jobID, model.JobFinished, outcome)
}

// Fail marks a job terminally failed.
func (s *SQLiteStore) Fail(ctx context.Context, jobID string, outcome string) error {
	return s.setJobStatus(ctx, jobID, model.JobFailed, outcome)
}

// Requeue hands a started job back to the queue for its retry.
func (s *SQLiteStore) Requeue(ctx context.Context, jobID string) error {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(
		ctx,
		`UPDATE jobs SET status = 'queued', started_at = NULL WHERE job_id = ? AND status = 'started'`,
		jobID,
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

func (s *SQLiteStore) setJobStatus(ctx context.Context, jobID string, status model.JobStatus, outcome string) error {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, outcome = ? WHERE job_id = ?`,
		string(status), outcome, jobID,
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

// ResetStale returns started jobs older than the stale window to the queue.
// Recovers claims orphaned by a worker crash.
func (s *SQLiteStore) ResetStale(ctx context.Context) (int, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-s.staleAfter)
	res, err := db.ExecContext(
		ctx,
		`UPDATE jobs SET status = 'queued', started_at = NULL
		 WHERE status = 'started' AND started_at < ?`,
		formatTime(cutoff),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Depth reports the queued and started job counts.
func (s *SQLiteStore) Depth(ctx context.Context) (int, int, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return 0, 0, err
	}
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = rows.Close() }()

	var queued, started int
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, err
		}
		switch model.JobStatus(status) {
		case model.JobQueued:
			queued = n
		case model.JobStarted:
			started = n
		}
	}
	return queued, started, rows.Err()
}

// PruneJobs deletes finished and failed jobs older than the cutoff.
func (s *SQLiteStore) PruneJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(
		ctx,
		`DELETE FROM jobs WHERE status IN ('finished', 'failed') AND enqueued_at < ?`,
		formatTime(cutoff),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanJob(row *sql.Row) (*model.Job, error) {
	var (
		job       model.Job
		enqueued  string
		started   sql.NullString
		status    string
	)
	if err := row.Scan(&job.JobID, &job.Payload, &enqueued, &started, &job.Attempts, &status, &job.Outcome); err != nil {
		return nil, err
	}
	job.EnqueuedAt = parseTime(enqueued)
	if started.Valid {
		job.StartedAt = parseTime(started.String)
	}
	job.Status = model.JobStatus(status)
	return &job, nil
}
