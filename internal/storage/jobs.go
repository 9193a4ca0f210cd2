package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"docuretrieve/internal/apperr"
)

// JobStatus is the closed set of job states; transitions are monotonic
// (§3 "status transitions monotonic").
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is a durable record of an asynchronous operation.
type Job struct {
	ID           uuid.UUID
	Kind         string
	Target       string
	Status       JobStatus
	Progress     float64
	Error        string
	Attempt      int
	CorrelationID string
	Correlation  map[string]any
	StartedAt    *time.Time
	FinishedAt   *time.Time
	LeaseExpires *time.Time
	CreatedAt    time.Time
}

// JobStore persists Job rows and implements the C9 worker-claim protocol.
type JobStore struct {
	pool *pgxpool.Pool
}

func NewJobStore(ctx context.Context, pool *pgxpool.Pool) (*JobStore, error) {
	const ddl = `CREATE TABLE IF NOT EXISTS jobs (
		id UUID PRIMARY KEY,
		kind TEXT NOT NULL,
		target TEXT NOT NULL,
		status TEXT NOT NULL,
		progress REAL NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		attempt INT NOT NULL DEFAULT 0,
		correlation JSONB NOT NULL DEFAULT '{}',
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		lease_expires_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "storage: bootstrap jobs table")
	}
	return &JobStore{pool: pool}, nil
}

// Enqueue creates a row in `queued` status and returns its id.
func (s *JobStore) Enqueue(ctx context.Context, kind, target string, correlation map[string]any) (uuid.UUID, error) {
	id := uuid.New()
	corr, _ := json.Marshal(correlation)
	const q = `INSERT INTO jobs (id, kind, target, status, correlation) VALUES ($1,$2,$3,$4,$5)`
	if _, err := s.pool.Exec(ctx, q, id, kind, target, JobQueued, corr); err != nil {
		return uuid.Nil, apperr.Wrap(apperr.Transient, err, "storage: enqueue job")
	}
	return id, nil
}

// Get returns the job's current status, progress, error, and timestamps.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (Job, error) {
	const q = `SELECT id, kind, target, status, progress, error, attempt, correlation, started_at, finished_at, lease_expires_at, created_at
		FROM jobs WHERE id=$1`
	var j Job
	var corr []byte
	err := s.pool.QueryRow(ctx, q, id).Scan(&j.ID, &j.Kind, &j.Target, &j.Status, &j.Progress, &j.Error, &j.Attempt, &corr,
		&j.StartedAt, &j.FinishedAt, &j.LeaseExpires, &j.CreatedAt)
	if err == pgx.ErrNoRows {
		return Job{}, apperr.New(apperr.NotFound, "job not found")
	}
	if err != nil {
		return Job{}, apperr.Wrap(apperr.Transient, err, "storage: get job")
	}
	_ = json.Unmarshal(corr, &j.Correlation)
	return j, nil
}

// ClaimNext atomically claims one queued job (CAS to running) and sets its
// lease, returning ok=false when no queued job is available.
func (s *JobStore) ClaimNext(ctx context.Context, leaseFor time.Duration) (Job, bool, error) {
	const q = `
		UPDATE jobs SET status=$1, started_at=COALESCE(started_at, now()), lease_expires_at = now() + $2::interval
		WHERE id = (
			SELECT id FROM jobs WHERE status=$3 ORDER BY created_at LIMIT 1 FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, target, status, progress, error, attempt, correlation, started_at, finished_at, lease_expires_at, created_at`
	var j Job
	var corr []byte
	leaseSeconds := int(leaseFor.Seconds())
	err := s.pool.QueryRow(ctx, q, JobRunning, leaseSeconds, JobQueued).
		Scan(&j.ID, &j.Kind, &j.Target, &j.Status, &j.Progress, &j.Error, &j.Attempt, &corr,
			&j.StartedAt, &j.FinishedAt, &j.LeaseExpires, &j.CreatedAt)
	if err == pgx.ErrNoRows {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, apperr.Wrap(apperr.Transient, err, "storage: claim job")
	}
	_ = json.Unmarshal(corr, &j.Correlation)
	return j, true, nil
}

// UpdateProgress bumps the progress checkpoint; callers must pass a value
// monotonically greater than the last checkpoint (enforced by C5, not here).
func (s *JobStore) UpdateProgress(ctx context.Context, id uuid.UUID, progress float64) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET progress=$2 WHERE id=$1 AND status=$3`, id, progress, JobRunning)
	if err != nil {
		return apperr.Wrap(apperr.Transient, err, "storage: update_progress")
	}
	return nil
}

// Finish transitions a running job to a terminal state.
func (s *JobStore) Finish(ctx context.Context, id uuid.UUID, status JobStatus, errMsg string) error {
	if status != JobSucceeded && status != JobFailed {
		return apperr.New(apperr.Internal, "Finish requires a terminal status")
	}
	progress := 0.0
	if status == JobSucceeded {
		progress = 1.0
	}
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET status=$2, progress=GREATEST(progress, $3), error=$4, finished_at=now() WHERE id=$1`, id, status, progress, errMsg)
	if err != nil {
		return apperr.Wrap(apperr.Transient, err, "storage: finish job")
	}
	return nil
}

// RecoverStaleLeases reclaims jobs whose running lease has expired back to
// queued with an incremented attempt counter, or fails them once max_attempts
// is exceeded (WorkerLost).
func (s *JobStore) RecoverStaleLeases(ctx context.Context, maxAttempts int) (int, error) {
	const selectQ = `SELECT id, attempt FROM jobs WHERE status=$1 AND lease_expires_at < now()`
	rows, err := s.pool.Query(ctx, selectQ, JobRunning)
	if err != nil {
		return 0, apperr.Wrap(apperr.Transient, err, "storage: select stale leases")
	}
	type stale struct {
		id      uuid.UUID
		attempt int
	}
	var list []stale
	for rows.Next() {
		var st stale
		if err := rows.Scan(&st.id, &st.attempt); err != nil {
			rows.Close()
			return 0, apperr.Wrap(apperr.Internal, err, "storage: scan stale lease")
		}
		list = append(list, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, apperr.Wrap(apperr.Transient, err, "storage: stale lease rows")
	}

	recovered := 0
	for _, st := range list {
		if st.attempt+1 >= maxAttempts {
			if _, err := s.pool.Exec(ctx, `UPDATE jobs SET status=$2, error='WorkerLost', finished_at=now(), attempt=attempt+1 WHERE id=$1`, st.id, JobFailed); err != nil {
				return recovered, apperr.Wrap(apperr.Transient, err, "storage: fail worker-lost job")
			}
			continue
		}
		if _, err := s.pool.Exec(ctx, `UPDATE jobs SET status=$2, attempt=attempt+1, lease_expires_at=NULL WHERE id=$1`, st.id, JobQueued); err != nil {
			return recovered, apperr.Wrap(apperr.Transient, err, "storage: requeue stale job")
		}
		recovered++
	}
	return recovered, nil
}
