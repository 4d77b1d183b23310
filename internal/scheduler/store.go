package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clinicflow/appointment-service/internal/store"
)

// JobStore persists scheduler jobs so they survive a process restart. It
// takes the same store.DB abstraction the Repository does, so tests inject
// a pgxmock pool instead of a live database.
type JobStore struct {
	db store.DB
}

// NewJobStore wraps a pgx-compatible DB for scheduler job persistence.
func NewJobStore(db store.DB) *JobStore {
	if db == nil {
		panic("scheduler: db required")
	}
	return &JobStore{db: db}
}

// Upsert inserts a pending job, or replaces the existing pending job sharing
// (kind, key) — the armAt "re-arming replaces" rule.
func (s *JobStore) Upsert(ctx context.Context, job Job) error {
	query := `
		INSERT INTO scheduler_jobs (id, kind, key, fire_at, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (kind, key) DO UPDATE SET
			id = EXCLUDED.id,
			fire_at = EXCLUDED.fire_at,
			payload = EXCLUDED.payload,
			status = EXCLUDED.status
	`
	_, err := s.db.Exec(ctx, query, job.ID, job.Kind, job.Key, job.FireAt, job.Payload, job.Status)
	if err != nil {
		return fmt.Errorf("scheduler: upsert job: %w", err)
	}
	return nil
}

// Cancel removes a pending job by (kind, key); a no-op if none exists.
func (s *JobStore) Cancel(ctx context.Context, kind JobKind, key string) error {
	query := `DELETE FROM scheduler_jobs WHERE kind = $1 AND key = $2 AND status = $3`
	_, err := s.db.Exec(ctx, query, kind, key, JobPending)
	if err != nil {
		return fmt.Errorf("scheduler: cancel job: %w", err)
	}
	return nil
}

// MarkStatus records the terminal status of a job before the worker
// releases it, so a crash mid-job is recoverable via onBoot.
func (s *JobStore) MarkStatus(ctx context.Context, id string, status JobStatus) error {
	query := `UPDATE scheduler_jobs SET status = $1 WHERE id = $2`
	_, err := s.db.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("scheduler: mark status: %w", err)
	}
	return nil
}

// Due loads every pending job whose fireAt is at or before the given
// horizon.
func (s *JobStore) Due(ctx context.Context, horizon time.Time) ([]Job, error) {
	query := `
		SELECT id, kind, key, fire_at, payload, status
		FROM scheduler_jobs
		WHERE status = $1 AND fire_at <= $2
		ORDER BY fire_at ASC
	`
	rows, err := s.db.Query(ctx, query, JobPending, horizon)
	if err != nil {
		return nil, fmt.Errorf("scheduler: due jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// Pending loads every job still awaiting dispatch, overdue or not, used on
// boot to rehydrate the in-memory heap.
func (s *JobStore) Pending(ctx context.Context) ([]Job, error) {
	query := `
		SELECT id, kind, key, fire_at, payload, status
		FROM scheduler_jobs
		WHERE status = $1
		ORDER BY fire_at ASC
	`
	rows, err := s.db.Query(ctx, query, JobPending)
	if err != nil {
		return nil, fmt.Errorf("scheduler: pending jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJobs(rows pgx.Rows) ([]Job, error) {
	var jobs []Job
	for rows.Next() {
		var j Job
		var payload []byte
		if err := rows.Scan(&j.ID, &j.Kind, &j.Key, &j.FireAt, &payload, &j.Status); err != nil {
			return nil, fmt.Errorf("scheduler: scan job: %w", err)
		}
		j.Payload = json.RawMessage(append([]byte(nil), payload...))
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
