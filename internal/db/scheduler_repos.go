package db

import (
	"context"
	"time"

	"policypulse/internal/types"
)

// JobLockRepository backs the runner's single-flight guarantee with the
// job_locks table: one row per lock ID, atomically claimed or reclaimed
// with INSERT ... ON CONFLICT DO UPDATE.
type JobLockRepository struct {
	db DBTX
}

func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db}
}

// Acquire claims the lock row, or reclaims it when the previous holder's
// TTL has lapsed. Returns false while another worker holds an unexpired
// lock. Lock IDs carry the job name plus an hour bucket
// ("dispatch_reminders:2026-08-30T09"), so a crashed worker blocks a job
// for at most the TTL.
//
// expires_at is computed here as a timestamp; Go duration strings are not
// valid Postgres intervals.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()

	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE job_locks.expires_at < $3`,
		lockID,
		workerID,
		now,
		now.Add(ttl),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}

	// One row affected means a fresh insert or a reclaimed expired lock;
	// zero means the lock is live under another worker.
	return tag.RowsAffected() > 0, nil
}

// JobHistoryRepository records one job_history row per job invocation.
// GET /jobs reads these back for operators.
type JobHistoryRepository struct {
	db DBTX
}

func NewJobHistoryRepository(db DBTX) *JobHistoryRepository {
	return &JobHistoryRepository{db: db}
}

// Start opens a 'running' history row and returns its generated ID for
// the matching Finish call.
func (r *JobHistoryRepository) Start(ctx context.Context, jobName string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_history (job_name, started_at, status)
		 VALUES ($1, NOW(), 'running')
		 RETURNING id`,
		jobName,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job history entry", err)
	}
	return id, nil
}

// Finish closes the history row with its outcome. status is 'success' or
// 'failed'; a non-nil jobErr lands in the error column.
func (r *JobHistoryRepository) Finish(ctx context.Context, id int64, status string, items int, jobErr error) error {
	var errMsg *string
	if jobErr != nil {
		s := jobErr.Error()
		errMsg = &s
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE job_history
		 SET finished_at = NOW(), status = $2, items_count = $3, error = $4
		 WHERE id = $1`,
		id,
		status,
		items,
		errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job history entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "job history entry not found", nil)
	}
	return nil
}

// ListRecent returns history rows across all jobs, newest first.
func (r *JobHistoryRepository) ListRecent(ctx context.Context, limit int) ([]types.JobRun, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, job_name, started_at, finished_at, status, items_count, error
		 FROM job_history
		 ORDER BY started_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list job history", err)
	}
	defer rows.Close()

	var runs []types.JobRun
	for rows.Next() {
		var (
			run    types.JobRun
			items  *int
			errMsg *string
		)
		if err := rows.Scan(
			&run.ID, &run.JobName, &run.StartedAt, &run.FinishedAt,
			&run.Status, &items, &errMsg,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job history row", err)
		}
		if items != nil {
			run.ItemsCount = *items
		}
		if errMsg != nil {
			run.Error = *errMsg
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating job history rows", err)
	}

	return runs, nil
}
