package db

import (
	"context"
	"time"

	"policypulse/internal/types"
)

// OutreachLogRepository provides data access for the append-only
// outreach_logs table. Rows are inserted by the dispatcher, retention, and
// confirmation flows and never updated; the retention job reads them to
// enforce its cool-down window, and the archival job drains old rows to
// cold storage.
type OutreachLogRepository struct {
	db DBTX
}

// NewOutreachLogRepository creates a new OutreachLogRepository backed by the
// given database connection (pool or transaction).
func NewOutreachLogRepository(db DBTX) *OutreachLogRepository {
	return &OutreachLogRepository{db: db}
}

// Create appends an outreach log row. The caller must set the ID.
func (r *OutreachLogRepository) Create(ctx context.Context, l *types.OutreachLog) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO outreach_logs
		 (id, customer_id, policy_id, reminder_id, outreach_type, channel,
		  message, sent_at, delivered, opened, clicked, responded)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()), $9, $10, $11, $12)`,
		l.ID,
		l.CustomerID,
		nilIfEmpty(l.PolicyID),
		nilIfEmpty(l.ReminderID),
		string(l.OutreachType),
		string(l.Channel),
		l.Message,
		nilIfZeroTime(l.SentAt),
		l.Delivered,
		l.Opened,
		l.Clicked,
		l.Responded,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create outreach log", err)
	}
	return nil
}

// HasRecentRetention reports whether a retention outreach entry exists for
// the (customer, policy) pair since the given cutoff. The retention job
// uses this to enforce the cool-down window.
//
// SQL: SELECT EXISTS(SELECT 1 FROM outreach_logs
//
//	WHERE customer_id = $1 AND policy_id = $2
//	AND outreach_type = 'retention' AND sent_at >= $3)
func (r *OutreachLogRepository) HasRecentRetention(ctx context.Context, customerID, policyID string, since time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM outreach_logs
		 WHERE customer_id = $1 AND policy_id = $2
		   AND outreach_type = 'retention' AND sent_at >= $3)`,
		customerID,
		policyID,
		since,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check recent retention outreach", err)
	}
	return exists, nil
}

// RecordEngagement flips engagement flags on the outreach rows tied to a
// reminder. Flags only ever move from false to true; duplicate provider
// events are harmless. Returns the number of rows touched.
func (r *OutreachLogRepository) RecordEngagement(ctx context.Context, reminderID string, opened, clicked bool) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE outreach_logs
		 SET opened = opened OR $2, clicked = clicked OR $3
		 WHERE reminder_id = $1`,
		reminderID,
		opened,
		clicked,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to record outreach engagement", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListOlderThan returns outreach log rows with sent_at before the cutoff,
// oldest first, bounded by limit. Used by the archival job.
func (r *OutreachLogRepository) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]types.OutreachLog, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, customer_id, policy_id, reminder_id, outreach_type,
		        channel, message, sent_at, delivered, opened, clicked, responded
		 FROM outreach_logs
		 WHERE sent_at < $1
		 ORDER BY sent_at
		 LIMIT $2`,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list outreach logs for archival", err)
	}
	defer rows.Close()

	var result []types.OutreachLog
	for rows.Next() {
		var (
			l          types.OutreachLog
			policyID   *string
			reminderID *string
		)
		if err := rows.Scan(
			&l.ID, &l.CustomerID, &policyID, &reminderID, &l.OutreachType,
			&l.Channel, &l.Message, &l.SentAt, &l.Delivered, &l.Opened,
			&l.Clicked, &l.Responded,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan outreach log row", err)
		}
		if policyID != nil {
			l.PolicyID = *policyID
		}
		if reminderID != nil {
			l.ReminderID = *reminderID
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating outreach log rows", err)
	}

	return result, nil
}

// DeleteByIDs removes outreach log rows by ID after they have been
// archived. Returns the count of deleted rows.
func (r *OutreachLogRepository) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := r.db.Exec(ctx,
		`DELETE FROM outreach_logs WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete archived outreach logs", err)
	}
	return int(tag.RowsAffected()), nil
}
