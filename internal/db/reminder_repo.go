package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"policypulse/internal/types"
)

// ReminderRepository provides data access for the reminders table. The
// (policy_id, window_days) pair is unique; the scheduler checks Exists
// before Create, and a unique index backs the invariant against races.
type ReminderRepository struct {
	db DBTX
}

// NewReminderRepository creates a new ReminderRepository backed by the given
// database connection (pool or transaction).
func NewReminderRepository(db DBTX) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// Exists reports whether a reminder already exists for the given
// (policy, window) occurrence, regardless of its status.
//
// SQL: SELECT EXISTS(SELECT 1 FROM reminders
//
//	WHERE policy_id = $1 AND window_days = $2)
func (r *ReminderRepository) Exists(ctx context.Context, policyID string, window int) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM reminders
		 WHERE policy_id = $1 AND window_days = $2)`,
		policyID,
		window,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check reminder existence", err)
	}
	return exists, nil
}

// Create inserts a new reminder row. The caller must set the ID and
// required fields. ON CONFLICT DO NOTHING backs the Exists check against
// concurrent scheduler runs; a conflicting insert is reported as
// ErrCodeConflictReminderExists.
func (r *ReminderRepository) Create(ctx context.Context, rem *types.Reminder) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO reminders
		 (id, policy_id, window_days, channel, scheduled_date, status,
		  retry_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, COALESCE($7, NOW()))
		 ON CONFLICT (policy_id, window_days) DO NOTHING`,
		rem.ID,
		rem.PolicyID,
		rem.Window,
		string(rem.Channel),
		rem.ScheduledDate,
		string(rem.Status),
		nilIfZeroTime(rem.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create reminder", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictReminderExists, "reminder already exists for policy and window", nil)
	}
	return nil
}

// ListDue returns pending reminders whose scheduled_date has passed, oldest
// due first, bounded by limit, joined with their policies and customers so
// the dispatcher can build payloads without per-item lookups.
//
// SQL: SELECT ... FROM reminders r
//
//	JOIN policies p ON p.id = r.policy_id
//	JOIN customers c ON c.id = p.customer_id
//	WHERE r.status = 'pending' AND r.scheduled_date <= $1
//	ORDER BY r.scheduled_date LIMIT $2
func (r *ReminderRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]types.DueReminder, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx,
		`SELECT r.id, r.policy_id, r.window_days, r.channel, r.scheduled_date,
		        r.sent_at, r.delivered_at, r.status, r.provider_message_id,
		        r.error_message, r.retry_count, r.created_at,
		        `+policyColumns+`, `+customerColumns+`
		 FROM reminders r
		 JOIN policies p ON p.id = r.policy_id
		 JOIN customers c ON c.id = p.customer_id
		 WHERE r.status = 'pending' AND r.scheduled_date <= $1
		 ORDER BY r.scheduled_date
		 LIMIT $2`,
		now,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list due reminders", err)
	}
	defer rows.Close()

	var result []types.DueReminder
	for rows.Next() {
		due, scanErr := scanDueReminder(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan due reminder row", scanErr)
		}
		result = append(result, *due)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating due reminder rows", err)
	}

	return result, nil
}

// MarkSent flips a reminder to sent, recording the send time and the
// provider's message identifier. Sent is what removes the reminder from the
// dispatcher's eligible set, so a successful send is never re-attempted.
func (r *ReminderRepository) MarkSent(ctx context.Context, reminderID string, providerMsgID string, sentAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE reminders
		 SET status = 'sent', sent_at = $2, provider_message_id = $3,
		     error_message = NULL
		 WHERE id = $1`,
		reminderID,
		sentAt,
		nilIfEmpty(providerMsgID),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark reminder sent", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundReminder, "reminder not found", nil)
	}
	return nil
}

// MarkDelivered records the provider's delivery confirmation for a sent
// reminder. The first confirmation wins; later events for the same
// reminder are no-ops. Returns false when no sent, undelivered reminder
// matched.
func (r *ReminderRepository) MarkDelivered(ctx context.Context, reminderID string, deliveredAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE reminders SET delivered_at = $2
		 WHERE id = $1 AND status = 'sent' AND delivered_at IS NULL`,
		reminderID,
		deliveredAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark reminder delivered", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordFailure stores the outcome of a failed dispatch attempt: the next
// status (pending for another tick, or failed once the retry ceiling is
// reached), the new retry count, and the provider error message.
func (r *ReminderRepository) RecordFailure(ctx context.Context, reminderID string, status types.ReminderStatus, retryCount int, errMsg string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE reminders
		 SET status = $2, retry_count = $3, error_message = $4
		 WHERE id = $1`,
		reminderID,
		string(status),
		retryCount,
		nilIfEmpty(errMsg),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record reminder failure", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundReminder, "reminder not found", nil)
	}
	return nil
}

// Cancel flips a pending reminder to cancelled. Returns false if the
// reminder was not pending (already sent, failed, or cancelled); the
// dispatcher's selection query naturally excludes cancelled reminders on
// its next tick.
func (r *ReminderRepository) Cancel(ctx context.Context, reminderID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE reminders SET status = 'cancelled'
		 WHERE id = $1 AND status = 'pending'`,
		reminderID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to cancel reminder", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CancelOpenForPolicy cancels every pending reminder for the policy, as
// happens on renewal. Returns the number of reminders cancelled.
func (r *ReminderRepository) CancelOpenForPolicy(ctx context.Context, policyID string) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE reminders SET status = 'cancelled'
		 WHERE policy_id = $1 AND status = 'pending'`,
		policyID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to cancel open reminders", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanDueReminder scans one joined reminder+policy+customer row.
func scanDueReminder(rows pgx.Rows) (*types.DueReminder, error) {
	var (
		due             types.DueReminder
		sentAt          *time.Time
		deliveredAt     *time.Time
		providerMsgID   *string
		errorMessage    *string
		lastInteraction *time.Time
	)
	err := rows.Scan(
		&due.Reminder.ID, &due.Reminder.PolicyID, &due.Reminder.Window,
		&due.Reminder.Channel, &due.Reminder.ScheduledDate,
		&sentAt, &deliveredAt, &due.Reminder.Status,
		&providerMsgID, &errorMessage, &due.Reminder.RetryCount,
		&due.Reminder.CreatedAt,
		&due.Policy.ID, &due.Policy.CustomerID, &due.Policy.PolicyNumber,
		&due.Policy.PolicyType, &due.Policy.CoverageAmount,
		&due.Policy.PremiumAmount, &due.Policy.StartDate, &due.Policy.EndDate,
		&due.Policy.RenewalDate, &due.Policy.Status,
		&due.Policy.CreatedAt, &due.Policy.UpdatedAt,
		&due.Customer.ID, &due.Customer.FullName, &due.Customer.Email,
		&due.Customer.Phone, &due.Customer.PreferredChannel,
		&due.Customer.EngagementScore, &lastInteraction,
		&due.Customer.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	due.Reminder.SentAt = sentAt
	due.Reminder.DeliveredAt = deliveredAt
	due.Customer.LastInteraction = lastInteraction
	if providerMsgID != nil {
		due.Reminder.ProviderMsgID = *providerMsgID
	}
	if errorMessage != nil {
		due.Reminder.ErrorMessage = *errorMessage
	}
	return &due, nil
}
