package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"policypulse/internal/types"
)

// DispatcherStore defines the database operations needed by the
// ReminderDispatcher.
type DispatcherStore interface {
	// ListDueReminders returns pending reminders with scheduled_date <= now,
	// oldest first, joined with policy and customer.
	ListDueReminders(ctx context.Context, now time.Time, limit int) ([]types.DueReminder, error)

	// MarkReminderSent transitions a reminder to sent and records the
	// provider message ID.
	MarkReminderSent(ctx context.Context, reminderID string, providerMsgID string, sentAt time.Time) error

	// RecordReminderFailure stores the post-attempt status, retry count and
	// error message.
	RecordReminderFailure(ctx context.Context, reminderID string, status types.ReminderStatus, retryCount int, errMsg string) error

	// CreateOutreachLog appends one outreach attempt record.
	CreateOutreachLog(ctx context.Context, l *types.OutreachLog) error
}

// DeliveryGateway is the channel gateway as seen by the jobs. It always
// returns a result; transport errors surface as failed results.
type DeliveryGateway interface {
	Deliver(ctx context.Context, ct types.ChannelType, kind types.MessageKind, payload types.ReminderPayload) *types.DeliveryResult
}

// ReminderDispatcher sends due reminders through the channel gateway and
// advances each reminder's status from the delivery outcome. Items are
// committed independently so one bad reminder never blocks the batch.
type ReminderDispatcher struct {
	store      DispatcherStore
	gateway    DeliveryGateway
	batchSize  int
	maxRetries int
	logger     *slog.Logger
}

// DispatcherConfig holds the tunables for the ReminderDispatcher.
type DispatcherConfig struct {
	BatchSize  int // defaults to 50
	MaxRetries int // defaults to types.MaxReminderRetries
}

// NewReminderDispatcher creates a ReminderDispatcher.
func NewReminderDispatcher(store DispatcherStore, gateway DeliveryGateway, cfg DispatcherConfig, logger *slog.Logger) *ReminderDispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = types.MaxReminderRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderDispatcher{
		store:      store,
		gateway:    gateway,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}
}

// SendDueReminders processes one batch of due pending reminders, oldest
// first. Each reminder is delivered through the gateway on its recorded
// channel and its status is updated from the outcome:
//
//   - sent: reminder marked sent with the provider message ID
//   - skipped: reminder marked sent with no message ID, so an unconfigured
//     channel never accumulates an ever-growing due backlog
//   - failed: retry count incremented; back to pending while attempts and
//     retryability allow, otherwise permanently failed
//
// Every attempt is appended to the outreach log regardless of outcome.
func (d *ReminderDispatcher) SendDueReminders(ctx context.Context, now time.Time) (*types.DispatchSummary, error) {
	due, err := d.store.ListDueReminders(ctx, now, d.batchSize)
	if err != nil {
		return nil, fmt.Errorf("listing due reminders: %w", err)
	}

	summary := &types.DispatchSummary{}
	if len(due) == 0 {
		d.logger.InfoContext(ctx, "no due reminders to dispatch")
		return summary, nil
	}

	d.logger.InfoContext(ctx, "dispatching due reminders",
		"count", len(due),
		"batch_size", d.batchSize,
	)

	for i := range due {
		d.dispatchOne(ctx, &due[i], now, summary)
	}

	d.logger.InfoContext(ctx, "reminder dispatch complete",
		"sent", summary.Sent,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)

	return summary, nil
}

// dispatchOne delivers a single reminder and persists the outcome. Failures
// to persist are logged and absorbed; the next run re-reads reminder state
// from the store.
func (d *ReminderDispatcher) dispatchOne(ctx context.Context, rem *types.DueReminder, now time.Time, summary *types.DispatchSummary) {
	payload := rem.Payload(now)
	result := d.gateway.Deliver(ctx, rem.Reminder.Channel, types.MessageRenewalReminder, payload)

	switch result.Status {
	case types.DeliveryStatusSent:
		summary.Sent++
		if err := d.store.MarkReminderSent(ctx, rem.Reminder.ID, result.ProviderMessageID, now); err != nil {
			d.logger.ErrorContext(ctx, "failed to mark reminder sent",
				"reminder_id", rem.Reminder.ID,
				"error", err,
			)
		}

	case types.DeliveryStatusSkipped:
		summary.Skipped++
		if err := d.store.MarkReminderSent(ctx, rem.Reminder.ID, "", now); err != nil {
			d.logger.ErrorContext(ctx, "failed to mark skipped reminder",
				"reminder_id", rem.Reminder.ID,
				"error", err,
			)
		}

	case types.DeliveryStatusFailed:
		summary.Failed++
		status, retries := NextReminderState(rem.Reminder.RetryCount, result.Retryable, d.maxRetries)
		if err := d.store.RecordReminderFailure(ctx, rem.Reminder.ID, status, retries, result.FailureReason); err != nil {
			d.logger.ErrorContext(ctx, "failed to record reminder failure",
				"reminder_id", rem.Reminder.ID,
				"error", err,
			)
		}
		d.logger.WarnContext(ctx, "reminder delivery failed",
			"reminder_id", rem.Reminder.ID,
			"channel", string(rem.Reminder.Channel),
			"reason", result.FailureReason,
			"retry_count", retries,
			"next_status", string(status),
		)
	}

	d.logAttempt(ctx, rem, result)
}

// logAttempt appends the outreach log row for one delivery attempt.
func (d *ReminderDispatcher) logAttempt(ctx context.Context, rem *types.DueReminder, result *types.DeliveryResult) {
	message := fmt.Sprintf("%d-day renewal reminder for policy %s", rem.Reminder.Window, rem.Policy.PolicyNumber)
	if result.Status == types.DeliveryStatusFailed {
		message = fmt.Sprintf("%s (failed: %s)", message, result.FailureReason)
	}

	entry := &types.OutreachLog{
		ID:           uuid.NewString(),
		CustomerID:   rem.Customer.ID,
		PolicyID:     rem.Policy.ID,
		ReminderID:   rem.Reminder.ID,
		OutreachType: types.OutreachReminder,
		Channel:      rem.Reminder.Channel,
		Message:      message,
		Delivered:    result.Status != types.DeliveryStatusFailed,
	}

	if err := d.store.CreateOutreachLog(ctx, entry); err != nil {
		d.logger.ErrorContext(ctx, "failed to append outreach log",
			"reminder_id", rem.Reminder.ID,
			"error", err,
		)
	}
}
