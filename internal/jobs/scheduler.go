package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"policypulse/internal/types"
)

// SchedulerStore defines the database operations needed by the
// ReminderScheduler.
type SchedulerStore interface {
	// InTx runs fn inside a single transaction; every store call made with
	// the ctx passed to fn joins it.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	// ListPoliciesRenewingOn returns active policies whose renewal_date
	// falls exactly on the given calendar date, joined with their
	// customers.
	ListPoliciesRenewingOn(ctx context.Context, date time.Time) ([]types.RenewalCandidate, error)

	// ReminderExists reports whether a reminder already exists for the
	// (policy, window) pair in any status.
	ReminderExists(ctx context.Context, policyID string, window int) (bool, error)

	// CreateReminder inserts a new pending reminder.
	CreateReminder(ctx context.Context, rem *types.Reminder) error
}

// ReminderScheduler creates reminders for policies whose renewal date lands
// exactly on one of the configured lead-time windows. Existence checks make
// repeated or overlapping runs produce no duplicates.
type ReminderScheduler struct {
	store   SchedulerStore
	windows []int
	logger  *slog.Logger
}

// NewReminderScheduler creates a ReminderScheduler. windows defaults to
// {30, 15, 7, 1} when empty.
func NewReminderScheduler(store SchedulerStore, windows []int, logger *slog.Logger) *ReminderScheduler {
	if len(windows) == 0 {
		windows = types.DefaultReminderWindows
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderScheduler{
		store:   store,
		windows: windows,
		logger:  logger,
	}
}

// CreateDueReminders scans each window for policies renewing exactly
// `window` days from now and creates a pending reminder per match on the
// customer's preferred channel. The whole invocation runs in one
// transaction: either all reminders of a run are committed or none.
//
// Returns the number of reminders created.
func (s *ReminderScheduler) CreateDueReminders(ctx context.Context, now time.Time) (int, error) {
	today := truncateToDay(now)
	created := 0

	err := s.store.InTx(ctx, func(ctx context.Context) error {
		for _, window := range s.windows {
			target := today.AddDate(0, 0, window)

			candidates, err := s.store.ListPoliciesRenewingOn(ctx, target)
			if err != nil {
				return fmt.Errorf("listing policies renewing on %s: %w", target.Format("2006-01-02"), err)
			}

			for _, cand := range candidates {
				exists, err := s.store.ReminderExists(ctx, cand.Policy.ID, window)
				if err != nil {
					return fmt.Errorf("checking reminder existence for policy %s window %d: %w",
						cand.Policy.ID, window, err)
				}
				if exists {
					continue
				}

				channel := cand.Customer.PreferredChannel
				if !types.ValidChannel(channel) {
					channel = types.ChannelEmail
				}

				rem := &types.Reminder{
					ID:            uuid.NewString(),
					PolicyID:      cand.Policy.ID,
					Window:        window,
					Channel:       channel,
					ScheduledDate: today,
					Status:        types.ReminderStatusPending,
				}

				if err := s.store.CreateReminder(ctx, rem); err != nil {
					// A concurrent run inserted the same (policy, window)
					// between the existence check and the insert.
					if types.IsErrorCode(err, types.ErrCodeConflictReminderExists) {
						continue
					}
					return fmt.Errorf("creating reminder for policy %s window %d: %w",
						cand.Policy.ID, window, err)
				}
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.InfoContext(ctx, "reminder scheduling complete",
		"created", created,
		"windows", s.windows,
	)

	return created, nil
}

// truncateToDay strips the time-of-day portion, keeping the calendar date
// in UTC.
func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
