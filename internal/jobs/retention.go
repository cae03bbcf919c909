package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"policypulse/internal/types"
)

// RetentionStore defines the database operations needed by the
// RetentionJob.
type RetentionStore interface {
	// ListPendingRenewals returns pending_renewal policies with
	// renewal_date within [from, to], joined with their customers.
	ListPendingRenewals(ctx context.Context, from, to time.Time) ([]types.RenewalCandidate, error)

	// HasRecentRetention reports whether a retention outreach exists for
	// the (customer, policy) pair since the given time.
	HasRecentRetention(ctx context.Context, customerID, policyID string, since time.Time) (bool, error)

	// CreateOutreachLog appends one outreach attempt record.
	CreateOutreachLog(ctx context.Context, l *types.OutreachLog) error
}

// RetentionJob contacts customers whose policies sit in pending_renewal
// close to the renewal date, nudging them before the policy lapses. A
// cool-down on the outreach log keeps the job from recontacting the same
// (customer, policy) pair on every run.
type RetentionJob struct {
	store        RetentionStore
	gateway      DeliveryGateway
	horizonDays  int
	cooldownDays int
	logger       *slog.Logger
}

// RetentionConfig holds the tunables for the RetentionJob.
type RetentionConfig struct {
	HorizonDays  int // defaults to types.RetentionOutreachHorizonDays
	CooldownDays int // defaults to types.RetentionCooldownDays
}

// NewRetentionJob creates a RetentionJob.
func NewRetentionJob(store RetentionStore, gateway DeliveryGateway, cfg RetentionConfig, logger *slog.Logger) *RetentionJob {
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = types.RetentionOutreachHorizonDays
	}
	if cfg.CooldownDays <= 0 {
		cfg.CooldownDays = types.RetentionCooldownDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionJob{
		store:        store,
		gateway:      gateway,
		horizonDays:  cfg.HorizonDays,
		cooldownDays: cfg.CooldownDays,
		logger:       logger,
	}
}

// ProcessRetentionOutreach sends a retention message to every
// pending_renewal policy renewing within the horizon, unless the same
// (customer, policy) pair was contacted within the cool-down. Each attempt
// is logged regardless of outcome, with Delivered true only for sent and
// skipped results; the cool-down keys off that log, so even a failed
// attempt holds the pair back for the cool-down period.
//
// Returns the number of retention messages sent.
func (r *RetentionJob) ProcessRetentionOutreach(ctx context.Context, now time.Time) (int, error) {
	today := truncateToDay(now)
	horizon := today.AddDate(0, 0, r.horizonDays)

	candidates, err := r.store.ListPendingRenewals(ctx, today, horizon)
	if err != nil {
		return 0, fmt.Errorf("listing pending renewals: %w", err)
	}

	if len(candidates) == 0 {
		r.logger.InfoContext(ctx, "no pending renewals for retention outreach")
		return 0, nil
	}

	cooldownSince := now.AddDate(0, 0, -r.cooldownDays)
	sent := 0

	for i := range candidates {
		cand := &candidates[i]

		recent, err := r.store.HasRecentRetention(ctx, cand.Customer.ID, cand.Policy.ID, cooldownSince)
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to check retention cool-down",
				"customer_id", cand.Customer.ID,
				"policy_id", cand.Policy.ID,
				"error", err,
			)
			continue
		}
		if recent {
			continue
		}

		channel := cand.Customer.PreferredChannel
		if !types.ValidChannel(channel) {
			channel = types.ChannelEmail
		}

		payload := types.ReminderPayload{
			CustomerName:  cand.Customer.FullName,
			Contact:       cand.Customer.Contact(channel),
			PolicyNumber:  cand.Policy.PolicyNumber,
			PolicyType:    cand.Policy.PolicyType,
			RenewalDate:   cand.Policy.RenewalDate,
			RenewalAmount: cand.Policy.RenewalAmount(),
			DaysRemaining: cand.Policy.DaysUntilRenewal(now),
			ReferenceID:   cand.Policy.ID,
		}

		result := r.gateway.Deliver(ctx, channel, types.MessageRetention, payload)
		if result.Status == types.DeliveryStatusSent {
			sent++
		}

		message := fmt.Sprintf("retention outreach for policy %s", cand.Policy.PolicyNumber)
		if result.Status == types.DeliveryStatusFailed {
			message = fmt.Sprintf("%s (failed: %s)", message, result.FailureReason)
		}

		entry := &types.OutreachLog{
			ID:           uuid.NewString(),
			CustomerID:   cand.Customer.ID,
			PolicyID:     cand.Policy.ID,
			OutreachType: types.OutreachRetention,
			Channel:      channel,
			Message:      message,
			Delivered:    result.Status != types.DeliveryStatusFailed,
		}
		if err := r.store.CreateOutreachLog(ctx, entry); err != nil {
			r.logger.ErrorContext(ctx, "failed to append retention outreach log",
				"customer_id", cand.Customer.ID,
				"policy_id", cand.Policy.ID,
				"error", err,
			)
		}
	}

	r.logger.InfoContext(ctx, "retention outreach complete",
		"candidates", len(candidates),
		"sent", sent,
	)

	return sent, nil
}
