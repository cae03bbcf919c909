package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"policypulse/internal/types"
)

// RenewalStore defines the database operations needed by the
// RenewalService.
type RenewalStore interface {
	// InTx runs fn inside a single transaction; every store call made with
	// the ctx passed to fn joins it.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	// GetPolicyWithCustomer returns the policy joined with its customer.
	GetPolicyWithCustomer(ctx context.Context, policyID string) (*types.RenewalCandidate, error)

	// RenewPolicy advances the policy one term and returns the updated row.
	// Fails with a conflict error when the policy status does not permit
	// renewal.
	RenewPolicy(ctx context.Context, policyID string, today time.Time) (*types.Policy, error)

	// CancelOpenReminders cancels pending reminders for the policy,
	// returning how many were cancelled.
	CancelOpenReminders(ctx context.Context, policyID string) (int, error)

	// CreateOutreachLog appends one outreach attempt record.
	CreateOutreachLog(ctx context.Context, l *types.OutreachLog) error
}

// RenewalService executes a policy renewal: the term dates advance one
// year, the premium steps up by the renewal rate, open reminders are
// cancelled, and the customer receives a confirmation message.
type RenewalService struct {
	store   RenewalStore
	gateway DeliveryGateway
	logger  *slog.Logger
}

// NewRenewalService creates a RenewalService.
func NewRenewalService(store RenewalStore, gateway DeliveryGateway, logger *slog.Logger) *RenewalService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RenewalService{
		store:   store,
		gateway: gateway,
		logger:  logger,
	}
}

// Renew renews the policy as of now's calendar date and returns the updated
// policy. The renewal and the cancellation of its open reminders commit in
// one transaction, so a renewed policy never keeps pending reminders. The
// confirmation message is sent after commit and its failure never rolls back
// the renewal, since the customer has already paid.
func (r *RenewalService) Renew(ctx context.Context, policyID string, now time.Time) (*types.Policy, error) {
	cand, err := r.store.GetPolicyWithCustomer(ctx, policyID)
	if err != nil {
		return nil, err
	}

	today := truncateToDay(now)
	var policy *types.Policy
	var cancelled int
	err = r.store.InTx(ctx, func(ctx context.Context) error {
		var txErr error
		policy, txErr = r.store.RenewPolicy(ctx, policyID, today)
		if txErr != nil {
			return txErr
		}
		cancelled, txErr = r.store.CancelOpenReminders(ctx, policyID)
		if txErr != nil {
			return fmt.Errorf("cancelling open reminders: %w", txErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "policy renewed",
		"policy_id", policyID,
		"policy_number", policy.PolicyNumber,
		"new_renewal_date", policy.RenewalDate.Format("2006-01-02"),
		"premium", policy.PremiumAmount,
		"reminders_cancelled", cancelled,
	)

	r.sendConfirmation(ctx, cand.Customer, policy, now)

	return policy, nil
}

// sendConfirmation delivers the renewal confirmation on the customer's
// preferred channel and logs the attempt.
func (r *RenewalService) sendConfirmation(ctx context.Context, customer types.Customer, policy *types.Policy, now time.Time) {
	channel := customer.PreferredChannel
	if !types.ValidChannel(channel) {
		channel = types.ChannelEmail
	}

	payload := types.ReminderPayload{
		CustomerName: customer.FullName,
		Contact:      customer.Contact(channel),
		PolicyNumber: policy.PolicyNumber,
		PolicyType:   policy.PolicyType,
		// The confirmation shows the new term: the already-stepped premium
		// and the next renewal date.
		RenewalDate:   policy.RenewalDate,
		RenewalAmount: policy.PremiumAmount,
		DaysRemaining: policy.DaysUntilRenewal(now),
		ReferenceID:   policy.ID,
	}

	result := r.gateway.Deliver(ctx, channel, types.MessageRenewalConfirmation, payload)
	if result.Status == types.DeliveryStatusFailed {
		r.logger.ErrorContext(ctx, "renewal confirmation delivery failed",
			"policy_id", policy.ID,
			"channel", string(channel),
			"reason", result.FailureReason,
		)
	}

	message := fmt.Sprintf("renewal confirmation for policy %s", policy.PolicyNumber)
	if result.Status == types.DeliveryStatusFailed {
		message = fmt.Sprintf("%s (failed: %s)", message, result.FailureReason)
	}

	entry := &types.OutreachLog{
		ID:           uuid.NewString(),
		CustomerID:   customer.ID,
		PolicyID:     policy.ID,
		OutreachType: types.OutreachConfirmation,
		Channel:      channel,
		Message:      message,
		Delivered:    result.Status != types.DeliveryStatusFailed,
	}
	if err := r.store.CreateOutreachLog(ctx, entry); err != nil {
		r.logger.ErrorContext(ctx, "failed to append confirmation outreach log",
			"policy_id", policy.ID,
			"error", err,
		)
	}
}
