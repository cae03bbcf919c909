package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"policypulse/internal/types"
)

// LifecycleStore defines the database operations needed by the
// LifecycleUpdater.
type LifecycleStore interface {
	// MarkPoliciesPendingRenewal transitions active policies with
	// renewal_date within horizonDays of today to pending_renewal.
	// Returns the number of rows updated.
	MarkPoliciesPendingRenewal(ctx context.Context, today time.Time, horizonDays int) (int, error)

	// MarkPoliciesLapsed transitions active and pending_renewal policies
	// with renewal_date before today to lapsed. Returns the number of rows
	// updated.
	MarkPoliciesLapsed(ctx context.Context, today time.Time) (int, error)
}

// LifecycleUpdater advances policy statuses along the renewal lifecycle.
// Both transitions are single set-based updates whose WHERE clauses exclude
// already-transitioned rows, so reruns with the same date are no-ops.
type LifecycleUpdater struct {
	store       LifecycleStore
	horizonDays int
	logger      *slog.Logger
}

// NewLifecycleUpdater creates a LifecycleUpdater. horizonDays defaults to
// types.RenewalHorizonDays when zero or negative.
func NewLifecycleUpdater(store LifecycleStore, horizonDays int, logger *slog.Logger) *LifecycleUpdater {
	if horizonDays <= 0 {
		horizonDays = types.RenewalHorizonDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LifecycleUpdater{
		store:       store,
		horizonDays: horizonDays,
		logger:      logger,
	}
}

// UpdateStatuses runs both lifecycle transitions for the calendar date of
// now. Lapsing runs first so a policy already past due on this run never
// transits through pending_renewal on the same day.
func (u *LifecycleUpdater) UpdateStatuses(ctx context.Context, now time.Time) (*types.LifecycleCounts, error) {
	today := truncateToDay(now)

	lapsed, err := u.store.MarkPoliciesLapsed(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("marking lapsed policies: %w", err)
	}

	pending, err := u.store.MarkPoliciesPendingRenewal(ctx, today, u.horizonDays)
	if err != nil {
		return nil, fmt.Errorf("marking pending renewals: %w", err)
	}

	counts := &types.LifecycleCounts{
		PendingRenewal: pending,
		Lapsed:         lapsed,
	}

	u.logger.InfoContext(ctx, "policy lifecycle update complete",
		"pending_renewal", pending,
		"lapsed", lapsed,
		"date", today.Format("2006-01-02"),
	)

	return counts, nil
}
