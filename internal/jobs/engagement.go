package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"policypulse/internal/types"
)

// EngagementStore defines the database operations needed by the
// EngagementScorer.
type EngagementStore interface {
	// ListCustomerIDs returns a keyset page of customer IDs after afterID.
	ListCustomerIDs(ctx context.Context, afterID string, limit int) ([]string, error)

	// GetEngagementStats returns the scoring inputs for one customer,
	// counting interactions since interactionsSince.
	GetEngagementStats(ctx context.Context, customerID string, interactionsSince time.Time) (*types.EngagementStats, error)

	// UpdateEngagementScore replaces the customer's stored score.
	UpdateEngagementScore(ctx context.Context, customerID string, score float64) error
}

// InteractionWindowDays is the lookback over which interactions count
// toward the engagement score.
const InteractionWindowDays = 30

// scorerPageSize is the keyset page size for the customer scan.
const scorerPageSize = 500

// ComputeEngagementScore derives a customer's engagement score from their
// interaction and policy history. Scores start from a neutral base of 50:
//
//   - up to +20 for recent interactions (2 points each)
//   - up to +15 for renewed policies (5 points each)
//   - +15 for a clean record with no lapses, or -10 per lapse down to -30
//
// The result is clamped to [0, 100].
func ComputeEngagementScore(stats *types.EngagementStats) float64 {
	score := 50.0

	interactionBonus := float64(stats.RecentInteractions) * 2
	if interactionBonus > 20 {
		interactionBonus = 20
	}
	score += interactionBonus

	renewalBonus := float64(stats.RenewedPolicies) * 5
	if renewalBonus > 15 {
		renewalBonus = 15
	}
	score += renewalBonus

	if stats.LapsedPolicies == 0 {
		score += 15
	} else {
		penalty := float64(stats.LapsedPolicies) * 10
		if penalty > 30 {
			penalty = 30
		}
		score -= penalty
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// EngagementScorer recomputes every customer's engagement score wholesale.
type EngagementScorer struct {
	store  EngagementStore
	logger *slog.Logger
}

// NewEngagementScorer creates an EngagementScorer.
func NewEngagementScorer(store EngagementStore, logger *slog.Logger) *EngagementScorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EngagementScorer{
		store:  store,
		logger: logger,
	}
}

// RecomputeScores walks all customers in keyset pages and replaces each
// stored score with a fresh computation. Per-customer failures are logged
// and skipped; the run keeps going.
//
// Returns the number of customers whose score was updated.
func (e *EngagementScorer) RecomputeScores(ctx context.Context, now time.Time) (int, error) {
	since := now.AddDate(0, 0, -InteractionWindowDays)
	updated := 0
	afterID := ""

	for {
		ids, err := e.store.ListCustomerIDs(ctx, afterID, scorerPageSize)
		if err != nil {
			return updated, fmt.Errorf("listing customers after %q: %w", afterID, err)
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			stats, err := e.store.GetEngagementStats(ctx, id, since)
			if err != nil {
				e.logger.ErrorContext(ctx, "failed to load engagement stats",
					"customer_id", id,
					"error", err,
				)
				continue
			}

			score := ComputeEngagementScore(stats)
			if err := e.store.UpdateEngagementScore(ctx, id, score); err != nil {
				e.logger.ErrorContext(ctx, "failed to update engagement score",
					"customer_id", id,
					"error", err,
				)
				continue
			}
			updated++
		}

		afterID = ids[len(ids)-1]
		if len(ids) < scorerPageSize {
			break
		}
	}

	e.logger.InfoContext(ctx, "engagement scoring complete",
		"updated", updated,
	)

	return updated, nil
}
