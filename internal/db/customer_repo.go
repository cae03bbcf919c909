package db

import (
	"context"
	"time"

	"policypulse/internal/types"
)

// CustomerRepository provides the customer data access the pipeline needs:
// iteration for the engagement scorer, per-customer history counts, and the
// wholesale engagement score write-back.
type CustomerRepository struct {
	db DBTX
}

// NewCustomerRepository creates a new CustomerRepository backed by the given
// database connection (pool or transaction).
func NewCustomerRepository(db DBTX) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// ListIDs returns customer IDs after the given cursor, ordered by ID,
// bounded by limit. Keyset pagination keeps the engagement scorer's memory
// flat regardless of customer count: pass the last ID of one page as the
// cursor for the next, and an empty string for the first page.
func (r *CustomerRepository) ListIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.db.Query(ctx,
		`SELECT id FROM customers WHERE id > $1 ORDER BY id LIMIT $2`,
		afterID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list customer ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan customer id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating customer ids", err)
	}

	return ids, nil
}

// GetEngagementStats returns the engagement score inputs for one customer:
// interactions since the given cutoff, and renewed/lapsed policy counts.
//
// SQL: SELECT
//
//	(SELECT COUNT(*) FROM interaction_logs WHERE customer_id = $1 AND created_at >= $2),
//	(SELECT COUNT(*) FROM policies WHERE customer_id = $1 AND status = 'renewed'),
//	(SELECT COUNT(*) FROM policies WHERE customer_id = $1 AND status = 'lapsed')
func (r *CustomerRepository) GetEngagementStats(ctx context.Context, customerID string, interactionsSince time.Time) (*types.EngagementStats, error) {
	stats := &types.EngagementStats{CustomerID: customerID}

	err := r.db.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM interaction_logs
		    WHERE customer_id = $1 AND created_at >= $2),
		   (SELECT COUNT(*) FROM policies
		    WHERE customer_id = $1 AND status = 'renewed'),
		   (SELECT COUNT(*) FROM policies
		    WHERE customer_id = $1 AND status = 'lapsed')`,
		customerID,
		interactionsSince,
	).Scan(&stats.RecentInteractions, &stats.RenewedPolicies, &stats.LapsedPolicies)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get engagement stats", err)
	}

	return stats, nil
}

// UpdateEngagementScore overwrites a customer's engagement score. The score
// is always a full recomputation; no caller ever adjusts it incrementally.
func (r *CustomerRepository) UpdateEngagementScore(ctx context.Context, customerID string, score float64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE customers SET engagement_score = $2 WHERE id = $1`,
		customerID,
		score,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update engagement score", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundCustomer, "customer not found", nil)
	}
	return nil
}
