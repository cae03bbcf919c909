package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"policypulse/internal/types"
)

// PolicyRepository provides data access for the policies table. Lifecycle
// transitions are implemented as set-based UPDATEs so that a daily run is a
// single statement per transition regardless of row count.
type PolicyRepository struct {
	db DBTX
}

// NewPolicyRepository creates a new PolicyRepository backed by the given
// database connection (pool or transaction).
func NewPolicyRepository(db DBTX) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// policyColumns is the canonical select list for policy rows, aliased p.
const policyColumns = `p.id, p.customer_id, p.policy_number, p.policy_type,
	p.coverage_amount, p.premium_amount, p.start_date, p.end_date,
	p.renewal_date, p.status, p.created_at, p.updated_at`

// customerColumns is the canonical select list for customer rows, aliased c.
const customerColumns = `c.id, c.full_name, c.email, c.phone,
	c.preferred_channel, c.engagement_score, c.last_interaction, c.created_at`

// GetWithCustomer returns a policy and its owning customer.
func (r *PolicyRepository) GetWithCustomer(ctx context.Context, policyID string) (*types.RenewalCandidate, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+policyColumns+`, `+customerColumns+`
		 FROM policies p
		 JOIN customers c ON c.id = p.customer_id
		 WHERE p.id = $1`,
		policyID,
	)

	cand, err := scanRenewalCandidate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPolicy, "policy not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get policy", err)
	}
	return cand, nil
}

// ListRenewingOn returns active policies whose renewal_date falls exactly on
// the given calendar date, joined with their customers. Exact-date matching
// (rather than a <= range) is what keeps repeated scheduler runs from
// selecting the same policy for more than one window.
//
// SQL: SELECT ... FROM policies p JOIN customers c ON c.id = p.customer_id
//
//	WHERE p.status = 'active' AND p.renewal_date = $1::date
func (r *PolicyRepository) ListRenewingOn(ctx context.Context, date time.Time) ([]types.RenewalCandidate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+policyColumns+`, `+customerColumns+`
		 FROM policies p
		 JOIN customers c ON c.id = p.customer_id
		 WHERE p.status = 'active' AND p.renewal_date = $1::date
		 ORDER BY p.id`,
		date,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list policies by renewal date", err)
	}
	defer rows.Close()

	return collectRenewalCandidates(rows)
}

// ListPendingRenewals returns pending_renewal policies with a renewal_date
// in the inclusive [from, to] date range, joined with their customers.
// Used by the retention outreach job.
func (r *PolicyRepository) ListPendingRenewals(ctx context.Context, from, to time.Time) ([]types.RenewalCandidate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+policyColumns+`, `+customerColumns+`
		 FROM policies p
		 JOIN customers c ON c.id = p.customer_id
		 WHERE p.status = 'pending_renewal'
		   AND p.renewal_date >= $1::date
		   AND p.renewal_date <= $2::date
		 ORDER BY p.renewal_date, p.id`,
		from,
		to,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list pending renewals", err)
	}
	defer rows.Close()

	return collectRenewalCandidates(rows)
}

// MarkPendingRenewal transitions active policies whose renewal_date is
// within the horizon (and not yet past) to pending_renewal. Returns the
// number of rows transitioned. Re-running on the same day affects zero
// additional rows.
//
// SQL: UPDATE policies SET status = 'pending_renewal', updated_at = NOW()
//
//	WHERE status = 'active'
//	AND renewal_date >= $1::date AND renewal_date <= $1::date + $2 days
func (r *PolicyRepository) MarkPendingRenewal(ctx context.Context, today time.Time, horizonDays int) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE policies
		 SET status = 'pending_renewal', updated_at = NOW()
		 WHERE status = 'active'
		   AND renewal_date >= $1::date
		   AND renewal_date <= $1::date + make_interval(days => $2)`,
		today,
		horizonDays,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to mark policies pending renewal", err)
	}
	return int(tag.RowsAffected()), nil
}

// MarkLapsed transitions active and pending_renewal policies whose
// renewal_date has passed to lapsed. Returns the number of rows
// transitioned.
//
// SQL: UPDATE policies SET status = 'lapsed', updated_at = NOW()
//
//	WHERE status IN ('active', 'pending_renewal') AND renewal_date < $1::date
func (r *PolicyRepository) MarkLapsed(ctx context.Context, today time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE policies
		 SET status = 'lapsed', updated_at = NOW()
		 WHERE status IN ('active', 'pending_renewal')
		   AND renewal_date < $1::date`,
		today,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to mark policies lapsed", err)
	}
	return int(tag.RowsAffected()), nil
}

// Renew advances a policy one annual term starting today: start_date =
// today, end/renewal dates one year out, premium raised by the renewal
// rate, status = renewed. Only active, pending_renewal, and lapsed policies
// can be renewed; renewing a cancelled policy is a conflict.
func (r *PolicyRepository) Renew(ctx context.Context, policyID string, today time.Time) (*types.Policy, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE policies
		 SET start_date = $2::date,
		     end_date = $2::date + interval '1 year',
		     renewal_date = $2::date + interval '1 year',
		     premium_amount = premium_amount * $3,
		     status = 'renewed',
		     updated_at = NOW()
		 WHERE id = $1 AND status <> 'cancelled'
		 RETURNING id, customer_id, policy_number, policy_type,
		           coverage_amount, premium_amount, start_date, end_date,
		           renewal_date, status, created_at, updated_at`,
		policyID,
		today,
		types.RenewalRateIncrease,
	)

	var p types.Policy
	err := row.Scan(
		&p.ID, &p.CustomerID, &p.PolicyNumber, &p.PolicyType,
		&p.CoverageAmount, &p.PremiumAmount, &p.StartDate, &p.EndDate,
		&p.RenewalDate, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeConflictPolicyStatus, "policy not found or cancelled", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to renew policy", err)
	}
	return &p, nil
}

// collectRenewalCandidates scans joined policy+customer rows.
func collectRenewalCandidates(rows pgx.Rows) ([]types.RenewalCandidate, error) {
	var result []types.RenewalCandidate
	for rows.Next() {
		cand, err := scanRenewalCandidate(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan policy row", err)
		}
		result = append(result, *cand)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating policy rows", err)
	}
	return result, nil
}

// scanRenewalCandidate scans one joined policy+customer row from either a
// pgx.Row or pgx.Rows.
func scanRenewalCandidate(row pgx.Row) (*types.RenewalCandidate, error) {
	var (
		cand            types.RenewalCandidate
		lastInteraction *time.Time
	)
	err := row.Scan(
		&cand.Policy.ID, &cand.Policy.CustomerID, &cand.Policy.PolicyNumber,
		&cand.Policy.PolicyType, &cand.Policy.CoverageAmount,
		&cand.Policy.PremiumAmount, &cand.Policy.StartDate,
		&cand.Policy.EndDate, &cand.Policy.RenewalDate, &cand.Policy.Status,
		&cand.Policy.CreatedAt, &cand.Policy.UpdatedAt,
		&cand.Customer.ID, &cand.Customer.FullName, &cand.Customer.Email,
		&cand.Customer.Phone, &cand.Customer.PreferredChannel,
		&cand.Customer.EngagementScore, &lastInteraction,
		&cand.Customer.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	cand.Customer.LastInteraction = lastInteraction
	return &cand, nil
}
