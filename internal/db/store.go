package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"policypulse/internal/types"
)

// txKey is the context key under which InTx stashes the active pgx.Tx.
type txKey struct{}

// Store bundles the connection pool behind a single facade that the job and
// ops layers consume. Methods resolve their connection from the context: if
// the context carries a transaction started by InTx, the method runs on that
// transaction; otherwise it runs on the pool. This lets a job wrap an
// arbitrary sequence of Store calls in one transaction without threading a
// tx value through every interface.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for health checks and shutdown.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "database ping failed", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// conn returns the transaction carried by ctx, or the pool if none.
func (s *Store) conn(ctx context.Context) DBTX {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// InTx executes fn within a database transaction. The transaction is carried
// in the context passed to fn, so every Store call made inside fn joins it.
// The transaction commits when fn returns nil and rolls back otherwise.
// Nested calls join the outer transaction rather than opening a new one.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit transaction", err)
	}
	return nil
}

// ============================================================
// Policies
// ============================================================

func (s *Store) GetPolicyWithCustomer(ctx context.Context, policyID string) (*types.RenewalCandidate, error) {
	return NewPolicyRepository(s.conn(ctx)).GetWithCustomer(ctx, policyID)
}

func (s *Store) ListPoliciesRenewingOn(ctx context.Context, date time.Time) ([]types.RenewalCandidate, error) {
	return NewPolicyRepository(s.conn(ctx)).ListRenewingOn(ctx, date)
}

func (s *Store) ListPendingRenewals(ctx context.Context, from, to time.Time) ([]types.RenewalCandidate, error) {
	return NewPolicyRepository(s.conn(ctx)).ListPendingRenewals(ctx, from, to)
}

func (s *Store) MarkPoliciesPendingRenewal(ctx context.Context, today time.Time, horizonDays int) (int, error) {
	return NewPolicyRepository(s.conn(ctx)).MarkPendingRenewal(ctx, today, horizonDays)
}

func (s *Store) MarkPoliciesLapsed(ctx context.Context, today time.Time) (int, error) {
	return NewPolicyRepository(s.conn(ctx)).MarkLapsed(ctx, today)
}

func (s *Store) RenewPolicy(ctx context.Context, policyID string, today time.Time) (*types.Policy, error) {
	return NewPolicyRepository(s.conn(ctx)).Renew(ctx, policyID, today)
}

// ============================================================
// Reminders
// ============================================================

func (s *Store) ReminderExists(ctx context.Context, policyID string, window int) (bool, error) {
	return NewReminderRepository(s.conn(ctx)).Exists(ctx, policyID, window)
}

func (s *Store) CreateReminder(ctx context.Context, rem *types.Reminder) error {
	return NewReminderRepository(s.conn(ctx)).Create(ctx, rem)
}

func (s *Store) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]types.DueReminder, error) {
	return NewReminderRepository(s.conn(ctx)).ListDue(ctx, now, limit)
}

func (s *Store) MarkReminderSent(ctx context.Context, reminderID string, providerMsgID string, sentAt time.Time) error {
	return NewReminderRepository(s.conn(ctx)).MarkSent(ctx, reminderID, providerMsgID, sentAt)
}

func (s *Store) RecordReminderFailure(ctx context.Context, reminderID string, status types.ReminderStatus, retryCount int, errMsg string) error {
	return NewReminderRepository(s.conn(ctx)).RecordFailure(ctx, reminderID, status, retryCount, errMsg)
}

func (s *Store) MarkReminderDelivered(ctx context.Context, reminderID string, deliveredAt time.Time) (bool, error) {
	return NewReminderRepository(s.conn(ctx)).MarkDelivered(ctx, reminderID, deliveredAt)
}

func (s *Store) CancelReminder(ctx context.Context, reminderID string) (bool, error) {
	return NewReminderRepository(s.conn(ctx)).Cancel(ctx, reminderID)
}

func (s *Store) CancelOpenReminders(ctx context.Context, policyID string) (int, error) {
	return NewReminderRepository(s.conn(ctx)).CancelOpenForPolicy(ctx, policyID)
}

// ============================================================
// Customers
// ============================================================

func (s *Store) ListCustomerIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	return NewCustomerRepository(s.conn(ctx)).ListIDs(ctx, afterID, limit)
}

func (s *Store) GetEngagementStats(ctx context.Context, customerID string, interactionsSince time.Time) (*types.EngagementStats, error) {
	return NewCustomerRepository(s.conn(ctx)).GetEngagementStats(ctx, customerID, interactionsSince)
}

func (s *Store) UpdateEngagementScore(ctx context.Context, customerID string, score float64) error {
	return NewCustomerRepository(s.conn(ctx)).UpdateEngagementScore(ctx, customerID, score)
}

// ============================================================
// Outreach logs
// ============================================================

func (s *Store) CreateOutreachLog(ctx context.Context, l *types.OutreachLog) error {
	return NewOutreachLogRepository(s.conn(ctx)).Create(ctx, l)
}

func (s *Store) HasRecentRetention(ctx context.Context, customerID, policyID string, since time.Time) (bool, error) {
	return NewOutreachLogRepository(s.conn(ctx)).HasRecentRetention(ctx, customerID, policyID, since)
}

func (s *Store) RecordOutreachEngagement(ctx context.Context, reminderID string, opened, clicked bool) (int, error) {
	return NewOutreachLogRepository(s.conn(ctx)).RecordEngagement(ctx, reminderID, opened, clicked)
}

func (s *Store) ListOutreachOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]types.OutreachLog, error) {
	return NewOutreachLogRepository(s.conn(ctx)).ListOlderThan(ctx, cutoff, limit)
}

func (s *Store) DeleteOutreachByIDs(ctx context.Context, ids []string) (int, error) {
	return NewOutreachLogRepository(s.conn(ctx)).DeleteByIDs(ctx, ids)
}

// ============================================================
// Job coordination
// ============================================================

func (s *Store) AcquireJobLock(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	return NewJobLockRepository(s.conn(ctx)).Acquire(ctx, lockID, workerID, ttl)
}

func (s *Store) StartJobRun(ctx context.Context, jobName string) (int64, error) {
	return NewJobHistoryRepository(s.conn(ctx)).Start(ctx, jobName)
}

func (s *Store) FinishJobRun(ctx context.Context, id int64, status string, items int, jobErr error) error {
	return NewJobHistoryRepository(s.conn(ctx)).Finish(ctx, id, status, items, jobErr)
}

func (s *Store) ListRecentJobRuns(ctx context.Context, limit int) ([]types.JobRun, error) {
	return NewJobHistoryRepository(s.conn(ctx)).ListRecent(ctx, limit)
}
