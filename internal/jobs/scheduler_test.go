package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"policypulse/internal/types"
)

// ============================================================
// Shared Test Helpers
// ============================================================

func jobsTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// jobsTestNow is the fixed reference time for job tests: a Sunday.
var jobsTestNow = time.Date(2026, 8, 30, 9, 30, 0, 0, time.UTC)

// newCandidate builds a policy+customer pair renewing on the given date.
func newCandidate(policyID, customerID string, renewal time.Time) types.RenewalCandidate {
	return types.RenewalCandidate{
		Policy: types.Policy{
			ID:            policyID,
			CustomerID:    customerID,
			PolicyNumber:  "POL-" + policyID,
			PolicyType:    types.PolicyTypeHealth,
			PremiumAmount: 12000,
			RenewalDate:   renewal,
			Status:        types.PolicyStatusActive,
		},
		Customer: types.Customer{
			ID:               customerID,
			FullName:         "Asha Verma",
			Email:            "asha@example.com",
			Phone:            "+919876543210",
			PreferredChannel: types.ChannelEmail,
		},
	}
}

// ============================================================
// Mock: SchedulerStore
// ============================================================

type mockSchedulerStore struct {
	mu sync.Mutex

	candidatesByDate map[string][]types.RenewalCandidate // keyed by YYYY-MM-DD
	existing         map[string]bool                     // keyed by policyID:window
	created          []*types.Reminder
	requestedDates   []string

	listErr   error
	existsErr error
	createErr error
	txErr     error

	inTxCalls int
}

func (m *mockSchedulerStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.inTxCalls++
	txErr := m.txErr
	m.mu.Unlock()
	if txErr != nil {
		return txErr
	}
	return fn(ctx)
}

func (m *mockSchedulerStore) ListPoliciesRenewingOn(_ context.Context, date time.Time) ([]types.RenewalCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	key := date.Format("2006-01-02")
	m.requestedDates = append(m.requestedDates, key)
	return m.candidatesByDate[key], nil
}

func (m *mockSchedulerStore) ReminderExists(_ context.Context, policyID string, window int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsErr != nil {
		return false, m.existsErr
	}
	return m.existing[fmt.Sprintf("%s:%d", policyID, window)], nil
}

func (m *mockSchedulerStore) CreateReminder(_ context.Context, rem *types.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, rem)
	return nil
}

// ============================================================
// ReminderScheduler Tests
// ============================================================

func TestCreateDueRemindersCreatesPerWindow(t *testing.T) {
	today := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	store := &mockSchedulerStore{
		candidatesByDate: map[string][]types.RenewalCandidate{
			today.AddDate(0, 0, 30).Format("2006-01-02"): {
				newCandidate("pol_30", "cust_1", today.AddDate(0, 0, 30)),
			},
			today.AddDate(0, 0, 7).Format("2006-01-02"): {
				newCandidate("pol_7", "cust_2", today.AddDate(0, 0, 7)),
			},
		},
		existing: map[string]bool{},
	}

	s := NewReminderScheduler(store, nil, jobsTestLogger())
	created, err := s.CreateDueReminders(context.Background(), jobsTestNow)
	if err != nil {
		t.Fatalf("CreateDueReminders() error = %v", err)
	}
	if created != 2 {
		t.Errorf("created = %d, want 2", created)
	}

	if store.inTxCalls != 1 {
		t.Errorf("inTxCalls = %d, want 1", store.inTxCalls)
	}

	// Every window must have been scanned at its exact target date.
	wantDates := map[string]bool{}
	for _, w := range types.DefaultReminderWindows {
		wantDates[today.AddDate(0, 0, w).Format("2006-01-02")] = true
	}
	if len(store.requestedDates) != len(wantDates) {
		t.Fatalf("requestedDates = %v, want %d distinct windows", store.requestedDates, len(wantDates))
	}
	for _, d := range store.requestedDates {
		if !wantDates[d] {
			t.Errorf("unexpected scan date %s", d)
		}
	}

	for _, rem := range store.created {
		if rem.ID == "" {
			t.Error("reminder created without an ID")
		}
		if rem.Status != types.ReminderStatusPending {
			t.Errorf("reminder status = %v, want pending", rem.Status)
		}
		if rem.Channel != types.ChannelEmail {
			t.Errorf("reminder channel = %v, want email", rem.Channel)
		}
		if !rem.ScheduledDate.Equal(today) {
			t.Errorf("scheduled date = %v, want %v", rem.ScheduledDate, today)
		}
	}

	byPolicy := map[string]int{}
	for _, rem := range store.created {
		byPolicy[rem.PolicyID] = rem.Window
	}
	if byPolicy["pol_30"] != 30 {
		t.Errorf("pol_30 window = %d, want 30", byPolicy["pol_30"])
	}
	if byPolicy["pol_7"] != 7 {
		t.Errorf("pol_7 window = %d, want 7", byPolicy["pol_7"])
	}
}

func TestCreateDueRemindersSkipsExisting(t *testing.T) {
	today := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	store := &mockSchedulerStore{
		candidatesByDate: map[string][]types.RenewalCandidate{
			today.AddDate(0, 0, 15).Format("2006-01-02"): {
				newCandidate("pol_a", "cust_1", today.AddDate(0, 0, 15)),
				newCandidate("pol_b", "cust_2", today.AddDate(0, 0, 15)),
			},
		},
		existing: map[string]bool{"pol_a:15": true},
	}

	s := NewReminderScheduler(store, nil, jobsTestLogger())
	created, err := s.CreateDueReminders(context.Background(), jobsTestNow)
	if err != nil {
		t.Fatalf("CreateDueReminders() error = %v", err)
	}
	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
	if len(store.created) != 1 || store.created[0].PolicyID != "pol_b" {
		t.Errorf("created reminders = %+v, want only pol_b", store.created)
	}
}

func TestCreateDueRemindersIdempotentRerun(t *testing.T) {
	today := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	store := &mockSchedulerStore{
		candidatesByDate: map[string][]types.RenewalCandidate{
			today.AddDate(0, 0, 1).Format("2006-01-02"): {
				newCandidate("pol_x", "cust_1", today.AddDate(0, 0, 1)),
			},
		},
		existing: map[string]bool{},
	}

	s := NewReminderScheduler(store, nil, jobsTestLogger())
	if _, err := s.CreateDueReminders(context.Background(), jobsTestNow); err != nil {
		t.Fatalf("first run error = %v", err)
	}

	// Second run sees the reminder created by the first.
	store.mu.Lock()
	store.existing["pol_x:1"] = true
	store.mu.Unlock()

	created, err := s.CreateDueReminders(context.Background(), jobsTestNow)
	if err != nil {
		t.Fatalf("second run error = %v", err)
	}
	if created != 0 {
		t.Errorf("second run created = %d, want 0", created)
	}
	if len(store.created) != 1 {
		t.Errorf("total created = %d, want 1", len(store.created))
	}
}

func TestCreateDueRemindersConcurrentInsertConflict(t *testing.T) {
	today := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	store := &mockSchedulerStore{
		candidatesByDate: map[string][]types.RenewalCandidate{
			today.AddDate(0, 0, 7).Format("2006-01-02"): {
				newCandidate("pol_race", "cust_1", today.AddDate(0, 0, 7)),
			},
		},
		existing:  map[string]bool{},
		createErr: types.NewAppError(types.ErrCodeConflictReminderExists, "reminder already exists", nil),
	}

	s := NewReminderScheduler(store, nil, jobsTestLogger())
	created, err := s.CreateDueReminders(context.Background(), jobsTestNow)
	if err != nil {
		t.Fatalf("CreateDueReminders() error = %v, want conflict absorbed", err)
	}
	if created != 0 {
		t.Errorf("created = %d, want 0", created)
	}
}

func TestCreateDueRemindersInvalidPreferredChannel(t *testing.T) {
	today := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	cand := newCandidate("pol_y", "cust_1", today.AddDate(0, 0, 30))
	cand.Customer.PreferredChannel = types.ChannelType("carrier_pigeon")
	store := &mockSchedulerStore{
		candidatesByDate: map[string][]types.RenewalCandidate{
			today.AddDate(0, 0, 30).Format("2006-01-02"): {cand},
		},
		existing: map[string]bool{},
	}

	s := NewReminderScheduler(store, nil, jobsTestLogger())
	if _, err := s.CreateDueReminders(context.Background(), jobsTestNow); err != nil {
		t.Fatalf("CreateDueReminders() error = %v", err)
	}
	if len(store.created) != 1 || store.created[0].Channel != types.ChannelEmail {
		t.Errorf("created = %+v, want email fallback channel", store.created)
	}
}

func TestCreateDueRemindersListErrorAbortsRun(t *testing.T) {
	store := &mockSchedulerStore{
		listErr: errors.New("connection refused"),
	}

	s := NewReminderScheduler(store, nil, jobsTestLogger())
	created, err := s.CreateDueReminders(context.Background(), jobsTestNow)
	if err == nil {
		t.Fatal("CreateDueReminders() expected error")
	}
	if created != 0 {
		t.Errorf("created = %d, want 0 on aborted run", created)
	}
}

func TestCreateDueRemindersCustomWindows(t *testing.T) {
	today := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	store := &mockSchedulerStore{
		candidatesByDate: map[string][]types.RenewalCandidate{},
		existing:         map[string]bool{},
	}

	s := NewReminderScheduler(store, []int{45, 10}, jobsTestLogger())
	if _, err := s.CreateDueReminders(context.Background(), jobsTestNow); err != nil {
		t.Fatalf("CreateDueReminders() error = %v", err)
	}

	want := []string{
		today.AddDate(0, 0, 45).Format("2006-01-02"),
		today.AddDate(0, 0, 10).Format("2006-01-02"),
	}
	if len(store.requestedDates) != 2 || store.requestedDates[0] != want[0] || store.requestedDates[1] != want[1] {
		t.Errorf("requestedDates = %v, want %v", store.requestedDates, want)
	}
}
