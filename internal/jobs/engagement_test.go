package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"policypulse/internal/types"
)

// ============================================================
// ComputeEngagementScore Tests
// ============================================================

func TestComputeEngagementScore(t *testing.T) {
	tests := []struct {
		name  string
		stats types.EngagementStats
		want  float64
	}{
		{
			name:  "no history gets clean-record bonus",
			stats: types.EngagementStats{},
			want:  65, // 50 + 0 + 0 + 15
		},
		{
			name:  "interactions capped at 20",
			stats: types.EngagementStats{RecentInteractions: 50},
			want:  85, // 50 + 20 + 0 + 15
		},
		{
			name:  "interactions below cap",
			stats: types.EngagementStats{RecentInteractions: 3},
			want:  71, // 50 + 6 + 0 + 15
		},
		{
			name:  "renewals capped at 15",
			stats: types.EngagementStats{RenewedPolicies: 10},
			want:  80, // 50 + 0 + 15 + 15
		},
		{
			name:  "renewals below cap",
			stats: types.EngagementStats{RenewedPolicies: 2},
			want:  75, // 50 + 0 + 10 + 15
		},
		{
			name:  "single lapse penalty",
			stats: types.EngagementStats{LapsedPolicies: 1},
			want:  40, // 50 + 0 + 0 - 10
		},
		{
			name:  "lapse penalty capped at 30",
			stats: types.EngagementStats{LapsedPolicies: 7},
			want:  20, // 50 - 30
		},
		{
			name: "fully engaged clamps at 100",
			stats: types.EngagementStats{
				RecentInteractions: 20,
				RenewedPolicies:    5,
			},
			want: 100, // 50 + 20 + 15 + 15 = 100 exactly
		},
		{
			name: "mixed history",
			stats: types.EngagementStats{
				RecentInteractions: 4,
				RenewedPolicies:    1,
				LapsedPolicies:     2,
			},
			want: 43, // 50 + 8 + 5 - 20
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeEngagementScore(&tt.stats); got != tt.want {
				t.Errorf("ComputeEngagementScore(%+v) = %v, want %v", tt.stats, got, tt.want)
			}
		})
	}
}

func TestComputeEngagementScoreBounds(t *testing.T) {
	// Exhaustive sweep over a broad input grid: the result must always
	// land in [0, 100].
	for interactions := 0; interactions <= 30; interactions += 3 {
		for renewed := 0; renewed <= 10; renewed += 2 {
			for lapsed := 0; lapsed <= 10; lapsed += 2 {
				stats := &types.EngagementStats{
					RecentInteractions: interactions,
					RenewedPolicies:    renewed,
					LapsedPolicies:     lapsed,
				}
				got := ComputeEngagementScore(stats)
				if got < 0 || got > 100 {
					t.Fatalf("ComputeEngagementScore(%+v) = %v, out of [0,100]", stats, got)
				}
			}
		}
	}
}

// ============================================================
// Mock: EngagementStore
// ============================================================

type mockEngagementStore struct {
	mu sync.Mutex

	pages   [][]string // successive ListCustomerIDs responses
	pageIdx int
	listErr error

	stats     map[string]*types.EngagementStats
	statsErr  map[string]error
	statsTime time.Time

	updateErr map[string]error
	updated   map[string]float64
}

func (m *mockEngagementStore) ListCustomerIDs(_ context.Context, _ string, _ int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	if m.pageIdx >= len(m.pages) {
		return nil, nil
	}
	page := m.pages[m.pageIdx]
	m.pageIdx++
	return page, nil
}

func (m *mockEngagementStore) GetEngagementStats(_ context.Context, customerID string, since time.Time) (*types.EngagementStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.statsErr[customerID]; err != nil {
		return nil, err
	}
	m.statsTime = since
	if s, ok := m.stats[customerID]; ok {
		return s, nil
	}
	return &types.EngagementStats{CustomerID: customerID}, nil
}

func (m *mockEngagementStore) UpdateEngagementScore(_ context.Context, customerID string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErr[customerID]; err != nil {
		return err
	}
	if m.updated == nil {
		m.updated = map[string]float64{}
	}
	m.updated[customerID] = score
	return nil
}

// ============================================================
// EngagementScorer Tests
// ============================================================

func TestRecomputeScores(t *testing.T) {
	store := &mockEngagementStore{
		pages: [][]string{{"cust_1", "cust_2"}},
		stats: map[string]*types.EngagementStats{
			"cust_1": {CustomerID: "cust_1", RecentInteractions: 5, RenewedPolicies: 1},
			"cust_2": {CustomerID: "cust_2", LapsedPolicies: 1},
		},
	}

	e := NewEngagementScorer(store, jobsTestLogger())
	updated, err := e.RecomputeScores(context.Background(), jobsTestNow)
	if err != nil {
		t.Fatalf("RecomputeScores() error = %v", err)
	}

	if updated != 2 {
		t.Errorf("updated = %d, want 2", updated)
	}
	if store.updated["cust_1"] != 80 { // 50 + 10 + 5 + 15
		t.Errorf("cust_1 score = %v, want 80", store.updated["cust_1"])
	}
	if store.updated["cust_2"] != 40 { // 50 - 10
		t.Errorf("cust_2 score = %v, want 40", store.updated["cust_2"])
	}

	wantSince := jobsTestNow.AddDate(0, 0, -InteractionWindowDays)
	if !store.statsTime.Equal(wantSince) {
		t.Errorf("interactions since = %v, want %v", store.statsTime, wantSince)
	}
}

func TestRecomputeScoresPerCustomerIsolation(t *testing.T) {
	store := &mockEngagementStore{
		pages:    [][]string{{"cust_ok", "cust_stats_err", "cust_update_err"}},
		statsErr: map[string]error{"cust_stats_err": errors.New("row gone")},
		updateErr: map[string]error{
			"cust_update_err": types.NewAppError(types.ErrCodeNotFoundCustomer, "customer not found", nil),
		},
	}

	e := NewEngagementScorer(store, jobsTestLogger())
	updated, err := e.RecomputeScores(context.Background(), jobsTestNow)
	if err != nil {
		t.Fatalf("RecomputeScores() error = %v", err)
	}
	if updated != 1 {
		t.Errorf("updated = %d, want 1", updated)
	}
	if _, ok := store.updated["cust_ok"]; !ok {
		t.Error("cust_ok was not updated")
	}
}

func TestRecomputeScoresListError(t *testing.T) {
	store := &mockEngagementStore{listErr: errors.New("connection refused")}
	e := NewEngagementScorer(store, jobsTestLogger())

	if _, err := e.RecomputeScores(context.Background(), jobsTestNow); err == nil {
		t.Fatal("RecomputeScores() expected error")
	}
}

func TestRecomputeScoresEmpty(t *testing.T) {
	store := &mockEngagementStore{}
	e := NewEngagementScorer(store, jobsTestLogger())

	updated, err := e.RecomputeScores(context.Background(), jobsTestNow)
	if err != nil {
		t.Fatalf("RecomputeScores() error = %v", err)
	}
	if updated != 0 {
		t.Errorf("updated = %d, want 0", updated)
	}
}
