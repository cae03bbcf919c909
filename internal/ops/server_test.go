package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"policypulse/internal/jobs"
	"policypulse/internal/types"
)

// --- Mocks ---

type mockStore struct {
	mu sync.Mutex

	pingErr error

	runs      []types.JobRun
	runsErr   error
	runsLimit int

	cancelOK    bool
	cancelErr   error
	cancelledID string

	deliveredOK  bool
	deliveredErr error
	deliveredIDs []string

	engagementRows int
	engagementErr  error
	engagements    []engagementCall
}

type engagementCall struct {
	reminderID      string
	opened, clicked bool
}

func (m *mockStore) Ping(context.Context) error {
	return m.pingErr
}

func (m *mockStore) ListRecentJobRuns(_ context.Context, limit int) ([]types.JobRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runsLimit = limit
	return m.runs, m.runsErr
}

func (m *mockStore) CancelReminder(_ context.Context, reminderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelledID = reminderID
	return m.cancelOK, m.cancelErr
}

func (m *mockStore) MarkReminderDelivered(_ context.Context, reminderID string, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveredIDs = append(m.deliveredIDs, reminderID)
	return m.deliveredOK, m.deliveredErr
}

func (m *mockStore) RecordOutreachEngagement(_ context.Context, reminderID string, opened, clicked bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engagements = append(m.engagements, engagementCall{reminderID: reminderID, opened: opened, clicked: clicked})
	return m.engagementRows, m.engagementErr
}

type mockRunner struct {
	mu sync.Mutex

	result     *jobs.JobResult
	runErr     error
	registered []string

	ranJob string
	ranAt  time.Time
}

func (m *mockRunner) RunJob(_ context.Context, name string, now time.Time) (*jobs.JobResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ranJob = name
	m.ranAt = now
	return m.result, m.runErr
}

func (m *mockRunner) RegisteredJobs() []string {
	return m.registered
}

type mockRenewer struct {
	mu sync.Mutex

	policy *types.Policy
	err    error

	renewedID string
	renewedAt time.Time
}

func (m *mockRenewer) Renew(_ context.Context, policyID string, now time.Time) (*types.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renewedID = policyID
	m.renewedAt = now
	return m.policy, m.err
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

// --- Helpers ---

var opsTestNow = time.Date(2026, 8, 30, 9, 30, 0, 0, time.UTC)

func newTestServer(store *mockStore, runner *mockRunner, renewer *mockRenewer) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(store, runner, renewer, nil, fixedClock{now: opsTestNow}, logger)
}

func doRequest(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return resp.Error
}

// --- Health ---

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&mockStore{}, &mockRunner{}, &mockRenewer{})

	rec := doRequest(t, s, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if resp.Status != "healthy" || resp.Components["database"].Status != "healthy" {
		t.Errorf("body = %+v, want healthy database", resp)
	}
}

func TestHandleHealthDatabaseDown(t *testing.T) {
	s := newTestServer(&mockStore{pingErr: errors.New("connection refused")}, &mockRunner{}, &mockRenewer{})

	rec := doRequest(t, s, http.MethodGet, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("status = %q, want unhealthy", resp.Status)
	}
	// The probe error text stays out of the response.
	if resp.Components["database"].Message != "database unreachable" {
		t.Errorf("message = %q, want the generic message", resp.Components["database"].Message)
	}
}

// --- Jobs ---

func TestHandleListJobs(t *testing.T) {
	finished := opsTestNow.Add(-time.Hour)
	store := &mockStore{runs: []types.JobRun{
		{ID: 2, JobName: jobs.JobDispatchReminders, StartedAt: opsTestNow, Status: "running"},
		{ID: 1, JobName: jobs.JobScheduleReminders, StartedAt: opsTestNow.Add(-2 * time.Hour), FinishedAt: &finished, Status: "success", ItemsCount: 14},
	}}
	runner := &mockRunner{registered: jobs.JobNames}
	s := newTestServer(store, runner, &mockRenewer{})

	rec := doRequest(t, s, http.MethodGet, "/jobs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if store.runsLimit != defaultJobRunsLimit {
		t.Errorf("limit = %d, want the default %d", store.runsLimit, defaultJobRunsLimit)
	}

	var resp struct {
		Data jobsResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(resp.Data.Registered) != len(jobs.JobNames) {
		t.Errorf("registered = %v, want all job names", resp.Data.Registered)
	}
	if len(resp.Data.Runs) != 2 || resp.Data.Runs[1].ItemsCount != 14 {
		t.Errorf("runs = %+v, want the two history rows", resp.Data.Runs)
	}
}

func TestHandleListJobsLimit(t *testing.T) {
	store := &mockStore{}
	s := newTestServer(store, &mockRunner{}, &mockRenewer{})

	if rec := doRequest(t, s, http.MethodGet, "/jobs?limit=5"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if store.runsLimit != 5 {
		t.Errorf("limit = %d, want 5", store.runsLimit)
	}

	// Oversized limits are capped, not rejected.
	if rec := doRequest(t, s, http.MethodGet, "/jobs?limit=5000"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if store.runsLimit != maxJobRunsLimit {
		t.Errorf("limit = %d, want the cap %d", store.runsLimit, maxJobRunsLimit)
	}

	if rec := doRequest(t, s, http.MethodGet, "/jobs?limit=zero"); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a non-numeric limit", rec.Code)
	}
}

func TestHandleRunJob(t *testing.T) {
	runner := &mockRunner{result: &jobs.JobResult{
		Job:     jobs.JobScheduleReminders,
		Items:   14,
		Summary: map[string]any{"created": 14},
	}}
	s := newTestServer(&mockStore{}, runner, &mockRenewer{})

	rec := doRequest(t, s, http.MethodPost, "/jobs/schedule_reminders/run")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if runner.ranJob != jobs.JobScheduleReminders {
		t.Errorf("ran job = %q, want schedule_reminders", runner.ranJob)
	}
	if !runner.ranAt.Equal(opsTestNow) {
		t.Errorf("reference time = %v, want the clock's now", runner.ranAt)
	}

	var resp struct {
		Data jobs.JobResult `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if resp.Data.Job != jobs.JobScheduleReminders || resp.Data.Items != 14 {
		t.Errorf("data = %+v, want the run result", resp.Data)
	}
}

func TestHandleRunJobReferenceTime(t *testing.T) {
	runner := &mockRunner{result: &jobs.JobResult{Job: jobs.JobScheduleReminders}}
	s := newTestServer(&mockStore{}, runner, &mockRenewer{})

	rec := doRequest(t, s, http.MethodPost, "/jobs/schedule_reminders/run?at=2026-08-01T00:00:00Z")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	want := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if !runner.ranAt.Equal(want) {
		t.Errorf("reference time = %v, want %v", runner.ranAt, want)
	}

	if rec := doRequest(t, s, http.MethodPost, "/jobs/schedule_reminders/run?at=yesterday"); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a malformed timestamp", rec.Code)
	}
}

func TestHandleRunJobErrors(t *testing.T) {
	tests := []struct {
		name       string
		runErr     error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unknown job",
			runErr:     types.NewAppError(types.ErrCodeNotFoundJob, `unknown job "no_such_job"`, nil),
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found_job",
		},
		{
			name:       "lock held",
			runErr:     types.NewAppError(types.ErrCodeConflictJobRunning, "job is locked by another worker", nil),
			wantStatus: http.StatusConflict,
			wantCode:   "conflict_job_already_running",
		},
		{
			name:       "internal error",
			runErr:     errors.New("pgx: connection closed"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_unexpected_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&mockStore{}, &mockRunner{runErr: tt.runErr}, &mockRenewer{})

			rec := doRequest(t, s, http.MethodPost, "/jobs/some_job/run")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			detail := decodeError(t, rec)
			if detail.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", detail.Code, tt.wantCode)
			}
			if detail.RequestID == "" {
				t.Error("error body must carry a request ID")
			}
		})
	}
}

// --- Renewal ---

func TestHandleRenewPolicy(t *testing.T) {
	renewer := &mockRenewer{policy: &types.Policy{
		ID:           "pol_1",
		PolicyNumber: "POL-2026-0001",
		Status:       types.PolicyStatusRenewed,
		RenewalDate:  time.Date(2027, 9, 14, 0, 0, 0, 0, time.UTC),
	}}
	s := newTestServer(&mockStore{}, &mockRunner{}, renewer)

	rec := doRequest(t, s, http.MethodPost, "/policies/pol_1/renew")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if renewer.renewedID != "pol_1" || !renewer.renewedAt.Equal(opsTestNow) {
		t.Errorf("renew call = (%q, %v), want (pol_1, clock now)", renewer.renewedID, renewer.renewedAt)
	}

	var resp struct {
		Data types.Policy `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if resp.Data.Status != types.PolicyStatusRenewed {
		t.Errorf("policy status = %q, want renewed", resp.Data.Status)
	}
}

func TestHandleRenewPolicyConflict(t *testing.T) {
	renewer := &mockRenewer{err: types.NewAppError(types.ErrCodeConflictPolicyStatus,
		"policy is not awaiting renewal", nil)}
	s := newTestServer(&mockStore{}, &mockRunner{}, renewer)

	rec := doRequest(t, s, http.MethodPost, "/policies/pol_lapsed/renew")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if detail := decodeError(t, rec); detail.Code != "conflict_policy_status" {
		t.Errorf("code = %q, want conflict_policy_status", detail.Code)
	}
}

// --- Reminder cancellation ---

func TestHandleCancelReminder(t *testing.T) {
	store := &mockStore{cancelOK: true}
	s := newTestServer(store, &mockRunner{}, &mockRenewer{})

	rec := doRequest(t, s, http.MethodPost, "/reminders/rem_1/cancel")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if store.cancelledID != "rem_1" {
		t.Errorf("cancelled ID = %q, want rem_1", store.cancelledID)
	}

	var resp struct {
		Data cancelReminderResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if !resp.Data.Cancelled || resp.Data.ReminderID != "rem_1" {
		t.Errorf("data = %+v, want rem_1 cancelled", resp.Data)
	}
}

func TestHandleCancelReminderNotCancellable(t *testing.T) {
	s := newTestServer(&mockStore{cancelOK: false}, &mockRunner{}, &mockRenewer{})

	rec := doRequest(t, s, http.MethodPost, "/reminders/rem_sent/cancel")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if detail := decodeError(t, rec); detail.Code != "not_found_reminder" {
		t.Errorf("code = %q, want not_found_reminder", detail.Code)
	}
}

// --- Middleware ---

func TestRequestIDPropagation(t *testing.T) {
	s := newTestServer(&mockStore{}, &mockRunner{}, &mockRenewer{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "req_abc123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "req_abc123" {
		t.Errorf("X-Request-Id = %q, want the incoming value echoed", got)
	}

	// Absent header: a fresh ID is generated.
	rec = doRequest(t, s, http.MethodGet, "/health")
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("X-Request-Id must be set when the request carries none")
	}
}

func TestRecovererReturns500(t *testing.T) {
	s := newTestServer(&mockStore{}, &mockRunner{}, &mockRenewer{})
	s.router.Get("/panic", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rec := doRequest(t, s, http.MethodGet, "/panic")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if detail := decodeError(t, rec); detail.Code != "internal_unexpected_error" {
		t.Errorf("code = %q, want internal_unexpected_error", detail.Code)
	}
}
