package ops

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"policypulse/internal/types"
)

// healthCheckTimeout bounds the database probe on GET /health.
const healthCheckTimeout = 2 * time.Second

const (
	defaultJobRunsLimit = 20
	maxJobRunsLimit     = 100
)

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components"`
}

// handleHealth probes database connectivity. 200 when healthy, 503 when
// the probe fails or times out.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{
		Status: "healthy",
		Components: map[string]componentStatus{
			"database": {Status: "healthy"},
		},
	}
	status := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		s.logger.ErrorContext(ctx, "health probe failed", "component", "database", "error", err)
		resp.Status = "unhealthy"
		resp.Components["database"] = componentStatus{
			Status:  "unhealthy",
			Message: "database unreachable",
		}
		status = http.StatusServiceUnavailable
	}

	JSON(w, r, status, resp)
}

type jobsResponse struct {
	Registered []string       `json:"registered"`
	Runs       []types.JobRun `json:"runs"`
}

// handleListJobs returns the registered job names and the most recent
// job_history rows. The limit query parameter caps the history size.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
				"limit must be a positive integer", err))
			return
		}
		limit = n
	}
	if limit > maxJobRunsLimit {
		limit = maxJobRunsLimit
	}

	runs, err := s.store.ListRecentJobRuns(r.Context(), limit)
	if err != nil {
		Error(w, r, err)
		return
	}
	if runs == nil {
		runs = []types.JobRun{}
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: jobsResponse{
		Registered: s.runner.RegisteredJobs(),
		Runs:       runs,
	}})
}

// handleRunJob triggers one run of the named job. The optional at query
// parameter (RFC 3339) overrides the reference time, which lets an
// operator replay a missed day. Lock contention surfaces as 409.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "job")

	now := s.clock.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
				"at must be an RFC 3339 timestamp", err))
			return
		}
		now = parsed.UTC()
	}

	result, err := s.runner.RunJob(r.Context(), name, now)
	if err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: result})
}

// handleRenewPolicy renews the policy and returns the updated row.
func (s *Server) handleRenewPolicy(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "id")

	policy, err := s.renewals.Renew(r.Context(), policyID, s.clock.Now())
	if err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: policy})
}

type cancelReminderResponse struct {
	ReminderID string `json:"reminder_id"`
	Cancelled  bool   `json:"cancelled"`
}

// handleCancelReminder cancels one pending reminder. A reminder that is
// missing or already sent reports not found.
func (s *Server) handleCancelReminder(w http.ResponseWriter, r *http.Request) {
	reminderID := chi.URLParam(r, "id")

	ok, err := s.store.CancelReminder(r.Context(), reminderID)
	if err != nil {
		Error(w, r, err)
		return
	}
	if !ok {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundReminder,
			"reminder not found or not cancellable", nil))
		return
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: cancelReminderResponse{
		ReminderID: reminderID,
		Cancelled:  true,
	}})
}
