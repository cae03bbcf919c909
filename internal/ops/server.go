// Package ops provides the operational HTTP surface for the reminder
// service: health, job history and manual triggering, policy renewal,
// and reminder cancellation. It is an internal surface for operators
// and carries no authentication of its own; deployment fronts it with
// network-level access control.
package ops

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"policypulse/internal/jobs"
	"policypulse/internal/types"
)

// Store defines the database operations the ops handlers need.
type Store interface {
	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// ListRecentJobRuns returns the most recent job_history rows.
	ListRecentJobRuns(ctx context.Context, limit int) ([]types.JobRun, error)

	// CancelReminder cancels one pending reminder. Returns false when no
	// pending reminder matched.
	CancelReminder(ctx context.Context, reminderID string) (bool, error)

	// MarkReminderDelivered records a provider delivery confirmation.
	// Returns false when no sent, undelivered reminder matched.
	MarkReminderDelivered(ctx context.Context, reminderID string, deliveredAt time.Time) (bool, error)

	// RecordOutreachEngagement flips opened/clicked flags on the outreach
	// rows tied to a reminder. Returns the number of rows touched.
	RecordOutreachEngagement(ctx context.Context, reminderID string, opened, clicked bool) (int, error)
}

// EmailVerifier authenticates inbound SendGrid Event Webhook posts.
// Implemented by *external.SendGridVerifier.
type EmailVerifier interface {
	Verify(payload []byte, signature string, timestamp string, publicKey string) (bool, error)
}

// EmailEvents configures ingestion of SendGrid delivery and engagement
// events. When nil, POST /webhooks/sendgrid rejects all posts.
type EmailEvents struct {
	Verifier  EmailVerifier
	PublicKey string // base64 Elliptic Curve public key from SendGrid settings
}

// JobRunner triggers one-shot job runs. Implemented by *jobs.Runner.
type JobRunner interface {
	RunJob(ctx context.Context, name string, now time.Time) (*jobs.JobResult, error)
	RegisteredJobs() []string
}

// PolicyRenewer executes policy renewals. Implemented by
// *jobs.RenewalService.
type PolicyRenewer interface {
	Renew(ctx context.Context, policyID string, now time.Time) (*types.Policy, error)
}

// Server wires the ops handlers onto a chi router.
type Server struct {
	store       Store
	runner      JobRunner
	renewals    PolicyRenewer
	emailEvents *EmailEvents
	clock       types.Clock
	logger      *slog.Logger

	router *chi.Mux
}

// NewServer builds the ops server and mounts its routes. emailEvents may be
// nil when no webhook public key is configured.
func NewServer(store Store, runner JobRunner, renewals PolicyRenewer, emailEvents *EmailEvents, clock types.Clock, logger *slog.Logger) *Server {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:       store,
		runner:      runner,
		renewals:    renewals,
		emailEvents: emailEvents,
		clock:       clock,
		logger:      logger,
		router:      chi.NewRouter(),
	}
	s.mountRoutes()
	return s
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// mountRoutes registers the middleware chain and routes. Recoverer is
// outermost so every panic is caught; RequestID runs before the logger
// so log lines carry the correlation ID.
func (s *Server) mountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.logger))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/jobs", s.handleListJobs)
	s.router.Post("/jobs/{job}/run", s.handleRunJob)
	s.router.Post("/policies/{id}/renew", s.handleRenewPolicy)
	s.router.Post("/reminders/{id}/cancel", s.handleCancelReminder)
	s.router.Post("/webhooks/sendgrid", s.handleSendGridEvents)
}
