// Package main implements the job-runner CLI for one-shot execution of
// pipeline jobs, for manual backfills and operational debugging.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --job=schedule_reminders
//	go run ./cmd/tools/job-runner --job=schedule_reminders --reference-time=2026-08-01T00:00:00Z
//	go run ./cmd/tools/job-runner --job=dispatch_reminders --dry-run
//	go run ./cmd/tools/job-runner --list
//
// The tool loads the same configuration as reminderd (environment plus an
// optional .env file) and runs one job with the usual lock and history
// bookkeeping, so a manual run and a scheduled run are indistinguishable
// in job_history. In --dry-run mode it prints what would run and exits
// without touching the database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"policypulse/internal/channels"
	"policypulse/internal/config"
	"policypulse/internal/db"
	"policypulse/internal/external"
	"policypulse/internal/jobs"
	"policypulse/internal/types"
)

// jobDescriptions maps each job name to a one-line operator summary,
// kept in sync with jobs.JobNames.
var jobDescriptions = map[string]string{
	jobs.JobScheduleReminders: "Create pending reminders for policies entering a lead-time window",
	jobs.JobDispatchReminders: "Deliver due reminders through the configured channels",
	jobs.JobPolicyLifecycle:   "Move policies to pending_renewal and lapse past-due ones",
	jobs.JobEngagementScoring: "Recompute customer engagement scores",
	jobs.JobRetentionOutreach: "Send retention outreach for policies awaiting renewal",
	jobs.JobArchiveOutreach:   "Export old outreach logs to gzip JSONL and delete them",
}

func main() {
	jobFlag := flag.String("job", "", "Job to execute (e.g., schedule_reminders)")
	refTimeFlag := flag.String("reference-time", "", "Override reference time (RFC3339, e.g., 2026-08-01T00:00:00Z)")
	listFlag := flag.Bool("list", false, "List all available jobs and exit")
	dryRunFlag := flag.Bool("dry-run", false, "Print what would run without executing")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Run one pipeline job with lock and history bookkeeping.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nUse --list to see all available jobs.\n")
	}
	flag.Parse()

	if *listFlag {
		printAvailableJobs()
		return
	}

	if *jobFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --job is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if !jobs.ValidJobName(*jobFlag) {
		fmt.Fprintf(os.Stderr, "error: unknown job %q\n\n", *jobFlag)
		printAvailableJobs()
		os.Exit(1)
	}

	now := time.Now().UTC()
	if *refTimeFlag != "" {
		t, err := time.Parse(time.RFC3339, *refTimeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid --reference-time %q: %v\n", *refTimeFlag, err)
			fmt.Fprintf(os.Stderr, "  expected RFC3339 format, e.g., 2026-08-01T00:00:00Z\n")
			os.Exit(1)
		}
		now = t.UTC()
	}

	if *dryRunFlag {
		printDryRun(*jobFlag, now)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := executeJob(ctx, *jobFlag, now, logger)
	if err != nil {
		logger.Error("job execution failed", "job", *jobFlag, "error", err)
		os.Exit(1)
	}

	logger.Info("job execution succeeded",
		"job", result.Job,
		"items", result.Items,
		"duration_ms", result.DurationMS,
		"summary", result.Summary,
	)
}

// executeJob mirrors the reminderd wiring, builds the full pipeline, and
// runs the one requested job through the Runner so lock acquisition and
// job_history bookkeeping match a scheduled run.
func executeJob(ctx context.Context, name string, now time.Time, logger *slog.Logger) (*jobs.JobResult, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	defer pool.Close()

	store := db.NewStore(pool)
	if err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	logger.Info("database connection established")

	gateway, err := newGateway(cfg, logger)
	if err != nil {
		return nil, err
	}

	workerID := fmt.Sprintf("job-runner-%s", uuid.NewString())
	runner := jobs.NewRunner(store, jobs.NoopMetrics{}, jobs.RunnerConfig{
		WorkerID: workerID,
		LockTTL:  cfg.Jobs.LockTTL,
	}, logger)

	var writer jobs.ArchiveWriter
	if cfg.Archive.Dir != "" {
		writer = &jobs.FileArchiveWriter{Dir: cfg.Archive.Dir}
	}

	// Zero intervals: every job is registered on-demand only.
	jobs.RegisterPipeline(runner, jobs.Pipeline{
		Scheduler: jobs.NewReminderScheduler(store, cfg.Reminders.Windows, logger),
		Dispatcher: jobs.NewReminderDispatcher(store, gateway, jobs.DispatcherConfig{
			BatchSize:  cfg.Reminders.DispatchBatchSize,
			MaxRetries: cfg.Reminders.MaxRetries,
		}, logger),
		Lifecycle: jobs.NewLifecycleUpdater(store, cfg.Reminders.RenewalHorizonDays, logger),
		Scorer:    jobs.NewEngagementScorer(store, logger),
		Retention: jobs.NewRetentionJob(store, gateway, jobs.RetentionConfig{
			HorizonDays:  cfg.Reminders.OutreachHorizonDays,
			CooldownDays: int(cfg.Reminders.OutreachCooldown.Hours() / 24),
		}, logger),
		Archiver: jobs.NewOutreachArchiver(store, writer, jobs.ArchiverConfig{
			RetentionDays: cfg.Archive.RetentionDays,
			BatchSize:     cfg.Archive.BatchSize,
		}, logger),
	}, jobs.Intervals{})

	logger.Info("executing job",
		"job", name,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", workerID,
	)

	return runner.RunJob(ctx, name, now)
}

// newGateway builds the channel gateway from the configured providers.
// Missing credentials leave a channel unconfigured; its deliveries come
// back skipped rather than failing the run.
func newGateway(cfg *config.Config, logger *slog.Logger) (*channels.Gateway, error) {
	renderer, err := channels.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("parsing message templates: %w", err)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}

	var emailProvider external.EmailProvider
	if cfg.Email.SendGridAPIKey.Unmask() != "" {
		emailProvider = external.NewSendGridClient(httpClient, external.SendGridClientConfig{
			APIKey: cfg.Email.SendGridAPIKey.Unmask(),
			Logger: logger,
		})
	}

	var messagingProvider external.MessagingProvider
	if cfg.Messaging.TwilioAccountSID != "" && cfg.Messaging.TwilioAuthToken.Unmask() != "" {
		messagingProvider = external.NewTwilioClient(httpClient, external.TwilioClientConfig{
			AccountSID:   cfg.Messaging.TwilioAccountSID,
			AuthToken:    cfg.Messaging.TwilioAuthToken.Unmask(),
			SMSFrom:      cfg.Messaging.SMSFromNumber,
			WhatsAppFrom: cfg.Messaging.WhatsAppFrom,
			Logger:       logger,
		})
	}

	email := channels.NewEmailChannel(channels.EmailChannelConfig{
		Provider: emailProvider,
		Renderer: renderer,
		From: types.SenderIdentity{
			Address: cfg.Email.FromAddress,
			Name:    cfg.Email.FromName,
		},
		Logger: logger,
	})
	sms := channels.NewSMSChannel(channels.SMSChannelConfig{
		Provider:      messagingProvider,
		Renderer:      renderer,
		DefaultPrefix: cfg.Messaging.DefaultCountryCode,
		Logger:        logger,
	})
	whatsApp := channels.NewWhatsAppChannel(channels.WhatsAppChannelConfig{
		Provider:      messagingProvider,
		Renderer:      renderer,
		DefaultPrefix: cfg.Messaging.DefaultCountryCode,
		Logger:        logger,
	})

	return channels.NewGateway(logger, email, sms, whatsApp), nil
}

// printAvailableJobs prints all valid jobs and their descriptions,
// sorted by name.
func printAvailableJobs() {
	fmt.Fprintf(os.Stderr, "Available jobs:\n\n")

	maxLen := 0
	for _, name := range jobs.JobNames {
		if len(name) > maxLen {
			maxLen = len(name)
		}
	}
	for _, name := range jobs.JobNames {
		fmt.Fprintf(os.Stderr, "  %-*s  %s\n", maxLen, name, jobDescriptions[name])
	}
	fmt.Fprintln(os.Stderr)
}

// printDryRun prints the run that would happen as JSON on stdout.
func printDryRun(name string, now time.Time) {
	payload := map[string]string{
		"job":            name,
		"reference_time": now.Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to marshal payload: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))

	if desc, ok := jobDescriptions[name]; ok {
		fmt.Fprintf(os.Stderr, "\nJob: %s\nDescription: %s\n", name, desc)
	}
}
