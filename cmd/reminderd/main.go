// Package main is the entrypoint for reminderd, the renewal reminder
// service. It wires configuration, the database pool, provider clients,
// the channel gateway, and the job services, then runs the periodic job
// runner alongside the ops HTTP server until the process receives
// SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"policypulse/internal/channels"
	"policypulse/internal/config"
	"policypulse/internal/db"
	"policypulse/internal/external"
	"policypulse/internal/jobs"
	"policypulse/internal/ops"
	"policypulse/internal/types"
)

func main() {
	if err := run(); err != nil {
		slog.Error("reminderd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := newPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := db.NewStore(pool)
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	logger.Info("database connection established")

	gateway, err := newGateway(cfg, logger)
	if err != nil {
		return err
	}

	metrics, err := newMetrics(ctx, cfg, logger)
	if err != nil {
		return err
	}

	workerID := fmt.Sprintf("reminderd-%s", uuid.NewString())
	runner := jobs.NewRunner(store, metrics, jobs.RunnerConfig{
		WorkerID: workerID,
		LockTTL:  cfg.Jobs.LockTTL,
	}, logger)

	var writer jobs.ArchiveWriter
	if cfg.Archive.Dir != "" {
		writer = &jobs.FileArchiveWriter{Dir: cfg.Archive.Dir}
	}

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
		Metrics:  metrics,
	}, jobs.Intervals{
		Schedule:  cfg.Jobs.SchedulerInterval,
		Dispatch:  cfg.Jobs.DispatcherInterval,
		Lifecycle: cfg.Jobs.LifecycleInterval,
		Scoring:   cfg.Jobs.EngagementInterval,
		Retention: cfg.Jobs.RetentionInterval,
		Archive:   cfg.Jobs.ArchiveInterval,
	})

	renewals := jobs.NewRenewalService(store, gateway, logger)

	var emailEvents *ops.EmailEvents
	if cfg.Email.WebhookPublicKey != "" {
		emailEvents = &ops.EmailEvents{
			Verifier:  &external.SendGridVerifier{},
			PublicKey: cfg.Email.WebhookPublicKey,
		}
	} else {
		logger.Warn("SendGrid webhook public key not set, email event ingestion disabled")
	}

	opsServer := ops.NewServer(store, runner, renewals, emailEvents, types.RealClock{}, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           opsServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("reminderd starting",
		"environment", cfg.Environment,
		"worker_id", workerID,
		"port", cfg.Server.Port,
		"jobs", runner.RegisteredJobs(),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := runner.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("job runner: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down ops server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("reminderd stopped")
	return nil
}

// newLogger builds the process-wide structured logger. Production
// environments log JSON; local gets human-readable text.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Environment == "local" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With("service", cfg.Service)
}

// newPool creates the pgx connection pool with the configured tuning.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	return pool, nil
}

// newGateway builds the channel gateway. Providers with missing
// credentials are left nil; their channels report unconfigured and
// deliveries through them come back skipped.
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
	} else {
		logger.Warn("SendGrid not configured, email channel disabled")
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
	} else {
		logger.Warn("Twilio not configured, SMS and WhatsApp channels disabled")
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

// newMetrics builds the metrics sink: CloudWatch when enabled, no-op
// otherwise.
func newMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (jobs.Metrics, error) {
	if !cfg.Observability.EnableMetrics {
		return jobs.NoopMetrics{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Observability.AWSRegion),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	client := cloudwatch.NewFromConfig(awsCfg)
	return jobs.NewCloudWatchMetrics(client, cfg.Observability.MetricNamespace, logger), nil
}
